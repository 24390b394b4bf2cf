// Package dbus talks to the desktop over the session bus. Surface shows
// notifications through org.freedesktop.Notifications and turns
// ActionInvoked signals for its own notifications into clicks. Service
// exports io.github.jmylchreest.PushRoute so the CLI can reach a running
// daemon, and Client is the CLI side of that interface.
package dbus
