// Package daemon runs pushrouted. It connects the dispatcher to the
// notification surface and window backend, accepts payloads over D-Bus and
// the inbox spool, reloads its configuration on change, and prunes the
// history on a schedule.
package daemon
