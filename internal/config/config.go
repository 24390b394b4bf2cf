// Package config handles configuration file loading and parsing.
package config

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Default configuration values.
const (
	DefaultAppName       = "pushroute"
	DefaultOrigin        = "http://localhost:8080"
	DefaultIcon          = "/icons/Icon-192.png"
	DefaultTitle         = "Notification"
	DefaultUrgency       = "normal"
	DefaultBackend       = BackendCDP
	DefaultCDPEndpoint   = "http://127.0.0.1:9222"
	DefaultMaxRecords    = 1000
	DefaultPruneSchedule = "@hourly"
)

// MaxExpireTimeout is the longest timeout the Notify call's int32
// millisecond argument can carry.
const MaxExpireTimeout = math.MaxInt32 * time.Millisecond

// Window backends.
const (
	BackendCDP  = "cdp"
	BackendXDG  = "xdg"
	BackendNone = "none"
)

// ValidBackends returns all valid window backend names.
func ValidBackends() []string {
	return []string{BackendCDP, BackendXDG, BackendNone}
}

// Urgency levels as named in the config file.
var urgencyLevels = map[string]byte{
	"low":      0,
	"normal":   1,
	"critical": 2,
}

// Config is the pushroute configuration.
// Loaded from ~/.config/pushroute/pushrouted.toml
type Config struct {
	App      AppConfig      `toml:"app"`
	Notify   NotifyConfig   `toml:"notify"`
	Windows  WindowsConfig  `toml:"windows"`
	Inbox    InboxConfig    `toml:"inbox"`
	History  HistoryConfig  `toml:"history"`
	Firebase FirebaseConfig `toml:"firebase"`
}

// AppConfig describes the web application whose notifications are shown.
type AppConfig struct {
	Name         string `toml:"name"`          // app_name sent to the notification server
	Origin       string `toml:"origin"`        // Base URL relative target URLs resolve against
	Icon         string `toml:"icon"`          // Icon reference attached to every notification
	IconDir      string `toml:"icon_dir"`      // Local directory the icon reference resolves against
	DefaultTitle string `toml:"default_title"` // Title when the payload has none
	DesktopEntry string `toml:"desktop_entry"` // desktop-entry hint, empty to omit
}

// NotifyConfig controls how notifications are sent to the desktop.
type NotifyConfig struct {
	Urgency            string   `toml:"urgency"`              // "low", "normal", "critical"
	ExpireTimeout      Duration `toml:"expire_timeout"`       // 0 = never expire
	FallbackNotifySend bool     `toml:"fallback_notify_send"` // Use notify-send when D-Bus is unavailable
	Internal           bool     `toml:"internal"`             // Notify about reloads and rejected payloads
	InternalInterval   Duration `toml:"internal_interval"`    // Minimum gap between repeats of one internal notification
}

// WindowsConfig selects and configures the window backend.
type WindowsConfig struct {
	Backend        string   `toml:"backend"`         // "cdp", "xdg", "none"
	CDPEndpoint    string   `toml:"cdp_endpoint"`    // DevTools HTTP endpoint
	RequestTimeout Duration `toml:"request_timeout"` // Per-request timeout for the DevTools endpoint
	OpenCommands   []string `toml:"open_commands"`   // Tried in order by the xdg backend
}

// InboxConfig controls the spool directory watcher.
type InboxConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"` // Empty = $XDG_DATA_HOME/pushroute/inbox
}

// HistoryConfig controls the notification history file.
type HistoryConfig struct {
	Enabled       bool     `toml:"enabled"`
	Path          string   `toml:"path"`           // Empty = $XDG_DATA_HOME/pushroute/history.jsonl
	Retention     Duration `toml:"retention"`      // 0 = keep forever
	MaxRecords    int      `toml:"max_records"`    // 0 = unlimited
	PruneSchedule string   `toml:"prune_schedule"` // cron spec or descriptor, empty disables
}

// FirebaseConfig holds credentials for the test sender.
type FirebaseConfig struct {
	ProjectID       string `toml:"project_id"`
	CredentialsFile string `toml:"credentials_file"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:         DefaultAppName,
			Origin:       DefaultOrigin,
			Icon:         DefaultIcon,
			DefaultTitle: DefaultTitle,
		},
		Notify: NotifyConfig{
			Urgency:            DefaultUrgency,
			ExpireTimeout:      Duration(10 * time.Second),
			FallbackNotifySend: true,
			Internal:           true,
			InternalInterval:   Duration(5 * time.Second),
		},
		Windows: WindowsConfig{
			Backend:        DefaultBackend,
			CDPEndpoint:    DefaultCDPEndpoint,
			RequestTimeout: Duration(3 * time.Second),
			OpenCommands:   []string{"xdg-open", "x-www-browser"},
		},
		Inbox: InboxConfig{
			Enabled: false,
		},
		History: HistoryConfig{
			Enabled:       true,
			Retention:     Duration(30 * 24 * time.Hour),
			MaxRecords:    DefaultMaxRecords,
			PruneSchedule: DefaultPruneSchedule,
		},
	}
}

// LoadConfig loads configuration from the specified path.
// If path is empty, uses the default config path.
// Returns default config if file doesn't exist.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Start with defaults, then overlay with file contents
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to the specified path.
// Creates parent directories if needed.
func (c *Config) Save(path string) error {
	if path == "" {
		path = ConfigPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write atomically via temp file
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return os.Rename(tmpPath, path)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return errors.New("app.name must not be empty")
	}
	if c.App.Origin != "" {
		u, err := url.Parse(c.App.Origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("app.origin %q must be an absolute URL", c.App.Origin)
		}
	}

	if _, ok := urgencyLevels[c.Notify.Urgency]; !ok {
		return fmt.Errorf("invalid urgency %q, must be one of: low, normal, critical", c.Notify.Urgency)
	}
	if c.Notify.ExpireTimeout < 0 {
		return fmt.Errorf("notify.expire_timeout must not be negative, got %s", c.Notify.ExpireTimeout.Duration())
	}
	if c.Notify.InternalInterval < 0 {
		return fmt.Errorf("notify.internal_interval must not be negative, got %s", c.Notify.InternalInterval.Duration())
	}
	if c.Notify.ExpireTimeout.Duration() > MaxExpireTimeout {
		return fmt.Errorf("notify.expire_timeout must be at most %s, got %s", MaxExpireTimeout, c.Notify.ExpireTimeout.Duration())
	}

	if !slices.Contains(ValidBackends(), c.Windows.Backend) {
		return fmt.Errorf("invalid window backend %q, must be one of: %v", c.Windows.Backend, ValidBackends())
	}
	if c.Windows.Backend == BackendCDP {
		u, err := url.Parse(c.Windows.CDPEndpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("windows.cdp_endpoint %q must be an absolute URL", c.Windows.CDPEndpoint)
		}
	}
	if c.Windows.RequestTimeout < 0 {
		return fmt.Errorf("windows.request_timeout must not be negative, got %s", c.Windows.RequestTimeout.Duration())
	}
	if c.Windows.Backend == BackendXDG && len(c.Windows.OpenCommands) == 0 {
		return errors.New("windows.open_commands must not be empty for the xdg backend")
	}

	if c.History.MaxRecords < 0 {
		return fmt.Errorf("history.max_records must not be negative, got %d", c.History.MaxRecords)
	}
	if c.History.Retention < 0 {
		return fmt.Errorf("history.retention must not be negative, got %s", c.History.Retention.Duration())
	}
	if c.History.PruneSchedule != "" {
		if _, err := cron.ParseStandard(c.History.PruneSchedule); err != nil {
			return fmt.Errorf("invalid history.prune_schedule %q: %w", c.History.PruneSchedule, err)
		}
	}

	return nil
}

// UrgencyLevel returns the freedesktop urgency byte for the configured urgency.
func (c *Config) UrgencyLevel() byte {
	if level, ok := urgencyLevels[c.Notify.Urgency]; ok {
		return level
	}
	return 1
}

// IconPath returns the icon reference to attach to notifications.
// When icon_dir is set, the icon reference is resolved against it so the
// notification server can load it from disk.
func (c *Config) IconPath() string {
	icon := c.App.Icon
	if icon == "" {
		icon = DefaultIcon
	}
	if c.App.IconDir == "" {
		return icon
	}
	return filepath.Join(expandPath(c.App.IconDir), strings.TrimPrefix(icon, "/"))
}

// HistoryFile returns the effective history file path.
func (c *Config) HistoryFile() string {
	if c.History.Path != "" {
		return expandPath(c.History.Path)
	}
	return HistoryPath()
}

// InboxDir returns the effective inbox directory.
func (c *Config) InboxDir() string {
	if c.Inbox.Dir != "" {
		return expandPath(c.Inbox.Dir)
	}
	return InboxPath()
}

// CredentialsFile returns the Firebase credentials path with ~ expanded.
func (c *Config) CredentialsFile() string {
	return expandPath(c.Firebase.CredentialsFile)
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
