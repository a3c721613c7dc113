// Package config implements the plugin's options layer (C17): the CLI
// flags and config-file fields from spec.md §6, resolved in
// defaults-then-file-then-flags order (no environment-variable overlay),
// using the teacher's stack (spf13/pflag for the flag set, gopkg.in/yaml.v3
// for the file; internal/launchercli wraps this in the cobra command tree).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/jsturma/launcher-plugin/pkg/logger"
)

// Config holds every option named in spec.md §6.
type Config struct {
	EnableDebugLogging     bool   `yaml:"enable-debug-logging"`
	JobExpiryHours         uint   `yaml:"job-expiry-hours"`
	HeartbeatIntervalSecs  uint   `yaml:"heartbeat-interval-seconds"`
	LauncherConfigFile     string `yaml:"launcher-config-file"`
	LogLevel               string `yaml:"log-level"`
	MaxMessageSize         int    `yaml:"max-message-size"`
	PluginName             string `yaml:"plugin-name"`
	RsandboxPath           string `yaml:"rsandbox-path"`
	ScratchPath            string `yaml:"scratch-path"`
	SecureCookieKeyPath    string `yaml:"secure-cookie-key-path"`
	ServerUser             string `yaml:"server-user"`
	ThreadPoolSize         uint   `yaml:"thread-pool-size"`
	Unprivileged           bool   `yaml:"unprivileged"`
	LoggingDir             string `yaml:"logging-dir"`
}

// Default returns the option defaults from spec.md §6.
func Default() Config {
	return Config{
		EnableDebugLogging:    false,
		JobExpiryHours:        24,
		HeartbeatIntervalSecs: 5,
		LogLevel:              "warning",
		MaxMessageSize:        5 * 1024 * 1024,
		RsandboxPath:          "/usr/lib/rstudio-server/bin/rsandbox",
		ScratchPath:           "/var/lib/rstudio-launcher/",
		SecureCookieKeyPath:   "/var/lib/rstudio-server/secure-cookie-key",
		ServerUser:            "rstudio-server",
	}
}

// JobExpiry returns JobExpiryHours as a time.Duration.
func (c Config) JobExpiry() time.Duration {
	return time.Duration(c.JobExpiryHours) * time.Hour
}

// HeartbeatInterval returns HeartbeatIntervalSecs as a time.Duration. Zero
// means heartbeats are disabled.
func (c Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSecs) * time.Second
}

// Level parses LogLevel, falling back to WARN on a bad value.
func (c Config) Level() logger.Level {
	lvl, err := logger.ParseLevel(c.LogLevel)
	if err != nil {
		return logger.WARN
	}
	return lvl
}

// Load resolves the final configuration from, in increasing precedence:
// the compiled-in defaults, the YAML config file named by
// launcher-config-file (or the default search path if unset), and the
// command-line flags in args. Mirrors the teacher's own
// defaults-then-file-then-flags layering in pkg/config.LoadConfig,
// adapted to this plugin's single flat option set.
func Load(args []string) (*Config, error) {
	cfg := Default()

	fs := pflag.NewFlagSet("launcher-plugin", pflag.ContinueOnError)
	fs.BoolVar(&cfg.EnableDebugLogging, "enable-debug-logging", cfg.EnableDebugLogging, "enable verbose debug logging")
	fs.UintVar(&cfg.JobExpiryHours, "job-expiry-hours", cfg.JobExpiryHours, "hours a terminal job record is retained")
	fs.UintVar(&cfg.HeartbeatIntervalSecs, "heartbeat-interval-seconds", cfg.HeartbeatIntervalSecs, "heartbeat period in seconds, 0 disables")
	fs.StringVar(&cfg.LauncherConfigFile, "launcher-config-file", cfg.LauncherConfigFile, "path to the YAML config file")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "off|error|warning|info|debug")
	fs.IntVar(&cfg.MaxMessageSize, "max-message-size", cfg.MaxMessageSize, "maximum accepted frame payload in bytes")
	fs.StringVar(&cfg.PluginName, "plugin-name", cfg.PluginName, "plugin name reported to the launcher")
	fs.StringVar(&cfg.RsandboxPath, "rsandbox-path", cfg.RsandboxPath, "path to the sandbox helper executable")
	fs.StringVar(&cfg.ScratchPath, "scratch-path", cfg.ScratchPath, "root directory for job/output persistence")
	fs.StringVar(&cfg.SecureCookieKeyPath, "secure-cookie-key-path", cfg.SecureCookieKeyPath, "path to the secure-cookie-key used to decrypt job launch passwords")
	fs.StringVar(&cfg.ServerUser, "server-user", cfg.ServerUser, "user the plugin process runs as")
	fs.UintVar(&cfg.ThreadPoolSize, "thread-pool-size", cfg.ThreadPoolSize, "worker pool size, 0 selects the default")
	fs.BoolVar(&cfg.Unprivileged, "unprivileged", cfg.Unprivileged, "run without privilege-dropping capabilities")
	fs.StringVar(&cfg.LoggingDir, "logging-dir", cfg.LoggingDir, "directory created at startup if set; log output always goes to stderr")

	// A first pass picks out --launcher-config-file (and nothing else) so
	// the file can be loaded before the real flag values are bound over
	// it; pflag has no notion of file-then-flags precedence on its own.
	peek := pflag.NewFlagSet("launcher-plugin-peek", pflag.ContinueOnError)
	peek.ParseErrorsWhitelist.UnknownFlags = true
	peek.StringVar(&cfg.LauncherConfigFile, "launcher-config-file", cfg.LauncherConfigFile, "")
	_ = peek.Parse(args)

	if path := resolveConfigPath(cfg.LauncherConfigFile); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
		cfg.LauncherConfigFile = path
	}

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolveConfigPath returns explicit if set, otherwise the first existing
// file among the plugin's default search locations.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, candidate := range []string{
		"/etc/rstudio/launcher.launcher-plugin.conf",
		"./launcher-plugin.conf",
	} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// Validate rejects option combinations that cannot run.
func (c Config) Validate() error {
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("max-message-size must be positive, got %d", c.MaxMessageSize)
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log-level %q", c.LogLevel)
	}
	if c.ScratchPath == "" {
		return fmt.Errorf("scratch-path must not be empty")
	}
	return nil
}
