// Copyright 2026 The Balance Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for the Balance session daemon.
type Config struct {
	// ListenAddress is the TCP address for the HTTP API, including
	// the /auth-check endpoint the reverse proxy calls.
	ListenAddress string `yaml:"listen_address"`

	// SocketPath is the Unix socket path for the control protocol
	// used by balancectl.
	SocketPath string `yaml:"socket_path"`

	// DatabasePath is the SQLite database file holding sessions,
	// counters, and the priorities projection. The settings
	// application shares this database.
	DatabasePath string `yaml:"database_path"`

	// Timer holds the session and break timing rules.
	Timer TimerConfig `yaml:"timer"`

	// Gate configures the access gate consulted by the proxy.
	Gate GateConfig `yaml:"gate"`

	// Retention configures history pruning.
	Retention RetentionConfig `yaml:"retention"`
}

// TimerConfig holds session and break timing rules. These values are
// written by the settings application; the daemon treats them as
// read-only inputs.
type TimerConfig struct {
	// SessionDuration is the length of one focus session.
	SessionDuration Duration `yaml:"session_duration"`

	// ShortBreak is the break granted after most sessions.
	ShortBreak Duration `yaml:"short_break"`

	// LongBreak is the break granted every LongBreakEvery'th
	// completed session of the day.
	LongBreak Duration `yaml:"long_break"`

	// LongBreakEvery is the cadence of long breaks. The Nth completed
	// session of the day gets the long break when N is a multiple of
	// this value. Zero disables long breaks.
	LongBreakEvery int `yaml:"long_break_every"`

	// DailyCap is the maximum number of completed sessions per day,
	// summed across both session types. Further starts are rejected.
	DailyCap int `yaml:"daily_cap"`

	// RabbitHoleThreshold is the number of consecutive completed
	// personal sessions after which the next personal session's
	// review must answer the rabbit-hole question.
	RabbitHoleThreshold int `yaml:"rabbit_hole_threshold"`
}

// GateConfig configures the access gate.
type GateConfig struct {
	// RedirectURL is where /auth-check sends blocked requests during
	// a break (302). Empty means respond 403 instead.
	RedirectURL string `yaml:"redirect_url"`

	// FailPolicy is the gate's behavior when the session store is
	// unreachable: "open" (allow) or "closed" (deny). Default open —
	// the gate protects a focus habit, and a storage fault should not
	// take down every proxied service.
	FailPolicy string `yaml:"fail_policy"`
}

// RetentionConfig configures history pruning.
type RetentionConfig struct {
	// HistoryDays is how many days of completed and abandoned
	// sessions to keep. Daily counters are never pruned. Zero
	// disables pruning.
	HistoryDays int `yaml:"history_days"`

	// SweepInterval is how often the daemon runs the prune.
	SweepInterval Duration `yaml:"sweep_interval"`
}

// Duration is a time.Duration that unmarshals from YAML strings like
// "25m" or "1h30m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the default configuration. The defaults exist so
// every field has a sensible zero value before the file is loaded —
// the config file is still required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".local", "share", "balance")

	return &Config{
		ListenAddress: "127.0.0.1:8745",
		SocketPath:    "/run/balance/session.sock",
		DatabasePath:  filepath.Join(dataDir, "sessions.db"),
		Timer: TimerConfig{
			SessionDuration:     Duration(25 * time.Minute),
			ShortBreak:          Duration(5 * time.Minute),
			LongBreak:           Duration(15 * time.Minute),
			LongBreakEvery:      4,
			DailyCap:            10,
			RabbitHoleThreshold: 2,
		},
		Gate: GateConfig{
			FailPolicy: "open",
		},
		Retention: RetentionConfig{
			HistoryDays:   90,
			SweepInterval: Duration(6 * time.Hour),
		},
	}
}

// Load loads configuration from the path in the BALANCE_CONFIG
// environment variable. Fails if the variable is not set — there is no
// automatic discovery.
func Load() (*Config, error) {
	configPath := os.Getenv("BALANCE_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("BALANCE_CONFIG environment variable not set; " +
			"set it to the path of your balance.yaml config file, or use the --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, merging over
// the defaults and expanding ${HOME}-style variables in paths.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in path
// fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.SocketPath = expandVars(c.SocketPath, vars)
	c.DatabasePath = expandVars(c.DatabasePath, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.ListenAddress == "" {
		errs = append(errs, fmt.Errorf("listen_address is required"))
	}
	if c.SocketPath == "" {
		errs = append(errs, fmt.Errorf("socket_path is required"))
	}
	if c.DatabasePath == "" {
		errs = append(errs, fmt.Errorf("database_path is required"))
	}

	if c.Timer.SessionDuration <= 0 {
		errs = append(errs, fmt.Errorf("timer.session_duration must be positive"))
	}
	if c.Timer.ShortBreak <= 0 {
		errs = append(errs, fmt.Errorf("timer.short_break must be positive"))
	}
	if c.Timer.LongBreakEvery > 0 && c.Timer.LongBreak <= 0 {
		errs = append(errs, fmt.Errorf("timer.long_break must be positive when long_break_every is set"))
	}
	if c.Timer.LongBreakEvery < 0 {
		errs = append(errs, fmt.Errorf("timer.long_break_every must not be negative"))
	}
	if c.Timer.DailyCap < 0 {
		errs = append(errs, fmt.Errorf("timer.daily_cap must not be negative"))
	}
	if c.Timer.RabbitHoleThreshold < 1 {
		errs = append(errs, fmt.Errorf("timer.rabbit_hole_threshold must be at least 1"))
	}

	if c.Gate.FailPolicy != "open" && c.Gate.FailPolicy != "closed" {
		errs = append(errs, fmt.Errorf("gate.fail_policy must be \"open\" or \"closed\""))
	}

	if c.Retention.HistoryDays < 0 {
		errs = append(errs, fmt.Errorf("retention.history_days must not be negative"))
	}
	if c.Retention.HistoryDays > 0 && c.Retention.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("retention.sweep_interval must be positive when history_days is set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
