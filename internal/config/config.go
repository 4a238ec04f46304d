package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type DockerConfig struct {
	Enabled            bool `yaml:"enabled"`
	StopTimeoutSeconds int  `yaml:"stop_timeout_seconds"`
}

type HostDirectConfig struct {
	Enabled bool `yaml:"enabled"`
}

type Config struct {
	Listen                string           `yaml:"listen"`
	APIKey                string           `yaml:"api_key"`
	DataDir               string           `yaml:"data_dir"`
	DBPath                string           `yaml:"db_path"`
	LogLevel              string           `yaml:"log_level"`
	MailboxSize           int              `yaml:"mailbox_size"`
	ReaperIntervalSeconds int              `yaml:"reaper_interval_seconds"`
	JournalRetentionHours int              `yaml:"journal_retention_hours"`
	Docker                DockerConfig     `yaml:"docker"`
	HostDirect            HostDirectConfig `yaml:"hostdirect"`
}

func Load(yamlPath string) (*Config, error) {
	cfg := &Config{
		Listen:                "127.0.0.1:61621",
		DataDir:               "./fabrik-data",
		DBPath:                "./fabrik.db",
		LogLevel:              "info",
		MailboxSize:           64,
		ReaperIntervalSeconds: 30,
		JournalRetentionHours: 24,
		Docker: DockerConfig{
			Enabled:            true,
			StopTimeoutSeconds: 10,
		},
		HostDirect: HostDirectConfig{
			Enabled: true,
		},
	}

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the daemon cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.ReaperIntervalSeconds <= 0 {
		return fmt.Errorf("reaper_interval_seconds must be positive, got %d", c.ReaperIntervalSeconds)
	}
	if c.Docker.StopTimeoutSeconds < 0 {
		return fmt.Errorf("docker.stop_timeout_seconds must not be negative, got %d", c.Docker.StopTimeoutSeconds)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func (c *Config) ReaperInterval() time.Duration {
	return time.Duration(c.ReaperIntervalSeconds) * time.Second
}

func (c *Config) JournalRetention() time.Duration {
	return time.Duration(c.JournalRetentionHours) * time.Hour
}

func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.Docker.StopTimeoutSeconds) * time.Second
}

// ParseLevel maps a log_level setting to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log_level %q", s)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FABRIK_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("FABRIK_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("FABRIK_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("FABRIK_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("FABRIK_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FABRIK_MAILBOX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MailboxSize = n
		}
	}
	if v := os.Getenv("FABRIK_REAPER_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ReaperIntervalSeconds = n
		}
	}
	if v := os.Getenv("FABRIK_JOURNAL_RETENTION_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.JournalRetentionHours = n
		}
	}
	if v := os.Getenv("FABRIK_DOCKER_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Docker.Enabled = b
		}
	}
	if v := os.Getenv("FABRIK_DOCKER_STOP_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Docker.StopTimeoutSeconds = n
		}
	}
	if v := os.Getenv("FABRIK_HOSTDIRECT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.HostDirect.Enabled = b
		}
	}
}
