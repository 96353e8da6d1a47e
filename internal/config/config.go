package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Config is the root configuration for the memory agent.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Server   ServerConfig   `json:"server"`
	Store    StoreConfig    `json:"store"`
	Drive    DriveConfig    `json:"drive"`
	Twilio   TwilioConfig   `json:"twilio"`
	Telegram TelegramConfig `json:"telegram"`
	Sources  SourcesConfig  `json:"sources"`
	Events   EventsConfig   `json:"events"`
	Metrics  MetricsConfig  `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"` // debug | info | warn | error
	LogFile  string `json:"logFile"`  // optional log file path
	Timezone string `json:"timezone"` // IANA name used for "today" and timestamps
}

type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	MaxBodyBytes int64  `json:"maxBodyBytes"`
}

// StoreConfig selects the note store backend.
type StoreConfig struct {
	Driver string `json:"driver"` // "sqlite" | "postgres"
	DSN    string `json:"dsn"`    // file path for sqlite, connection URL for postgres
}

// DriveConfig configures file relocation into Google Drive.
type DriveConfig struct {
	Enabled         bool   `json:"enabled"`
	CredentialsPath string `json:"credentialsPath"` // OAuth client secrets JSON
	TokenPath       string `json:"tokenPath"`       // cached user token, shared across processes
	RootFolderID    string `json:"rootFolderId"`
	TimeoutSeconds  int    `json:"timeoutSeconds"`
}

type TwilioConfig struct {
	APIBase        string `json:"apiBase"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

type TelegramConfig struct {
	ParseMode      string `json:"parseMode"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

// SourcesConfig controls provisioning of the source registry.
type SourcesConfig struct {
	SeedFile    string `json:"seedFile"` // YAML list of sources; built-in defaults when empty
	SeedOnStart bool   `json:"seedOnStart"`
	Watch       bool   `json:"watch"` // re-seed when the seed file changes
}

// EventsConfig configures forwarding of ingestion events to RabbitMQ.
type EventsConfig struct {
	Enabled  bool   `json:"enabled"`
	AMQPURL  string `json:"amqpUrl"`
	Exchange string `json:"exchange"`
}

// MetricsConfig configures the Prometheus text endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.memoryagent).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".memoryagent"
	}
	return filepath.Join(home, ".memoryagent")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Drive.CredentialsPath = ExpandPath(cfg.Drive.CredentialsPath)
	cfg.Drive.TokenPath = ExpandPath(cfg.Drive.TokenPath)
	cfg.Sources.SeedFile = ExpandPath(cfg.Sources.SeedFile)
	if cfg.Store.Driver == "sqlite" {
		cfg.Store.DSN = ExpandPath(cfg.Store.DSN)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset
// variable without default is left as is.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if _, err := cfg.Location(); err != nil {
		errs = append(errs, fmt.Sprintf("general.timezone: %v", err))
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Server.MaxBodyBytes < 1024 {
		errs = append(errs, "server.maxBodyBytes must be >= 1024")
	}

	switch cfg.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be one of: sqlite, postgres")
	}
	if strings.TrimSpace(cfg.Store.DSN) == "" {
		errs = append(errs, "store.dsn is required")
	}

	if cfg.Drive.Enabled {
		if cfg.Drive.TokenPath == "" {
			errs = append(errs, "drive.tokenPath is required when drive is enabled")
		}
		if cfg.Drive.CredentialsPath == "" {
			errs = append(errs, "drive.credentialsPath is required when drive is enabled")
		}
	}
	if cfg.Drive.TimeoutSeconds < 1 || cfg.Twilio.TimeoutSeconds < 1 || cfg.Telegram.TimeoutSeconds < 1 {
		errs = append(errs, "timeoutSeconds must be >= 1 for drive, twilio and telegram")
	}

	if cfg.Events.Enabled {
		if cfg.Events.AMQPURL == "" {
			errs = append(errs, "events.amqpUrl is required when events are enabled")
		}
		if cfg.Events.Exchange == "" {
			errs = append(errs, "events.exchange is required when events are enabled")
		}
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Location resolves general.timezone. "Local" and "" map to time.Local.
func (c *Config) Location() (*time.Location, error) {
	switch c.General.Timezone {
	case "", "Local":
		return time.Local, nil
	default:
		return time.LoadLocation(c.General.Timezone)
	}
}

// Seconds converts a timeoutSeconds setting to a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
