package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Environment modes understood by the logging setup
const (
	EnvDevelopment = "development"
	EnvTesting     = "testing"
	EnvProduction  = "production"
)

// Config holds all runtime configuration parameters
type Config struct {
	AppName              string          `json:"app_name"`
	Environment          string          `json:"environment"`
	Source               SourceConfig    `json:"source"`
	QuerySpreadsheetPath string          `json:"query_spreadsheet_path"`
	Database             DatabaseConfig  `json:"database"`
	WindowDays           int             `json:"window_days"`
	PacingDelayMs        int             `json:"pacing_delay_ms"`
	RequestBudget        int             `json:"request_budget"`
	HorizonDays          int             `json:"horizon_days"`
	ProviderLookbackDays int             `json:"provider_lookback_days"`
	Language             string          `json:"language"`
	RequestTimeoutMs     int             `json:"request_timeout_ms"`
	ActivateAPIRequests  *bool           `json:"activate_api_requests,omitempty"`
	AdvanceOnMalformed   *bool           `json:"advance_on_malformed,omitempty"`
	Guardrail            GuardrailConfig `json:"guardrail"`
	ResponsesDir         string          `json:"responses_dir"`
	MetricsPath          string          `json:"metrics_path"`
	Handoff              HandoffConfig   `json:"handoff"`
	Logging              LoggingConfig   `json:"logging"`
}

// SourceConfig names the news aggregator being queried. BaseURL and APIKey
// are optional: when set they are upserted into the sources table at startup.
type SourceConfig struct {
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
}

// DatabaseConfig selects the storage driver ("sqlite3" or "pgx") and its DSN
type DatabaseConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// GuardrailConfig is the wall-clock gate: Target is "HH:MM" in UTC
type GuardrailConfig struct {
	Target        string `json:"target"`
	WindowMinutes *int   `json:"window_minutes,omitempty"`
}

// HandoffConfig is the downstream command run when a run ends
type HandoffConfig struct {
	Command   []string `json:"command"`
	TimeoutMs int      `json:"timeout_ms"`
	Dir       string   `json:"dir"`
}

// LoggingConfig controls log file output and rotation
type LoggingConfig struct {
	Dir       string `json:"dir"`
	Level     string `json:"level"`
	MaxSizeMB int    `json:"max_size_mb"`
	MaxFiles  int    `json:"max_files"`
}

// LoadConfig reads and validates configuration from a JSON or YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	cfg, err := Parse(path, data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes raw config bytes; path is only used to detect YAML
func Parse(path string, data []byte) (*Config, error) {
	jsonData, format, err := coerceToJSONBytes(path, data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", format, err)
	}

	var cfg Config
	decoder := json.NewDecoder(bytes.NewReader(jsonData))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", format, err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config %s: trailing data", format)
	}

	cfg.Source.APIKey = os.ExpandEnv(cfg.Source.APIKey)
	cfg.Database.DSN = os.ExpandEnv(cfg.Database.DSN)

	// Apply defaults for missing values
	applyDefaults(&cfg)

	// Validate configuration
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for unspecified fields
func applyDefaults(cfg *Config) {
	if cfg.AppName == "" {
		cfg.AppName = "newsapi-requester"
	}
	if cfg.Environment == "" {
		cfg.Environment = EnvDevelopment
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite3"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite3" {
		cfg.Database.DSN = "requester.db"
	}
	if cfg.WindowDays == 0 {
		cfg.WindowDays = 10
	}
	if cfg.PacingDelayMs == 0 {
		cfg.PacingDelayMs = 1000
	}
	if cfg.RequestBudget == 0 {
		cfg.RequestBudget = 5
	}
	if cfg.HorizonDays == 0 {
		cfg.HorizonDays = 180
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.RequestTimeoutMs == 0 {
		cfg.RequestTimeoutMs = 30000
	}
	if cfg.ActivateAPIRequests == nil {
		cfg.ActivateAPIRequests = boolPtr(true)
	}
	if cfg.AdvanceOnMalformed == nil {
		cfg.AdvanceOnMalformed = boolPtr(true)
	}
	if cfg.Guardrail.Target == "" {
		cfg.Guardrail.Target = "23:00"
	}
	if cfg.Guardrail.WindowMinutes == nil {
		cfg.Guardrail.WindowMinutes = intPtr(5)
	}
	if cfg.ResponsesDir == "" {
		cfg.ResponsesDir = "api_responses"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "metrics.json"
	}
	if cfg.Logging.Dir == "" {
		cfg.Logging.Dir = "logs"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 5
	}
	if cfg.Logging.MaxFiles == 0 {
		cfg.Logging.MaxFiles = 5
	}
}

// validate checks that required fields are present and values are sensible
func validate(cfg *Config) error {
	switch cfg.Environment {
	case EnvDevelopment, EnvTesting, EnvProduction:
	default:
		return fmt.Errorf("environment must be one of development, testing, production (got %q)", cfg.Environment)
	}
	if strings.TrimSpace(cfg.Source.Name) == "" {
		return fmt.Errorf("source.name is required")
	}
	if strings.TrimSpace(cfg.QuerySpreadsheetPath) == "" {
		return fmt.Errorf("query_spreadsheet_path is required")
	}
	switch cfg.Database.Driver {
	case "sqlite3", "pgx":
	default:
		return fmt.Errorf("database.driver must be sqlite3 or pgx (got %q)", cfg.Database.Driver)
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if cfg.WindowDays < 1 {
		return fmt.Errorf("window_days must be >= 1")
	}
	if cfg.PacingDelayMs < 0 {
		return fmt.Errorf("pacing_delay_ms must be >= 0")
	}
	if cfg.RequestBudget < 1 {
		return fmt.Errorf("request_budget must be >= 1")
	}
	if cfg.HorizonDays < 1 {
		return fmt.Errorf("horizon_days must be >= 1")
	}
	if cfg.ProviderLookbackDays < 0 {
		return fmt.Errorf("provider_lookback_days must be >= 0")
	}
	if cfg.RequestTimeoutMs < 1000 {
		return fmt.Errorf("request_timeout_ms must be >= 1000")
	}
	if _, _, err := ParseTargetTime(cfg.Guardrail.Target); err != nil {
		return err
	}
	if *cfg.Guardrail.WindowMinutes < 0 {
		return fmt.Errorf("guardrail.window_minutes must be >= 0")
	}
	if cfg.Handoff.TimeoutMs < 0 {
		return fmt.Errorf("handoff.timeout_ms must be >= 0")
	}
	return nil
}

var reTargetTime = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

// ParseTargetTime parses a 24-hour "HH:MM" guardrail target
func ParseTargetTime(raw string) (hour, minute int, err error) {
	m := reTargetTime.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return 0, 0, fmt.Errorf("invalid guardrail target %q: expected HH:MM (24-hour format)", raw)
	}
	hour, _ = strconv.Atoi(m[1])
	minute, _ = strconv.Atoi(m[2])
	if hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in guardrail target: %d, must be 0-23", hour)
	}
	if minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in guardrail target: %d, must be 0-59", minute)
	}
	return hour, minute, nil
}

// PacingDelay returns the inter-step delay
func (c *Config) PacingDelay() time.Duration {
	return time.Duration(c.PacingDelayMs) * time.Millisecond
}

// RequestTimeout returns the per-request timeout
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// HandoffTimeout returns the downstream command timeout, 0 meaning none
func (c *Config) HandoffTimeout() time.Duration {
	return time.Duration(c.Handoff.TimeoutMs) * time.Millisecond
}

func boolPtr(v bool) *bool { return &v }

func intPtr(v int) *int { return &v }
