// Package config loads LeadPipe settings from the environment and an optional .env file.
package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Transports selectable with TRANSPORT.
const (
	TransportWaAPI    = "waapi"
	TransportTwilio   = "twilio"
	TransportWhatsApp = "whatsapp"
	TransportLog      = "log"
)

// Session backends selectable with SESSION_BACKEND.
const (
	SessionBackendMemory   = "memory"
	SessionBackendBigcache = "bigcache"
)

// Default file names inside the state directory.
const (
	DefaultArchiveFileName  = "leadpipe.db"
	DefaultWhatsAppFileName = "whatsmeow.db"
)

// Config is the complete runtime configuration.
type Config struct {
	StateDir  string `envconfig:"LEADPIPE_STATE_DIR" default:"/var/lib/leadpipe"`
	APIAddr   string `envconfig:"API_ADDR" default:":8080"`
	Transport string `envconfig:"TRANSPORT" default:"waapi"`

	WaAPIURL        string `envconfig:"WAAPI_URL" default:"https://waapi.app/api/v1"`
	WaAPIToken      string `envconfig:"WAAPI_TOKEN"`
	WaAPIInstanceID string `envconfig:"WAAPI_INSTANCE_ID"`

	TwilioAccountSID string `envconfig:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `envconfig:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber string `envconfig:"TWILIO_FROM_NUMBER"`
	TwilioWebhookURL string `envconfig:"TWILIO_WEBHOOK_URL"`

	WhatsAppDBDSN string `envconfig:"WHATSAPP_DB_DSN"`

	TrelloAPIKey  string `envconfig:"TRELLO_API_KEY"`
	TrelloToken   string `envconfig:"TRELLO_API_TOKEN"`
	TrelloBoardID string `envconfig:"TRELLO_BOARD_ID"`
	TrelloListID  string `envconfig:"TRELLO_LIST_ID"`
	TrelloBaseURL string `envconfig:"TRELLO_BASE_URL" default:"https://api.trello.com"`

	ArchiveDSN      string        `envconfig:"ARCHIVE_DSN"`
	SessionBackend  string        `envconfig:"SESSION_BACKEND" default:"memory"`
	SessionTTL      time.Duration `envconfig:"SESSION_TTL"`
	DedupCapacity   int           `envconfig:"DEDUP_CAPACITY" default:"1000"`
	DefaultLanguage string        `envconfig:"DEFAULT_LANGUAGE" default:"ru"`
	CompletedPolicy string        `envconfig:"COMPLETED_POLICY" default:"ignore"`
	CatalogPath     string        `envconfig:"CATALOG_PATH"`
	RetrySchedule   string        `envconfig:"RETRY_SCHEDULE" default:"@every 5m"`
	Workers         int           `envconfig:"WORKERS" default:"8"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
}

// Load reads .env when present, then the process environment, and normalizes the result.
func Load() (*Config, error) {
	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}
	if err := Normalize(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv reads .env and the environment without validating, so that command
// line flags can still override fields before Normalize runs.
func FromEnv() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}
	return &cfg, nil
}

// Normalize validates the configuration and fills the defaults that depend on other fields.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	cfg.Transport = strings.ToLower(strings.TrimSpace(cfg.Transport))
	switch cfg.Transport {
	case TransportWaAPI:
		if cfg.WaAPIToken == "" || cfg.WaAPIInstanceID == "" {
			return fmt.Errorf("WAAPI_TOKEN and WAAPI_INSTANCE_ID are required when TRANSPORT is 'waapi'")
		}
	case TransportTwilio:
		if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" || cfg.TwilioFromNumber == "" {
			return fmt.Errorf("TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER are required when TRANSPORT is 'twilio'")
		}
	case TransportWhatsApp, TransportLog:
	default:
		return fmt.Errorf("invalid TRANSPORT %q; allowed: waapi, twilio, whatsapp, log", cfg.Transport)
	}

	if strings.TrimSpace(cfg.StateDir) == "" {
		return fmt.Errorf("LEADPIPE_STATE_DIR cannot be empty")
	}
	if cfg.ArchiveDSN == "" {
		cfg.ArchiveDSN = filepath.Join(cfg.StateDir, DefaultArchiveFileName)
	}
	if cfg.WhatsAppDBDSN == "" {
		cfg.WhatsAppDBDSN = "file:" + filepath.Join(cfg.StateDir, DefaultWhatsAppFileName) + "?_foreign_keys=on"
	}

	cfg.SessionBackend = strings.ToLower(strings.TrimSpace(cfg.SessionBackend))
	switch cfg.SessionBackend {
	case SessionBackendMemory, SessionBackendBigcache:
	default:
		return fmt.Errorf("invalid SESSION_BACKEND %q; allowed: memory, bigcache", cfg.SessionBackend)
	}
	if cfg.SessionTTL < 0 {
		return fmt.Errorf("SESSION_TTL must be >= 0")
	}
	if cfg.SessionTTL > 0 && cfg.SessionBackend == SessionBackendMemory {
		slog.Warn("SESSION_TTL is only honored by the bigcache session backend", "ttl", cfg.SessionTTL)
	}

	if cfg.DedupCapacity <= 0 {
		return fmt.Errorf("DEDUP_CAPACITY must be > 0")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("WORKERS must be > 0")
	}

	cfg.DefaultLanguage = strings.ToLower(strings.TrimSpace(cfg.DefaultLanguage))
	if cfg.DefaultLanguage != "ru" && cfg.DefaultLanguage != "kz" {
		return fmt.Errorf("invalid DEFAULT_LANGUAGE %q; allowed: ru, kz", cfg.DefaultLanguage)
	}

	cfg.CompletedPolicy = strings.ToLower(strings.TrimSpace(cfg.CompletedPolicy))
	if cfg.CompletedPolicy != "ignore" && cfg.CompletedPolicy != "notice" {
		return fmt.Errorf("invalid COMPLETED_POLICY %q; allowed: ignore, notice", cfg.CompletedPolicy)
	}

	if _, err := ParseLogLevel(cfg.LogLevel); err != nil {
		return err
	}
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return fmt.Errorf("invalid LOG_FORMAT %q; allowed: text, json", cfg.LogFormat)
	}
	return nil
}

// TrelloConfigured reports whether cards can be created. Without Trello every
// submission goes to the archive.
func (c *Config) TrelloConfigured() bool {
	return c.TrelloAPIKey != "" && c.TrelloToken != "" && c.TrelloListID != ""
}

// ParseLogLevel maps LOG_LEVEL names onto slog levels.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q; allowed: debug, info, warn, error", s)
	}
}
