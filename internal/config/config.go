package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	BackendRemote = "remote"
	BackendMemory = "memory"
)

type Config struct {
	// HTTP Server
	Port               string
	CookieSecure       bool
	RateLimitPerMinute int
	DisplayTimezone    string

	// Remote API
	APIBackend string
	APIBaseURL string
	APITimeout time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// Activity journal
	SQLiteDBPath string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets export
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string

	// CLI
	CredentialFile string
}

func Load() *Config {
	cfg := &Config{
		Port:               getEnv("PORT", "8081"),
		CookieSecure:       getEnvBool("COOKIE_SECURE", false),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		DisplayTimezone:    getEnv("DISPLAY_TIMEZONE", "Local"),

		APIBackend: getEnv("API_BACKEND", BackendRemote),
		APIBaseURL: getEnv("API_BASE_URL", "http://localhost:8000"),
		APITimeout: getEnvDuration("API_TIMEOUT", 0),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/ecu.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "ecu"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "activity_events"),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:          getEnv("GOOGLE_SHEET_NAME", "ECU Export"),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),

		CredentialFile: getEnv("ECU_CREDENTIAL_FILE", defaultCredentialFile()),
	}

	return cfg
}

// Location resolves DisplayTimezone; "Local" or empty means the host zone.
func (c *Config) Location() (*time.Location, error) {
	if c.DisplayTimezone == "" || c.DisplayTimezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.DisplayTimezone)
}

// JournalEnabled reports whether activity is persisted to SQLite.
func (c *Config) JournalEnabled() bool { return c.SQLiteDBPath != "" }

// AMQPEnabled reports whether activity events are published.
func (c *Config) AMQPEnabled() bool { return c.AMQPURL != "" }

// SheetsEnabled reports whether exports to Google Sheets are configured.
func (c *Config) SheetsEnabled() bool { return c.GoogleSpreadsheetID != "" }

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	switch c.APIBackend {
	case BackendRemote:
		if u, err := url.Parse(c.APIBaseURL); err != nil || c.APIBaseURL == "" {
			errors = append(errors, fmt.Sprintf("invalid API base URL '%s'", c.APIBaseURL))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errors = append(errors, fmt.Sprintf("invalid API base URL scheme '%s': must be 'http' or 'https'", u.Scheme))
		}
	case BackendMemory:
	default:
		errors = append(errors, fmt.Sprintf("invalid API backend '%s': must be one of [%s %s]", c.APIBackend, BackendRemote, BackendMemory))
	}

	if c.APITimeout < 0 {
		errors = append(errors, fmt.Sprintf("invalid API timeout %v: must not be negative", c.APITimeout))
	}

	if _, err := c.Location(); err != nil {
		errors = append(errors, fmt.Sprintf("invalid display timezone '%s': %v", c.DisplayTimezone, err))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of [debug info warn error]", c.LogLevel))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1 request per minute", c.RateLimitPerMinute))
	}

	if c.SQLiteDBPath != "" {
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.GoogleSpreadsheetID != "" {
		if c.GoogleSheetName == "" {
			errors = append(errors, "Google Sheet name is required when a spreadsheet ID is set")
		}
		hasJSON := c.GoogleServiceAccountJSON != ""
		hasFile := c.GoogleServiceAccountFile != ""
		if !hasJSON && !hasFile {
			errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE must be provided for Sheets export")
		}
		if hasFile {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func defaultCredentialFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".ecu-session"
	}
	return filepath.Join(dir, "ecu", "session")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
