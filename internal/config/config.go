package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"financas/internal/rates"
)

type Config struct {
	// HTTP Server
	Port     string
	LogLevel string

	// Transaction source
	DataBackend string
	DataDir     string

	// Google Sheets
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountFile string
	GoogleServiceAccountJSON string

	// Rates
	RateSourceURL     string
	RateCacheTTL      time.Duration
	RateFetchTimeout  time.Duration
	RateLookupPolicy  string
	DefaultAnnualRate string

	// Snapshots
	SQLiteDBPath string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Worker
	RateRefreshCron string

	// Sessions
	SessionTTL time.Duration
	SessionMax int
}

func Load() *Config {
	cfg := &Config{
		Port:     getEnv("PORT", "8081"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DataBackend: getEnv("DATA_BACKEND", "memory"),
		DataDir:     getEnv("DATA_DIR", "./data"),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:          getEnv("GOOGLE_SHEET_NAME", "Transacoes"),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),

		RateSourceURL:     getEnv("RATE_SOURCE_URL", rates.DefaultSourceURL),
		RateCacheTTL:      getEnvDuration("RATE_CACHE_TTL", 24*time.Hour),
		RateFetchTimeout:  getEnvDuration("RATE_FETCH_TIMEOUT", 15*time.Second),
		RateLookupPolicy:  getEnv("RATE_LOOKUP_POLICY", "first_match"),
		DefaultAnnualRate: getEnv("DEFAULT_ANNUAL_RATE", "10.5"),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/financas.db"),

		AMQPURL:      os.Getenv("AMQP_URL"),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "financas.rates"),
		AMQPQueue:    os.Getenv("AMQP_QUEUE"),

		RateRefreshCron: getEnv("RATE_REFRESH_CRON", "0 6 * * *"),

		SessionTTL: getEnvDuration("SESSION_TTL", 2*time.Hour),
		SessionMax: getEnvInt("SESSION_MAX", 100),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of [debug info warn error]", c.LogLevel))
	}

	// Validate data backend
	validBackends := []string{"memory", "sheets"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.DataBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.DataBackend == "memory" && c.DataDir != "" {
		if info, err := os.Stat(c.DataDir); err == nil && !info.IsDir() {
			errors = append(errors, fmt.Sprintf("data directory '%s' is not a directory", c.DataDir))
		}
	}

	// Validate Google Sheets configuration if backend is sheets
	if c.DataBackend == "sheets" {
		if c.GoogleSpreadsheetID == "" {
			errors = append(errors, "Google Spreadsheet ID is required when using sheets backend")
		}
		if c.GoogleSheetName == "" {
			errors = append(errors, "Google Sheet name is required when using sheets backend")
		}
		if c.GoogleServiceAccountFile != "" {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}

	// Validate rate settings
	if c.RateSourceURL != "" {
		if parsedURL, err := url.Parse(c.RateSourceURL); err != nil || (parsedURL.Scheme != "http" && parsedURL.Scheme != "https") {
			errors = append(errors, fmt.Sprintf("invalid rate source URL '%s': must be http or https", c.RateSourceURL))
		}
	}
	if c.RateCacheTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid rate cache TTL %v: must be at least 1 minute", c.RateCacheTTL))
	}
	if c.RateFetchTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid rate fetch timeout %v: must be at least 1 second", c.RateFetchTimeout))
	} else if c.RateFetchTimeout > 5*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid rate fetch timeout %v: must be at most 5 minutes", c.RateFetchTimeout))
	}
	if _, err := rates.ParsePolicy(c.RateLookupPolicy); err != nil {
		errors = append(errors, fmt.Sprintf("invalid rate lookup policy '%s': %v", c.RateLookupPolicy, err))
	}
	if rate, err := decimal.NewFromString(c.DefaultAnnualRate); err != nil {
		errors = append(errors, fmt.Sprintf("invalid default annual rate '%s': must be a number", c.DefaultAnnualRate))
	} else if rate.IsNegative() {
		errors = append(errors, fmt.Sprintf("invalid default annual rate %s: must not be negative", c.DefaultAnnualRate))
	}

	// Snapshot directory must exist or be creatable
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

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
	}

	if _, err := cron.ParseStandard(c.RateRefreshCron); err != nil {
		errors = append(errors, fmt.Sprintf("invalid rate refresh cron '%s': %v", c.RateRefreshCron, err))
	}

	if c.SessionTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid session TTL %v: must be at least 1 minute", c.SessionTTL))
	}
	if c.SessionMax < 1 {
		errors = append(errors, fmt.Sprintf("invalid session max %d: must be at least 1", c.SessionMax))
	} else if c.SessionMax > 10000 {
		errors = append(errors, fmt.Sprintf("invalid session max %d: must be at most 10000", c.SessionMax))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// FallbackRate returns DefaultAnnualRate as a decimal. Call after Validate.
func (c *Config) FallbackRate() decimal.Decimal {
	rate, err := decimal.NewFromString(c.DefaultAnnualRate)
	if err != nil {
		return decimal.Zero
	}
	return rate
}

// Policy returns the configured rate lookup policy. Call after Validate.
func (c *Config) Policy() rates.Policy {
	p, _ := rates.ParsePolicy(c.RateLookupPolicy)
	return p
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
