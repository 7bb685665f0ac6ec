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

type Config struct {
	// HTTP Server
	Port string

	// Document identity
	DocumentID string

	// Local cache
	SQLiteDBPath string
	DerivedTTL   time.Duration

	// Remote document store
	RemoteBackend string
	RemoteBaseURL string
	RemoteTimeout time.Duration

	// Connectivity probing
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration

	// Flush retry policy
	FlushRetries int
	FlushBackoff time.Duration

	// AMQP notifications, optional
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
}

func Load() *Config {
	return &Config{
		Port:       getEnv("PORT", "8081"),
		DocumentID: getEnv("DOCUMENT_ID", "default-user"),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/lifesync.db"),
		DerivedTTL:   getEnvDuration("DERIVED_TTL", 10*time.Minute),

		RemoteBackend: getEnv("REMOTE_BACKEND", "memory"),
		RemoteBaseURL: getEnv("REMOTE_BASE_URL", ""),
		RemoteTimeout: getEnvDuration("REMOTE_TIMEOUT", 10*time.Second),

		ProbeInterval: getEnvDuration("PROBE_INTERVAL", 30*time.Second),
		ProbeTimeout:  getEnvDuration("PROBE_TIMEOUT", 5*time.Second),

		FlushRetries: getEnvInt("FLUSH_RETRIES", 3),
		FlushBackoff: getEnvDuration("FLUSH_BACKOFF", 500*time.Millisecond),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "lifesync"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "sync_notifications"),
	}
}

// Validate checks the configuration and returns an error listing every
// problem found.
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.DocumentID == "" {
		errors = append(errors, "document ID cannot be empty")
	}

	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else {
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	validBackends := []string{"memory", "http"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.RemoteBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid remote backend '%s': must be one of %v", c.RemoteBackend, validBackends))
	}

	if c.RemoteBackend == "http" {
		if c.RemoteBaseURL == "" {
			errors = append(errors, "remote base URL is required when using http backend")
		} else if parsedURL, err := url.Parse(c.RemoteBaseURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid remote base URL '%s': %v", c.RemoteBaseURL, err))
		} else if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
			errors = append(errors, fmt.Sprintf("invalid remote base URL scheme '%s': must be 'http' or 'https'", parsedURL.Scheme))
		}
	}

	if c.RemoteTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid remote timeout %v: must be at least 1 second", c.RemoteTimeout))
	}
	if c.ProbeInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid probe interval %v: must be at least 1 second", c.ProbeInterval))
	}
	if c.ProbeTimeout < 100*time.Millisecond {
		errors = append(errors, fmt.Sprintf("invalid probe timeout %v: must be at least 100ms", c.ProbeTimeout))
	}
	if c.DerivedTTL < time.Second {
		errors = append(errors, fmt.Sprintf("invalid derived view TTL %v: must be at least 1 second", c.DerivedTTL))
	}

	if c.FlushRetries < 1 {
		errors = append(errors, fmt.Sprintf("invalid flush retries %d: must be at least 1", c.FlushRetries))
	} else if c.FlushRetries > 10 {
		errors = append(errors, fmt.Sprintf("invalid flush retries %d: must be at most 10", c.FlushRetries))
	}
	if c.FlushBackoff < 10*time.Millisecond {
		errors = append(errors, fmt.Sprintf("invalid flush backoff %v: must be at least 10ms", c.FlushBackoff))
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

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
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
