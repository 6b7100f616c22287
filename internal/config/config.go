package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the connection profile and tuning knobs of the engine.
// Credential decryption and storage are handled by the calling layer; the
// secret arrives here already usable.
type Config struct {
	Environment string

	IMAPHost string
	IMAPPort int
	UseTLS   bool
	Identity string
	Secret   string

	PollInterval    time.Duration
	IdleWaitCap     time.Duration
	SearchWindow    time.Duration
	BackoffMax      time.Duration
	MaxWorkers      int
	JournalDSN      string
	FolderOverrides map[string][]string
}

// Logical folder names that accept candidate-list overrides from the
// environment, e.g. ENGINE_FOLDER_SPAM="Spam,Junk,Bulk Mail".
var overridableFolders = []string{"INBOX", "SENT", "DRAFTS", "SPAM", "ARCHIVE", "TRASH"}

func NewConfig() (*Config, error) {
	env := os.Getenv("ENGINE_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	config := &Config{
		Environment:     env,
		IMAPHost:        os.Getenv("ENGINE_IMAP_HOST"),
		IMAPPort:        getEnvIntOrDefault("ENGINE_IMAP_PORT", 993),
		UseTLS:          getEnvOrDefault("ENGINE_IMAP_TLS", "true") == "true",
		Identity:        os.Getenv("ENGINE_IMAP_IDENTITY"),
		Secret:          os.Getenv("ENGINE_IMAP_SECRET"),
		PollInterval:    getEnvDurationOrDefault("ENGINE_POLL_INTERVAL", 30*time.Second),
		IdleWaitCap:     getEnvDurationOrDefault("ENGINE_IDLE_WAIT_CAP", 29*time.Minute),
		SearchWindow:    getEnvDurationOrDefault("ENGINE_SEARCH_WINDOW", time.Hour),
		BackoffMax:      getEnvDurationOrDefault("ENGINE_BACKOFF_MAX", 5*time.Minute),
		MaxWorkers:      getEnvIntOrDefault("ENGINE_MAX_WORKERS", 3),
		JournalDSN:      os.Getenv("ENGINE_JOURNAL_DSN"),
		FolderOverrides: folderOverridesFromEnv(),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.IMAPHost == "" {
		return fmt.Errorf("ENGINE_IMAP_HOST is required")
	}

	if c.Identity == "" {
		return fmt.Errorf("ENGINE_IMAP_IDENTITY is required")
	}

	if c.Secret == "" {
		return fmt.Errorf("ENGINE_IMAP_SECRET is required")
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("ENGINE_POLL_INTERVAL must be positive")
	}

	if c.IdleWaitCap <= 0 {
		return fmt.Errorf("ENGINE_IDLE_WAIT_CAP must be positive")
	}

	if c.MaxWorkers <= 0 {
		return fmt.Errorf("ENGINE_MAX_WORKERS must be positive")
	}

	return nil
}

// folderOverridesFromEnv reads candidate-list overrides. The lists are data,
// not logic: they only replace the built-in candidates for a logical folder.
func folderOverridesFromEnv() map[string][]string {
	overrides := make(map[string][]string)
	for _, name := range overridableFolders {
		value := os.Getenv("ENGINE_FOLDER_" + name)
		if value == "" {
			continue
		}
		var candidates []string
		for _, c := range strings.Split(value, ",") {
			if c = strings.TrimSpace(c); c != "" {
				candidates = append(candidates, c)
			}
		}
		if len(candidates) > 0 {
			overrides[name] = candidates
		}
	}
	return overrides
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
