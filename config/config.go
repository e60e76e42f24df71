// Package config loads xchat settings from XCHAT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

// Prefix is the environment variable prefix.
const Prefix = "xchat"

// LogFormats lists the accepted values of XCHAT_LOG_FORMAT.
var LogFormats = []string{"text", "json"}

// Config holds every tunable of a node.
type Config struct {
	DataDir              string        `split_words:"true"`
	MessageTTL           time.Duration `split_words:"true" default:"24h"`
	MaxMessageSize       int           `split_words:"true" default:"1024"`
	RetryInitialInterval time.Duration `split_words:"true" default:"1m"`
	RetrySteadyInterval  time.Duration `split_words:"true" default:"10m"`
	RetryInitialAttempts int           `split_words:"true" default:"8"`
	RetryCooldown        time.Duration `split_words:"true" default:"5s"`
	ListenAddr           string        `split_words:"true" default:":7741"`
	BroadcastAddr        string        `split_words:"true" default:"255.255.255.255:7741"`
	LogLevel             string        `split_words:"true" default:"info"`
	LogFormat            string        `split_words:"true" default:"text"`
}

// Load reads the environment and validates the result.
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process(Prefix, &c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks value ranges and fills in DataDir when unset.
func (c *Config) Validate() error {
	if c.MessageTTL <= 0 {
		return fmt.Errorf("XCHAT_MESSAGE_TTL must be positive, got %s", c.MessageTTL)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("XCHAT_MAX_MESSAGE_SIZE must be positive, got %d", c.MaxMessageSize)
	}
	if c.RetryInitialInterval <= 0 || c.RetrySteadyInterval <= 0 {
		return errors.New("retry intervals must be positive")
	}
	if c.RetrySteadyInterval < c.RetryInitialInterval {
		return fmt.Errorf("XCHAT_RETRY_STEADY_INTERVAL (%s) is shorter than XCHAT_RETRY_INITIAL_INTERVAL (%s)",
			c.RetrySteadyInterval, c.RetryInitialInterval)
	}
	if c.RetryInitialAttempts < 0 {
		return fmt.Errorf("XCHAT_RETRY_INITIAL_ATTEMPTS must not be negative, got %d", c.RetryInitialAttempts)
	}
	if c.RetryCooldown < 0 {
		return fmt.Errorf("XCHAT_RETRY_COOLDOWN must not be negative, got %s", c.RetryCooldown)
	}
	if !slices.Contains(LogFormats, c.LogFormat) {
		return fmt.Errorf("unexpected value for XCHAT_LOG_FORMAT: %s", c.LogFormat)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("XCHAT_LOG_LEVEL: %w", err)
	}

	if c.DataDir == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("XCHAT_DATA_DIR unset and no user config directory: %w", err)
		}
		c.DataDir = filepath.Join(configDir, "xchat")
	}
	return nil
}

// WalletDir is where the encrypted key file lives.
func (c *Config) WalletDir() string {
	return filepath.Join(c.DataDir, "wallet")
}

// ConversationsPath is the conversation store database.
func (c *Config) ConversationsPath() string {
	return filepath.Join(c.DataDir, "conversations.db")
}

// KeysPath is the key directory database.
func (c *Config) KeysPath() string {
	return filepath.Join(c.DataDir, "keys.db")
}

// ConfigureLogging applies LogLevel and LogFormat to the standard logrus logger.
func (c *Config) ConfigureLogging() {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	switch c.LogFormat {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
}
