package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	BackendFirestore = "firestore"
	BackendMemory    = "memory"
)

// Config holds all configuration for the sync server.
type Config struct {
	Port                             string `mapstructure:"PORT"`
	GinMode                          string `mapstructure:"GIN_MODE"`
	LogLevel                         string `mapstructure:"LOG_LEVEL"`
	Backend                          string `mapstructure:"BACKEND"`
	FirebaseProjectID                string `mapstructure:"FIREBASE_PROJECT_ID"`
	FirestoreDatabaseID              string `mapstructure:"FIRESTORE_DATABASE_ID"`
	GoogleApplicationCredentials     string `mapstructure:"GOOGLE_APPLICATION_CREDENTIALS"`
	FirebaseServiceAccountJSONBase64 string `mapstructure:"FIREBASE_SERVICE_ACCOUNT_JSON_BASE64"`
	EncryptionKey                    string `mapstructure:"ENCRYPTION_KEY"` // Base64 encoded, optional
	ClientURL                        string `mapstructure:"CLIENT_URL"`
	AuthDisabled                     bool   `mapstructure:"AUTH_DISABLED"`
	NotesCollection                  string `mapstructure:"NOTES_COLLECTION"`
}

var keys = []string{
	"PORT",
	"GIN_MODE",
	"LOG_LEVEL",
	"BACKEND",
	"FIREBASE_PROJECT_ID",
	"FIRESTORE_DATABASE_ID",
	"GOOGLE_APPLICATION_CREDENTIALS",
	"FIREBASE_SERVICE_ACCOUNT_JSON_BASE64",
	"ENCRYPTION_KEY",
	"CLIENT_URL",
	"AUTH_DISABLED",
	"NOTES_COLLECTION",
}

// LoadConfig loads configuration from environment variables using Viper.
func LoadConfig() (*Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("PORT", "8080")
	v.SetDefault("GIN_MODE", "debug")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("BACKEND", BackendFirestore)
	v.SetDefault("FIRESTORE_DATABASE_ID", "(default)")
	v.SetDefault("AUTH_DISABLED", false)
	v.SetDefault("NOTES_COLLECTION", "notes")

	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", k, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.New("failed to unmarshal config: " + err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields for the selected backend.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendFirestore:
		if c.FirebaseProjectID == "" {
			return errors.New("FIREBASE_PROJECT_ID is required")
		}
	default:
		return fmt.Errorf("BACKEND must be %q or %q, got %q", BackendFirestore, BackendMemory, c.Backend)
	}
	if c.Backend == BackendMemory && !c.AuthDisabled && c.FirebaseProjectID == "" {
		return errors.New("FIREBASE_PROJECT_ID is required unless AUTH_DISABLED is set")
	}
	if c.EncryptionKey != "" {
		if _, err := c.EncryptionKeyBytes(); err != nil {
			return err
		}
	}
	if strings.Contains(c.NotesCollection, "/") {
		return errors.New("NOTES_COLLECTION must be a single collection ID")
	}
	return nil
}

// EncryptionKeyBytes decodes ENCRYPTION_KEY. It returns nil when no key is set.
func (c *Config) EncryptionKeyBytes() ([]byte, error) {
	if c.EncryptionKey == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(c.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("ENCRYPTION_KEY is not valid base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// UsesFirebase reports whether the Firebase Admin SDK has to be initialized.
func (c *Config) UsesFirebase() bool {
	return c.Backend == BackendFirestore || !c.AuthDisabled
}
