// Package config manages the global dcap configuration stored at
// ~/.config/dcap/config.json, with environment overrides for scripting.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// ServerConfig holds capture-server connection settings.
type ServerConfig struct {
	URL    string `json:"url"`
	APIKey string `json:"api_key,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

// SyncConfig holds sync-engine settings.
type SyncConfig struct {
	Interval string `json:"interval,omitempty"`  // duration string, default "30s"
	RetryCap *int   `json:"retry_cap,omitempty"` // nil = default 3
}

// Config is the global dcap config stored at ~/.config/dcap/config.json.
type Config struct {
	Server   ServerConfig `json:"server"`
	Sync     SyncConfig   `json:"sync"`
	DeviceID string       `json:"device_id,omitempty"`
}

const defaultServerURL = "http://localhost:8080"

// DefaultSyncInterval is used when neither env nor config set an interval.
const DefaultSyncInterval = 30 * time.Second

// Dir returns ~/.config/dcap, creating it if necessary.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".config", "dcap")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// Load reads the global config from ~/.config/dcap/config.json.
func Load() (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the global config to ~/.config/dcap/config.json (0600 perms,
// the file may carry an API key).
func Save(cfg *Config) error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0600)
}

// GetServerURL returns the capture server URL.
// Priority: DCAP_SERVER_URL env > config.json > default.
func GetServerURL() string {
	if v := os.Getenv("DCAP_SERVER_URL"); v != "" {
		return v
	}
	cfg, err := Load()
	if err == nil && cfg.Server.URL != "" {
		return cfg.Server.URL
	}
	return defaultServerURL
}

// GetAPIKey returns the API key.
// Priority: DCAP_API_KEY env > config.json.
func GetAPIKey() string {
	if v := os.Getenv("DCAP_API_KEY"); v != "" {
		return v
	}
	cfg, err := Load()
	if err == nil {
		return cfg.Server.APIKey
	}
	return ""
}

// GetUserID returns the configured user identity, if any.
func GetUserID() string {
	if v := os.Getenv("DCAP_USER_ID"); v != "" {
		return v
	}
	cfg, err := Load()
	if err == nil {
		return cfg.Server.UserID
	}
	return ""
}

// GetSyncInterval returns the recurring sync period.
// Priority: DCAP_SYNC_INTERVAL env > config.json > 30s.
func GetSyncInterval() time.Duration {
	if v := os.Getenv("DCAP_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	cfg, err := Load()
	if err == nil && cfg.Sync.Interval != "" {
		if d, err := time.ParseDuration(cfg.Sync.Interval); err == nil && d > 0 {
			return d
		}
	}
	return DefaultSyncInterval
}

// GetRetryCap returns how many failed sync passes an action survives.
func GetRetryCap() int {
	cfg, err := Load()
	if err == nil && cfg.Sync.RetryCap != nil && *cfg.Sync.RetryCap > 0 {
		return *cfg.Sync.RetryCap
	}
	return 3
}

// GetDeviceID returns this machine's stable device ID, generating and
// persisting one on first use.
func GetDeviceID() (string, error) {
	cfg, err := Load()
	if err != nil {
		return "", err
	}
	if cfg.DeviceID != "" {
		return cfg.DeviceID, nil
	}
	id, err := GenerateDeviceID()
	if err != nil {
		return "", err
	}
	cfg.DeviceID = id
	if err := Save(cfg); err != nil {
		return "", err
	}
	return id, nil
}

// GenerateDeviceID creates a new random device ID (16 bytes hex).
func GenerateDeviceID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// NewSessionID returns a fresh session identifier. One session exists per
// process run; it is the identity the lock protocol keys holders by.
func NewSessionID() string {
	return uuid.NewString()
}

// Get reads one dotted config key for `dcap config get`.
func Get(cfg *Config, key string) (string, error) {
	switch key {
	case "server.url":
		return cfg.Server.URL, nil
	case "server.api_key":
		return cfg.Server.APIKey, nil
	case "server.user_id":
		return cfg.Server.UserID, nil
	case "sync.interval":
		return cfg.Sync.Interval, nil
	case "sync.retry_cap":
		if cfg.Sync.RetryCap == nil {
			return "", nil
		}
		return fmt.Sprintf("%d", *cfg.Sync.RetryCap), nil
	case "device_id":
		return cfg.DeviceID, nil
	}
	return "", fmt.Errorf("unknown config key %q", key)
}

// Set writes one dotted config key for `dcap config set`.
func Set(cfg *Config, key, value string) error {
	switch key {
	case "server.url":
		cfg.Server.URL = value
	case "server.api_key":
		cfg.Server.APIKey = value
	case "server.user_id":
		cfg.Server.UserID = value
	case "sync.interval":
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		cfg.Sync.Interval = value
	case "sync.retry_cap":
		var n int
		if _, err := fmt.Sscanf(value, "%d", &n); err != nil || n <= 0 {
			return fmt.Errorf("retry cap must be a positive integer, got %q", value)
		}
		cfg.Sync.RetryCap = &n
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return nil
}
