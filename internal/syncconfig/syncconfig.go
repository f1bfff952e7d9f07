// Package syncconfig holds the reception device's settings: which server and
// business it syncs with, how it schedules sync, and its stored API key.
package syncconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/salonsync/salonsync/internal/models"
)

// AutoSyncConfig holds auto-sync settings.
type AutoSyncConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"`  // nil = default true
	Interval string `json:"interval,omitempty"` // duration string, default "60s"
	Probe    string `json:"probe,omitempty"`    // connectivity probe period, default "15s"
}

// SyncConfig holds sync-related settings.
type SyncConfig struct {
	URL        string         `json:"url"`
	BusinessID string         `json:"business_id,omitempty"`
	WindowDays *int           `json:"window_days,omitempty"`
	BatchSize  *int           `json:"batch_size,omitempty"`
	Auto       AutoSyncConfig `json:"auto"`
}

// Config is the device config stored at ~/.config/salonsync/config.json.
type Config struct {
	Sync    SyncConfig `json:"sync"`
	DataDir string     `json:"data_dir,omitempty"`
}

// AuthCredentials stores authentication state at ~/.config/salonsync/auth.json.
type AuthCredentials struct {
	APIKey    string `json:"api_key"`
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	ServerURL string `json:"server_url"`
	DeviceID  string `json:"device_id"`
}

const (
	defaultServerURL  = "http://localhost:8080"
	defaultWindowDays = 2
	defaultBatchSize  = 100
)

// Upper bounds for the integer settings. A push carries at most
// MaxBatchSize actions; the server rejects larger requests.
const (
	MaxWindowDays = 30
	MaxBatchSize  = models.MaxPushActions
)

// ConfigDir returns ~/.config/salonsync, creating it if necessary.
// SALONSYNC_CONFIG_DIR overrides the location.
func ConfigDir() (string, error) {
	dir := os.Getenv("SALONSYNC_CONFIG_DIR")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home dir: %w", err)
		}
		dir = filepath.Join(home, ".config", "salonsync")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// LoadConfig reads the device config. A missing file is an empty config.
func LoadConfig() (*Config, error) {
	dir, err := ConfigDir()
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
		return nil, fmt.Errorf("parse config.json: %w", err)
	}
	return &cfg, nil
}

// SaveConfig writes the device config.
func SaveConfig(cfg *Config) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// LoadAuth reads auth credentials. Returns nil, nil when not logged in.
func LoadAuth() (*AuthCredentials, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "auth.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var creds AuthCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse auth.json: %w", err)
	}
	return &creds, nil
}

// SaveAuth writes auth credentials (0600 perms).
func SaveAuth(creds *AuthCredentials) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "auth.json"), data, 0600)
}

// ClearAuth removes the auth.json file.
func ClearAuth() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(dir, "auth.json"))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// GetServerURL returns the sync server URL.
// Priority: SALONSYNC_SERVER_URL env > config.json > auth.json > default.
func GetServerURL() string {
	if v := os.Getenv("SALONSYNC_SERVER_URL"); v != "" {
		return strings.TrimRight(v, "/")
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.URL != "" {
		return strings.TrimRight(cfg.Sync.URL, "/")
	}
	creds, err := LoadAuth()
	if err == nil && creds != nil && creds.ServerURL != "" {
		return strings.TrimRight(creds.ServerURL, "/")
	}
	return defaultServerURL
}

// GetBusinessID returns the business this device syncs.
// Priority: SALONSYNC_BUSINESS_ID env > config.json.
func GetBusinessID() string {
	if v := os.Getenv("SALONSYNC_BUSINESS_ID"); v != "" {
		return v
	}
	cfg, err := LoadConfig()
	if err == nil {
		return cfg.Sync.BusinessID
	}
	return ""
}

// GetWindowDays returns how many days of agenda to pull.
// Priority: SALONSYNC_WINDOW_DAYS env > config.json > 2. Non-positive values
// are ignored and larger ones capped at MaxWindowDays.
func GetWindowDays() int {
	return min(positiveInt("SALONSYNC_WINDOW_DAYS", func(c *Config) *int { return c.Sync.WindowDays }, defaultWindowDays), MaxWindowDays)
}

// GetBatchSize returns the maximum number of actions per push.
// Priority: SALONSYNC_BATCH_SIZE env > config.json > 100, capped at MaxBatchSize.
func GetBatchSize() int {
	return min(positiveInt("SALONSYNC_BATCH_SIZE", func(c *Config) *int { return c.Sync.BatchSize }, defaultBatchSize), MaxBatchSize)
}

func positiveInt(envKey string, field func(*Config) *int, def int) int {
	if v := os.Getenv(envKey); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	cfg, err := LoadConfig()
	if err == nil {
		if p := field(cfg); p != nil && *p > 0 {
			return *p
		}
	}
	return def
}

// GetDataDir returns the directory holding the local queue database.
// Priority: SALONSYNC_DATA_DIR env > config.json > ~/.local/share/salonsync.
func GetDataDir() (string, error) {
	if v := os.Getenv("SALONSYNC_DATA_DIR"); v != "" {
		return v, nil
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.DataDir != "" {
		return cfg.DataDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".local", "share", "salonsync"), nil
}

// GetAPIKey returns the API key.
// Priority: SALONSYNC_API_KEY env > auth.json.
func GetAPIKey() string {
	if v := os.Getenv("SALONSYNC_API_KEY"); v != "" {
		return v
	}
	creds, err := LoadAuth()
	if err == nil && creds != nil {
		return creds.APIKey
	}
	return ""
}

// IsAuthenticated returns true if an API key is available.
func IsAuthenticated() bool {
	return GetAPIKey() != ""
}

// GetDeviceID returns the stored device id, generating and persisting one
// if needed. SALONSYNC_DEVICE_ID overrides it.
func GetDeviceID() (string, error) {
	if v := os.Getenv("SALONSYNC_DEVICE_ID"); v != "" {
		return v, nil
	}
	creds, err := LoadAuth()
	if err != nil {
		return "", err
	}
	if creds != nil && creds.DeviceID != "" {
		return creds.DeviceID, nil
	}
	id := GenerateDeviceID()
	if creds != nil {
		creds.DeviceID = id
		if err := SaveAuth(creds); err != nil {
			return "", err
		}
	}
	return id, nil
}

// GenerateDeviceID creates a new short random device id.
func GenerateDeviceID() string {
	return "d" + strings.ReplaceAll(uuid.NewString(), "-", "")[:11]
}

// parseBoolEnv returns nil if env not set, pointer to bool if set.
func parseBoolEnv(envKey string) *bool {
	v := os.Getenv(envKey)
	if v == "" {
		return nil
	}
	v = strings.ToLower(v)
	if v == "1" || v == "true" {
		b := true
		return &b
	}
	if v == "0" || v == "false" {
		b := false
		return &b
	}
	return nil
}

// GetAutoSyncEnabled returns whether background sync is enabled.
// Priority: SALONSYNC_AUTO env > config.json sync.auto.enabled > true
func GetAutoSyncEnabled() bool {
	if v := parseBoolEnv("SALONSYNC_AUTO"); v != nil {
		return *v
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.Auto.Enabled != nil {
		return *cfg.Sync.Auto.Enabled
	}
	return true
}

// GetAutoSyncInterval returns the periodic sync interval.
// Priority: SALONSYNC_AUTO_INTERVAL env > config.json sync.auto.interval > 60s
func GetAutoSyncInterval() time.Duration {
	return duration("SALONSYNC_AUTO_INTERVAL", func(c *Config) string { return c.Sync.Auto.Interval }, 60*time.Second)
}

// GetProbeInterval returns how often connectivity is probed.
// Priority: SALONSYNC_PROBE_INTERVAL env > config.json sync.auto.probe > 15s
func GetProbeInterval() time.Duration {
	return duration("SALONSYNC_PROBE_INTERVAL", func(c *Config) string { return c.Sync.Auto.Probe }, 15*time.Second)
}

func duration(envKey string, field func(*Config) string, def time.Duration) time.Duration {
	if v := os.Getenv(envKey); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	cfg, err := LoadConfig()
	if err == nil && field(cfg) != "" {
		if d, err := time.ParseDuration(field(cfg)); err == nil && d > 0 {
			return d
		}
	}
	return def
}
