package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultBaseURL = "http://localhost:8080/api"

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Storage  StorageConfig  `yaml:"storage"`
	Presence PresenceConfig `yaml:"presence"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Name           string   `yaml:"name"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	BaseURL        string   `yaml:"base_url"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	TrustedProxies []string `yaml:"trusted_proxies"`
}

type DatabaseConfig struct {
	Path           string        `yaml:"path"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
}

type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	SessionTTL time.Duration `yaml:"session_ttl"`
	// CookieSecure marks the session cookie Secure. Leave off for plain http on localhost.
	CookieSecure bool `yaml:"cookie_secure"`
}

type StorageConfig struct {
	Dir            string `yaml:"dir"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
	MaxFiles       int    `yaml:"max_files"`
}

type PresenceConfig struct {
	// Window is how long after their last request a user still counts as online.
	Window time.Duration `yaml:"window"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("POLLCHAT_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("POLLCHAT_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("POLLCHAT_STORAGE_DIR"); v != "" {
		c.Storage.Dir = v
	}
}

func (c *Config) validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
	}
	if c.Storage.MaxUploadBytes < 0 {
		return fmt.Errorf("storage.max_upload_bytes must not be negative")
	}
	if c.Storage.MaxFiles < 0 {
		return fmt.Errorf("storage.max_files must not be negative")
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Name == "" {
		c.Server.Name = "pollchat"
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = fmt.Sprintf("http://%s:%d", c.Server.Host, c.Server.Port)
	}
	if c.Database.Path == "" {
		c.Database.Path = "./data/pollchat.db"
	}
	if c.Database.IdempotencyTTL == 0 {
		c.Database.IdempotencyTTL = 24 * time.Hour
	}
	if c.Auth.SessionTTL == 0 {
		c.Auth.SessionTTL = 7 * 24 * time.Hour
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = "./data/uploads"
	}
	if c.Storage.MaxUploadBytes == 0 {
		c.Storage.MaxUploadBytes = 25 << 20
	}
	if c.Storage.MaxFiles == 0 {
		c.Storage.MaxFiles = 10
	}
	if c.Presence.Window == 0 {
		c.Presence.Window = 5 * time.Minute
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Client configures the chat client. Every field has a usable default, so the
// file is optional.
type Client struct {
	BaseURL     string        `yaml:"base_url"`
	Username    string        `yaml:"username"`
	SessionFile string        `yaml:"session_file"`
	Timeout     time.Duration `yaml:"timeout"`
	LogLevel    string        `yaml:"log_level"`
	LogFile     string        `yaml:"log_file"`

	PollInterval       time.Duration `yaml:"poll_interval"`
	ClearCooldown      time.Duration `yaml:"clear_cooldown"`
	RefreshDelay       time.Duration `yaml:"refresh_delay"`
	StartHighWaterMark int64         `yaml:"start_high_water_mark"`
}

// LoadClient reads the client config at path. A missing file is not an error.
func LoadClient(path string) (*Client, error) {
	var cfg Client

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading client config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parsing client config: %w", err)
			}
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating client config: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

func (c *Client) applyEnvOverrides() error {
	if v := os.Getenv("POLLCHAT_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("POLLCHAT_USERNAME"); v != "" {
		c.Username = v
	}
	if v := os.Getenv("POLLCHAT_SESSION_FILE"); v != "" {
		c.SessionFile = v
	}
	if v := os.Getenv("POLLCHAT_HIGH_WATER_MARK"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("POLLCHAT_HIGH_WATER_MARK: %w", err)
		}
		c.StartHighWaterMark = n
	}
	return nil
}

func (c *Client) validate() error {
	if c.StartHighWaterMark < 0 {
		return fmt.Errorf("start_high_water_mark must not be negative")
	}
	if c.PollInterval < 0 || c.ClearCooldown < 0 || c.RefreshDelay < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}

func (c *Client) setDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.SessionFile == "" {
		c.SessionFile = defaultSessionFile()
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.LogLevel == "" {
		c.LogLevel = "warn"
	}
	if c.PollInterval == 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.ClearCooldown == 0 {
		c.ClearCooldown = 10 * time.Second
	}
	if c.RefreshDelay == 0 {
		c.RefreshDelay = 300 * time.Millisecond
	}
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".pollchat-session.yaml"
	}
	return dir + string(os.PathSeparator) + "pollchat" + string(os.PathSeparator) + "session.yaml"
}
