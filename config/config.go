package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// DefaultPath is used when BOOKEMPIRE_CONFIG is not set.
const DefaultPath = "config/config.yaml"

type Config struct {
	Server struct {
		Port            string        `yaml:"port"`
		PublicURL       string        `yaml:"public_url"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	MySQL struct {
		DSN          string `yaml:"dsn"`
		MaxOpenConns int    `yaml:"max_open_conns"`
		MaxIdleConns int    `yaml:"max_idle_conns"`
	} `yaml:"mysql"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	MinIO struct {
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		Bucket    string `yaml:"bucket"`
		Region    string `yaml:"region"`
		UseSSL    bool   `yaml:"use_ssl"`
		// PublicURL is the CDN/bucket domain objects are served from. When empty a
		// presigned URL is returned instead.
		PublicURL string `yaml:"public_url"`
	} `yaml:"minio"`
	OpenAI struct {
		APIKey  string `yaml:"api_key"`
		BaseURL string `yaml:"base_url"`
		Model   string `yaml:"model"`
	} `yaml:"openai"`
	Replicate struct {
		APIToken     string        `yaml:"api_token"`
		BaseURL      string        `yaml:"base_url"`
		Version      string        `yaml:"version"`
		PollInterval time.Duration `yaml:"poll_interval"`
		Timeout      time.Duration `yaml:"timeout"`
	} `yaml:"replicate"`
	Stripe struct {
		SecretKey     string `yaml:"secret_key"`
		WebhookSecret string `yaml:"webhook_secret"`
		SuccessURL    string `yaml:"success_url"`
		CancelURL     string `yaml:"cancel_url"`
	} `yaml:"stripe"`
	Auth struct {
		JWTSecret  string `yaml:"jwt_secret"`
		CookieName string `yaml:"cookie_name"`
		// GenerateRPS bounds how often one user may hit the generate endpoint.
		GenerateRPS   float64 `yaml:"generate_rps"`
		GenerateBurst int     `yaml:"generate_burst"`
	} `yaml:"auth"`
	Worker struct {
		Enabled        bool          `yaml:"enabled"`
		Concurrency    int           `yaml:"concurrency"`
		RateLimit      int           `yaml:"rate_limit"`
		RateWindow     time.Duration `yaml:"rate_window"`
		MaxRetry       int           `yaml:"max_retry"`
		RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
		Timeout        time.Duration `yaml:"timeout"`
	} `yaml:"worker"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Path returns the config file location, honouring BOOKEMPIRE_CONFIG.
func Path() string {
	if p := os.Getenv("BOOKEMPIRE_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads the YAML file at path. ${VAR} references are expanded from the
// environment before decoding so secrets can stay out of the file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(b)
}

// Parse decodes raw YAML, applies defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(b))), cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.MySQL.MaxOpenConns <= 0 {
		c.MySQL.MaxOpenConns = 25
	}
	if c.MySQL.MaxIdleConns <= 0 {
		c.MySQL.MaxIdleConns = 5
	}
	if c.MinIO.Bucket == "" {
		c.MinIO.Bucket = "bookempire-files"
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-4-turbo-preview"
	}
	if c.Replicate.BaseURL == "" {
		c.Replicate.BaseURL = "https://api.replicate.com/v1"
	}
	if c.Replicate.Version == "" {
		c.Replicate.Version = "39ed52f2a78e934b3ba6e2a89f5b1c712de7dfea535525255b1aa35c5565e08b"
	}
	if c.Replicate.PollInterval <= 0 {
		c.Replicate.PollInterval = 2 * time.Second
	}
	if c.Replicate.Timeout <= 0 {
		c.Replicate.Timeout = 5 * time.Minute
	}
	if c.Auth.CookieName == "" {
		c.Auth.CookieName = "__session"
	}
	if c.Auth.GenerateRPS <= 0 {
		c.Auth.GenerateRPS = 0.2
	}
	if c.Auth.GenerateBurst <= 0 {
		c.Auth.GenerateBurst = 3
	}
	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = 2
	}
	if c.Worker.RateLimit <= 0 {
		c.Worker.RateLimit = 5
	}
	if c.Worker.RateWindow <= 0 {
		c.Worker.RateWindow = time.Minute
	}
	if c.Worker.MaxRetry <= 0 {
		c.Worker.MaxRetry = 2
	}
	if c.Worker.RetryBaseDelay <= 0 {
		c.Worker.RetryBaseDelay = 5 * time.Second
	}
	if c.Worker.Timeout <= 0 {
		c.Worker.Timeout = time.Hour
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// Validate reports the first missing mandatory setting.
func (c *Config) Validate() error {
	switch {
	case c.MySQL.DSN == "":
		return errors.New("config: mysql.dsn is required")
	case c.Redis.Addr == "":
		return errors.New("config: redis.addr is required")
	case c.Auth.JWTSecret == "":
		return errors.New("config: auth.jwt_secret is required")
	}
	return nil
}
