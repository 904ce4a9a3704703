// Package config loads VerificaAI configuration from YAML with environment
// overrides. A .env file next to the binary is honored for local runs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all VerificaAI configuration.
type Config struct {
	// HTTP service settings
	Server ServerConfig `yaml:"server"`

	// Gemini backend
	Gemini GeminiConfig `yaml:"gemini"`

	// Instagram Graph API outbound delivery
	Graph GraphConfig `yaml:"graph"`

	// Scraping backend (post resolution by shortcode)
	Scraper ScraperConfig `yaml:"scraper"`

	// Classifier oracle service
	Classifier ClassifierConfig `yaml:"classifier"`

	// Per-sender reference store
	Store StoreConfig `yaml:"store"`

	// Response composition
	Response ResponseConfig `yaml:"response"`

	// Media download
	Media MediaConfig `yaml:"media"`

	Debug bool `yaml:"debug"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`

	// VerifyToken guards the /verify endpoint.
	VerifyToken string `yaml:"verify_token"`

	// BotAccountID is the bot's own sender id; webhook events originating
	// from it are dropped.
	BotAccountID string `yaml:"bot_account_id"`

	// KeepaliveURL, when set and debug is off, is pinged every
	// KeepaliveInterval to keep the hosting dyno awake.
	KeepaliveURL      string `yaml:"keepalive_url"`
	KeepaliveInterval string `yaml:"keepalive_interval"`
}

// GeminiConfig configures the LLM backend.
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`

	// UploadPollInterval is the delay between file-state polls while an
	// uploaded asset is processing.
	UploadPollInterval string `yaml:"upload_poll_interval"`

	// RedirectTimeout bounds each source-URL redirect resolution.
	RedirectTimeout string `yaml:"redirect_timeout"`

	// RedirectParallelism caps concurrent redirect resolutions.
	RedirectParallelism int `yaml:"redirect_parallelism"`
}

// GraphConfig configures outbound message delivery.
type GraphConfig struct {
	BaseURL     string `yaml:"base_url"`
	AccessToken string `yaml:"access_token"`
	Timeout     string `yaml:"timeout"`
}

// ScraperConfig configures the external post resolver.
type ScraperConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Timeout string `yaml:"timeout"`
}

// ClassifierConfig configures the veracity classifier service.
type ClassifierConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

// StoreConfig selects the reference-store backend.
type StoreConfig struct {
	// Backend is "memory" or "redis".
	Backend string `yaml:"backend"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`

	// TTL bounds how long a stored reference stays claimable.
	TTL string `yaml:"ttl"`
}

// ResponseConfig configures response composition.
type ResponseConfig struct {
	// CharBudget is the hard cap on the final reply, sources included.
	CharBudget int `yaml:"char_budget"`
}

// MediaConfig configures media downloads.
type MediaConfig struct {
	// TempDir receives downloaded assets before upload.
	TempDir string `yaml:"temp_dir"`
	Timeout string `yaml:"timeout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":5000",
			KeepaliveInterval: "10s",
		},
		Gemini: GeminiConfig{
			Model:               "gemini-2.5-flash",
			UploadPollInterval:  "500ms",
			RedirectTimeout:     "10s",
			RedirectParallelism: 8,
		},
		Graph: GraphConfig{
			BaseURL: "https://graph.instagram.com/v22.0",
			Timeout: "15s",
		},
		Scraper: ScraperConfig{
			Timeout: "30s",
		},
		Classifier: ClassifierConfig{
			Timeout: "15s",
		},
		Store: StoreConfig{
			Backend: "memory",
			TTL:     "24h",
		},
		Response: ResponseConfig{
			CharBudget: 1000,
		},
		Media: MediaConfig{
			TempDir: "tmp/files",
			Timeout: "60s",
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults when
// the file does not exist, then applies .env and environment overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Gemini.APIKey = key
	}
	if key := os.Getenv("API_KEY_GEMINI"); key != "" {
		// Legacy variable name kept for existing deployments.
		c.Gemini.APIKey = key
	}
	if tok := os.Getenv("PAGE_ACCESS_TOKEN"); tok != "" {
		c.Graph.AccessToken = tok
	}
	if tok := os.Getenv("VERIFY_TOKEN"); tok != "" {
		c.Server.VerifyToken = tok
	}
	if url := os.Getenv("SCRAPER_URL"); url != "" {
		c.Scraper.BaseURL = url
	}
	if key := os.Getenv("SCRAPER_API_KEY"); key != "" {
		c.Scraper.APIKey = key
	}
	if url := os.Getenv("CLASSIFIER_URL"); url != "" {
		c.Classifier.BaseURL = url
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Store.Backend = "redis"
		c.Store.RedisAddr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		c.Store.RedisPassword = pw
	}
	if url := os.Getenv("KEEPALIVE_URL"); url != "" {
		c.Server.KeepaliveURL = url
	}
	if os.Getenv("DEBUG") == "true" {
		c.Debug = true
	}
}

// Validate checks that required settings are present.
func (c *Config) Validate() error {
	if c.Gemini.APIKey == "" {
		return fmt.Errorf("gemini api key is required (set GEMINI_API_KEY)")
	}
	if c.Server.VerifyToken == "" {
		return fmt.Errorf("verify token is required (set VERIFY_TOKEN)")
	}
	if c.Response.CharBudget <= 0 {
		return fmt.Errorf("response char_budget must be positive")
	}
	switch c.Store.Backend {
	case "memory":
	case "redis":
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("redis backend selected but redis_addr is empty")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	return nil
}

// GetUploadPollInterval returns the upload poll interval as a duration.
func (c *Config) GetUploadPollInterval() time.Duration {
	return parseDuration(c.Gemini.UploadPollInterval, 500*time.Millisecond)
}

// GetRedirectTimeout returns the per-source redirect timeout as a duration.
func (c *Config) GetRedirectTimeout() time.Duration {
	return parseDuration(c.Gemini.RedirectTimeout, 10*time.Second)
}

// GetGraphTimeout returns the outbound delivery timeout as a duration.
func (c *Config) GetGraphTimeout() time.Duration {
	return parseDuration(c.Graph.Timeout, 15*time.Second)
}

// GetScraperTimeout returns the post-resolution timeout as a duration.
func (c *Config) GetScraperTimeout() time.Duration {
	return parseDuration(c.Scraper.Timeout, 30*time.Second)
}

// GetClassifierTimeout returns the classifier call timeout as a duration.
func (c *Config) GetClassifierTimeout() time.Duration {
	return parseDuration(c.Classifier.Timeout, 15*time.Second)
}

// GetMediaTimeout returns the media download timeout as a duration.
func (c *Config) GetMediaTimeout() time.Duration {
	return parseDuration(c.Media.Timeout, 60*time.Second)
}

// GetStoreTTL returns the reference-store TTL as a duration.
func (c *Config) GetStoreTTL() time.Duration {
	return parseDuration(c.Store.TTL, 24*time.Hour)
}

// GetKeepaliveInterval returns the keepalive ping interval as a duration.
func (c *Config) GetKeepaliveInterval() time.Duration {
	return parseDuration(c.Server.KeepaliveInterval, 10*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
