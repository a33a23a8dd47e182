// Package config handles service configuration loading and validation.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/thegodfatherofaiautomation/autoecho-app/internal/tier"
)

// Config is the top-level service configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Storage   StorageConfig   `json:"storage"`
	Cache     CacheConfig     `json:"cache,omitempty"`
	Logging   LoggingConfig   `json:"logging"`
	RateLimit RateLimitConfig `json:"rate_limit,omitempty"`
	Upload    UploadConfig    `json:"upload"`
	Probe     ProbeConfig     `json:"probe,omitempty"`
	Engine    EngineConfig    `json:"engine"`
	Artifact  ArtifactConfig  `json:"artifact,omitempty"`
	Tiers     []TierConfig    `json:"tiers,omitempty"` // empty means the built-in table
	Billing   BillingConfig   `json:"billing,omitempty"`
}

// ServerConfig defines the listener settings.
type ServerConfig struct {
	Addr           string   `json:"addr"` // e.g. ":8080"
	TLSCert        string   `json:"tls_cert,omitempty"`
	TLSKey         string   `json:"tls_key,omitempty"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"` // CORS origins; default ["*"]
	MaxBodyBytes   int64    `json:"max_body_bytes,omitempty"`  // non-upload request bodies; default 1MB
}

// StorageConfig defines entitlement database settings.
type StorageConfig struct {
	Driver         string   `json:"driver"` // "sqlite" (default) or "postgres"
	DSN            string   `json:"dsn"`    // e.g. "autoecho.db" or ":memory:"
	AuditRetention Duration `json:"audit_retention,omitempty"`
}

// CacheConfig enables the Redis read-through cache for tier lookups.
type CacheConfig struct {
	RedisAddr     string   `json:"redis_addr,omitempty"` // empty disables the cache
	RedisPassword string   `json:"redis_password,omitempty"`
	RedisDB       int      `json:"redis_db,omitempty"`
	TTL           Duration `json:"ttl,omitempty"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `json:"level,omitempty"`
	Format string `json:"format,omitempty"` // "json" or "text"
}

// RateLimitConfig defines rate limiting settings for the upload endpoint.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second,omitempty"` // default 2
	Burst             int     `json:"burst,omitempty"`               // default 5
}

// UploadConfig bounds what the intake accepts. Size is a platform safety
// bound, independent of the per-tier duration ceilings.
type UploadConfig struct {
	MaxBytes   int64    `json:"max_bytes,omitempty"`  // default 200MB
	Extensions []string `json:"extensions,omitempty"` // default mp3, wav, m4a, flac, ogg
	TempDir    string   `json:"temp_dir,omitempty"`   // default os.TempDir()
}

// ProbeConfig configures duration probing.
type ProbeConfig struct {
	FFprobeBinary string `json:"ffprobe_binary,omitempty"` // default "ffprobe"
}

// EngineConfig selects and sizes the transcription engine.
type EngineConfig struct {
	Backend       string   `json:"backend,omitempty"` // "whisper" (default) or "openai"
	WhisperBinary string   `json:"whisper_binary,omitempty"`
	Model         string   `json:"model,omitempty"` // default "base" for whisper, "whisper-1" for openai
	Language      string   `json:"language,omitempty"`
	OpenAIURL     string   `json:"openai_url,omitempty"`
	OpenAIAPIKey  string   `json:"openai_api_key,omitempty"`
	Workers       int      `json:"workers,omitempty"`     // concurrent engine calls; default 1
	QueueDepth    int      `json:"queue_depth,omitempty"` // waiting jobs before engine_busy; default 8
	JobTimeout    Duration `json:"job_timeout,omitempty"` // whole pipeline; default 10m
}

// ArtifactConfig configures transcript rendering.
type ArtifactConfig struct {
	Format string `json:"format,omitempty"` // "markdown" (default) or "text"
}

// TierConfig is one row of the tier table.
type TierConfig struct {
	Name        string   `json:"name"`
	MaxDuration Duration `json:"max_duration,omitempty"`
	Unlimited   bool     `json:"unlimited,omitempty"`
	Watermark   bool     `json:"watermark,omitempty"`
}

// BillingConfig defines Stripe webhook settings. Disabled by default.
type BillingConfig struct {
	Enabled             bool              `json:"enabled,omitempty"`
	StripeWebhookSecret string            `json:"stripe_webhook_secret,omitempty"`
	Prices              map[string]string `json:"prices,omitempty"` // Stripe price ID -> tier name
	MaxPayloadBytes     int64             `json:"max_payload_bytes,omitempty"`
}

// Duration is a JSON-friendly time.Duration.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		dur, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		d.Duration = dur
	case float64:
		d.Duration = time.Duration(val * float64(time.Second))
	default:
		return fmt.Errorf("invalid duration: %v", v)
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Load reads, validates and defaults a config file. A .env file next to the
// working directory is loaded first so secrets can stay out of the JSON.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a config with every default applied. Used by the offline
// CLI and the init wizard.
func Default() *Config {
	cfg := &Config{Server: ServerConfig{Addr: ":8080"}}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyEnv() {
	if v := os.Getenv("AUTOECHO_STRIPE_WEBHOOK_SECRET"); v != "" {
		c.Billing.StripeWebhookSecret = v
	}
	if v := os.Getenv("AUTOECHO_STORAGE_DSN"); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv("AUTOECHO_REDIS_ADDR"); v != "" {
		c.Cache.RedisAddr = v
	}
	if v := os.Getenv("AUTOECHO_OPENAI_API_KEY"); v != "" {
		c.Engine.OpenAIAPIKey = v
	}
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	switch c.Storage.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("storage.driver must be sqlite or postgres, got %q", c.Storage.Driver)
	}
	switch c.Engine.Backend {
	case "", "whisper":
	case "openai":
		if c.Engine.OpenAIAPIKey == "" {
			return fmt.Errorf("engine.openai_api_key is required when backend is openai")
		}
	default:
		return fmt.Errorf("engine.backend must be whisper or openai, got %q", c.Engine.Backend)
	}
	switch c.Artifact.Format {
	case "", "markdown", "text":
	default:
		return fmt.Errorf("artifact.format must be markdown or text, got %q", c.Artifact.Format)
	}
	if c.Upload.MaxBytes < 0 {
		return fmt.Errorf("upload.max_bytes must not be negative")
	}
	if c.Engine.Workers < 0 || c.Engine.QueueDepth < 0 {
		return fmt.Errorf("engine.workers and engine.queue_depth must not be negative")
	}
	if c.Billing.Enabled && c.Billing.StripeWebhookSecret == "" {
		return fmt.Errorf("billing.stripe_webhook_secret is required when billing is enabled")
	}
	if _, err := c.TierPolicy(); err != nil {
		return fmt.Errorf("tiers: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.DSN == "" {
		c.Storage.DSN = "autoecho.db"
	}
	if c.Storage.AuditRetention.Duration == 0 {
		c.Storage.AuditRetention.Duration = 90 * 24 * time.Hour
	}
	if c.Cache.TTL.Duration == 0 {
		c.Cache.TTL.Duration = 5 * time.Minute
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 2
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 5
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1024 * 1024 // 1MB
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Upload.MaxBytes == 0 {
		c.Upload.MaxBytes = 200 * 1024 * 1024 // 200MB
	}
	if len(c.Upload.Extensions) == 0 {
		c.Upload.Extensions = []string{"mp3", "wav", "m4a", "flac", "ogg"}
	}
	if c.Upload.TempDir == "" {
		c.Upload.TempDir = os.TempDir()
	}
	if c.Probe.FFprobeBinary == "" {
		c.Probe.FFprobeBinary = "ffprobe"
	}
	if c.Engine.Backend == "" {
		c.Engine.Backend = "whisper"
	}
	if c.Engine.WhisperBinary == "" {
		c.Engine.WhisperBinary = "whisper"
	}
	if c.Engine.Model == "" {
		if c.Engine.Backend == "openai" {
			c.Engine.Model = "whisper-1"
		} else {
			c.Engine.Model = "base"
		}
	}
	if c.Engine.OpenAIURL == "" {
		c.Engine.OpenAIURL = "https://api.openai.com/v1/audio/transcriptions"
	}
	if c.Engine.Workers == 0 {
		c.Engine.Workers = 1
	}
	if c.Engine.QueueDepth == 0 {
		c.Engine.QueueDepth = 8
	}
	if c.Engine.JobTimeout.Duration == 0 {
		c.Engine.JobTimeout.Duration = 10 * time.Minute
	}
	if c.Artifact.Format == "" {
		c.Artifact.Format = "markdown"
	}
	if c.Billing.MaxPayloadBytes == 0 {
		c.Billing.MaxPayloadBytes = 64 * 1024 // 64KB
	}
}

// TierPolicy builds the immutable tier policy from the tier table and the
// billing price map.
func (c *Config) TierPolicy() (*tier.Policy, error) {
	entries := tier.DefaultEntries()
	if len(c.Tiers) > 0 {
		entries = make([]tier.Entry, 0, len(c.Tiers))
		for _, t := range c.Tiers {
			entries = append(entries, tier.Entry{
				Name:        t.Name,
				MaxDuration: t.MaxDuration.Duration,
				Unlimited:   t.Unlimited,
				Watermark:   t.Watermark,
			})
		}
	}
	return tier.NewPolicy(entries, c.Billing.Prices)
}

// DefaultTierTable renders the built-in tier table as config rows.
func DefaultTierTable() []TierConfig {
	entries := tier.DefaultEntries()
	out := make([]TierConfig, 0, len(entries))
	for _, e := range entries {
		out = append(out, TierConfig{
			Name:        e.Name,
			MaxDuration: Duration{e.MaxDuration},
			Unlimited:   e.Unlimited,
			Watermark:   e.Watermark,
		})
	}
	return out
}

// NormalizedExtensions returns the accepted extensions lower-cased and
// without leading dots.
func (u UploadConfig) NormalizedExtensions() []string {
	out := make([]string, 0, len(u.Extensions))
	for _, e := range u.Extensions {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e != "" {
			out = append(out, e)
		}
	}
	return out
}
