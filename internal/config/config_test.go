package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/thegodfatherofaiautomation/autoecho-app/internal/tier"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	configJSON := `{
		"server": {
			"addr": ":8080",
			"allowed_origins": ["http://localhost:3000"]
		},
		"storage": {
			"driver": "sqlite",
			"dsn": "test.db",
			"audit_retention": "72h"
		},
		"logging": {"level": "debug", "format": "text"},
		"upload": {"max_bytes": 1048576, "extensions": [".MP3", "wav"]},
		"engine": {"backend": "whisper", "model": "small", "workers": 2, "queue_depth": 3, "job_timeout": "90s"},
		"artifact": {"format": "text"},
		"tiers": [
			{"name": "free", "max_duration": "90s", "watermark": true},
			{"name": "basic", "max_duration": 300, "watermark": true},
			{"name": "premium", "unlimited": true}
		],
		"billing": {
			"enabled": true,
			"stripe_webhook_secret": "whsec_test",
			"prices": {"price_basic": "basic", "price_premium": "premium"}
		}
	}`

	path := writeTempConfig(t, configJSON)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr: got %q, want %q", cfg.Server.Addr, ":8080")
	}
	if cfg.Storage.AuditRetention.Duration != 72*time.Hour {
		t.Errorf("Storage.AuditRetention: got %v, want 72h", cfg.Storage.AuditRetention.Duration)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format: got %q, want text", cfg.Logging.Format)
	}
	if cfg.Engine.Workers != 2 || cfg.Engine.QueueDepth != 3 {
		t.Errorf("Engine sizing: got workers=%d queue=%d", cfg.Engine.Workers, cfg.Engine.QueueDepth)
	}
	if cfg.Engine.JobTimeout.Duration != 90*time.Second {
		t.Errorf("Engine.JobTimeout: got %v, want 90s", cfg.Engine.JobTimeout.Duration)
	}
	if got := cfg.Upload.NormalizedExtensions(); strings.Join(got, ",") != "mp3,wav" {
		t.Errorf("NormalizedExtensions: got %v", got)
	}

	policy, err := cfg.TierPolicy()
	if err != nil {
		t.Fatalf("TierPolicy: %v", err)
	}
	if got := policy.LimitFor(tier.Free).MaxDurationSeconds(); got != 90 {
		t.Errorf("free limit: got %v, want 90", got)
	}
	if got := policy.LimitFor(tier.Basic).MaxDurationSeconds(); got != 300 {
		t.Errorf("basic limit: got %v, want 300", got)
	}
	if !policy.LimitFor(tier.Premium).Unlimited {
		t.Error("premium should be unlimited")
	}
	// standard is not in this table, so it falls back to free.
	if got := policy.LimitFor(tier.Standard).Name; got != tier.Free {
		t.Errorf("standard should resolve to free in this table, got %q", got)
	}
	if name, ok := policy.TierForPrice("price_premium"); !ok || name != tier.Premium {
		t.Errorf("TierForPrice(price_premium) = %q, %v", name, ok)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeTempConfig(t, `{"server": {"addr": ":9090"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("Storage.Driver default: got %q", cfg.Storage.Driver)
	}
	if cfg.Storage.DSN != "autoecho.db" {
		t.Errorf("Storage.DSN default: got %q", cfg.Storage.DSN)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging defaults: got %q/%q", cfg.Logging.Level, cfg.Logging.Format)
	}
	if cfg.Upload.MaxBytes != 200*1024*1024 {
		t.Errorf("Upload.MaxBytes default: got %d", cfg.Upload.MaxBytes)
	}
	if strings.Join(cfg.Upload.Extensions, ",") != "mp3,wav,m4a,flac,ogg" {
		t.Errorf("Upload.Extensions default: got %v", cfg.Upload.Extensions)
	}
	if cfg.Engine.Backend != "whisper" || cfg.Engine.Model != "base" {
		t.Errorf("Engine defaults: got %q/%q", cfg.Engine.Backend, cfg.Engine.Model)
	}
	if cfg.Engine.Workers != 1 || cfg.Engine.QueueDepth != 8 {
		t.Errorf("Engine sizing defaults: got %d/%d", cfg.Engine.Workers, cfg.Engine.QueueDepth)
	}
	if cfg.Engine.JobTimeout.Duration != 10*time.Minute {
		t.Errorf("Engine.JobTimeout default: got %v", cfg.Engine.JobTimeout.Duration)
	}
	if cfg.Artifact.Format != "markdown" {
		t.Errorf("Artifact.Format default: got %q", cfg.Artifact.Format)
	}
	if cfg.Cache.TTL.Duration != 5*time.Minute {
		t.Errorf("Cache.TTL default: got %v", cfg.Cache.TTL.Duration)
	}

	policy, err := cfg.TierPolicy()
	if err != nil {
		t.Fatalf("TierPolicy: %v", err)
	}
	if got := policy.LimitFor(tier.Free).MaxDurationSeconds(); got != 30 {
		t.Errorf("default free limit: got %v, want 30", got)
	}
}

func TestLoadConfig_OpenAIModelDefault(t *testing.T) {
	path := writeTempConfig(t, `{"server": {"addr": ":1"}, "engine": {"backend": "openai", "openai_api_key": "sk-test"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.Model != "whisper-1" {
		t.Errorf("Engine.Model: got %q, want whisper-1", cfg.Engine.Model)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("AUTOECHO_STRIPE_WEBHOOK_SECRET", "whsec_from_env")
	t.Setenv("AUTOECHO_STORAGE_DSN", "/var/lib/autoecho/env.db")

	path := writeTempConfig(t, `{"server": {"addr": ":8080"}, "billing": {"enabled": true}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Billing.StripeWebhookSecret != "whsec_from_env" {
		t.Errorf("webhook secret: got %q", cfg.Billing.StripeWebhookSecret)
	}
	if cfg.Storage.DSN != "/var/lib/autoecho/env.db" {
		t.Errorf("storage dsn: got %q", cfg.Storage.DSN)
	}
}

func TestLoadConfig_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		wantErr string
	}{
		{"missing addr", `{}`, "server.addr"},
		{"bad driver", `{"server":{"addr":":1"},"storage":{"driver":"mysql"}}`, "storage.driver"},
		{"bad backend", `{"server":{"addr":":1"},"engine":{"backend":"vosk"}}`, "engine.backend"},
		{"openai without key", `{"server":{"addr":":1"},"engine":{"backend":"openai"}}`, "openai_api_key"},
		{"bad format", `{"server":{"addr":":1"},"artifact":{"format":"docx"}}`, "artifact.format"},
		{"billing without secret", `{"server":{"addr":":1"},"billing":{"enabled":true}}`, "stripe_webhook_secret"},
		{"tiers without free", `{"server":{"addr":":1"},"tiers":[{"name":"basic","max_duration":"1m"}]}`, "tiers"},
		{"price to unknown tier", `{"server":{"addr":":1"},"billing":{"prices":{"p":"gold"}}}`, "tiers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTempConfig(t, tt.json)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfig_InvalidDuration(t *testing.T) {
	path := writeTempConfig(t, `{"server":{"addr":":1"},"engine":{"job_timeout":"soon"}}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error for invalid duration")
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDefaultTierTable(t *testing.T) {
	cfg := Default()
	cfg.Tiers = DefaultTierTable()
	policy, err := cfg.TierPolicy()
	if err != nil {
		t.Fatalf("TierPolicy: %v", err)
	}
	if !policy.LimitFor(tier.Enterprise).Unlimited {
		t.Error("enterprise should be unlimited in the default table")
	}
	if !policy.LimitFor(tier.Basic).Watermark {
		t.Error("basic should carry the watermark in the default table")
	}
}
