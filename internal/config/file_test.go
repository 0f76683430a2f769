package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_defaultsWhenMissing(t *testing.T) {
	t.Setenv("PRINTFLOW_SERVER_PORT", "")
	t.Setenv("SLACK_WEBHOOK_URL", "")
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != DefaultPort || cfg.DB.Driver != "sqlite" || cfg.NATS.Subject != "printflow.tasks" {
		t.Fatalf("defaults: %+v", cfg)
	}
	if cfg.Notify.Parallelism != 8 || !cfg.Otel.Enabled {
		t.Fatalf("defaults: %+v", cfg)
	}
}

func TestLoad_fileAndEnv(t *testing.T) {
	home := t.TempDir()
	body := `server:
  port: 9000
  api_key: secret
db:
  driver: postgres
  url: postgres://localhost/printflow
nats:
  url: nats://127.0.0.1:4222
notify:
  parallelism: 2
`
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PRINTFLOW_SERVER_PORT", "9100")
	cfg, err := Load(home)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Fatalf("env should override file port, got %d", cfg.Server.Port)
	}
	if cfg.Server.APIKey != "secret" || cfg.DB.Driver != "postgres" || cfg.DB.URL != "postgres://localhost/printflow" {
		t.Fatalf("file values: %+v", cfg)
	}
	if cfg.NATS.URL != "nats://127.0.0.1:4222" || cfg.NATS.Subject != "printflow.tasks" || cfg.Notify.Parallelism != 2 {
		t.Fatalf("file values: %+v", cfg)
	}
}

func TestLoad_rejectsUnknownDriver(t *testing.T) {
	home := t.TempDir()
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("db:\n  driver: mongo\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(home); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestSave_roundTrip(t *testing.T) {
	t.Setenv("PRINTFLOW_SERVER_PORT", "")
	home := filepath.Join(t.TempDir(), "nested")
	in := &Config{
		Server:  ServerConfig{Port: 4000, Dev: true},
		DB:      DBConfig{Driver: "sqlite"},
		NATS:    NATSConfig{Subject: "shop"},
		Webhook: WebhookConfig{URL: "http://alerts.local/hook"},
		Notify:  NotifyConfig{Parallelism: 4},
		Otel:    OtelConfig{Enabled: false},
	}
	if err := Save(home, in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	out, err := Load(home)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out.Server.Port != 4000 || !out.Server.Dev || out.NATS.Subject != "shop" || out.Notify.Parallelism != 4 || out.Otel.Enabled {
		t.Fatalf("round trip: %+v", out)
	}
	if out.Webhook.URL != "http://alerts.local/hook" {
		t.Fatalf("webhook url: %q", out.Webhook.URL)
	}
}
