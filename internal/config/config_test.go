package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Recognizer.DispatchIntervalMS != 500 {
		t.Fatalf("expected default dispatch interval 500, got %d", cfg.Recognizer.DispatchIntervalMS)
	}
	if cfg.Recognizer.SessionCap != 20 {
		t.Fatalf("expected default session cap 20, got %d", cfg.Recognizer.SessionCap)
	}
	if cfg.Recognizer.Concurrency != "streaming" {
		t.Fatalf("expected default concurrency streaming, got %s", cfg.Recognizer.Concurrency)
	}
	if cfg.Ledger.TTLMS != 3000 {
		t.Fatalf("expected default ledger ttl 3000, got %d", cfg.Ledger.TTLMS)
	}
	if cfg.Classifier.Mode != "mock" {
		t.Fatalf("expected default classifier mode mock, got %s", cfg.Classifier.Mode)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "signcast.yaml")
	body := `
recognizer:
  dispatch_interval_ms: 250
  session_cap: 5
  concurrency: single_flight
classifier:
  mode: http
  endpoint: http://vision:11434
  model: llava:7b
ledger:
  ttl_ms: 1500
speech:
  enabled: true
  mode: mock
  playback: concurrent
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Recognizer.DispatchIntervalMS != 250 {
		t.Fatalf("expected dispatch interval 250, got %d", cfg.Recognizer.DispatchIntervalMS)
	}
	if cfg.Recognizer.Concurrency != "single_flight" {
		t.Fatalf("expected concurrency single_flight, got %s", cfg.Recognizer.Concurrency)
	}
	if cfg.Classifier.Endpoint != "http://vision:11434" {
		t.Fatalf("expected classifier endpoint override, got %s", cfg.Classifier.Endpoint)
	}
	if !cfg.Speech.Enabled || cfg.Speech.Playback != "concurrent" {
		t.Fatalf("expected speech overrides, got %+v", cfg.Speech)
	}
	if cfg.HTTP.Port != 8080 {
		t.Fatalf("expected untouched defaults to survive, got port %d", cfg.HTTP.Port)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SIGNCAST_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("SIGNCAST_BUS_USERNAME", "alice")
	t.Setenv("SIGNCAST_BUS_PASSWORD", "secret")
	t.Setenv("SIGNCAST_BUS_TLS_INSECURE", "true")
	t.Setenv("SIGNCAST_CLASSIFIER_MODE", "http")
	t.Setenv("SIGNCAST_CLASSIFIER_ENDPOINT", "http://vision:11434")
	t.Setenv("SIGNCAST_CLASSIFIER_MAX_RETRIES", "7")
	t.Setenv("SIGNCAST_CLASSIFIER_TEMPERATURE", "0.2")
	t.Setenv("SIGNCAST_RECOGNIZER_DISPATCH_INTERVAL_MS", "100")
	t.Setenv("SIGNCAST_RECOGNIZER_CANCEL_ON_VANISH", "true")
	t.Setenv("SIGNCAST_LEDGER_TTL_MS", "9000")
	t.Setenv("SIGNCAST_EVENT_STORE_RETENTION_MODE", "persistent")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Classifier.Mode != "http" || cfg.Classifier.Endpoint != "http://vision:11434" {
		t.Fatalf("expected classifier overrides, got %+v", cfg.Classifier)
	}
	if cfg.Classifier.MaxRetries != 7 {
		t.Fatalf("expected max retries 7, got %d", cfg.Classifier.MaxRetries)
	}
	if cfg.Classifier.Temp != 0.2 {
		t.Fatalf("expected temperature 0.2, got %f", cfg.Classifier.Temp)
	}
	if cfg.Recognizer.DispatchIntervalMS != 100 {
		t.Fatalf("expected dispatch interval 100, got %d", cfg.Recognizer.DispatchIntervalMS)
	}
	if !cfg.Recognizer.CancelOnVanish {
		t.Fatal("expected cancel on vanish override true")
	}
	if cfg.Ledger.TTLMS != 9000 {
		t.Fatalf("expected ledger ttl 9000, got %d", cfg.Ledger.TTLMS)
	}
	if cfg.EventStore.RetentionMode != "persistent" {
		t.Fatalf("expected retention mode override, got %s", cfg.EventStore.RetentionMode)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero dispatch interval", func(c *Config) { c.Recognizer.DispatchIntervalMS = 0 }},
		{"zero session cap", func(c *Config) { c.Recognizer.SessionCap = 0 }},
		{"bad concurrency", func(c *Config) { c.Recognizer.Concurrency = "parallel" }},
		{"zero ledger ttl", func(c *Config) { c.Ledger.TTLMS = 0 }},
		{"bad detector mode", func(c *Config) { c.Detector.Mode = "gpu" }},
		{"exec detector without command", func(c *Config) { c.Detector.Mode = "exec" }},
		{"bad classifier mode", func(c *Config) { c.Classifier.Mode = "grpc" }},
		{"http classifier without endpoint", func(c *Config) { c.Classifier.Mode = "http"; c.Classifier.Endpoint = "" }},
		{"negative retries", func(c *Config) { c.Classifier.MaxRetries = -1 }},
		{"bad retention mode", func(c *Config) { c.EventStore.RetentionMode = "forever" }},
		{"bad playback mode", func(c *Config) { c.Speech.Enabled = true; c.Speech.Playback = "queued" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
