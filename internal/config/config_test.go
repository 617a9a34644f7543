package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Timeouts.Persistence != 5*time.Second {
		t.Fatalf("persistence timeout %v", cfg.Timeouts.Persistence)
	}
	if cfg.Lifecycle.ResponsePolicy != "reject" {
		t.Fatalf("default policy %q", cfg.Lifecycle.ResponsePolicy)
	}
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
lifecycle:
  response_policy: latest_wins
timeouts:
  persistence: 250ms
webhooks:
  - url: https://hooks.example.com/labelflow
    events: [project.claim_labeling]
`))
	if err != nil {
		t.Fatalf("from yaml: %v", err)
	}
	if cfg.Lifecycle.ResponsePolicy != "latest_wins" {
		t.Fatalf("policy %q", cfg.Lifecycle.ResponsePolicy)
	}
	if cfg.Timeouts.Persistence != 250*time.Millisecond || cfg.Timeouts.Storage != 15*time.Second {
		t.Fatalf("timeouts %+v", cfg.Timeouts)
	}
	if cfg.Server.BasePath != "/v0" || len(cfg.Webhooks) != 1 {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"policy":  "lifecycle:\n  response_policy: first_wins\n",
		"driver":  "storage:\n  driver: s3\n",
		"minio":   "storage:\n  driver: minio\n",
		"webhook": "webhooks:\n  - url: ftp://example.com\n",
		"tracing": "tracing:\n  exporter: zipkin\n",
		"base":    "server:\n  base_path: v0\n",
	}
	for name, raw := range cases {
		if _, err := FromYAML([]byte(raw)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil || cfg == nil {
		t.Fatalf("load: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("server:\n  addr: 0.0.0.0:9000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(dir)
	if err != nil {
		t.Fatalf("load file: %v", err)
	}
	if cfg.Server.Addr != "0.0.0.0:9000" {
		t.Fatalf("addr %q", cfg.Server.Addr)
	}
	if !strings.Contains(GenerateDefault(), "response_policy") {
		t.Fatalf("template missing response policy")
	}
}
