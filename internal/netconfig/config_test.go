package netconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RESTBaseURL == "" || cfg.WSURL == "" || cfg.CertPath == "" {
		t.Fatalf("expected defaults to be populated, got %+v", cfg)
	}
	if cfg.RequestTimeout() <= 0 || cfg.SendTimeout() <= 0 || cfg.ShutdownDrain() <= 0 {
		t.Fatalf("expected positive default durations, got %+v", cfg)
	}
}

func TestLoad_PartialOverrideFillsRemainingDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := "rest_base_url: https://example.test/api/v1\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RESTBaseURL != "https://example.test/api/v1" {
		t.Fatalf("expected override to stick, got %q", cfg.RESTBaseURL)
	}
	if cfg.WSURL == "" {
		t.Fatal("expected ws_url to fall back to default")
	}
}

func TestLoad_EmptyFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RESTBaseURL != defaultConfig().RESTBaseURL {
		t.Fatalf("expected default rest base url, got %q", cfg.RESTBaseURL)
	}
}
