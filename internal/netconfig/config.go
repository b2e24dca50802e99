// Package netconfig loads the network core's YAML configuration: the REST
// base URL, the WebSocket URL, the root certificate path, and default
// per-call timeouts.
package netconfig

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is loaded once at core construction. There is no hot reload: the
// file is read a single time and the result is handed to the core.
type Config struct {
	RESTBaseURL string `yaml:"rest_base_url"`
	WSURL       string `yaml:"ws_url"`
	CertPath    string `yaml:"cert_path"`

	RequestTimeoutMillis int `yaml:"request_timeout_ms"`
	SendTimeoutMillis    int `yaml:"send_timeout_ms"`

	ShutdownDrainMillis int `yaml:"shutdown_drain_ms"`
}

// RequestTimeout is the configured REST/connect timeout as a time.Duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMillis) * time.Millisecond
}

// SendTimeout is the configured chat-send timeout as a time.Duration.
func (c Config) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutMillis) * time.Millisecond
}

// ShutdownDrain is how long Core.Shutdown waits for in-flight tasks to post
// their own SysCancelled result before force-dropping the rest.
func (c Config) ShutdownDrain() time.Duration {
	return time.Duration(c.ShutdownDrainMillis) * time.Millisecond
}

func defaultConfig() Config {
	return Config{
		RESTBaseURL:          "https://localhost/api/v1",
		WSURL:                "wss://localhost/api/v1/chat",
		CertPath:             "certs/dev_cert.pem",
		RequestTimeoutMillis: 5000,
		SendTimeoutMillis:    3000,
		ShutdownDrainMillis:  2000,
	}
}

// Load reads path, falling back to built-in defaults for any field left
// unset or absent from the file entirely (a missing file is not an error:
// the defaults alone are enough to construct a core against a local
// deployment).
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}

	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	if strings.TrimSpace(cfg.RESTBaseURL) == "" {
		cfg.RESTBaseURL = defaultConfig().RESTBaseURL
	}
	if strings.TrimSpace(cfg.WSURL) == "" {
		cfg.WSURL = defaultConfig().WSURL
	}
	if strings.TrimSpace(cfg.CertPath) == "" {
		cfg.CertPath = defaultConfig().CertPath
	}
	if cfg.RequestTimeoutMillis <= 0 {
		cfg.RequestTimeoutMillis = defaultConfig().RequestTimeoutMillis
	}
	if cfg.SendTimeoutMillis <= 0 {
		cfg.SendTimeoutMillis = defaultConfig().SendTimeoutMillis
	}
	if cfg.ShutdownDrainMillis <= 0 {
		cfg.ShutdownDrainMillis = defaultConfig().ShutdownDrainMillis
	}
}

// LoadRootCAs reads a PEM file and decodes it into an x509.CertPool. TLS
// setup failure here is meant to be fatal to the core at construction.
func LoadRootCAs(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read root certificate %s: %w", path, err)
	}
	return data, nil
}
