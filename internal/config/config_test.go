package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
server:
  listen_addr: ":2022"
  host_key_path: "/var/lib/sftpcert/host_key"
  root_dir: "/srv/export"
  max_sessions: 16
  idle_timeout: "3m"

client:
  username: "policyholder-importer"
  server_host: "sftp.internal"
  server_port: 2022
  certificate_ttl: "15m"
  renewal_threshold: "5m"
  check_interval: "1m"

ca:
  address: "https://vault.internal:8200"
  token: "s.token"
  role: "directory-service"
  timeout: "10s"

database:
  path: "/var/lib/sftpcert/audit.db"

admin:
  listen_addr: ":8080"
  token: "admin-secret"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if err := cfg.ValidateServer(); err != nil {
		t.Errorf("ValidateServer() error: %v", err)
	}
	if err := cfg.ValidateClient(); err != nil {
		t.Errorf("ValidateClient() error: %v", err)
	}

	if cfg.Server.ListenAddr != ":2022" {
		t.Errorf("listen_addr: got %s", cfg.Server.ListenAddr)
	}
	if cfg.Server.HostKeyType != "ed25519" {
		t.Errorf("host_key_type default: got %s", cfg.Server.HostKeyType)
	}
	if got := cfg.GetCertificateTTL(); got != 15*time.Minute {
		t.Errorf("certificate_ttl: got %s", got)
	}
	if got := cfg.GetIdleTimeout(); got != 3*time.Minute {
		t.Errorf("idle_timeout: got %s", got)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SFTPCERT_CA_TOKEN", "s.from-env")
	t.Setenv("SFTPCERT_SERVER_LISTEN_ADDR", ":2222")

	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.CA.Token != "s.from-env" {
		t.Errorf("ca.token override: got %s", cfg.CA.Token)
	}
	if cfg.Server.ListenAddr != ":2222" {
		t.Errorf("server.listen_addr override: got %s", cfg.Server.ListenAddr)
	}
}

func TestValidateServerRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing listen addr", func(c *Config) { c.Server.ListenAddr = "" }, "server.listen_addr"},
		{"missing host key path", func(c *Config) { c.Server.HostKeyPath = "" }, "server.host_key_path"},
		{"bad key type", func(c *Config) { c.Server.HostKeyType = "dsa" }, "server.host_key_type"},
		{"missing root", func(c *Config) { c.Server.RootDir = "" }, "server.root_dir"},
		{"bad idle timeout", func(c *Config) { c.Server.IdleTimeout = "soon" }, "server.idle_timeout"},
		{"missing ca address", func(c *Config) { c.CA.Address = "" }, "ca.address"},
		{"missing ca token", func(c *Config) { c.CA.Token = "" }, "ca.token"},
		{"missing db path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"admin without token", func(c *Config) { c.Admin.Token = "" }, "admin.token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, validYAML))
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}
			tt.mutate(cfg)
			err = cfg.ValidateServer()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("ValidateServer(): got %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestValidateClientRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing username", func(c *Config) { c.Client.Username = "" }, "client.username"},
		{"missing host", func(c *Config) { c.Client.ServerHost = "" }, "client.server_host"},
		{"bad port", func(c *Config) { c.Client.ServerPort = 70000 }, "client.server_port"},
		{"bad ttl", func(c *Config) { c.Client.CertificateTTL = "fortnight" }, "client.certificate_ttl"},
		{"missing ca role", func(c *Config) { c.CA.Role = "" }, "ca.role"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, validYAML))
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}
			tt.mutate(cfg)
			err = cfg.ValidateClient()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("ValidateClient(): got %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load() accepted a missing file")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "server: [not a map")); err == nil {
		t.Error("Load() accepted malformed YAML")
	}
}
