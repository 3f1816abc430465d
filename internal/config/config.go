// Package config loads and validates the YAML configuration shared by the
// daemon and the client, with environment overrides under the SFTPCERT
// prefix.
package config

import (
	"fmt"
	"time"
)

// Config holds all configuration for both binaries. Each binary validates
// only the sections it uses.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Client   ClientConfig   `yaml:"client"`
	CA       CAConfig       `yaml:"ca"`
	Database DatabaseConfig `yaml:"database"`
	Admin    AdminConfig    `yaml:"admin"`
}

// ServerConfig contains the SFTP daemon configuration
type ServerConfig struct {
	ListenAddr  string `yaml:"listen_addr" envconfig:"SERVER_LISTEN_ADDR"`
	HostKeyPath string `yaml:"host_key_path" envconfig:"SERVER_HOST_KEY_PATH"`
	HostKeyType string `yaml:"host_key_type" envconfig:"SERVER_HOST_KEY_TYPE"`
	RootDir     string `yaml:"root_dir" envconfig:"SERVER_ROOT_DIR"`
	MaxSessions int    `yaml:"max_sessions" envconfig:"SERVER_MAX_SESSIONS"`
	IdleTimeout string `yaml:"idle_timeout" envconfig:"SERVER_IDLE_TIMEOUT"`
}

// ClientConfig contains the fetch client configuration
type ClientConfig struct {
	Username         string `yaml:"username" envconfig:"CLIENT_USERNAME"`
	ServerHost       string `yaml:"server_host" envconfig:"CLIENT_SERVER_HOST"`
	ServerPort       int    `yaml:"server_port" envconfig:"CLIENT_SERVER_PORT"`
	CertificateTTL   string `yaml:"certificate_ttl" envconfig:"CLIENT_CERTIFICATE_TTL"`
	RenewalThreshold string `yaml:"renewal_threshold" envconfig:"CLIENT_RENEWAL_THRESHOLD"`
	CheckInterval    string `yaml:"check_interval" envconfig:"CLIENT_CHECK_INTERVAL"`
	ConnectTimeout   string `yaml:"connect_timeout" envconfig:"CLIENT_CONNECT_TIMEOUT"`
}

// CAConfig contains the certificate authority connection
type CAConfig struct {
	Address    string `yaml:"address" envconfig:"CA_ADDRESS"`
	Token      string `yaml:"token" envconfig:"CA_TOKEN"`
	Role       string `yaml:"role" envconfig:"CA_ROLE"`
	TOTPSecret string `yaml:"totp_secret" envconfig:"CA_TOTP_SECRET"`
	Timeout    string `yaml:"timeout" envconfig:"CA_TIMEOUT"`
}

// DatabaseConfig contains database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" envconfig:"DATABASE_PATH"`
}

// AdminConfig contains the admin HTTP surface configuration
type AdminConfig struct {
	ListenAddr string `yaml:"listen_addr" envconfig:"ADMIN_LISTEN_ADDR"`
	Token      string `yaml:"token" envconfig:"ADMIN_TOKEN"`
	Debug      bool   `yaml:"debug" envconfig:"ADMIN_DEBUG"`
}

// ValidateServer checks the sections the daemon uses
func (c *Config) ValidateServer() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Server.HostKeyPath == "" {
		return fmt.Errorf("server.host_key_path is required")
	}
	if c.Server.HostKeyType == "" {
		c.Server.HostKeyType = "ed25519"
	}
	if c.Server.HostKeyType != "ed25519" && c.Server.HostKeyType != "rsa" {
		return fmt.Errorf("server.host_key_type must be 'ed25519' or 'rsa'")
	}
	if c.Server.RootDir == "" {
		return fmt.Errorf("server.root_dir is required")
	}
	if c.Server.MaxSessions < 0 {
		return fmt.Errorf("server.max_sessions must not be negative")
	}
	if err := validDuration("server.idle_timeout", c.Server.IdleTimeout); err != nil {
		return err
	}

	if err := c.validateCA(); err != nil {
		return err
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Admin.ListenAddr != "" && c.Admin.Token == "" {
		return fmt.Errorf("admin.token is required when admin.listen_addr is set")
	}

	return nil
}

// ValidateClient checks the sections the fetch client uses
func (c *Config) ValidateClient() error {
	if c.Client.Username == "" {
		return fmt.Errorf("client.username is required")
	}
	if c.Client.ServerHost == "" {
		return fmt.Errorf("client.server_host is required")
	}
	if c.Client.ServerPort <= 0 || c.Client.ServerPort > 65535 {
		return fmt.Errorf("client.server_port must be between 1 and 65535")
	}
	for field, value := range map[string]string{
		"client.certificate_ttl":   c.Client.CertificateTTL,
		"client.renewal_threshold": c.Client.RenewalThreshold,
		"client.check_interval":    c.Client.CheckInterval,
		"client.connect_timeout":   c.Client.ConnectTimeout,
	} {
		if err := validDuration(field, value); err != nil {
			return err
		}
	}

	return c.validateCA()
}

func (c *Config) validateCA() error {
	if c.CA.Address == "" {
		return fmt.Errorf("ca.address is required")
	}
	if c.CA.Token == "" {
		return fmt.Errorf("ca.token is required")
	}
	if c.CA.Role == "" {
		return fmt.Errorf("ca.role is required")
	}
	return validDuration("ca.timeout", c.CA.Timeout)
}

func validDuration(field, value string) error {
	if value == "" {
		return nil
	}
	if _, err := time.ParseDuration(value); err != nil {
		return fmt.Errorf("%s is invalid: %w", field, err)
	}
	return nil
}

// GetIdleTimeout returns the server idle timeout, zero when unset
func (c *Config) GetIdleTimeout() time.Duration {
	return duration(c.Server.IdleTimeout)
}

// GetCertificateTTL returns the client certificate lifetime, zero when unset
func (c *Config) GetCertificateTTL() time.Duration {
	return duration(c.Client.CertificateTTL)
}

// GetRenewalThreshold returns the renewal threshold, zero when unset
func (c *Config) GetRenewalThreshold() time.Duration {
	return duration(c.Client.RenewalThreshold)
}

// GetCheckInterval returns the background renewal tick, zero when unset
func (c *Config) GetCheckInterval() time.Duration {
	return duration(c.Client.CheckInterval)
}

// GetConnectTimeout returns the client connect timeout, zero when unset
func (c *Config) GetConnectTimeout() time.Duration {
	return duration(c.Client.ConnectTimeout)
}

// GetCATimeout returns the CA request timeout, zero when unset
func (c *Config) GetCATimeout() time.Duration {
	return duration(c.CA.Timeout)
}

func duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}
