// Package relayserver assembles the server-side components (router,
// control acceptor, forward registry, cert manager, admin API) into the
// running relay process described by spec.md §2's data/control flow.
package relayserver

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the relay server configuration.
type Config struct {
	Listen  ListenConfig `yaml:"listen"`
	Admin   AdminConfig  `yaml:"admin"`
	TLS     TLSConfig    `yaml:"tls"`
	Auth    AuthConfig   `yaml:"auth"`
	Tunnel  TunnelConfig `yaml:"tunnel"`
	CertDir string       `yaml:"cert_dir"`
}

// ListenConfig specifies the public TLS address to bind on.
type ListenConfig struct {
	Addr       string `yaml:"addr"`
	PublicHost string `yaml:"public_host"`
}

// AdminConfig specifies the loopback admin/status listener.
type AdminConfig struct {
	Addr string `yaml:"addr"`
}

// TLSConfig controls certificate issuance.
type TLSConfig struct {
	Production   bool   `yaml:"production"`
	ACMEDirector string `yaml:"acme_directory_url"`
}

// AuthConfig holds the shared secret used to verify tunnel tokens.
type AuthConfig struct {
	SharedSecret string `yaml:"shared_secret"`
}

// TunnelConfig controls multiplexer keep-alive behaviour.
type TunnelConfig struct {
	PingInterval time.Duration `yaml:"ping_interval"`
	PingTimeout  time.Duration `yaml:"ping_timeout"`
}

// LoadConfig reads and parses a relay configuration file, seeding
// defaults before unmarshalling (matching the teacher's LoadConfig
// pattern exactly).
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg := &Config{
		Listen: ListenConfig{Addr: ":443"},
		Admin:  AdminConfig{Addr: "127.0.0.1:8081"},
		TLS: TLSConfig{
			ACMEDirector: "https://acme-v02.api.letsencrypt.org/directory",
		},
		Tunnel: TunnelConfig{
			PingInterval: 30 * time.Second,
			PingTimeout:  90 * time.Second,
		},
		CertDir: "/var/lib/m87-tunnel/certs",
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Listen.PublicHost == "" {
		return nil, fmt.Errorf("listen.public_host is required")
	}
	if cfg.Auth.SharedSecret == "" {
		return nil, fmt.Errorf("auth.shared_secret is required")
	}
	return cfg, nil
}
