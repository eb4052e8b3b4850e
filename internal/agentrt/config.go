// Package agentrt assembles the agent-side process (C10's supervisor plus
// C2's client dial and C5's substream demultiplexer) into one running
// agent, mirroring how internal/relayserver assembles the server side.
package agentrt

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the agent configuration: the relay's public_host, port and
// trust_invalid_server_cert; the agent's agent_id, owner_scope and the API
// key used solely for the out-of-scope registration call; plus the proxy,
// tunnel and log_path settings.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Agent   AgentConfig   `yaml:"agent"`
	Proxy   ProxyConfig   `yaml:"proxy"`
	Tunnel  TunnelConfig  `yaml:"tunnel"`
	LogPath string        `yaml:"log_path"`
}

// ServerConfig addresses the relay's unified TLS port.
type ServerConfig struct {
	// PublicHost is the relay's public hostname; the control channel
	// dials "control.<public_host>:<port>" (spec.md §4.2).
	PublicHost string `yaml:"public_host"`
	Port       int    `yaml:"port"`
	// TrustInvalidServerCert disables TLS verification, for self-signed
	// non-production deployments (spec.md §4.3).
	TrustInvalidServerCert bool `yaml:"trust_invalid_server_cert"`
}

// AgentConfig identifies this agent to the relay.
type AgentConfig struct {
	AgentID    string `yaml:"agent_id"`
	OwnerScope string `yaml:"owner_scope"`
	APIKey     string `yaml:"api_key"`
}

// ProxyConfig optionally routes the control-tunnel dial through a SOCKS5 or
// HTTP CONNECT proxy (internal/proxydial).
type ProxyConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// TunnelConfig controls multiplexer keep-alive behaviour, matching
// internal/relayserver.Config.Tunnel.
type TunnelConfig struct {
	PingInterval time.Duration `yaml:"ping_interval"`
	PingTimeout  time.Duration `yaml:"ping_timeout"`
}

// LoadConfig reads and parses an agent configuration file, seeding defaults
// before unmarshalling, matching the teacher's LoadConfig pattern.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg := &Config{
		Server: ServerConfig{Port: 443},
		Tunnel: TunnelConfig{
			PingInterval: 30 * time.Second,
			PingTimeout:  90 * time.Second,
		},
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Server.PublicHost == "" {
		return nil, fmt.Errorf("server.public_host is required")
	}
	if cfg.Agent.AgentID == "" {
		return nil, fmt.Errorf("agent.agent_id is required")
	}
	return cfg, nil
}
