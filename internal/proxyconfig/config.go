// Package proxyconfig parses and validates the JSON configuration
// schema of spec §6. Parsing itself is an external-collaborator
// concern (spec §1); this package decodes and validates the JSON into
// Config, which cmd/sniproxy then converts into the core's immutable
// types.
package proxyconfig

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Socks5Config is the optional chained-SOCKS5-proxy block.
type Socks5Config struct {
	Addr     string `json:"addr"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// IPTrafficTracking is the optional per-IP accounting block.
type IPTrafficTracking struct {
	Enabled         bool   `json:"enabled"`
	MaxTrackedIPs   int    `json:"max_tracked_ips"`
	OutputFile      string `json:"output_file,omitempty"`
	PersistenceFile string `json:"persistence_file,omitempty"`
}

// Config is the full schema of spec §6.
type Config struct {
	ListenAddr         string             `json:"listen_addr"`
	Whitelist          []string           `json:"whitelist"`
	Socks5Whitelist    []string           `json:"socks5_whitelist,omitempty"`
	IPWhitelist        []string           `json:"ip_whitelist,omitempty"`
	Socks5             *Socks5Config      `json:"socks5,omitempty"`
	IPTrafficTracking  *IPTrafficTracking `json:"ip_traffic_tracking,omitempty"`
	MaxConnections     int                `json:"max_connections,omitempty"`
	TrustProxyProtocol bool               `json:"trust_proxy_protocol,omitempty"`
}

// Load reads and validates a Config from path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("proxyconfig: open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads and validates a Config from r.
func Parse(r io.Reader) (*Config, error) {
	var cfg Config
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("proxyconfig: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the cross-field rules spec §6 states in prose:
// whitelist may be empty only if socks5_whitelist is non-empty; a
// non-empty socks5_whitelist requires a socks5 block.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("proxyconfig: listen_addr is required")
	}
	if len(c.Whitelist) == 0 && len(c.Socks5Whitelist) == 0 {
		return fmt.Errorf("proxyconfig: whitelist may only be empty when socks5_whitelist is non-empty")
	}
	if len(c.Socks5Whitelist) > 0 && c.Socks5 == nil {
		return fmt.Errorf("proxyconfig: socks5_whitelist is set but socks5 is not configured")
	}
	if c.Socks5 != nil && c.Socks5.Addr == "" {
		return fmt.Errorf("proxyconfig: socks5.addr is required when socks5 is configured")
	}
	if c.IPTrafficTracking != nil && c.IPTrafficTracking.Enabled && c.IPTrafficTracking.MaxTrackedIPs <= 0 {
		return fmt.Errorf("proxyconfig: ip_traffic_tracking.max_tracked_ips must be > 0 when enabled")
	}
	return nil
}
