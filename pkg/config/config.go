package config

import (
	"time"

	"github.com/multiformats/go-multiaddr"
)

// Config represents the main configuration for a network node
type Config struct {
	Node    NodeConfig    `yaml:"node"`
	Dialer  DialerConfig  `yaml:"dialer"`
	Logging LoggingConfig `yaml:"logging"`
}

// NodeConfig contains node-specific configuration
type NodeConfig struct {
	ID              string   `yaml:"id"`               // Auto-generated if empty
	ListenAddresses []string `yaml:"listen_addresses"` // LibP2P listen addresses
	DataDir         string   `yaml:"data_dir"`         // Data directory (identity key lives here)
	BootstrapPeers  []string `yaml:"bootstrap_peers"`  // Peer multiaddrs dialed at startup
}

// DialerConfig contains dial admission and scheduling configuration.
// These values are owned by the node and read-only for the scheduler.
type DialerConfig struct {
	MaxParallelDials int           `yaml:"max_parallel_dials"` // Global cap on simultaneously active dials
	MaxColdCalls     int           `yaml:"max_cold_calls"`     // Cap on pending speculative (protocol-less) dials
	CleanupInterval  time.Duration `yaml:"cleanup_interval"`   // Period of the queue eviction sweep
	DialTimeout      time.Duration `yaml:"dial_timeout"`       // Per-attempt dial timeout
	MaxDialAttempts  int           `yaml:"max_dial_attempts"`  // Consecutive failures before a peer is permanently blacklisted
	BlacklistBackoff time.Duration `yaml:"blacklist_backoff"`  // Base backoff unit between failed attempts
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	Format     string `yaml:"format"`      // json, console
	OutputFile string `yaml:"output_file"` // Empty for stdout
}

// ParseMultiaddrs converts the configured listen addresses to multiaddr objects
func (c *Config) ParseMultiaddrs() ([]multiaddr.Multiaddr, error) {
	var addrs []multiaddr.Multiaddr
	for _, addr := range c.Node.ListenAddresses {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, ma)
	}
	return addrs, nil
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			ListenAddresses: []string{
				"/ip4/0.0.0.0/tcp/4001",
			},
			DataDir:        "./data",
			BootstrapPeers: []string{},
		},
		Dialer: DialerConfig{
			MaxParallelDials: 16,
			MaxColdCalls:     25,
			CleanupInterval:  15 * time.Minute,
			DialTimeout:      10 * time.Second,
			MaxDialAttempts:  5,
			BlacklistBackoff: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
