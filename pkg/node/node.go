package node

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	noise "github.com/libp2p/go-libp2p/p2p/security/noise"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/peergrid/network/pkg/config"
	"github.com/peergrid/network/pkg/dialer"
	"github.com/peergrid/network/pkg/logging"
)

// Node hosts the libp2p stack and the dial scheduler. It owns the
// configuration the scheduler reads (parallel-dial and cold-call caps) and
// wires the host-backed registry and transport into it.
type Node struct {
	config    *config.Config
	logger    *logging.ColoredLogger
	host      host.Host
	scheduler *dialer.Scheduler

	monitorCancel context.CancelFunc
}

// NewNode creates a new network node
func NewNode(cfg *config.Config) (*Node, error) {
	logger, err := logging.NewLoggerWithConfig(logging.ComponentNode,
		cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return &Node{
		config: cfg,
		logger: logger,
	}, nil
}

// Start starts the network node
func (n *Node) Start(ctx context.Context) error {
	n.logger.ComponentInfo(logging.ComponentNode, "Starting network node",
		zap.String("data_dir", n.config.Node.DataDir))

	// Create data directory
	if err := os.MkdirAll(os.ExpandEnv(n.config.Node.DataDir), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if err := n.startLibP2P(); err != nil {
		return fmt.Errorf("failed to start LibP2P: %w", err)
	}

	n.startDialer()
	n.dialBootstrapPeers()

	monitorCtx, cancel := context.WithCancel(context.Background())
	n.monitorCancel = cancel
	n.startConnectionMonitoring(monitorCtx)

	var listenAddrs []string
	for _, addr := range n.host.Addrs() {
		listenAddrs = append(listenAddrs, addr.String())
	}

	n.logger.ComponentInfo(logging.ComponentNode, "Network node started successfully",
		zap.String("peer_id", n.host.ID().String()),
		zap.Strings("listen_addrs", listenAddrs))

	return nil
}

// Stop stops the dial scheduler and closes the host. Errors from the
// individual subsystems are aggregated.
func (n *Node) Stop() error {
	n.logger.ComponentInfo(logging.ComponentNode, "Stopping network node")

	if n.monitorCancel != nil {
		n.monitorCancel()
	}
	if n.scheduler != nil {
		n.scheduler.Stop()
	}

	var errs error
	if n.host != nil {
		errs = multierr.Append(errs, n.host.Close())
	}
	return errs
}

// Host returns the underlying libp2p host.
func (n *Node) Host() host.Host {
	return n.host
}

// Scheduler returns the node's dial scheduler.
func (n *Node) Scheduler() *dialer.Scheduler {
	return n.scheduler
}

// GetPeerID returns the node's peer id, or "" before Start.
func (n *Node) GetPeerID() string {
	if n.host == nil {
		return ""
	}
	return n.host.ID().String()
}

// startLibP2P initializes the LibP2P host
func (n *Node) startLibP2P() error {
	n.logger.ComponentInfo(logging.ComponentLibP2P, "Starting LibP2P host")

	listenAddrs, err := n.config.ParseMultiaddrs()
	if err != nil {
		return fmt.Errorf("failed to parse listen addresses: %w", err)
	}

	// Load or create persistent identity
	identity, err := n.loadOrCreateIdentity()
	if err != nil {
		return fmt.Errorf("failed to load identity: %w", err)
	}

	h, err := libp2p.New(
		libp2p.Identity(identity),
		libp2p.ListenAddrs(listenAddrs...),
		libp2p.Security(noise.ID, noise.New),
		libp2p.DefaultMuxers,
	)
	if err != nil {
		return err
	}

	n.host = h

	// A fresh inbound connection is independent evidence the peer is
	// reachable again; drop any blacklist state we hold for it.
	n.host.Network().Notify(&network.NotifyBundle{
		ConnectedF: func(_ network.Network, c network.Conn) {
			if n.scheduler == nil {
				return
			}
			if c.Stat().Direction == network.DirInbound {
				n.scheduler.ClearBlacklist(c.RemotePeer())
			}
		},
	})

	n.logger.ComponentInfo(logging.ComponentLibP2P, "LibP2P host started",
		zap.String("peer_id", h.ID().String()))
	return nil
}

// startDialer wires the host-backed registry and transport into the
// scheduler and starts it.
func (n *Node) startDialer() {
	dc := n.config.Dialer

	registry := dialer.NewHostRegistry(n.host)
	transport := dialer.NewHostTransport(n.host)
	factory := dialer.NewQueueFactory(dialer.QueueConfig{
		DialTimeout:      dc.DialTimeout,
		MaxDialAttempts:  dc.MaxDialAttempts,
		BlacklistBackoff: dc.BlacklistBackoff,
	}, transport, n.logger)

	n.scheduler = dialer.NewScheduler(dialer.Config{
		MaxParallelDials: dc.MaxParallelDials,
		MaxColdCalls:     dc.MaxColdCalls,
		CleanupInterval:  dc.CleanupInterval,
	}, registry, factory, n.logger)

	n.scheduler.Start()
}

// dialBootstrapPeers primes the peerstore with the configured bootstrap
// peers and submits a speculative dial for each through the scheduler.
func (n *Node) dialBootstrapPeers() {
	for _, peerAddr := range n.config.Node.BootstrapPeers {
		ma, err := multiaddr.NewMultiaddr(peerAddr)
		if err != nil {
			n.logger.ComponentWarn(logging.ComponentNode, "Skipping invalid bootstrap peer",
				zap.String("addr", peerAddr), zap.Error(err))
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(ma)
		if err != nil {
			n.logger.ComponentWarn(logging.ComponentNode, "Skipping bootstrap peer without /p2p component",
				zap.String("addr", peerAddr), zap.Error(err))
			continue
		}
		if info.ID == n.host.ID() {
			continue
		}

		n.host.Peerstore().AddAddrs(info.ID, info.Addrs, time.Hour*24)

		id := info.ID
		n.scheduler.Add(dialer.NewRequest(id, "", dialer.ModeDefault, func(err error) {
			if err != nil {
				n.logger.ComponentWarn(logging.ComponentNode, "Bootstrap dial failed",
					zap.String("peer", id.String()), zap.Error(err))
				return
			}
			n.logger.ComponentInfo(logging.ComponentNode, "Connected to bootstrap peer",
				zap.String("peer", id.String()))
		}))
	}
}

func (n *Node) loadOrCreateIdentity() (crypto.PrivKey, error) {
	identityFile := filepath.Join(os.ExpandEnv(n.config.Node.DataDir), "identity.key")
	if strings.HasPrefix(identityFile, "~") {
		home, _ := os.UserHomeDir()
		identityFile = filepath.Join(home, identityFile[1:])
	}

	if data, err := os.ReadFile(identityFile); err == nil {
		if priv, err := crypto.UnmarshalPrivateKey(data); err == nil {
			return priv, nil
		}
		n.logger.ComponentWarn(logging.ComponentNode, "Identity file unreadable, generating a new one",
			zap.String("path", identityFile))
	}

	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, err
	}
	data, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(identityFile, data, 0600); err != nil {
		return nil, err
	}
	return priv, nil
}
