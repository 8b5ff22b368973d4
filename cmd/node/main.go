package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/peergrid/network/pkg/config"
	"github.com/peergrid/network/pkg/logging"
	"github.com/peergrid/network/pkg/node"
)

// setup_logger initializes a logger for the given component.
func setup_logger(component logging.Component) (logger *logging.ColoredLogger) {
	var err error

	logger, err = logging.NewColoredLogger(component, true)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	return logger
}

// parse_flags reads the command line and returns the parsed values.
func parse_flags() (configPath, dataDir *string, p2pPort, maxDials, maxCold *int, help *bool) {
	configPath = flag.String("config", "", "Path to config YAML file (overrides defaults)")
	dataDir = flag.String("data", "", "Data directory")
	p2pPort = flag.Int("p2p-port", 4001, "LibP2P listen port")
	maxDials = flag.Int("max-parallel-dials", 0, "Cap on simultaneous outbound dials (0 = config/default)")
	maxCold = flag.Int("max-cold-calls", -1, "Cap on pending speculative dials (-1 = config/default, 0 = disabled)")
	help = flag.Bool("help", false, "Show help")
	flag.Parse()
	return
}

// load_config builds the effective configuration: defaults, then the YAML
// file if one was named, then command line overrides.
func load_config(configPath, dataDir *string, p2pPort, maxDials, maxCold *int) (*config.Config, error) {
	logger := setup_logger(logging.ComponentNode)

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.LoadFromFile(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
		logger.ComponentInfo(logging.ComponentNode, "Configuration loaded from YAML file",
			zap.String("path", *configPath))
	}

	if *p2pPort != 4001 {
		cfg.Node.ListenAddresses = []string{
			fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", *p2pPort),
		}
		logger.ComponentInfo(logging.ComponentNode, "Overriding P2P port", zap.Int("port", *p2pPort))
	}
	if *dataDir != "" {
		cfg.Node.DataDir = *dataDir
	}
	if *maxDials > 0 {
		cfg.Dialer.MaxParallelDials = *maxDials
	}
	if *maxCold >= 0 {
		cfg.Dialer.MaxColdCalls = *maxCold
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			logger.ComponentError(logging.ComponentNode, "Invalid configuration", zap.Error(e))
		}
		return nil, fmt.Errorf("configuration failed validation with %d error(s)", len(errs))
	}

	return cfg, nil
}

// startNode starts the node and blocks until ctx is cancelled.
func startNode(ctx context.Context, cfg *config.Config) error {
	logger := setup_logger(logging.ComponentNode)

	n, err := node.NewNode(cfg)
	if err != nil {
		return err
	}

	if err := n.Start(ctx); err != nil {
		return err
	}

	// Save the peer multiaddr to a file so other nodes can bootstrap from it
	peerInfoFile := filepath.Join(cfg.Node.DataDir, "peer.info")
	var peerMultiaddr string
	if addrs := n.Host().Addrs(); len(addrs) > 0 {
		peerMultiaddr = fmt.Sprintf("%s/p2p/%s", addrs[0], n.GetPeerID())
	}
	if peerMultiaddr != "" {
		if err := os.WriteFile(peerInfoFile, []byte(peerMultiaddr), 0644); err != nil {
			logger.ComponentWarn(logging.ComponentNode, "Failed to save peer info", zap.Error(err))
		} else {
			logger.ComponentInfo(logging.ComponentNode, "Peer info saved",
				zap.String("path", peerInfoFile),
				zap.String("multiaddr", peerMultiaddr))
		}
	}

	<-ctx.Done()

	return n.Stop()
}

func main() {
	logger := setup_logger(logging.ComponentNode)

	configPath, dataDir, p2pPort, maxDials, maxCold, help := parse_flags()
	if *help {
		flag.Usage()
		return
	}

	cfg, err := load_config(configPath, dataDir, p2pPort, maxDials, maxCold)
	if err != nil {
		logger.ComponentError(logging.ComponentNode, "Failed to load configuration", zap.Error(err))
		os.Exit(1)
	}

	// From here on, log the way the config says to.
	logger, err = logging.NewLoggerWithConfig(logging.ComponentNode,
		cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputFile)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	logger.ComponentInfo(logging.ComponentNode, "Node configuration summary",
		zap.Strings("listen_addresses", cfg.Node.ListenAddresses),
		zap.String("data_directory", cfg.Node.DataDir),
		zap.Strings("bootstrap_peers", cfg.Node.BootstrapPeers),
		zap.Int("max_parallel_dials", cfg.Dialer.MaxParallelDials),
		zap.Int("max_cold_calls", cfg.Dialer.MaxColdCalls),
		zap.Duration("cleanup_interval", cfg.Dialer.CleanupInterval))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	doneChan := make(chan struct{})
	go func() {
		if err := startNode(ctx, cfg); err != nil {
			errChan <- err
		}
		close(doneChan)
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		logger.ComponentError(logging.ComponentNode, "Failed to start node", zap.Error(err))
		os.Exit(1)
	case <-c:
		logger.ComponentInfo(logging.ComponentNode, "Shutting down node...")
		cancel()
		<-doneChan
		logger.ComponentInfo(logging.ComponentNode, "Node shutdown complete")
	}
}
