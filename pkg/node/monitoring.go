package node

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/peergrid/network/pkg/logging"
)

const monitorInterval = 30 * time.Second

// startConnectionMonitoring periodically logs connectivity and dial
// scheduler status until ctx is cancelled.
func (n *Node) startConnectionMonitoring(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(monitorInterval)
		defer ticker.Stop()

		lastPeerCount := -1
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n.logStatus(&lastPeerCount)
			}
		}
	}()
}

func (n *Node) logStatus(lastPeerCount *int) {
	peers := n.host.Network().Peers()
	count := len(peers)

	// Only log peer count at info level when it changes; the steady state
	// goes to debug.
	if count != *lastPeerCount {
		n.logger.ComponentInfo(logging.ComponentNode, "Peer count changed",
			zap.Int("peers", count),
			zap.Int("previous", *lastPeerCount))
		*lastPeerCount = count
	} else {
		n.logger.ComponentDebug(logging.ComponentNode, "Peer status",
			zap.Int("peers", count))
	}

	if count == 0 {
		n.logger.ComponentWarn(logging.ComponentNode, "No connected peers")
	}

	stats := n.scheduler.Stats()
	n.logger.ComponentDebug(logging.ComponentDialer, "Dial scheduler status",
		zap.Int("active_dials", stats.ActiveDials),
		zap.Int("hot_pending", stats.HotPending),
		zap.Int("cold_pending", stats.ColdPending),
		zap.Int("tracked_queues", stats.TrackedQueues))
}
