package dialer

import (
	"context"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
)

// PeerQueue buffers and executes dial requests for a single peer. The
// scheduler owns the table of queues and their admission into the global
// dial slots; everything behind this interface (attempt execution, failure
// scoring, backoff) belongs to the queue.
//
// A queue must call the stopped callback it was constructed with exactly
// once each time it transitions from running to idle.
type PeerQueue interface {
	// PeerID returns the peer this queue dials.
	PeerID() peer.ID

	// Enqueue buffers a dial request. It never blocks.
	Enqueue(req *Request)

	// Start begins draining buffered requests. Calling Start on a running
	// queue is a no-op.
	Start()

	// Abort cancels all buffered and in-flight work, resolving every
	// pending request with an aborted classification.
	Abort()

	// DialAllowed reports whether dialing is currently permitted. It is
	// false while the peer is under temporary blacklist backoff or is
	// permanently blacklisted.
	DialAllowed() bool

	// Running reports whether the queue is currently draining.
	Running() bool

	// Len returns the number of buffered, not-yet-attempted requests.
	Len() int

	// Blacklist returns the queue's current blacklist state.
	Blacklist() BlacklistStatus

	// ResetBlacklist clears the failure counter and any permanent
	// blacklist mark.
	ResetBlacklist()
}

// BlacklistStatus describes a peer's failure-tracking state.
type BlacklistStatus struct {
	// Count is the number of consecutive failed dial attempts.
	Count int

	// Permanent marks a peer that will never be dialed again.
	Permanent bool
}

// Temporary reports whether the peer is under finite backoff: it has failed
// at least once but has not crossed the permanent threshold.
func (b BlacklistStatus) Temporary() bool {
	return !b.Permanent && b.Count > 0
}

// QueueFactory constructs the queue for a peer. The stopped callback must be
// invoked by the queue whenever it goes idle; the scheduler uses it to
// reclaim the peer's dial slot.
type QueueFactory func(id peer.ID, stopped func(peer.ID)) PeerQueue

// Registry answers connection-state questions about peers. Lookup failures
// are treated by the scheduler as "not connected".
type Registry interface {
	Lookup(id peer.ID) (PeerInfo, error)
}

// PeerInfo is the registry's view of a single peer.
type PeerInfo interface {
	Connected() bool
}

// Transport establishes a connection to a peer, negotiating proto when one
// is named. An empty protocol means a bare connectivity dial.
type Transport interface {
	Dial(ctx context.Context, id peer.ID, proto protocol.ID) error
}
