// Package dialer is the admission-control layer for outbound peer dials.
// All dial requests are funneled through per-peer queues; the Scheduler
// decides which queues may dial now, prefers protocol-bearing requests over
// speculative cold calls, caps global dial concurrency, and periodically
// evicts per-peer state that is no longer worth tracking.
package dialer

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"

	"github.com/peergrid/network/pkg/errors"
	"github.com/peergrid/network/pkg/logging"
)

// Config contains the scheduling knobs. They are owned by the hosting node
// and read-only here.
type Config struct {
	// MaxParallelDials caps the number of peer queues dialing at once.
	MaxParallelDials int

	// MaxColdCalls caps the number of peers pending a speculative dial.
	// Zero disables cold calls entirely; negative selects the default.
	MaxColdCalls int

	// CleanupInterval is the period of the queue eviction sweep.
	CleanupInterval time.Duration
}

const (
	defaultMaxParallelDials = 16
	defaultMaxColdCalls     = 25
	defaultCleanupInterval  = 15 * time.Minute
)

func (c Config) withDefaults() Config {
	if c.MaxParallelDials <= 0 {
		c.MaxParallelDials = defaultMaxParallelDials
	}
	if c.MaxColdCalls < 0 {
		c.MaxColdCalls = defaultMaxColdCalls
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = defaultCleanupInterval
	}
	return c
}

// Scheduler multiplexes dial requests over per-peer queues. It owns all
// cross-peer state: the hot and cold pending sets, the set of peers
// currently occupying a dial slot, the peer-to-queue table and the cleanup
// timer. A single mutex makes every operation atomic with respect to the
// others; queues are started outside the lock because they call back in.
type Scheduler struct {
	cfg      Config
	registry Registry
	factory  QueueFactory
	logger   *logging.ColoredLogger
	clock    clock.Clock

	mu      sync.Mutex
	running bool
	queues  map[peer.ID]PeerQueue
	hot     *pendingSet
	cold    *pendingSet
	dialing map[peer.ID]struct{}
	done    chan struct{}

	wg sync.WaitGroup
}

// Stats is a point-in-time snapshot of scheduler state.
type Stats struct {
	ActiveDials   int
	HotPending    int
	ColdPending   int
	TrackedQueues int
}

// NewScheduler creates a dial scheduler. The factory builds the per-peer
// queue the first time a peer is referenced; registry answers whether a
// peer is already connected.
func NewScheduler(cfg Config, registry Registry, factory QueueFactory, logger *logging.ColoredLogger) *Scheduler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Scheduler{
		cfg:      cfg.withDefaults(),
		registry: registry,
		factory:  factory,
		logger:   logger,
		clock:    clock.New(),
		queues:   make(map[peer.ID]PeerQueue),
		hot:      newPendingSet(),
		cold:     newPendingSet(),
		dialing:  make(map[peer.ID]struct{}),
	}
}

// Start flips the scheduler on and arms the cleanup timer. It does not
// prime or flush any queue.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	s.wg.Add(1)
	go s.sweepLoop(done)

	s.logger.ComponentInfo(logging.ComponentDialer, "Dial scheduler started",
		zap.Int("max_parallel_dials", s.cfg.MaxParallelDials),
		zap.Int("max_cold_calls", s.cfg.MaxColdCalls),
		zap.Duration("cleanup_interval", s.cfg.CleanupInterval))
}

// Stop flips the scheduler off, cancels the cleanup timer, clears both
// pending sets and aborts and removes every tracked queue. Requests still
// buffered or in flight resolve with an aborted classification; subsequent
// Add calls fail fast with the stopped error.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	s.hot.Clear()
	s.cold.Clear()
	aborted := make([]PeerQueue, 0, len(s.queues))
	for id, q := range s.queues {
		delete(s.queues, id)
		aborted = append(aborted, q)
	}
	s.dialing = make(map[peer.ID]struct{})
	s.mu.Unlock()

	for _, q := range aborted {
		q.Abort()
	}
	s.wg.Wait()

	s.logger.ComponentInfo(logging.ComponentDialer, "Dial scheduler stopped",
		zap.Int("aborted_queues", len(aborted)))
}

// Add admits a dial request. The request's callback resolves exactly once:
// with nil on a successful dial, or with a terminal classification
// (scheduler stopped, aborted, or the dial error).
func (s *Scheduler) Add(req *Request) {
	if req == nil {
		return
	}

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		// Direct, same-turn resolution: the request was never buffered.
		req.complete(errors.NewSchedulerStoppedError(req.Peer.String()))
		return
	}
	reqID := req.ID()
	q := s.queueLocked(req.Peer)

	// Backpressure on speculative probes, independent of the peer's own
	// queue state.
	if req.ColdCall() && s.cold.Len() >= s.cfg.MaxColdCalls {
		s.mu.Unlock()
		s.logger.ComponentDebug(logging.ComponentDialer, "Cold call rejected, cap reached",
			zap.String("peer", req.Peer.String()),
			zap.String("request", reqID))
		s.resolveLater(req, errors.NewAbortedError(errors.ReasonBackpressure))
		return
	}

	q.Enqueue(req)

	// Dialing an already connected peer is cheap and local; start its
	// queue at once, outside the global cap.
	if s.peerConnected(req.Peer) {
		s.mu.Unlock()
		q.Start()
		return
	}

	if !q.DialAllowed() {
		// The request stays buffered for a future attempt.
		s.mu.Unlock()
		s.logger.ComponentDebug(logging.ComponentDialer, "Dial not allowed, request parked",
			zap.String("peer", req.Peer.String()),
			zap.String("request", reqID))
		return
	}

	var superseded bool
	if !q.Running() {
		if !req.ColdCall() {
			// Promotion to hot removes any stale cold membership.
			s.cold.Remove(req.Peer)
			s.hot.Push(req.Peer)
		} else if s.hot.Contains(req.Peer) {
			// A hot request already guarantees this peer will be dialed.
			superseded = true
		} else {
			s.cold.Push(req.Peer)
		}
	}
	s.mu.Unlock()

	if superseded {
		s.resolveLater(req, errors.NewAbortedError(errors.ReasonSuperseded))
	}
	s.Run()
}

// Run performs one scheduling pass: if a dial slot is free it promotes the
// oldest pending peer, hot set first, into active dialing and starts its
// queue. It admits at most one peer per call and is safe to call at any
// time.
func (s *Scheduler) Run() {
	s.mu.Lock()
	if !s.running || len(s.dialing) >= s.cfg.MaxParallelDials {
		s.mu.Unlock()
		return
	}
	id, ok := s.hot.Pop()
	if !ok {
		id, ok = s.cold.Pop()
	}
	if !ok {
		s.mu.Unlock()
		return
	}
	q := s.queueLocked(id)
	s.dialing[id] = struct{}{}
	active := len(s.dialing)
	s.mu.Unlock()

	s.logger.ComponentDebug(logging.ComponentDialer, "Starting dial queue",
		zap.String("peer", id.String()),
		zap.Int("active_dials", active))
	q.Start()
}

// QueueStopped is called by a queue when it has gone idle. It releases the
// peer's dial slot and immediately runs another scheduling pass; this is
// the only path that returns capacity to the pool.
func (s *Scheduler) QueueStopped(id peer.ID) {
	s.mu.Lock()
	delete(s.dialing, id)
	s.mu.Unlock()

	s.Run()
}

// ClearBlacklist resets the peer's failure counter and blacklist state.
// Callers use it when they have independent evidence the peer is reachable
// again, such as a fresh inbound connection. Ignored while stopped so the
// queue table stays empty.
func (s *Scheduler) ClearBlacklist(id peer.ID) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	q := s.queueLocked(id)
	s.mu.Unlock()

	q.ResetBlacklist()
}

// Clean sweeps the queue table once, evicting queues that are no longer
// worth tracking: permanently blacklisted ones unconditionally, and idle
// ones whose peer is not connected. Temporarily blacklisted queues are kept
// through their backoff, and a queue that is running or holds buffered
// requests is never evicted. Evicted queues are aborted.
func (s *Scheduler) Clean() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	var evicted []PeerQueue
	for id, q := range s.queues {
		bl := q.Blacklist()
		switch {
		case bl.Permanent:
			s.evictLocked(id)
			evicted = append(evicted, q)
		case bl.Temporary():
			// Mid-backoff, still potentially useful.
		case !q.Running() && q.Len() == 0:
			// Lookup failures count as not connected; eviction is the
			// fail-safe default for unknown peers.
			if !s.peerConnected(id) {
				s.evictLocked(id)
				evicted = append(evicted, q)
			}
		}
	}
	tracked := len(s.queues)
	s.mu.Unlock()

	for _, q := range evicted {
		q.Abort()
	}
	if len(evicted) > 0 {
		s.logger.ComponentDebug(logging.ComponentDialer, "Cleanup sweep evicted dial queues",
			zap.Int("evicted", len(evicted)),
			zap.Int("tracked", tracked))
	}
}

// Stats returns a snapshot of the scheduler's cross-peer state.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		ActiveDials:   len(s.dialing),
		HotPending:    s.hot.Len(),
		ColdPending:   s.cold.Len(),
		TrackedQueues: len(s.queues),
	}
}

// sweepLoop owns the self-rescheduling cleanup timer for the scheduler's
// active lifetime. The timer is re-armed after each sweep completes.
func (s *Scheduler) sweepLoop(done chan struct{}) {
	defer s.wg.Done()

	timer := s.clock.Timer(s.cfg.CleanupInterval)
	defer timer.Stop()

	for {
		select {
		case <-done:
			return
		case <-timer.C:
			s.Clean()
			timer.Reset(s.cfg.CleanupInterval)
		}
	}
}

// evictLocked drops every trace of the peer: its queue table entry and any
// pending-set membership. Without the latter, Run could pop the evicted id
// and burn a dial slot on a freshly recreated, empty queue.
func (s *Scheduler) evictLocked(id peer.ID) {
	delete(s.queues, id)
	s.hot.Remove(id)
	s.cold.Remove(id)
}

// queueLocked resolves or lazily creates the peer's queue. The same
// instance is reused for as long as the peer stays in the table.
func (s *Scheduler) queueLocked(id peer.ID) PeerQueue {
	q, ok := s.queues[id]
	if !ok {
		q = s.factory(id, s.QueueStopped)
		s.queues[id] = q
	}
	return q
}

// peerConnected consults the registry; lookup failures are swallowed and
// treated as not connected.
func (s *Scheduler) peerConnected(id peer.ID) bool {
	info, err := s.registry.Lookup(id)
	if err != nil {
		return false
	}
	return info.Connected()
}

// resolveLater resolves a rejected request on the next tick rather than in
// the caller's turn.
func (s *Scheduler) resolveLater(req *Request, err error) {
	go req.complete(err)
}
