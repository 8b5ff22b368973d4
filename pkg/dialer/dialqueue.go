package dialer

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"

	"github.com/peergrid/network/pkg/errors"
	"github.com/peergrid/network/pkg/logging"
)

// QueueConfig contains per-peer queue tuning.
type QueueConfig struct {
	// DialTimeout bounds a single dial attempt.
	DialTimeout time.Duration

	// MaxDialAttempts is the number of consecutive failures after which
	// the peer is permanently blacklisted.
	MaxDialAttempts int

	// BlacklistBackoff is the base backoff unit; the wait grows linearly
	// with the consecutive failure count.
	BlacklistBackoff time.Duration
}

const (
	defaultDialTimeout      = 10 * time.Second
	defaultMaxDialAttempts  = 5
	defaultBlacklistBackoff = 30 * time.Second
)

func (c QueueConfig) withDefaults() QueueConfig {
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.MaxDialAttempts <= 0 {
		c.MaxDialAttempts = defaultMaxDialAttempts
	}
	if c.BlacklistBackoff < 0 {
		c.BlacklistBackoff = defaultBlacklistBackoff
	}
	return c
}

// NewQueueFactory returns the production QueueFactory: queues that drain
// their buffer through the given transport and score consecutive failures
// into temporary backoff and eventually a permanent blacklist.
func NewQueueFactory(cfg QueueConfig, transport Transport, logger *logging.ColoredLogger) QueueFactory {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = logging.Nop()
	}
	return func(id peer.ID, stopped func(peer.ID)) PeerQueue {
		return &dialQueue{
			id:        id,
			cfg:       cfg,
			transport: transport,
			stopped:   stopped,
			logger:    logger,
			clock:     clock.New(),
		}
	}
}

// dialQueue is the production PeerQueue. Requests are buffered under the
// mutex and drained one at a time by a single goroutine; the drain
// goroutine exists only while the queue is running.
type dialQueue struct {
	id        peer.ID
	cfg       QueueConfig
	transport Transport
	stopped   func(peer.ID)
	logger    *logging.ColoredLogger
	clock     clock.Clock

	mu         sync.Mutex
	buf        []*Request
	running    bool
	cancel     context.CancelFunc
	failures   int
	permanent  bool
	allowAfter time.Time
}

func (q *dialQueue) PeerID() peer.ID {
	return q.id
}

func (q *dialQueue) Enqueue(req *Request) {
	q.mu.Lock()
	q.buf = append(q.buf, req)
	length := len(q.buf)
	q.mu.Unlock()

	q.logger.ComponentDebug(logging.ComponentQueue, "Buffered dial request",
		zap.String("peer", q.id.String()),
		zap.String("request", req.ID()),
		zap.Int("buffered", length))
}

func (q *dialQueue) Start() {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.mu.Unlock()

	go q.drain(ctx)
}

func (q *dialQueue) Abort() {
	q.mu.Lock()
	if q.cancel != nil {
		q.cancel()
	}
	buf := q.buf
	q.buf = nil
	q.mu.Unlock()

	for _, req := range buf {
		req.complete(errors.ErrAborted)
	}
}

func (q *dialQueue) DialAllowed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.permanent {
		return false
	}
	return !q.clock.Now().Before(q.allowAfter)
}

func (q *dialQueue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

func (q *dialQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

func (q *dialQueue) Blacklist() BlacklistStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return BlacklistStatus{Count: q.failures, Permanent: q.permanent}
}

func (q *dialQueue) ResetBlacklist() {
	q.mu.Lock()
	q.failures = 0
	q.permanent = false
	q.allowAfter = time.Time{}
	q.mu.Unlock()

	q.logger.ComponentDebug(logging.ComponentQueue, "Blacklist cleared",
		zap.String("peer", q.id.String()))
}

// drain pops and attempts buffered requests until the buffer is empty or
// the queue is aborted, then reports idle exactly once.
func (q *dialQueue) drain(ctx context.Context) {
	for {
		q.mu.Lock()
		if ctx.Err() != nil || len(q.buf) == 0 {
			q.running = false
			q.cancel = nil
			q.mu.Unlock()
			q.stopped(q.id)
			return
		}
		req := q.buf[0]
		q.buf = q.buf[1:]
		permanent := q.permanent
		wait := q.allowAfter.Sub(q.clock.Now())
		q.mu.Unlock()

		if permanent {
			req.complete(errors.ErrBlacklisted)
			continue
		}
		if wait > 0 && req.Mode != ModeForce {
			if !q.sleep(ctx, wait) {
				req.complete(errors.ErrAborted)
				continue
			}
		}
		q.dialOne(ctx, req)
	}
}

func (q *dialQueue) sleep(ctx context.Context, d time.Duration) bool {
	t := q.clock.Timer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (q *dialQueue) dialOne(ctx context.Context, req *Request) {
	dctx, cancel := context.WithTimeout(ctx, q.cfg.DialTimeout)
	err := q.transport.Dial(dctx, q.id, req.Protocol)
	timedOut := dctx.Err() == context.DeadlineExceeded
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			// Aborted mid-attempt.
			req.complete(errors.ErrAborted)
			return
		}

		q.mu.Lock()
		q.failures++
		failures := q.failures
		if q.failures >= q.cfg.MaxDialAttempts {
			q.permanent = true
		} else {
			q.allowAfter = q.clock.Now().Add(time.Duration(failures) * q.cfg.BlacklistBackoff)
		}
		permanent := q.permanent
		q.mu.Unlock()

		q.logger.ComponentDebug(logging.ComponentQueue, "Dial attempt failed",
			zap.String("peer", q.id.String()),
			zap.String("request", req.ID()),
			zap.Int("consecutive_failures", failures),
			zap.Bool("permanently_blacklisted", permanent),
			zap.Error(err))

		if timedOut {
			err = errors.NewTimeoutError(q.id.String(), q.cfg.DialTimeout.String())
		}
		req.complete(err)
		return
	}

	q.mu.Lock()
	q.failures = 0
	q.allowAfter = time.Time{}
	q.mu.Unlock()

	q.logger.ComponentDebug(logging.ComponentQueue, "Dial succeeded",
		zap.String("peer", q.id.String()),
		zap.String("request", req.ID()))
	req.complete(nil)
}
