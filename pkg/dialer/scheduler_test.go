package dialer

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/stretchr/testify/require"

	"github.com/peergrid/network/pkg/errors"
	"github.com/peergrid/network/pkg/logging"
)

// fakeQueue is a scripted PeerQueue. Tests flip its fields to put the
// scheduler into specific states and call finish to simulate the queue
// going idle.
type fakeQueue struct {
	id      peer.ID
	stopped func(peer.ID)

	mu      sync.Mutex
	buf     []*Request
	running bool
	allowed bool
	bl      BlacklistStatus
	starts  int
	aborts  int
	resets  int
}

func (q *fakeQueue) PeerID() peer.ID { return q.id }

func (q *fakeQueue) Enqueue(req *Request) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.buf = append(q.buf, req)
}

func (q *fakeQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.starts++
	q.running = true
}

func (q *fakeQueue) Abort() {
	q.mu.Lock()
	q.aborts++
	q.running = false
	buf := q.buf
	q.buf = nil
	q.mu.Unlock()

	for _, req := range buf {
		req.complete(errors.ErrAborted)
	}
}

func (q *fakeQueue) DialAllowed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.allowed && !q.bl.Permanent
}

func (q *fakeQueue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

func (q *fakeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

func (q *fakeQueue) Blacklist() BlacklistStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.bl
}

func (q *fakeQueue) ResetBlacklist() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.resets++
	q.bl = BlacklistStatus{}
}

// finish simulates the queue draining its buffer and going idle.
func (q *fakeQueue) finish() {
	q.mu.Lock()
	q.running = false
	q.buf = nil
	q.mu.Unlock()
	q.stopped(q.id)
}

func (q *fakeQueue) startCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.starts
}

func (q *fakeQueue) abortCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.aborts
}

func (q *fakeQueue) resetCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.resets
}

func (q *fakeQueue) setBlacklist(bl BlacklistStatus) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.bl = bl
}

func (q *fakeQueue) setAllowed(allowed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.allowed = allowed
}

type fakeInfo bool

func (i fakeInfo) Connected() bool { return bool(i) }

// fakeRegistry answers Lookup from a map; unknown peers fail the lookup.
type fakeRegistry struct {
	mu        sync.Mutex
	connected map[peer.ID]bool
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{connected: make(map[peer.ID]bool)}
}

func (r *fakeRegistry) Lookup(id peer.ID) (PeerInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.connected[id]
	if !ok {
		return nil, errors.ErrNotFound
	}
	return fakeInfo(c), nil
}

func (r *fakeRegistry) setConnected(id peer.ID, connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected[id] = connected
}

type schedHarness struct {
	t     *testing.T
	sched *Scheduler
	reg   *fakeRegistry
	clk   *clock.Mock

	mu     sync.Mutex
	queues map[peer.ID]*fakeQueue
}

func newSchedHarness(t *testing.T, cfg Config) *schedHarness {
	t.Helper()

	h := &schedHarness{
		t:      t,
		reg:    newFakeRegistry(),
		clk:    clock.NewMock(),
		queues: make(map[peer.ID]*fakeQueue),
	}
	factory := func(id peer.ID, stopped func(peer.ID)) PeerQueue {
		q := &fakeQueue{id: id, stopped: stopped, allowed: true}
		h.mu.Lock()
		h.queues[id] = q
		h.mu.Unlock()
		return q
	}
	h.sched = NewScheduler(cfg, h.reg, factory, logging.Nop())
	h.sched.clock = h.clk
	h.sched.Start()
	t.Cleanup(h.sched.Stop)
	return h
}

func (h *schedHarness) queue(id peer.ID) *fakeQueue {
	h.t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	q, ok := h.queues[id]
	require.True(h.t, ok, "no queue was created for %s", id)
	return q
}

func (h *schedHarness) queueCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queues)
}

func (h *schedHarness) addHot(id peer.ID) {
	h.sched.Add(NewRequest(id, protocol.ID("/test/1.0.0"), ModeDefault, nil))
}

func (h *schedHarness) addCold(id peer.ID, cb func(error)) {
	h.sched.Add(NewRequest(id, "", ModeDefault, cb))
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for request callback")
		return nil
	}
}

func TestAddReusesQueuePerPeer(t *testing.T) {
	h := newSchedHarness(t, Config{MaxParallelDials: 4})
	id := peer.ID("peer-a")

	h.addHot(id)
	h.addHot(id)
	h.addHot(id)

	require.Equal(t, 1, h.queueCount())
	require.Equal(t, 1, h.sched.Stats().TrackedQueues)
}

func TestHotRequestStartsQueue(t *testing.T) {
	h := newSchedHarness(t, Config{MaxParallelDials: 4})
	id := peer.ID("peer-a")

	h.addHot(id)

	q := h.queue(id)
	require.Equal(t, 1, q.startCount())
	require.Equal(t, 1, h.sched.Stats().ActiveDials)
	require.Equal(t, 0, h.sched.Stats().HotPending)
}

func TestParallelDialCap(t *testing.T) {
	h := newSchedHarness(t, Config{MaxParallelDials: 2})
	a, b, c := peer.ID("peer-a"), peer.ID("peer-b"), peer.ID("peer-c")

	h.addHot(a)
	h.addHot(b)
	h.addHot(c)

	require.Equal(t, 1, h.queue(a).startCount())
	require.Equal(t, 1, h.queue(b).startCount())
	require.Equal(t, 0, h.queue(c).startCount())
	require.Equal(t, 2, h.sched.Stats().ActiveDials)
	require.Equal(t, 1, h.sched.Stats().HotPending)

	// Extra scheduling passes at capacity must not admit anyone.
	h.sched.Run()
	h.sched.Run()
	require.Equal(t, 0, h.queue(c).startCount())

	// Releasing a slot promotes the oldest pending peer.
	h.queue(a).finish()
	require.Equal(t, 1, h.queue(c).startCount())
	require.Equal(t, 2, h.sched.Stats().ActiveDials)
	require.Equal(t, 0, h.sched.Stats().HotPending)
}

func TestHotBeatsColdRegardlessOfAge(t *testing.T) {
	h := newSchedHarness(t, Config{MaxParallelDials: 1, MaxColdCalls: 8})
	x, b, c := peer.ID("peer-x"), peer.ID("peer-b"), peer.ID("peer-c")

	h.addHot(x) // occupies the only slot
	h.addCold(b, nil)
	h.addHot(c) // younger than the cold request

	h.queue(x).finish()
	require.Equal(t, 1, h.queue(c).startCount())
	require.Equal(t, 0, h.queue(b).startCount())

	h.queue(c).finish()
	require.Equal(t, 1, h.queue(b).startCount())
}

func TestColdCallCapRejects(t *testing.T) {
	h := newSchedHarness(t, Config{MaxParallelDials: 1, MaxColdCalls: 1})
	x, b, c := peer.ID("peer-x"), peer.ID("peer-b"), peer.ID("peer-c")

	h.addHot(x) // occupy the slot so cold calls stay pending
	h.addCold(b, nil)
	require.Equal(t, 1, h.sched.Stats().ColdPending)

	errc := make(chan error, 1)
	h.addCold(c, func(err error) { errc <- err })

	err := waitErr(t, errc)
	require.True(t, errors.IsAborted(err))
	require.Equal(t, errors.ReasonBackpressure, errors.AbortedReason(err))
	require.Equal(t, 1, h.sched.Stats().ColdPending)
}

func TestColdCallsDisabled(t *testing.T) {
	h := newSchedHarness(t, Config{MaxParallelDials: 4, MaxColdCalls: 0})
	id := peer.ID("peer-a")

	errc := make(chan error, 1)
	h.addCold(id, func(err error) { errc <- err })

	err := waitErr(t, errc)
	require.True(t, errors.IsAborted(err))
	require.Equal(t, 0, h.sched.Stats().ColdPending)
}

func TestColdSupersededByPendingHot(t *testing.T) {
	h := newSchedHarness(t, Config{MaxParallelDials: 1, MaxColdCalls: 8})
	x, a := peer.ID("peer-x"), peer.ID("peer-a")

	h.addHot(x) // occupy the slot
	h.addHot(a) // a is now hot-pending

	errc := make(chan error, 1)
	h.addCold(a, func(err error) { errc <- err })

	err := waitErr(t, errc)
	require.True(t, errors.IsAborted(err))
	require.Equal(t, errors.ReasonSuperseded, errors.AbortedReason(err))

	stats := h.sched.Stats()
	require.Equal(t, 1, stats.HotPending)
	require.Equal(t, 0, stats.ColdPending)
}

func TestHotPromotesPendingCold(t *testing.T) {
	h := newSchedHarness(t, Config{MaxParallelDials: 1, MaxColdCalls: 8})
	x, a := peer.ID("peer-x"), peer.ID("peer-a")

	h.addHot(x) // occupy the slot
	h.addCold(a, nil)
	require.Equal(t, 1, h.sched.Stats().ColdPending)

	h.addHot(a)
	stats := h.sched.Stats()
	require.Equal(t, 1, stats.HotPending)
	require.Equal(t, 0, stats.ColdPending)
}

func TestConnectedPeerBypassesCap(t *testing.T) {
	h := newSchedHarness(t, Config{MaxParallelDials: 1})
	x, b := peer.ID("peer-x"), peer.ID("peer-b")

	h.addHot(x) // occupy the only slot
	require.Equal(t, 1, h.sched.Stats().ActiveDials)

	h.reg.setConnected(b, true)
	h.addHot(b)

	// Started immediately without occupying a dial slot.
	require.Equal(t, 1, h.queue(b).startCount())
	require.Equal(t, 1, h.sched.Stats().ActiveDials)
	require.Equal(t, 0, h.sched.Stats().HotPending)
}

func TestBlacklistedQueueParksRequest(t *testing.T) {
	h := newSchedHarness(t, Config{MaxParallelDials: 4})
	a, b := peer.ID("peer-a"), peer.ID("peer-b")

	// First contact creates the queue; mark it blacklisted before retrying.
	h.addHot(a)
	h.queue(a).finish()
	h.queue(a).setAllowed(false)

	h.addHot(a)
	require.Equal(t, 1, h.queue(a).startCount())
	require.Equal(t, 1, h.queue(a).Len())
	require.Equal(t, 0, h.sched.Stats().HotPending)
	require.Equal(t, 0, h.sched.Stats().ActiveDials)

	// Other peers are unaffected.
	h.addHot(b)
	require.Equal(t, 1, h.queue(b).startCount())
}

func TestAddAfterStopFailsFast(t *testing.T) {
	h := newSchedHarness(t, Config{MaxParallelDials: 4})
	h.sched.Stop()

	var got error
	h.sched.Add(NewRequest(peer.ID("peer-a"), "/test/1.0.0", ModeDefault, func(err error) {
		got = err
	}))

	// Resolved in the caller's turn, never buffered.
	require.Error(t, got)
	require.True(t, errors.IsSchedulerStopped(got))
	require.Equal(t, 0, h.queueCount())
}

func TestStopAbortsAllQueues(t *testing.T) {
	h := newSchedHarness(t, Config{MaxParallelDials: 1, MaxColdCalls: 8})
	a, b, c := peer.ID("peer-a"), peer.ID("peer-b"), peer.ID("peer-c")

	h.addHot(a)
	h.addHot(b)
	h.addCold(c, nil)

	errc := make(chan error, 1)
	h.sched.Add(NewRequest(b, "/test/1.0.0", ModeDefault, func(err error) { errc <- err }))

	h.sched.Stop()

	require.Equal(t, 1, h.queue(a).abortCount())
	require.Equal(t, 1, h.queue(b).abortCount())
	require.Equal(t, 1, h.queue(c).abortCount())

	err := waitErr(t, errc)
	require.True(t, errors.IsAborted(err))

	stats := h.sched.Stats()
	require.Equal(t, Stats{}, stats)
}

func TestStopIsIdempotent(t *testing.T) {
	h := newSchedHarness(t, Config{MaxParallelDials: 4})
	h.sched.Stop()
	h.sched.Stop()
}

func TestClearBlacklistResetsQueue(t *testing.T) {
	h := newSchedHarness(t, Config{MaxParallelDials: 4})
	a := peer.ID("peer-a")

	h.addHot(a)
	h.queue(a).setBlacklist(BlacklistStatus{Count: 3})

	h.sched.ClearBlacklist(a)
	require.Equal(t, 1, h.queue(a).resetCount())
	require.Equal(t, BlacklistStatus{}, h.queue(a).Blacklist())
}

func TestClearBlacklistIgnoredWhileStopped(t *testing.T) {
	h := newSchedHarness(t, Config{MaxParallelDials: 4})
	h.sched.Stop()

	h.sched.ClearBlacklist(peer.ID("peer-a"))
	require.Equal(t, 0, h.queueCount())
}

func TestCleanEvictsPermanentlyBlacklisted(t *testing.T) {
	h := newSchedHarness(t, Config{MaxParallelDials: 4})
	a := peer.ID("peer-a")

	h.addHot(a)
	h.queue(a).finish()
	h.queue(a).setBlacklist(BlacklistStatus{Count: 5, Permanent: true})

	h.sched.Clean()

	require.Equal(t, 1, h.queue(a).abortCount())
	require.Equal(t, 0, h.sched.Stats().TrackedQueues)
}

func TestCleanEvictsIdleDisconnected(t *testing.T) {
	h := newSchedHarness(t, Config{MaxParallelDials: 4})
	idle, connected, busy := peer.ID("peer-idle"), peer.ID("peer-conn"), peer.ID("peer-busy")

	h.addHot(idle)
	h.queue(idle).finish()

	h.addHot(connected)
	h.queue(connected).finish()
	h.reg.setConnected(connected, true)

	h.addHot(busy) // still running

	h.sched.Clean()

	require.Equal(t, 1, h.queue(idle).abortCount())
	require.Equal(t, 0, h.queue(connected).abortCount())
	require.Equal(t, 0, h.queue(busy).abortCount())
	require.Equal(t, 2, h.sched.Stats().TrackedQueues)
}

func TestCleanDropsEvictedFromPendingSets(t *testing.T) {
	h := newSchedHarness(t, Config{MaxParallelDials: 1})
	x, a := peer.ID("peer-x"), peer.ID("peer-a")

	h.addHot(x) // occupies the only slot
	h.addHot(a) // hot-pending behind it
	h.queue(a).setBlacklist(BlacklistStatus{Count: 5, Permanent: true})

	h.sched.Clean()
	require.Equal(t, 1, h.queue(a).abortCount())
	require.Equal(t, 0, h.sched.Stats().HotPending)

	// Releasing the slot must not resurrect the evicted peer: no new queue
	// is created for it and no dial slot is spent on it.
	h.queue(x).finish()
	require.Equal(t, 0, h.queue(a).startCount())
	require.Equal(t, 2, h.queueCount())
	require.Equal(t, 0, h.sched.Stats().ActiveDials)
}

func TestCleanKeepsTemporarilyBlacklisted(t *testing.T) {
	h := newSchedHarness(t, Config{MaxParallelDials: 4})
	a := peer.ID("peer-a")

	h.addHot(a)
	h.queue(a).finish()
	h.queue(a).setBlacklist(BlacklistStatus{Count: 2})

	h.sched.Clean()

	require.Equal(t, 0, h.queue(a).abortCount())
	require.Equal(t, 1, h.sched.Stats().TrackedQueues)
}

func TestSweepTimerTriggersClean(t *testing.T) {
	h := newSchedHarness(t, Config{MaxParallelDials: 4, CleanupInterval: time.Minute})
	a := peer.ID("peer-a")

	h.addHot(a)
	h.queue(a).finish()

	// Let the sweep goroutine arm its timer before advancing the clock.
	time.Sleep(10 * time.Millisecond)
	h.clk.Add(time.Minute)

	require.Eventually(t, func() bool {
		return h.queue(a).abortCount() == 1
	}, time.Second, 10*time.Millisecond)

	// The timer re-arms: a second interval sweeps again.
	b := peer.ID("peer-b")
	h.addHot(b)
	h.queue(b).finish()

	time.Sleep(10 * time.Millisecond)
	h.clk.Add(time.Minute)

	require.Eventually(t, func() bool {
		return h.queue(b).abortCount() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestCallbackResolvesAtMostOnce(t *testing.T) {
	h := newSchedHarness(t, Config{MaxParallelDials: 1, MaxColdCalls: 8})
	x, a := peer.ID("peer-x"), peer.ID("peer-a")

	h.addHot(x)
	h.addHot(a)

	var calls int
	var mu sync.Mutex
	h.sched.Add(NewRequest(a, "", ModeDefault, func(err error) {
		mu.Lock()
		calls++
		mu.Unlock()
	}))

	// Superseded abort fires once; the queue aborting the same buffered
	// request on Stop must not fire it again.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, time.Second, 10*time.Millisecond)

	h.sched.Stop()
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, calls)
}
