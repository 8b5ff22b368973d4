package dialer

import (
	"sync"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
)

// DialMode tunes how the queue treats an individual request.
type DialMode uint8

const (
	// ModeDefault honors the peer's current backoff window.
	ModeDefault DialMode = iota

	// ModeForce attempts the dial even inside a temporary backoff window.
	// Permanent blacklisting still wins.
	ModeForce
)

// Request is a single dial request. A request naming a Protocol is "hot":
// a concrete protocol is needed now. A request without one is a cold call,
// a speculative connectivity probe that the scheduler admits with lower
// priority and stricter backpressure.
type Request struct {
	Peer     peer.ID
	Protocol protocol.ID
	Mode     DialMode

	// Callback receives the terminal result. It is invoked at most once,
	// ever, and may be invoked from another goroutine. Nil is allowed.
	Callback func(error)

	id   string
	once sync.Once
}

// NewRequest builds a dial request. proto may be empty for a cold call and
// cb may be nil.
func NewRequest(p peer.ID, proto protocol.ID, mode DialMode, cb func(error)) *Request {
	return &Request{
		Peer:     p,
		Protocol: proto,
		Mode:     mode,
		Callback: cb,
		id:       uuid.NewString(),
	}
}

// ColdCall reports whether the request is a speculative probe with no
// protocol attached.
func (r *Request) ColdCall() bool {
	return r.Protocol == ""
}

// ID returns the request's correlation id used in logs.
func (r *Request) ID() string {
	if r.id == "" {
		r.id = uuid.NewString()
	}
	return r.id
}

// complete resolves the request exactly once. Later resolutions, including
// a queue re-resolving a request the scheduler already aborted, are dropped.
func (r *Request) complete(err error) {
	r.once.Do(func() {
		if r.Callback != nil {
			r.Callback(err)
		}
	})
}
