// Package channel implements the synchronous, unbuffered, direction-opposed
// rendezvous protocol with multi-way connectivity described in spec §4.8.
//
// The original design (see spec §4.8, §9) coordinates each handshake with a
// per-endpoint mutex, a binary "connections available" gate, and separate
// "blocked"/"ack" notifications, with a fixed IN-side-first lock order for
// cross-endpoint operations. This implementation keeps the same observable
// protocol — round-robin fairness across peers, blocking send/receive with
// no timeout, a happens-before edge between a matched sender and receiver —
// but replaces the hand-rolled gate/notification pair with a single
// sync.Cond per endpoint and a deadlock-free lock order keyed by each
// endpoint's monotonically increasing id rather than its direction. Spec
// §9 explicitly allows either design ("the external observable behavior is
// identical"); the id-ordered lock is simpler to reason about than
// direction-ordered locking once both binds and unbinds are considered.
package channel

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/insense-lang/insense-vm/internal/value"
	"github.com/insense-lang/insense-vm/internal/vmlog"
)

// ErrChannelMismatch maps to spec §7's *ChannelMismatch*: bind rejected
// incompatible direction or element size. Logged by the caller; bind just
// fails.
var ErrChannelMismatch = errors.New("channel: direction or element size mismatch")

// ErrClosed is returned by Send/Receive once the endpoint has been torn
// down (component teardown unbinds and closes all its endpoints before
// releasing them, per spec §4.6).
var ErrClosed = errors.New("channel: endpoint closed")

var nextID atomic.Uint64

// connMu is the process-wide mutex serializing bind/unbind against each
// other across all endpoints (spec §4.8 step 1, §5 "Shared resources").
var connMu sync.Mutex

// Endpoint is one directional half of a channel, owned by exactly one
// component but possibly named in many peers' connection lists (spec §3
// "Channel endpoint").
type Endpoint struct {
	id      uint64
	Name    string
	Owner   string
	Dir     value.Tag // value.In or value.Out
	ElemTag value.Tag

	mu          sync.Mutex
	cond        *sync.Cond
	ready       bool
	buffer      value.Value
	connections []*Endpoint
	cursor      int
	closed      bool
}

// New creates an endpoint of the given direction and element type, owned
// by the named component (used for log correlation).
func New(name, owner string, dir, elemTag value.Tag) *Endpoint {
	e := &Endpoint{id: nextID.Add(1), Name: name, Owner: owner, Dir: dir, ElemTag: elemTag}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// ElemSize reports the endpoint's element size in octets, per spec §3.
func (e *Endpoint) ElemSize() int {
	return e.ElemTag.ElemSize()
}

// Bind connects a and b so future sends on one may rendezvous with
// receives on the other. Pre: opposite directions, equal element sizes
// (spec §4.8 "Bind"). It returns false (no error) if a and b are already
// bound, matching the idempotent round-trip property in spec §8.
func Bind(a, b *Endpoint) (bool, error) {
	if a.Dir == b.Dir || a.ElemSize() != b.ElemSize() {
		return false, ErrChannelMismatch
	}

	connMu.Lock()
	defer connMu.Unlock()

	first, second := lockOrdered(a, b)
	defer unlockOrdered(first, second)

	if contains(a.connections, b) {
		return false, nil
	}

	a.connections = append(a.connections, b)
	b.connections = append(b.connections, a)
	a.cond.Broadcast()
	b.cond.Broadcast()

	vmlog.Logger.Debug().
		Str("endpoint_a", a.Name).Str("owner_a", a.Owner).
		Str("endpoint_b", b.Name).Str("owner_b", b.Owner).
		Msg("channel bind")
	return true, nil
}

// Unbind removes e from every peer's connection list and every peer from
// e's own list (spec §4.8 "Unbind"). It is idempotent; unbinding an
// endpoint with no connections is a no-op.
func Unbind(e *Endpoint) {
	connMu.Lock()
	defer connMu.Unlock()

	e.mu.Lock()
	peers := append([]*Endpoint(nil), e.connections...)
	e.mu.Unlock()

	for _, p := range peers {
		first, second := lockOrdered(e, p)
		e.connections = removeEndpoint(e.connections, p)
		p.connections = removeEndpoint(p.connections, e)
		unlockOrdered(first, second)
	}
	e.cond.Broadcast()

	vmlog.Logger.Debug().Str("endpoint", e.Name).Str("owner", e.Owner).Msg("channel unbind")
}

// Close marks e as torn down, waking any goroutine blocked in Send/Receive
// with ErrClosed. Called from component teardown after Unbind.
func (e *Endpoint) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cond.Broadcast()
}

// Send performs the synchronous rendezvous-send of v, blocking until a
// connected receiver picks it up (spec §4.8 "Send"). It has no timeout: an
// endpoint with no connections blocks forever, per spec §4.8 "Failure
// semantics".
func (e *Endpoint) Send(v value.Value) error {
	traceID := uuid.New()
	vmlog.Logger.Debug().Str("endpoint", e.Name).Str("trace", traceID.String()).Msg("send begin")
	return e.rendezvous(true, v, nil)
}

// Receive performs the synchronous rendezvous-receive, blocking until a
// connected sender offers a value, and returns the value it copied.
func (e *Endpoint) Receive() (value.Value, error) {
	var out value.Value
	traceID := uuid.New()
	vmlog.Logger.Debug().Str("endpoint", e.Name).Str("trace", traceID.String()).Msg("receive begin")
	err := e.rendezvous(false, value.Value{}, &out)
	return out, err
}

// rendezvous implements both Send (isSend=true, outgoing carries the
// value) and Receive (isSend=false, out receives the matched value) with
// the same match-then-wait loop, since the two differ only in which side
// of the copy they perform.
func (e *Endpoint) rendezvous(isSend bool, outgoing value.Value, out *value.Value) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.ready = true
	if isSend {
		e.buffer = outgoing
	}
	e.mu.Unlock()

	for {
		e.mu.Lock()
		conns := len(e.connections)
		e.mu.Unlock()

		if matched, err := e.tryMatch(isSend, out); matched || err != nil {
			return err
		}

		e.mu.Lock()
		for e.ready && !e.closed && len(e.connections) == conns {
			e.cond.Wait()
		}
		closed := e.closed
		stillReady := e.ready
		e.mu.Unlock()

		if closed {
			return ErrClosed
		}
		if !stillReady {
			// A peer's tryMatch cleared our ready flag and, for a receive,
			// wrote the matched value into our buffer (tryMatch's isSend
			// branch), since it has no access to our *out. Pick it up now
			// under our own lock before returning.
			if !isSend {
				e.mu.Lock()
				*out = e.buffer
				e.mu.Unlock()
			}
			return nil
		}
		// Woken by a Bind/Unbind touching our connection list: retry.
	}
}

// tryMatch attempts one round-robin pass over e's current peers, looking
// for one that is also ready. On a match it performs the copy, clears
// both ready flags, wakes the peer, and advances the cursor so the next
// send/receive on e starts from the following peer (spec §4.8's fairness
// guarantee; see spec §8 scenario 6).
func (e *Endpoint) tryMatch(isSend bool, out *value.Value) (bool, error) {
	e.mu.Lock()
	peers := append([]*Endpoint(nil), e.connections...)
	start := e.cursor
	e.mu.Unlock()

	n := len(peers)
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		peer := peers[idx]

		first, second := lockOrdered(e, peer)
		if e.ready && peer.ready {
			if isSend {
				peer.buffer = e.buffer
			} else {
				*out = peer.buffer
			}
			e.ready = false
			peer.ready = false
			e.cursor = (idx + 1) % n
			peer.cond.Broadcast()
			unlockOrdered(first, second)
			return true, nil
		}
		unlockOrdered(first, second)
	}
	return false, nil
}

func lockOrdered(a, b *Endpoint) (first, second *Endpoint) {
	if a.id < b.id {
		first, second = a, b
	} else {
		first, second = b, a
	}
	first.mu.Lock()
	second.mu.Lock()
	return first, second
}

func unlockOrdered(first, second *Endpoint) {
	second.mu.Unlock()
	first.mu.Unlock()
}

func contains(list []*Endpoint, target *Endpoint) bool {
	for _, e := range list {
		if e == target {
			return true
		}
	}
	return false
}

func removeEndpoint(list []*Endpoint, target *Endpoint) []*Endpoint {
	out := list[:0]
	for _, e := range list {
		if e != target {
			out = append(out, e)
		}
	}
	return out
}
