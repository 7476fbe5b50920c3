package pairing

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unimeet/stranger-chat/internal/metrics"
	"github.com/unimeet/stranger-chat/internal/registry"
)

// ErrAlreadyPaired is returned when a connection that is already in an active
// pairing asks to start a new search without leaving first. Callers ignore
// the request.
var ErrAlreadyPaired = errors.New("pairing: connection already paired")

// tickInterval is the fallback sweep cadence. Matching normally runs
// immediately on every successful enqueue; the tick only exists to recover
// from a missed trigger.
const tickInterval = 2 * time.Second

// Pairing is an active symmetric relationship between exactly two
// connections.
type Pairing struct {
	ID        string
	A         string
	B         string
	CreatedAt time.Time
}

// Peer returns the other member of the pairing, or "" if connID is not a
// member.
func (p *Pairing) Peer(connID string) string {
	switch connID {
	case p.A:
		return p.B
	case p.B:
		return p.A
	}
	return ""
}

// Notifier receives pairing lifecycle events. Implementations must not block
// for long; the engine invokes them outside its critical section, but from
// the goroutine that triggered the state change.
type Notifier interface {
	// PairingEstablished is delivered to each member of a new pairing with
	// the peer's connection id and display name.
	PairingEstablished(connID, peerID, peerName, pairingID string)

	// PeerLeft tells the remaining member that its peer disconnected or
	// moved on. The member is idle afterwards and must search again itself.
	PeerLeft(connID string)
}

// Engine owns the matching queue and the pairing table. Every mutation of
// queue, pairings, or registry state flows through the engine mutex, which
// makes dequeue-pair indivisible with respect to concurrent searches and
// disconnects: a pairing can never reference a connection that a racing
// disconnect already tore down.
type Engine struct {
	mu       sync.Mutex
	reg      *registry.Registry
	queue    *fifoQueue
	pairs    map[string]*Pairing // connID -> pairing, one entry per member
	notifier Notifier
}

// New creates an Engine over the given registry. The notifier receives
// pairing-established and peer-left events.
func New(reg *registry.Registry, notifier Notifier) *Engine {
	return &Engine{
		reg:      reg,
		queue:    newFIFOQueue(),
		pairs:    make(map[string]*Pairing),
		notifier: notifier,
	}
}

// StartSearch enqueues a connection for matching and immediately attempts to
// form a pair. Duplicate requests return ErrAlreadyQueued; requests from a
// paired connection return ErrAlreadyPaired. Both are benign and ignored by
// the gateway.
func (e *Engine) StartSearch(connID string) error {
	e.mu.Lock()

	if _, ok := e.reg.Get(connID); !ok {
		e.mu.Unlock()
		return registry.ErrUnknownConnection
	}
	if _, ok := e.pairs[connID]; ok {
		e.mu.Unlock()
		return ErrAlreadyPaired
	}
	if err := e.queue.enqueue(connID); err != nil {
		e.mu.Unlock()
		return err
	}
	// The registry entry cannot vanish here: removal also runs under the
	// engine mutex (HandleClose).
	_ = e.reg.SetState(connID, registry.StateSearching)

	notes := e.tryMatchLocked()
	e.updateGaugesLocked()
	e.mu.Unlock()

	e.emit(notes)
	return nil
}

// CancelSearch removes a waiting connection from the queue before it was
// paired and returns it to idle. Cancelling a connection that is not queued
// is a no-op.
func (e *Engine) CancelSearch(connID string) {
	e.mu.Lock()
	if e.queue.remove(connID) {
		_ = e.reg.SetState(connID, registry.StateIdle)
	}
	e.updateGaugesLocked()
	e.mu.Unlock()
}

// NextPartner handles an explicit "find a new partner" request from a paired
// connection: the pairing is destroyed, the abandoned peer is notified and
// left idle, and the requester is re-enqueued immediately. The peer is
// deliberately not re-enqueued; searching again is its own decision.
func (e *Engine) NextPartner(connID string) {
	e.mu.Lock()

	// A stale request from a connection that is only queued removes it from
	// the queue and nothing more.
	if e.queue.remove(connID) {
		_ = e.reg.SetState(connID, registry.StateIdle)
		e.updateGaugesLocked()
		e.mu.Unlock()
		return
	}

	var notes []func()
	if p, ok := e.pairs[connID]; ok {
		peer := p.Peer(connID)
		notes = append(notes, e.teardownLocked(p, peer)...)

		_ = e.reg.SetState(connID, registry.StateIdle)
		if err := e.queue.enqueue(connID); err == nil {
			_ = e.reg.SetState(connID, registry.StateSearching)
			notes = append(notes, e.tryMatchLocked()...)
		}
	}
	e.updateGaugesLocked()
	e.mu.Unlock()

	e.emit(notes)
}

// HandleClose unwinds all pairing state for a connection whose transport
// closed: queue membership is dropped, an active pairing is destroyed with
// the peer notified, and the registry entry is removed. Calling it again for
// an already-closed connection changes nothing.
func (e *Engine) HandleClose(connID string) {
	e.mu.Lock()

	var notes []func()
	if e.queue.remove(connID) {
		e.reg.Remove(connID)
		e.updateGaugesLocked()
		e.mu.Unlock()
		return
	}
	if p, ok := e.pairs[connID]; ok {
		peer := p.Peer(connID)
		notes = append(notes, e.teardownLocked(p, peer)...)
	}
	e.reg.Remove(connID)
	e.updateGaugesLocked()
	e.mu.Unlock()

	e.emit(notes)
}

// PeerOf returns the peer connection id and the pairing id for a paired
// connection. ok is false when the connection has no active pairing.
func (e *Engine) PeerOf(connID string) (peerID, pairingID string, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, found := e.pairs[connID]
	if !found {
		return "", "", false
	}
	return p.Peer(connID), p.ID, true
}

// QueueSnapshot returns the waiting connection ids in FIFO order.
func (e *Engine) QueueSnapshot() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.snapshot()
}

// ActivePairings returns the number of active pairings.
func (e *Engine) ActivePairings() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pairs) / 2
}

// Run drives the periodic fallback sweep until the context is cancelled.
// Matching is normally enqueue-triggered; the sweep only picks up pairs a
// missed trigger left behind.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[pairing] engine sweep stopped")
			return
		case <-ticker.C:
			e.Sweep()
		}
	}
}

// Sweep forms as many pairs as the queue allows.
func (e *Engine) Sweep() {
	e.mu.Lock()
	var notes []func()
	for {
		n := e.tryMatchLocked()
		if len(n) == 0 {
			break
		}
		notes = append(notes, n...)
	}
	e.updateGaugesLocked()
	e.mu.Unlock()

	e.emit(notes)
}

// tryMatchLocked dequeues the two oldest waiters, records the pairing, and
// marks both connections paired. It returns the notification closures to run
// after the mutex is released. Must be called with the engine mutex held.
func (e *Engine) tryMatchLocked() []func() {
	a, b, ok := e.queue.dequeuePair()
	if !ok {
		return nil
	}

	p := &Pairing{
		ID:        uuid.New().String(),
		A:         a.connID,
		B:         b.connID,
		CreatedAt: time.Now(),
	}
	e.pairs[p.A] = p
	e.pairs[p.B] = p

	_ = e.reg.SetState(p.A, registry.StatePaired)
	_ = e.reg.SetState(p.B, registry.StatePaired)

	infoA, _ := e.reg.Get(p.A)
	infoB, _ := e.reg.Get(p.B)

	metrics.PairingsFormed.Inc()
	metrics.PairWaitSeconds.Observe(time.Since(a.enqueuedAt).Seconds())
	metrics.PairWaitSeconds.Observe(time.Since(b.enqueuedAt).Seconds())

	log.Printf("[pairing] established pairing=%s a=%s b=%s", p.ID, p.A, p.B)

	n := e.notifier
	return []func(){
		func() { n.PairingEstablished(p.A, p.B, infoB.Username, p.ID) },
		func() { n.PairingEstablished(p.B, p.A, infoA.Username, p.ID) },
	}
}

// teardownLocked destroys a pairing and sets the surviving peer idle,
// returning the peer-left notification closure. Must be called with the
// engine mutex held.
func (e *Engine) teardownLocked(p *Pairing, peer string) []func() {
	delete(e.pairs, p.A)
	delete(e.pairs, p.B)
	_ = e.reg.SetState(peer, registry.StateIdle)

	log.Printf("[pairing] destroyed pairing=%s remaining=%s", p.ID, peer)

	n := e.notifier
	return []func(){func() { n.PeerLeft(peer) }}
}

func (e *Engine) updateGaugesLocked() {
	metrics.MatchQueueDepth.Set(float64(e.queue.size()))
	metrics.ActivePairings.Set(float64(len(e.pairs) / 2))
}

// emit runs notification closures outside the critical section, preserving
// their order.
func (e *Engine) emit(notes []func()) {
	for _, fn := range notes {
		fn()
	}
}
