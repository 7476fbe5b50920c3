// Package pairing implements the matching queue, the pairing engine, and the
// disconnect/re-pair handling for the anonymous one-on-one chat service. All
// queue, pairing-table, and registry mutations are serialized by a single
// engine mutex so that forming a pair is indivisible with respect to
// concurrent search and disconnect events.
package pairing

import (
	"errors"
	"time"
)

// ErrAlreadyQueued is returned when a connection that is already waiting in
// the queue asks to be enqueued again. The duplicate request is ignored by
// callers rather than surfaced to the client.
var ErrAlreadyQueued = errors.New("pairing: connection already queued")

// waiter is one queue entry. The enqueue timestamp feeds the wait-time
// histogram when a pair is formed.
type waiter struct {
	connID     string
	enqueuedAt time.Time
}

// fifoQueue holds searching connections in strict insertion order and
// enforces single membership. It is not safe for concurrent use on its own;
// the engine mutex guards every call.
type fifoQueue struct {
	entries []waiter
	members map[string]struct{}
}

func newFIFOQueue() *fifoQueue {
	return &fifoQueue{members: make(map[string]struct{})}
}

// enqueue appends a connection. A connection may appear at most once; a
// duplicate returns ErrAlreadyQueued and leaves the queue untouched.
func (q *fifoQueue) enqueue(connID string) error {
	if _, ok := q.members[connID]; ok {
		return ErrAlreadyQueued
	}
	q.members[connID] = struct{}{}
	q.entries = append(q.entries, waiter{connID: connID, enqueuedAt: time.Now()})
	return nil
}

// dequeuePair removes and returns the two oldest entries. If fewer than two
// connections are waiting it returns ok=false and the queue is unchanged.
// Single membership guarantees the two returned ids are distinct.
func (q *fifoQueue) dequeuePair() (a, b waiter, ok bool) {
	if len(q.entries) < 2 {
		return waiter{}, waiter{}, false
	}
	a, b = q.entries[0], q.entries[1]
	q.entries = q.entries[2:]
	delete(q.members, a.connID)
	delete(q.members, b.connID)
	return a, b, true
}

// remove deletes a connection from the queue if present. Removing an absent
// id is a no-op; the return value reports whether anything changed.
func (q *fifoQueue) remove(connID string) bool {
	if _, ok := q.members[connID]; !ok {
		return false
	}
	delete(q.members, connID)
	for i, w := range q.entries {
		if w.connID == connID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			break
		}
	}
	return true
}

// contains reports queue membership.
func (q *fifoQueue) contains(connID string) bool {
	_, ok := q.members[connID]
	return ok
}

// size returns the number of waiting connections.
func (q *fifoQueue) size() int {
	return len(q.entries)
}

// snapshot returns the waiting connection ids in FIFO order.
func (q *fifoQueue) snapshot() []string {
	out := make([]string, len(q.entries))
	for i, w := range q.entries {
		out[i] = w.connID
	}
	return out
}
