// Package command implements the CommandDispatcher: the pending-token
// registry that correlates an outgoing UDP command with its asynchronous
// ACK, shared by the HTTP frontend (which originates commands) and the UDP
// engine (which resolves them).
package command

import (
	"errors"
	"sync"
	"time"
)

// ErrTimeout is returned by Wait when a pending command's CommandTimeout
// elapses before an ACK arrives. Commands never retry on timeout
// (at-most-once delivery).
var ErrTimeout = errors.New("command: timed out waiting for ack")

type pending struct {
	result chan string
	once   sync.Once
}

// Dispatcher owns the pending-token map under its own lock, independent of
// the channel table's lock.
type Dispatcher struct {
	mu      sync.Mutex
	pending map[string]map[uint64]*pending // channelID -> token -> pending
	timeout time.Duration
}

// New returns a Dispatcher that expires unacknowledged commands after timeout.
func New(timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		pending: make(map[string]map[uint64]*pending),
		timeout: timeout,
	}
}

// Register creates a pending entry for (channelID, token) and returns a wait
// function the caller uses to block for the ACK (or timeout). The entry is
// cleared after the timeout even if the caller never waits. Must be called
// before the command frame is sent, so a fast ACK can never race ahead of
// registration.
func (d *Dispatcher) Register(channelID string, token uint64) (wait func() (string, error)) {
	p := &pending{result: make(chan string, 1)}

	d.mu.Lock()
	byToken, ok := d.pending[channelID]
	if !ok {
		byToken = make(map[uint64]*pending)
		d.pending[channelID] = byToken
	}
	byToken[token] = p
	d.mu.Unlock()

	time.AfterFunc(d.timeout, func() { d.clear(channelID, token) })

	return func() (string, error) {
		defer d.clear(channelID, token)
		select {
		case msg := <-p.result:
			return msg, nil
		case <-time.After(d.timeout):
			return "", ErrTimeout
		}
	}
}

// Resolve delivers an ACK's MSG payload to the matching pending command, if
// any. It reports whether a pending entry existed for (channelID, token).
func (d *Dispatcher) Resolve(channelID string, token uint64, msg string) bool {
	d.mu.Lock()
	byToken, ok := d.pending[channelID]
	if !ok {
		d.mu.Unlock()
		return false
	}
	p, ok := byToken[token]
	d.mu.Unlock()
	if !ok {
		return false
	}
	p.once.Do(func() { p.result <- msg })
	return true
}

// PendingCount returns the number of commands awaiting an ACK, for metrics.
func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, byToken := range d.pending {
		n += len(byToken)
	}
	return n
}

func (d *Dispatcher) clear(channelID string, token uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if byToken, ok := d.pending[channelID]; ok {
		delete(byToken, token)
		if len(byToken) == 0 {
			delete(d.pending, channelID)
		}
	}
}
