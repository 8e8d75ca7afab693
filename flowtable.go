// SPDX-License-Identifier: GPL-3.0-or-later

package udpdnstun

import (
	"net/netip"
	"sync"
)

// FlowTable maps each peer address to the inbound channel of its flow.
//
// A peer has an entry if and only if the goroutine relaying its flow is
// running. The [*Dispatcher] creates entries and each flow removes its
// own entry when it ends.
//
// FlowTable is safe for concurrent use. The lock is held only for the
// duration of a single map operation and never across blocking I/O.
//
// The zero value is ready to use.
type FlowTable struct {
	mu    sync.Mutex
	flows map[netip.AddrPort]chan []byte
}

// NewFlowTable creates an empty [*FlowTable].
func NewFlowTable() *FlowTable {
	return &FlowTable{}
}

// Lookup returns the inbound channel of the flow for peer, if any.
func (t *FlowTable) Lookup(peer netip.AddrPort) (chan<- []byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, found := t.flows[peer]
	return ch, found
}

// Insert adds an entry for peer unless one already exists, in which case
// it returns false and leaves the table unchanged.
func (t *FlowTable) Insert(peer netip.AddrPort, ch chan []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, found := t.flows[peer]; found {
		return false
	}
	if t.flows == nil {
		t.flows = make(map[netip.AddrPort]chan []byte)
	}
	t.flows[peer] = ch
	return true
}

// Remove removes the entry for peer. Removing a missing entry is a no-op.
func (t *FlowTable) Remove(peer netip.AddrPort) {
	t.mu.Lock()
	delete(t.flows, peer)
	t.mu.Unlock()
}

// TrySend attempts a non-blocking send of payload to the flow for peer.
//
// The found return value tells whether there is a flow for peer and the
// delivered return value whether the payload was queued. A payload for a
// flow whose channel is full is not queued.
//
// Sends happen with the lock held, so a flow may safely close its channel
// after removing its own entry.
func (t *FlowTable) TrySend(peer netip.AddrPort, payload []byte) (found, delivered bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, found := t.flows[peer]
	if !found {
		return false, false
	}
	select {
	case ch <- payload:
		return true, true
	default:
		return true, false
	}
}

// Len returns the number of entries.
func (t *FlowTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.flows)
}
