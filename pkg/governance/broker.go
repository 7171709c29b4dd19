// Copyright 2026 © The Mneme Authors
// SPDX-License-Identifier: Apache-2.0

package governance

import (
	"sort"
	"sync"
	"time"
)

// Signal is one operator decision delivered through the broker.
type Signal struct {
	Approved bool
	Reason   string
}

// PendingInfo describes a registered approval waiting for a decision.
type PendingInfo struct {
	ID    string
	Tool  string
	Risk  Risk
	Since time.Time
}

type pendingApproval struct {
	inv   Invocation
	ch    chan Signal
	since time.Time
}

// Broker is the operator-approval channel: decisions keyed by
// invocation id, delivered to the single gate waiting on each one.
// Resolving an id consumes it; a second resolution of the same id
// reports false, so terminal decisions never revert.
type Broker struct {
	mu      sync.Mutex
	pending map[string]*pendingApproval
}

// NewBroker creates an empty Broker.
func NewBroker() *Broker {
	return &Broker{pending: make(map[string]*pendingApproval)}
}

// Register announces a pending approval and returns the channel the
// gate waits on. Registering an id twice replaces the stale entry.
func (b *Broker) Register(inv Invocation) <-chan Signal {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry := &pendingApproval{
		inv:   inv,
		ch:    make(chan Signal, 1),
		since: time.Now(),
	}
	b.pending[inv.ID] = entry
	return entry.ch
}

// Resolve delivers an operator decision for a pending invocation id.
// Returns false when the id is unknown or already resolved.
func (b *Broker) Resolve(id string, approved bool, reason string) bool {
	b.mu.Lock()
	entry, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()

	if !ok {
		return false
	}
	entry.ch <- Signal{Approved: approved, Reason: reason}
	return true
}

// Drop removes a registration without delivering a decision. The gate
// calls this when a wait ends for another reason (timeout, cancel).
func (b *Broker) Drop(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

// Pending lists approvals still waiting for a decision, oldest first.
func (b *Broker) Pending() []PendingInfo {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]PendingInfo, 0, len(b.pending))
	for _, entry := range b.pending {
		out = append(out, PendingInfo{
			ID:    entry.inv.ID,
			Tool:  entry.inv.Name,
			Risk:  entry.inv.Risk,
			Since: entry.since,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Since.Before(out[j].Since) })
	return out
}
