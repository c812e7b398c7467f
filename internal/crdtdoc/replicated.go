package crdtdoc

import (
	"sync"

	"github.com/brunoga/deep/v3"
	"github.com/brunoga/deep/v3/crdt/hlc"
	crdtresolver "github.com/brunoga/deep/v3/resolvers/crdt"
)

// replicated wraps a value of type T with the bookkeeping a diff-based CRDT
// backend needs to merge two independently-edited copies commutatively,
// associatively, and idempotently: a clock vector keyed by field path, a
// tombstone set for removals, and the node's own hybrid logical clock.
//
// This is the document's only dependency on the CRDT backend; the rest of
// the package talks in terms of DocState and delta.
type replicated[T any] struct {
	mu         sync.RWMutex
	value      T
	clocks     map[string]hlc.HLC
	tombstones map[string]hlc.HLC
	nodeID     string
	clock      *hlc.Clock
}

// delta is a self-contained set of changes plus the causal timestamp they
// were made at; it is what travels over the wire as a sync message.
type delta[T any] struct {
	Patch     deep.Patch[T] `json:"p"`
	Timestamp hlc.HLC       `json:"t"`
}

func newReplicated[T any](initial T, nodeID string) *replicated[T] {
	return &replicated[T]{
		value:      initial,
		clocks:     make(map[string]hlc.HLC),
		tombstones: make(map[string]hlc.HLC),
		nodeID:     nodeID,
		clock:      hlc.NewClock(nodeID),
	}
}

// view returns a deep copy of the current value.
func (r *replicated[T]) view() T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	copied, err := deep.Copy(r.value)
	if err != nil {
		var zero T
		return zero
	}
	return copied
}

// edit mutates a working copy via fn, diffs it against the current value,
// and returns the resulting delta (zero-value Patch if fn made no change).
func (r *replicated[T]) edit(fn func(*T)) delta[T] {
	r.mu.Lock()
	defer r.mu.Unlock()

	working, err := deep.Copy(r.value)
	if err != nil {
		return delta[T]{}
	}
	fn(&working)

	patch := deep.Diff(r.value, working)
	if patch == nil {
		return delta[T]{}
	}

	now := r.clock.Now()
	r.recordLocked(patch, now)
	r.value = working

	return delta[T]{Patch: patch, Timestamp: now}
}

// recordLocked updates the clock/tombstone bookkeeping for a locally- or
// remotely-applied patch. Must be called with mu held.
func (r *replicated[T]) recordLocked(patch deep.Patch[T], ts hlc.HLC) {
	_ = patch.Walk(func(path string, op deep.OpKind, _, _ any) error {
		if op == deep.OpRemove {
			r.tombstones[path] = ts
		} else {
			r.clocks[path] = ts
		}
		return nil
	})
}

// applyDelta applies a remote delta using last-writer-wins resolution on
// the fields it touches.
func (r *replicated[T]) applyDelta(d delta[T]) bool {
	if d.Patch == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.clock.Update(d.Timestamp)

	resolver := &crdtresolver.LWWResolver{
		Clocks:     r.clocks,
		Tombstones: r.tombstones,
		OpTime:     d.Timestamp,
	}

	if err := d.Patch.ApplyResolved(&r.value, resolver); err != nil {
		return false
	}

	r.recordLocked(d.Patch, d.Timestamp)

	return true
}

// merge integrates another replica's full state using a state-based
// resolver: per conflicting path, the entry with the later clock wins.
// Commutative and idempotent because StateResolver only ever compares
// clock values, never order of application.
func (r *replicated[T]) merge(other *replicated[T]) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	other.mu.RLock()
	defer other.mu.RUnlock()

	for _, h := range other.clocks {
		r.clock.Update(h)
	}
	for _, h := range other.tombstones {
		r.clock.Update(h)
	}

	patch := deep.Diff(r.value, other.value)
	if patch == nil {
		r.mergeMetaLocked(other)
		return false
	}

	resolver := &crdtresolver.StateResolver{
		LocalClocks:      r.clocks,
		LocalTombstones:  r.tombstones,
		RemoteClocks:     other.clocks,
		RemoteTombstones: other.tombstones,
	}

	if err := patch.ApplyResolved(&r.value, resolver); err != nil {
		return false
	}

	r.mergeMetaLocked(other)

	return true
}

func (r *replicated[T]) mergeMetaLocked(other *replicated[T]) {
	for k, v := range other.clocks {
		if existing, ok := r.clocks[k]; !ok || v.After(existing) {
			r.clocks[k] = v
		}
	}
	for k, v := range other.tombstones {
		if existing, ok := r.tombstones[k]; !ok || v.After(existing) {
			r.tombstones[k] = v
		}
	}
}

// latest returns the node's current hybrid logical clock value, used by
// the sync layer to decide whether a peer is already up to date.
func (r *replicated[T]) latest() hlc.HLC {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clock.Latest
}

// fork returns an independent copy sharing the same history so far.
func (r *replicated[T]) fork() *replicated[T] {
	r.mu.RLock()
	defer r.mu.RUnlock()

	value, err := deep.Copy(r.value)
	if err != nil {
		value = r.value
	}

	out := &replicated[T]{
		value:      value,
		clocks:     make(map[string]hlc.HLC, len(r.clocks)),
		tombstones: make(map[string]hlc.HLC, len(r.tombstones)),
		nodeID:     r.nodeID,
		clock:      hlc.NewClock(r.nodeID),
	}
	out.clock.Latest = r.clock.Latest
	for k, v := range r.clocks {
		out.clocks[k] = v
	}
	for k, v := range r.tombstones {
		out.tombstones[k] = v
	}

	return out
}
