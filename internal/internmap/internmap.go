// Copyright 2024 PerFlow Authors
// Licensed under the Apache License, Version 2.0

// Package internmap implements InternMap, a fixed-capacity, open-addressed
// concurrent map from an arbitrary hashable key to a uint64 counter.
//
// InternMap never rehashes and never allocates after construction: every
// operation is safe to call from asynchronous-signal context on the thread
// it interrupted, provided that thread itself only calls InternMap methods
// (the map does not protect against a true multi-thread data race on the
// same *value* beyond what atomic fetch-add provides; structural state
// transitions are release/acquire).
//
// The map's only use here is as a call-stack occurrence counter, so
// the value type is fixed to uint64 to
// let slot values be updated with a single lock-free atomic add rather
// than a generic (and necessarily non-atomic) interface dispatch.
package internmap

import (
	"sync/atomic"
)

type slotState int32

const (
	stateEmpty slotState = iota
	stateClaiming
	stateOccupied
	stateTombstone
)

type entry[K comparable] struct {
	state atomic.Int32
	key   K
	value atomic.Uint64
}

// Map is a fixed-capacity open-addressed hash map from K to uint64.
type Map[K comparable] struct {
	entries  []entry[K]
	capacity int
	hashFn   func(K) uint64
	size     atomic.Int64 // approximate; see Size.
}

// New constructs a Map with the given fixed capacity. hashFn must be a
// pure function of its argument; it is called on every operation.
func New[K comparable](capacity int, hashFn func(K) uint64) *Map[K] {
	if capacity <= 0 {
		panic("internmap: capacity must be positive")
	}
	return &Map[K]{
		entries:  make([]entry[K], capacity),
		capacity: capacity,
		hashFn:   hashFn,
	}
}

func (m *Map[K]) startIndex(k K) int {
	return int(m.hashFn(k) % uint64(m.capacity))
}

// Find performs a read-only lookup. The second return value reports
// whether k was present.
func (m *Map[K]) Find(k K) (uint64, bool) {
	idx := m.startIndex(k)
	for i := 0; i < m.capacity; i++ {
		e := &m.entries[idx]
		st := slotState(e.state.Load())
		switch st {
		case stateEmpty:
			return 0, false
		case stateOccupied:
			if e.key == k {
				return e.value.Load(), true
			}
		}
		idx = (idx + 1) % m.capacity
	}
	return 0, false
}

// Insert sets k's value to v, inserting k if it is new. It returns false
// iff the map is full and k was not already present.
func (m *Map[K]) Insert(k K, v uint64) bool {
	return m.put(k, v, false)
}

// Increment adds delta to k's current value (inserting with value delta
// if k is new). It returns false iff the map is full and k was not
// already present. This is the hot path called from on_overflow; it never
// blocks and never allocates.
func (m *Map[K]) Increment(k K, delta uint64) bool {
	return m.put(k, delta, true)
}

// put implements both Insert (add=false, overwrite) and Increment
// (add=true, fetch-add) with the shared probe-and-claim algorithm.
func (m *Map[K]) put(k K, v uint64, add bool) bool {
	idx := m.startIndex(k)
	firstTombstone := -1

	for i := 0; i < m.capacity; i++ {
		e := &m.entries[idx]
		st := slotState(e.state.Load())

		switch st {
		case stateOccupied:
			if e.key == k {
				if add {
					e.value.Add(v)
				} else {
					e.value.Store(v)
				}
				return true
			}

		case stateTombstone:
			if firstTombstone == -1 {
				firstTombstone = idx
			}

		case stateEmpty:
			target := idx
			expected := st
			if firstTombstone != -1 {
				target = firstTombstone
				expected = stateTombstone
			}
			if m.claimAndWrite(target, expected, k, v) {
				return true
			}
			// Lost the race for target to another writer; retry
			// the whole probe against current map state.
			return m.put(k, v, add)
		}

		idx = (idx + 1) % m.capacity
	}

	// Ring fully traversed without an EMPTY slot; fall back to a
	// tombstone found along the way, if any.
	if firstTombstone != -1 {
		if m.claimAndWrite(firstTombstone, stateTombstone, k, v) {
			return true
		}
		return m.put(k, v, add)
	}
	return false
}

// claimAndWrite attempts to CAS the slot at idx from expectedSt to
// stateClaiming, write the key/value, then release-publish as Occupied.
// It returns false if another writer won the race to claim the slot.
func (m *Map[K]) claimAndWrite(idx int, expectedSt slotState, k K, v uint64) bool {
	e := &m.entries[idx]
	if !e.state.CompareAndSwap(int32(expectedSt), int32(stateClaiming)) {
		return false
	}
	e.key = k
	e.value.Store(v)
	e.state.Store(int32(stateOccupied))
	m.size.Add(1)
	return true
}

// UpsertDefault returns the current value for k, inserting it with value
// 0 first if absent. The second return value reports whether the map had
// capacity to do so.
func (m *Map[K]) UpsertDefault(k K) (uint64, bool) {
	if v, ok := m.Find(k); ok {
		return v, true
	}
	if !m.Insert(k, 0) {
		return 0, false
	}
	v, _ := m.Find(k)
	return v, true
}

// Erase removes k, if present, marking its slot as a tombstone. It
// returns whether k was present.
func (m *Map[K]) Erase(k K) bool {
	idx := m.startIndex(k)
	for i := 0; i < m.capacity; i++ {
		e := &m.entries[idx]
		st := slotState(e.state.Load())
		switch st {
		case stateEmpty:
			return false
		case stateOccupied:
			if e.key == k {
				e.state.Store(int32(stateTombstone))
				m.size.Add(-1)
				return true
			}
		}
		idx = (idx + 1) % m.capacity
	}
	return false
}

// ForEach visits every occupied slot in unspecified order.
func (m *Map[K]) ForEach(fn func(k K, v uint64)) {
	for i := range m.entries {
		e := &m.entries[i]
		if slotState(e.state.Load()) == stateOccupied {
			fn(e.key, e.value.Load())
		}
	}
}

// Size returns an approximate count of occupied slots; it may lag
// slightly behind the true number of OCCUPIED slots under concurrent
// mutation.
func (m *Map[K]) Size() int {
	n := int(m.size.Load())
	if n < 0 {
		return 0
	}
	return n
}

// Capacity returns the map's fixed capacity.
func (m *Map[K]) Capacity() int {
	return m.capacity
}

// Empty reports whether Size() == 0.
func (m *Map[K]) Empty() bool {
	return m.Size() == 0
}

// Full reports whether Size() >= Capacity().
func (m *Map[K]) Full() bool {
	return m.Size() >= m.capacity
}

// Clear resets every slot to empty. It is not safe to call concurrently
// with other operations.
func (m *Map[K]) Clear() {
	for i := range m.entries {
		m.entries[i].state.Store(int32(stateEmpty))
	}
	m.size.Store(0)
}
