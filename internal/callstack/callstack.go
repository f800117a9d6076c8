// Copyright 2024 PerFlow Authors
// Licensed under the Apache License, Version 2.0

// Package callstack implements CallStack, a fixed-capacity sequence of
// raw instruction addresses captured at PMU overflow time.
//
// CallStack is designed to be safe to mutate from asynchronous-signal
// context: Push/Pop/Clear never allocate and never block.
package callstack

// MaxDepth is the compile-time frame capacity of a CallStack. The sampler
// may be configured with a smaller effective depth at runtime, but no
// CallStack ever holds more than MaxDepth frames.
const MaxDepth = 128

// Address is a single raw instruction address as captured off the stack.
type Address uint64

// CallStack is an ordered, leaf-first sequence of addresses. Index 0 is
// the innermost (most recent) frame. The zero value is a valid, empty
// CallStack.
type CallStack struct {
	frames [MaxDepth]Address
	depth  int

	hashValid bool
	hash      uint64
}

// Push appends addr after the frames already captured. It reports
// whether the push succeeded; it fails (returns false) without
// modifying the stack when the stack is already at MaxDepth.
//
// Push never allocates and is safe to call from a signal handler.
func (s *CallStack) Push(addr Address) bool {
	if s.depth >= MaxDepth {
		return false
	}
	s.frames[s.depth] = addr
	s.depth++
	s.hashValid = false
	return true
}

// Pop removes and returns the most recently pushed address. It returns 0
// if the stack is empty.
func (s *CallStack) Pop() Address {
	if s.depth == 0 {
		return 0
	}
	s.depth--
	a := s.frames[s.depth]
	s.frames[s.depth] = 0
	s.hashValid = false
	return a
}

// Clear empties the stack without releasing any memory. Used frames are
// zeroed so that a cleared-and-refilled stack compares equal, as a whole
// value, to a freshly built one with the same frames.
func (s *CallStack) Clear() {
	for i := 0; i < s.depth; i++ {
		s.frames[i] = 0
	}
	s.depth = 0
	s.hashValid = false
}

// Depth returns the number of frames currently held.
func (s *CallStack) Depth() int {
	return s.depth
}

// Frame returns the address at index i, in leaf-first order. It returns
// the 0 sentinel for any i outside [0, Depth()).
func (s *CallStack) Frame(i int) Address {
	if i < 0 || i >= s.depth {
		return 0
	}
	return s.frames[i]
}

// Frames returns the used prefix of the stack, leaf-first. The returned
// slice aliases the CallStack's internal storage and must not be retained
// past the next mutation.
func (s *CallStack) Frames() []Address {
	return s.frames[:s.depth]
}

// fnvOffsetBasis and fnvPrime are the FNV-1a 64-bit constants.
const (
	fnvOffsetBasis uint64 = 14695981039346656037
	fnvPrime       uint64 = 1099511628211
)

// Hash returns an FNV-1a hash of the used frames. A zero-depth stack
// hashes to the FNV-1a offset basis, a constant. The hash is cached
// and recomputed only after a mutation.
func (s *CallStack) Hash() uint64 {
	if s.hashValid {
		return s.hash
	}
	h := fnvOffsetBasis
	for i := 0; i < s.depth; i++ {
		a := s.frames[i]
		for shift := 0; shift < 64; shift += 8 {
			h ^= uint64(a>>shift) & 0xff
			h *= fnvPrime
		}
	}
	s.hash = h
	s.hashValid = true
	return h
}

// Equal reports whether s and other have identical depth and frames.
func (s *CallStack) Equal(other *CallStack) bool {
	if other == nil {
		return false
	}
	if s.depth != other.depth {
		return false
	}
	for i := 0; i < s.depth; i++ {
		if s.frames[i] != other.frames[i] {
			return false
		}
	}
	return true
}

// FromSlice builds a CallStack from a leaf-first slice of addresses,
// truncating silently at MaxDepth. It is a convenience constructor for
// callers outside the signal-handler path (tests, decoders).
func FromSlice(addrs []Address) CallStack {
	var s CallStack
	for _, a := range addrs {
		if !s.Push(a) {
			break
		}
	}
	return s
}
