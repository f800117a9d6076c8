// Copyright 2024 PerFlow Authors
// Licensed under the Apache License, Version 2.0

// Package sampler implements the in-process sampler: a signal-safe,
// allocation-free capture path that interns call stacks into a
// fixed-capacity concurrent hash map and periodically flushes them to
// disk alongside a snapshot of the process's executable memory layout.
//
// The lifecycle is Initialize/Start/Stop/Cleanup with an explicit
// state machine. Stack capture uses runtime.Callers rather than raw
// frame-pointer walking: the Go runtime owns its stack layout, and
// Callers is the allocation-free walker it exposes for it.
package sampler

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/perflow/perfprof/internal/callstack"
	"github.com/perflow/perfprof/internal/codec"
	"github.com/perflow/perfprof/internal/config"
	"github.com/perflow/perfprof/internal/internmap"
	"github.com/perflow/perfprof/internal/libmap"
)

// Status is one state of the Sampler lifecycle state machine.
type Status int

const (
	Uninitialized Status = iota
	Initialized
	Running
	Stopped
)

func (s Status) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Initialized:
		return "Initialized"
	case Running:
		return "Running"
	case Stopped:
		return "Stopped"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Sampler error kinds.
var (
	ErrNotSupported  = errors.New("sampler: event not supported")
	ErrPermission    = errors.New("sampler: permission denied")
	ErrBadState      = errors.New("sampler: operation invalid in current state")
	ErrConfigInvalid = errors.New("sampler: invalid configuration")
	ErrInternal      = errors.New("sampler: internal error")
)

// openPerfEventFn is a seam over the platform-specific openPerfEvent,
// so tests can substitute a fake event source instead of requiring
// perf_event_open privileges in whatever environment the tests run.
var openPerfEventFn = openPerfEvent

// defaultMapCapacity bounds how many distinct call stacks one process
// can intern between flushes. Stacks past capacity are dropped and
// counted, never blocked on.
const defaultMapCapacity = 1 << 16

// Sampler owns one InternMap and the platform event source that drives
// OnOverflow. The hot path (OnOverflow) touches only atomics and the
// InternMap's lock-free slots; every other method may block.
type Sampler struct {
	mu     sync.Mutex
	status Status
	cfg    config.SamplerConfig
	rank   int
	event  *perfEvent

	samples *internmap.Map[callstack.CallStack]
	libMap  *libmap.Map

	// pcBuf is the reusable program-counter buffer captureCallStack
	// re-slices on every overflow; sized once in Initialize so the hot
	// path never allocates.
	pcBuf []uintptr

	sampleCount   atomic.Uint64
	overflowCount atomic.Uint64
	dropCount     atomic.Uint64

	flushStop chan struct{}
	flushDone chan struct{}
}

// New constructs an uninitialized Sampler.
func New() *Sampler {
	return &Sampler{status: Uninitialized}
}

// Initialize transitions Uninitialized|Stopped -> Initialized,
// allocating the InternMap and opening (but not enabling) the
// platform perf event.
func (s *Sampler) Initialize(cfg config.SamplerConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != Uninitialized && s.status != Stopped {
		return fmt.Errorf("%w: Initialize from %s", ErrBadState, s.status)
	}
	if cfg.MaxStackDepth <= 0 || cfg.MaxStackDepth > callstack.MaxDepth {
		return fmt.Errorf("%w: max_stack_depth %d out of range [1, %d]", ErrConfigInvalid, cfg.MaxStackDepth, callstack.MaxDepth)
	}
	if cfg.Frequency == 0 {
		return fmt.Errorf("%w: frequency must be positive", ErrConfigInvalid)
	}

	ev, err := openPerfEventFn(cfg)
	if err != nil {
		return err
	}

	// Re-initializing from Stopped replaces the previous event source.
	if s.event != nil {
		s.event.close()
	}
	s.cfg = cfg
	s.rank = config.DeriveRank()
	s.event = ev
	s.samples = internmap.New[callstack.CallStack](defaultMapCapacity, func(c callstack.CallStack) uint64 { return c.Hash() })
	s.pcBuf = make([]uintptr, captureDepth(cfg))
	s.libMap = libmap.New()
	s.libMap.ParseCurrentProcess()
	s.sampleCount.Store(0)
	s.overflowCount.Store(0)
	s.dropCount.Store(0)
	s.status = Initialized
	return nil
}

// Start transitions Initialized|Stopped -> Running, enabling the
// platform perf event. When flush_interval_seconds is nonzero it also
// launches a background goroutine that calls Flush at that interval
// until Stop or Cleanup.
func (s *Sampler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != Initialized && s.status != Stopped {
		return fmt.Errorf("%w: Start from %s", ErrBadState, s.status)
	}
	if err := s.event.enable(); err != nil {
		return err
	}
	s.status = Running
	if s.cfg.FlushIntervalSeconds > 0 && s.flushStop == nil {
		s.flushStop = make(chan struct{})
		s.flushDone = make(chan struct{})
		go s.flushLoop(time.Duration(s.cfg.FlushIntervalSeconds)*time.Second, s.flushStop, s.flushDone)
	}
	return nil
}

// flushLoop periodically persists the sample map. Flush errors do not
// stop sampling; the loop keeps going until stop is closed.
func (s *Sampler) flushLoop(interval time.Duration, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_ = s.Flush()
		}
	}
}

// stopFlushLoopLocked joins the periodic flush goroutine, if running.
// Callers must hold s.mu.
func (s *Sampler) stopFlushLoopLocked() {
	if s.flushStop == nil {
		return
	}
	close(s.flushStop)
	done := s.flushDone
	s.flushStop = nil
	s.flushDone = nil
	// Release the lock while joining: the loop's Flush takes s.mu too.
	s.mu.Unlock()
	<-done
	s.mu.Lock()
}

// Stop transitions Running -> Stopped, disabling the platform perf
// event. It is idempotent: calling Stop while already Stopped is a
// no-op success.
func (s *Sampler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == Stopped {
		return nil
	}
	if s.status != Running {
		return fmt.Errorf("%w: Stop from %s", ErrBadState, s.status)
	}
	s.event.disable()
	s.status = Stopped
	s.stopFlushLoopLocked()
	return nil
}

// Cleanup stops sampling if running, closes the platform event, and
// returns to Uninitialized. It is idempotent and safe to call from any
// state.
func (s *Sampler) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == Running {
		s.event.disable()
	}
	s.stopFlushLoopLocked()
	if s.event != nil {
		s.event.close()
		s.event = nil
	}
	s.status = Uninitialized
}

// Status returns the sampler's current lifecycle state.
func (s *Sampler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SampleCount returns the total number of samples recorded.
func (s *Sampler) SampleCount() uint64 { return s.sampleCount.Load() }

// OverflowCount returns the number of overflow events handled,
// including ones whose stack was dropped for lack of InternMap
// capacity.
func (s *Sampler) OverflowCount() uint64 { return s.overflowCount.Load() }

// DropCount returns the number of overflow events whose stack could
// not be recorded because the InternMap was full.
func (s *Sampler) DropCount() uint64 { return s.dropCount.Load() }

// OnOverflow is the hot entry point, invoked on PMU overflow or timer
// tick. It must not block and must not allocate: it touches only
// atomics and the InternMap's lock-free slot machinery. Failures
// (InternMap full) are recorded as a drop counter, never returned:
// overflow capture never fails visibly.
func (s *Sampler) OnOverflow() {
	samples := s.samples
	if samples == nil {
		return
	}
	s.overflowCount.Add(1)

	var stack callstack.CallStack
	s.captureCallStack(&stack)

	if samples.Increment(stack, 1) {
		s.sampleCount.Add(1)
	} else {
		s.dropCount.Add(1)
	}
}

// captureDepth computes the program-counter buffer size Initialize
// pre-allocates and captureCallStack re-slices from, given cfg.
func captureDepth(cfg config.SamplerConfig) int {
	depth := cfg.MaxStackDepth
	if depth <= 0 || depth > callstack.MaxDepth {
		depth = callstack.MaxDepth
	}
	if !cfg.EnableStackUnwinding {
		depth = 1
	}
	return depth
}

// captureCallStack fills stack using runtime.Callers, which walks Go's
// own stack metadata instead of following raw frame pointers. When
// stack unwinding is disabled, only the single overflow-site PC is
// pushed.
// It re-slices s.pcBuf, sized once in Initialize, instead of
// allocating, so OnOverflow's hot path stays allocation-free.
func (s *Sampler) captureCallStack(stack *callstack.CallStack) {
	pcs := s.pcBuf[:cap(s.pcBuf)]
	n := runtime.Callers(2, pcs)
	for i := 0; i < n; i++ {
		if !stack.Push(callstack.Address(pcs[i])) {
			break
		}
	}
}

// Flush persists the InternMap and the current LibraryMap snapshot.
// Files are named <stem>_rank_<N>.{pflw,libmap} so the analyzer can
// recover the producing process's rank from the file name. I/O errors
// are returned to the caller; sampling itself is unaffected and may
// continue.
func (s *Sampler) Flush() error {
	s.mu.Lock()
	cfg := s.cfg
	rank := s.rank
	samples := s.samples
	lm := s.libMap
	s.mu.Unlock()

	if samples == nil {
		return fmt.Errorf("%w: Flush before Initialize", ErrBadState)
	}

	compression := codec.CompressionNone
	if cfg.CompressOutput {
		compression = codec.CompressionGzip
	}

	stem := fmt.Sprintf("%s_rank_%d", cfg.OutputFilename, rank)

	tracePath := outputPath(cfg.OutputDirectory, stem, "pflw", cfg.CompressOutput)
	if err := codec.EncodeSamplesFile(tracePath, samples, cfg.MaxStackDepth, compression); err != nil {
		return fmt.Errorf("%w: flush samples: %v", ErrInternal, err)
	}

	libMapPath := outputPath(cfg.OutputDirectory, stem, "libmap", cfg.CompressOutput)
	if err := codec.EncodeLibMapFile(libMapPath, uint32(rank), lm, compression); err != nil {
		return fmt.Errorf("%w: flush libmap: %v", ErrInternal, err)
	}
	return nil
}

func outputPath(directory, stem, suffix string, compressed bool) string {
	name := stem + "." + suffix
	if compressed {
		name += ".gz"
	}
	if directory == "" {
		return name
	}
	return directory + "/" + name
}
