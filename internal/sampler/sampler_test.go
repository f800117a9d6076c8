// Copyright 2024 PerFlow Authors
// Licensed under the Apache License, Version 2.0

package sampler

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/perflow/perfprof/internal/config"
)

func fakeOpenPerfEvent(t *testing.T) {
	t.Helper()
	original := openPerfEventFn
	openPerfEventFn = func(cfg config.SamplerConfig) (*perfEvent, error) {
		return &perfEvent{}, nil
	}
	t.Cleanup(func() { openPerfEventFn = original })
}

func testConfig(t *testing.T) config.SamplerConfig {
	cfg := config.Default()
	cfg.OutputDirectory = t.TempDir()
	return cfg
}

func TestLifecycleHappyPath(t *testing.T) {
	fakeOpenPerfEvent(t)
	s := New()

	if s.Status() != Uninitialized {
		t.Fatalf("new Sampler status = %v, want Uninitialized", s.Status())
	}
	if err := s.Initialize(testConfig(t)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if s.Status() != Initialized {
		t.Fatalf("status after Initialize = %v, want Initialized", s.Status())
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.Status() != Running {
		t.Fatalf("status after Start = %v, want Running", s.Status())
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.Status() != Stopped {
		t.Fatalf("status after Stop = %v, want Stopped", s.Status())
	}
	s.Cleanup()
	if s.Status() != Uninitialized {
		t.Fatalf("status after Cleanup = %v, want Uninitialized", s.Status())
	}
}

func TestStartBeforeInitializeFailsWithBadState(t *testing.T) {
	s := New()
	if err := s.Start(); !errors.Is(err, ErrBadState) {
		t.Errorf("Start before Initialize: got %v, want ErrBadState", err)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	fakeOpenPerfEvent(t)
	s := New()
	if err := s.Stop(); !errors.Is(err, ErrBadState) {
		t.Errorf("Stop before Initialize: got %v, want ErrBadState", err)
	}

	if err := s.Initialize(testConfig(t)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop while already Stopped should be a no-op success, got %v", err)
	}
}

func TestCleanupFromAnyStateReturnsToUninitialized(t *testing.T) {
	fakeOpenPerfEvent(t)
	s := New()
	s.Cleanup()
	if s.Status() != Uninitialized {
		t.Errorf("Cleanup on a fresh Sampler: status = %v, want Uninitialized", s.Status())
	}

	if err := s.Initialize(testConfig(t)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	s.Cleanup()
	if s.Status() != Uninitialized {
		t.Errorf("Cleanup after Initialize: status = %v, want Uninitialized", s.Status())
	}
}

func TestInitializeRejectsInvalidConfig(t *testing.T) {
	fakeOpenPerfEvent(t)
	s := New()

	cfg := testConfig(t)
	cfg.Frequency = 0
	if err := s.Initialize(cfg); !errors.Is(err, ErrConfigInvalid) {
		t.Errorf("Initialize with zero frequency: got %v, want ErrConfigInvalid", err)
	}

	cfg = testConfig(t)
	cfg.MaxStackDepth = 0
	if err := s.Initialize(cfg); !errors.Is(err, ErrConfigInvalid) {
		t.Errorf("Initialize with zero max stack depth: got %v, want ErrConfigInvalid", err)
	}
}

func TestOnOverflowRecordsSamplesAndNeverBlocks(t *testing.T) {
	fakeOpenPerfEvent(t)
	s := New()
	if err := s.Initialize(testConfig(t)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i := 0; i < 10; i++ {
		s.OnOverflow()
	}

	if s.OverflowCount() != 10 {
		t.Errorf("OverflowCount() = %d, want 10", s.OverflowCount())
	}
	if s.SampleCount() == 0 {
		t.Error("expected at least one sample to be recorded")
	}
	if s.DropCount() != 0 {
		t.Errorf("DropCount() = %d, want 0 (map should not be full)", s.DropCount())
	}
}

func TestFlushWritesTraceAndLibMapFiles(t *testing.T) {
	fakeOpenPerfEvent(t)
	t.Setenv("PERFPROF_RANK", "0")
	s := New()
	cfg := testConfig(t)
	cfg.OutputFilename = "testrun"
	if err := s.Initialize(cfg); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.OnOverflow()

	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if _, err := os.Stat(filepath.Join(cfg.OutputDirectory, "testrun_rank_0.pflw")); err != nil {
		t.Errorf("expected trace file to exist: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.OutputDirectory, "testrun_rank_0.libmap")); err != nil {
		t.Errorf("expected libmap file to exist: %v", err)
	}
}

func TestFlushBeforeInitializeFails(t *testing.T) {
	s := New()
	if err := s.Flush(); !errors.Is(err, ErrBadState) {
		t.Errorf("Flush before Initialize: got %v, want ErrBadState", err)
	}
}
