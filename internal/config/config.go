// Copyright 2024 PerFlow Authors
// Licensed under the Apache License, Version 2.0

// Package config centralizes the sampler shim's environment-variable
// configuration into a populated SamplerConfig, plus the MPI-style
// rank bootstrap used to name per-process output files.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/perflow/perfprof/internal/callstack"
)

// PrimaryEvent enumerates the hardware events a Sampler can be
// configured to overflow on.
type PrimaryEvent int

const (
	CpuCycles PrimaryEvent = iota
	Instructions
	CacheMisses
	BranchMisses
	L1DAccess
	L1DMiss
	L2Access
	L2Miss
	BusCycles
	MemAccess
	Custom
)

func (e PrimaryEvent) String() string {
	switch e {
	case CpuCycles:
		return "CpuCycles"
	case Instructions:
		return "Instructions"
	case CacheMisses:
		return "CacheMisses"
	case BranchMisses:
		return "BranchMisses"
	case L1DAccess:
		return "L1DAccess"
	case L1DMiss:
		return "L1DMiss"
	case L2Access:
		return "L2Access"
	case L2Miss:
		return "L2Miss"
	case BusCycles:
		return "BusCycles"
	case MemAccess:
		return "MemAccess"
	case Custom:
		return "Custom"
	default:
		return fmt.Sprintf("PrimaryEvent(%d)", int(e))
	}
}

// TimerMethod selects the sampler's timing source (TIMER_METHOD).
type TimerMethod int

const (
	TimerCycle TimerMethod = iota
	TimerPosix
	TimerAuto
)

func (m TimerMethod) String() string {
	switch m {
	case TimerCycle:
		return "cycle"
	case TimerPosix:
		return "posix"
	case TimerAuto:
		return "auto"
	default:
		return fmt.Sprintf("TimerMethod(%d)", int(m))
	}
}

// ParseTimerMethod parses a TIMER_METHOD value.
func ParseTimerMethod(s string) (TimerMethod, bool) {
	switch s {
	case "cycle":
		return TimerCycle, true
	case "posix":
		return TimerPosix, true
	case "auto":
		return TimerAuto, true
	default:
		return 0, false
	}
}

// Configuration defaults: a 10M cycle overflow threshold, 1000Hz
// frequency, /tmp output directory, "perflow_samples" stem.
const (
	DefaultFrequency            = 1000
	DefaultOverflowThreshold    = 10_000_000
	DefaultOutputDirectory      = "/tmp"
	DefaultOutputFilename       = "perflow_samples"
	DefaultFlushIntervalSeconds = 0
)

// DefaultMaxStackDepth is the sampler's default capture depth; it never
// exceeds callstack.MaxDepth, the hard compile-time frame capacity.
const DefaultMaxStackDepth = callstack.MaxDepth

// SamplerConfig is the configuration a Sampler is initialized with.
type SamplerConfig struct {
	EnableSampling       bool
	Frequency            uint64
	PrimaryEvent         PrimaryEvent
	OverflowThreshold    uint64
	MaxStackDepth        int
	EnableStackUnwinding bool
	CompressOutput       bool
	FlushIntervalSeconds uint32
	OutputDirectory      string
	OutputFilename       string
	TimerMethod          TimerMethod
	SymbolDebug          bool
}

// Default returns a SamplerConfig populated with the documented
// defaults.
func Default() SamplerConfig {
	return SamplerConfig{
		EnableSampling:       false,
		Frequency:            DefaultFrequency,
		PrimaryEvent:         CpuCycles,
		OverflowThreshold:    DefaultOverflowThreshold,
		MaxStackDepth:        DefaultMaxStackDepth,
		EnableStackUnwinding: true,
		CompressOutput:       false,
		FlushIntervalSeconds: DefaultFlushIntervalSeconds,
		OutputDirectory:      DefaultOutputDirectory,
		OutputFilename:       DefaultOutputFilename,
		TimerMethod:          TimerAuto,
		SymbolDebug:          false,
	}
}

// FromEnv reads the sampler environment variables over
// Default's baseline. A malformed value for a variable falls back to
// the default for that field and is reported as a warning rather than
// aborting the process.
func FromEnv() (SamplerConfig, []string) {
	cfg := Default()
	var warnings []string

	if v, ok := os.LookupEnv("ENABLE_SAMPLING"); ok {
		cfg.EnableSampling = v == "1"
	}

	if v, ok := os.LookupEnv("SAMPLING_FREQUENCY"); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil && n > 0 {
			cfg.Frequency = n
		} else {
			warnings = append(warnings, fmt.Sprintf(
				"SAMPLING_FREQUENCY=%q is not a positive integer, using default %d", v, cfg.Frequency))
		}
	}

	if v, ok := os.LookupEnv("OUTPUT_DIRECTORY"); ok && v != "" {
		cfg.OutputDirectory = v
	}
	if v, ok := os.LookupEnv("OUTPUT_FILENAME"); ok && v != "" {
		cfg.OutputFilename = v
	}

	if v, ok := os.LookupEnv("COMPRESS"); ok {
		cfg.CompressOutput = v == "1"
	}

	// CALLSTACK=0 disables unwinding; any other value (or its absence)
	// leaves the default of true in place.
	if v, ok := os.LookupEnv("CALLSTACK"); ok && v == "0" {
		cfg.EnableStackUnwinding = false
	}

	if v, ok := os.LookupEnv("TIMER_METHOD"); ok {
		if tm, ok2 := ParseTimerMethod(v); ok2 {
			cfg.TimerMethod = tm
		} else {
			warnings = append(warnings, fmt.Sprintf(
				"TIMER_METHOD=%q is not one of cycle|posix|auto, using default %s", v, cfg.TimerMethod))
		}
	}

	if v, ok := os.LookupEnv("SYMBOL_DEBUG"); ok {
		cfg.SymbolDebug = v == "1"
	}

	return cfg, warnings
}

// rankEnvVars is the fallback chain DeriveRank tries, in order,
// covering the common MPI launchers and Slurm.
var rankEnvVars = []string{
	"PERFPROF_RANK",
	"OMPI_COMM_WORLD_RANK",
	"PMI_RANK",
	"SLURM_PROCID",
}

// DeriveRank returns the process's rank for <stem>_rank_<N> file
// naming, trying each of rankEnvVars in order and falling back to 0 if
// none are set or parse.
func DeriveRank() int {
	for _, name := range rankEnvVars {
		v, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}
