// Copyright 2024 PerFlow Authors
// Licensed under the Apache License, Version 2.0

package sampler

import (
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/perflow/perfprof/internal/config"
)

// perfEvent wraps one perf_event_open file descriptor per CPU, the
// Linux kernel's PMU sampling interface. Events are opened in
// frequency mode (PerfBitFreq) for every online CPU.
type perfEvent struct {
	fds []int
}

// hwEventConfig maps a config.PrimaryEvent to perf_event_attr's
// (Type, Config) pair. L1D/L2/MemAccess events use PERF_TYPE_HW_CACHE's packed
// (cache_id | op<<8 | result<<16) encoding; the others are plain
// PERF_TYPE_HARDWARE counters.
func hwEventConfig(e config.PrimaryEvent) (uint32, uint64, error) {
	switch e {
	case config.CpuCycles:
		return unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_CPU_CYCLES, nil
	case config.Instructions:
		return unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_INSTRUCTIONS, nil
	case config.CacheMisses:
		return unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_CACHE_MISSES, nil
	case config.BranchMisses:
		return unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_BRANCH_MISSES, nil
	case config.BusCycles:
		return unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_BUS_CYCLES, nil
	case config.L1DAccess:
		return unix.PERF_TYPE_HW_CACHE, cacheConfig(unix.PERF_COUNT_HW_CACHE_L1D, unix.PERF_COUNT_HW_CACHE_OP_READ, unix.PERF_COUNT_HW_CACHE_RESULT_ACCESS), nil
	case config.L1DMiss:
		return unix.PERF_TYPE_HW_CACHE, cacheConfig(unix.PERF_COUNT_HW_CACHE_L1D, unix.PERF_COUNT_HW_CACHE_OP_READ, unix.PERF_COUNT_HW_CACHE_RESULT_MISS), nil
	case config.L2Access:
		return unix.PERF_TYPE_HW_CACHE, cacheConfig(unix.PERF_COUNT_HW_CACHE_LL, unix.PERF_COUNT_HW_CACHE_OP_READ, unix.PERF_COUNT_HW_CACHE_RESULT_ACCESS), nil
	case config.L2Miss:
		return unix.PERF_TYPE_HW_CACHE, cacheConfig(unix.PERF_COUNT_HW_CACHE_LL, unix.PERF_COUNT_HW_CACHE_OP_READ, unix.PERF_COUNT_HW_CACHE_RESULT_MISS), nil
	case config.MemAccess:
		return unix.PERF_TYPE_HW_CACHE, cacheConfig(unix.PERF_COUNT_HW_CACHE_LL, unix.PERF_COUNT_HW_CACHE_OP_READ, unix.PERF_COUNT_HW_CACHE_RESULT_ACCESS), nil
	default:
		return 0, 0, fmt.Errorf("%w: primary event %s has no hardware mapping", ErrNotSupported, e)
	}
}

func cacheConfig(id, op, result uint64) uint64 {
	return id | (op << 8) | (result << 16)
}

// openPerfEvent opens one disabled perf event per CPU, sampling at
// cfg.Frequency. Opening never enables counting; Start does that via
// PERF_EVENT_IOC_ENABLE.
func openPerfEvent(cfg config.SamplerConfig) (*perfEvent, error) {
	typ, eventConfig, err := hwEventConfig(cfg.PrimaryEvent)
	if err != nil {
		return nil, err
	}

	attr := unix.PerfEventAttr{
		Type:   typ,
		Config: eventConfig,
		Size:   uint32(unsafe.Sizeof(unix.PerfEventAttr{})),
		Sample: cfg.Frequency,
		Bits:   unix.PerfBitDisabled | unix.PerfBitFreq,
	}

	ncpu := runtime.NumCPU()
	fds := make([]int, 0, ncpu)
	for cpu := 0; cpu < ncpu; cpu++ {
		fd, err := unix.PerfEventOpen(&attr, -1, cpu, -1, unix.PERF_FLAG_FD_CLOEXEC)
		if err != nil {
			for _, f := range fds {
				unix.Close(f)
			}
			if err == unix.EACCES || err == unix.EPERM {
				return nil, fmt.Errorf("%w: %v", ErrPermission, err)
			}
			return nil, fmt.Errorf("%w: perf_event_open: %v", ErrNotSupported, err)
		}
		fds = append(fds, fd)
	}
	return &perfEvent{fds: fds}, nil
}

func (p *perfEvent) enable() error {
	if p == nil {
		return nil
	}
	for _, fd := range p.fds {
		if err := unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_ENABLE, 0); err != nil {
			return fmt.Errorf("%w: enable perf event: %v", ErrInternal, err)
		}
	}
	return nil
}

func (p *perfEvent) disable() {
	if p == nil {
		return
	}
	for _, fd := range p.fds {
		unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_DISABLE, 0)
	}
}

func (p *perfEvent) close() {
	if p == nil {
		return
	}
	for _, fd := range p.fds {
		unix.Close(fd)
	}
	p.fds = nil
}
