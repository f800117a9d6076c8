// Copyright 2024 PerFlow Authors
// Licensed under the Apache License, Version 2.0

package sampler

import "golang.org/x/sys/unix"

// ProcessAlive reports whether pid names a live process, using the
// signal-0 idiom (send no signal, just check for ESRCH).
func ProcessAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
