// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package diskspace

import "fmt"

// ErrInsufficientSpace is returned by CheckFree when fewer bytes are free
// on disk than required.
type ErrInsufficientSpace struct {
	Required  uint64
	Available uint64
}

func (e *ErrInsufficientSpace) Error() string {
	return fmt.Sprintf("need %d bytes, only %d available", e.Required, e.Available)
}

// CheckFree verifies at least required bytes are free under dir, the
// Engine Façade's Preflight step (spec §4.8 step 5). It aborts the run
// before any workers start, as a structured Preflight error distinct from
// mid-run Sink I/O failures.
func CheckFree(dir string, required uint64) error {
	avail, err := Available(dir)
	if err != nil {
		return fmt.Errorf("statfs %s: %w", dir, err)
	}
	if avail < required {
		return &ErrInsufficientSpace{Required: required, Available: avail}
	}
	return nil
}
