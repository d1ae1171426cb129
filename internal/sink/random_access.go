// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package sink

import (
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/quietloop/riftpull/internal/rangeset"
)

// is64Bit detects whether uintptr can address a typical model-sized file
// without risking address-space exhaustion from mmap; on 32-bit targets
// the sink falls back to pwrite.
const is64Bit = uint64(^uintptr(0)) == math.MaxUint64

// RandomAccess is the out-of-order sink backed by a memory-mapped sparse
// file, with a buffered pwrite fallback on 32-bit platforms, per spec
// §4.4. Pre-allocates a sparse file of exactly `size` bytes at
// construction.
type RandomAccess struct {
	f    *os.File
	size int64

	mu      sync.Mutex
	mapped  []byte // nil when using the pwrite fallback
	useMmap bool
}

// NewRandomAccess creates (or reopens) path, pre-allocating it sparse to
// exactly size bytes, and memory-maps it read-write unless the platform
// is 32-bit, in which case it falls back to pwrite.
func NewRandomAccess(path string, size uint64) (*RandomAccess, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("truncate %s to %d: %w", path, size, err)
	}

	ra := &RandomAccess{f: f, size: int64(size)}

	if is64Bit && size > 0 {
		data, err := mmapRegion(f, int64(size))
		if err == nil {
			ra.mapped = data
			ra.useMmap = true
			return ra, nil
		}
		// Fall through to pwrite; mmap can fail on some filesystems
		// (e.g. certain network mounts) even on 64-bit hosts.
	}
	return ra, nil
}

func (r *RandomAccess) Push(rg rangeset.Range, b []byte) error {
	if rg.End > uint64(r.size) {
		return fmt.Errorf("random-access sink: push range %v exceeds file size %d", rg, r.size)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.useMmap {
		copy(r.mapped[rg.Start:rg.End], b)
		return nil
	}
	if _, err := r.f.WriteAt(b, int64(rg.Start)); err != nil {
		return fmt.Errorf("random-access sink pwrite at %d: %w", rg.Start, err)
	}
	return nil
}

func (r *RandomAccess) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.useMmap {
		if len(r.mapped) == 0 {
			return nil
		}
		return msyncRegion(r.mapped)
	}
	return r.f.Sync()
}

func (r *RandomAccess) Finalize() error {
	if err := r.Flush(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.useMmap && len(r.mapped) > 0 {
		if err := munmapRegion(r.mapped); err != nil {
			return err
		}
		r.mapped = nil
	}
	return r.f.Close()
}

func (r *RandomAccess) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.useMmap && len(r.mapped) > 0 {
		munmapRegion(r.mapped)
		r.mapped = nil
	}
	return r.f.Close()
}
