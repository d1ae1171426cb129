// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package sink

import (
	"bufio"
	"fmt"
	"os"

	"github.com/quietloop/riftpull/internal/rangeset"
)

// Sequential wraps a buffered file for the fast_download=false path: a
// single worker streams bytes in order and the sink just appends,
// following the teacher's downloadSingle writer (plain os.File +
// io.Copy), generalized into the Sink capability set.
type Sequential struct {
	f      *os.File
	w      *bufio.Writer
	cursor uint64
}

// NewSequential opens path for sequential writing, truncating any
// existing content (resume is not supported on the sequential path since
// fast_download=false implies no range addressing).
func NewSequential(path string, bufSize int) (*Sequential, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	if bufSize <= 0 {
		bufSize = 256 * 1024
	}
	return &Sequential{f: f, w: bufio.NewWriterSize(f, bufSize)}, nil
}

func (s *Sequential) Push(r rangeset.Range, b []byte) error {
	if r.Start != s.cursor {
		return fmt.Errorf("sequential sink: out-of-order push at %d, cursor at %d", r.Start, s.cursor)
	}
	n, err := s.w.Write(b)
	if err != nil {
		return fmt.Errorf("sequential sink write: %w", err)
	}
	s.cursor += uint64(n)
	return nil
}

func (s *Sequential) Flush() error {
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("sequential sink flush: %w", err)
	}
	return nil
}

func (s *Sequential) Finalize() error {
	if err := s.Flush(); err != nil {
		return err
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("sequential sink sync: %w", err)
	}
	return s.f.Close()
}

func (s *Sequential) Close() error {
	return s.f.Close()
}
