// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package dispatch implements the Work Dispatcher (spec §4.5): it turns a
// ProgressSet of remaining ranges into a bounded channel of WorkChunks fed
// to a fixed pool of worker ids, splitting long tails across workers but
// never below min_chunk_size.
package dispatch

import (
	"context"

	"github.com/quietloop/riftpull/internal/rangeset"
)

// Chunk mirrors pkg/riftpull.WorkChunk without importing it, to keep this
// package dependency-free of the engine façade.
type Chunk struct {
	WorkerID int
	Range    rangeset.Range
}

// Plan computes the chunks to feed workers for one dispatch pass, split
// across `concurrent` workers and never smaller than minChunkSize.
//
// Policy (spec §4.5):
//  1. A remaining range longer than size/concurrent is split evenly into
//     concurrent pieces, last piece absorbing the remainder.
//  2. No piece is ever smaller than minChunkSize.
func Plan(remaining []rangeset.Range, concurrent int, minChunkSize uint64) []rangeset.Range {
	if concurrent < 1 {
		concurrent = 1
	}
	if minChunkSize == 0 {
		minChunkSize = 1
	}

	var total uint64
	for _, r := range remaining {
		total += r.Len()
	}
	if total == 0 {
		return nil
	}

	target := total / uint64(concurrent)
	if target < minChunkSize {
		target = minChunkSize
	}

	var out []rangeset.Range
	for _, r := range remaining {
		out = append(out, splitRange(r, target, uint64(concurrent), minChunkSize)...)
	}
	return out
}

func splitRange(r rangeset.Range, target, count, minChunkSize uint64) []rangeset.Range {
	length := r.Len()
	if length <= target || target == 0 {
		return []rangeset.Range{r}
	}

	n := count
	// Never split below minChunkSize: cap n so each piece stays >= minChunkSize.
	if maxPieces := length / minChunkSize; maxPieces > 0 && n > maxPieces {
		n = maxPieces
	}
	if n <= 1 {
		return []rangeset.Range{r}
	}

	pieceLen := length / n
	pieces := make([]rangeset.Range, 0, n)
	cursor := r.Start
	for i := uint64(0); i < n-1; i++ {
		pieces = append(pieces, rangeset.Range{Start: cursor, End: cursor + pieceLen})
		cursor += pieceLen
	}
	pieces = append(pieces, rangeset.Range{Start: cursor, End: r.End}) // last piece absorbs remainder
	return pieces
}

// Queue feeds Chunks to a bounded channel, assigning stable worker ids in
// [0, concurrent) round-robin. Workers pull greedily from the shared
// channel; work-stealing is unnecessary since pieces are homogeneous.
//
// Queue closes the returned channel once every chunk has been sent or ctx
// is cancelled.
func Queue(ctx context.Context, chunks []rangeset.Range, concurrent int, cap int) <-chan Chunk {
	out := make(chan Chunk, cap)
	go func() {
		defer close(out)
		for i, r := range chunks {
			c := Chunk{WorkerID: i % concurrent, Range: r}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
