// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package sink implements the write side of the pipeline: the capability
// set {Push, Flush, Finalize} shared by the sequential and random-access
// variants (spec §4.4). The two are polymorphic over this capability set,
// not related by inheritance — Engine picks one at construction time.
package sink

import "github.com/quietloop/riftpull/internal/rangeset"

// Sink is the capability set every variant implements.
type Sink interface {
	// Push writes b at the given range. For the sequential sink,
	// r.Start must equal the internal cursor. For the random-access
	// sink, r may land anywhere within [0, size).
	Push(r rangeset.Range, b []byte) error

	// Flush durably persists accepted-but-not-yet-synced writes. Not
	// called on every Push; the caller decides cadence.
	Flush() error

	// Finalize msyncs/unmaps (random-access) or closes (sequential) the
	// underlying file. Called exactly once at the end of a run.
	Finalize() error

	// Close releases any OS resources without necessarily finalizing
	// (used on the cancellation path, after Flush).
	Close() error
}
