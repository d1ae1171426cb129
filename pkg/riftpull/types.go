// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package riftpull is the parallel ranged-download engine: it probes a
// URL, partitions [0, size) into chunks served to a bounded worker pool,
// streams bodies into a random-access or sequential sink, persists write
// progress for durable resumption, and coordinates cooperative
// cancellation.
package riftpull

import (
	"time"

	"github.com/quietloop/riftpull/internal/rangeset"
)

// ByteRange is a half-open interval of unsigned byte offsets.
type ByteRange = rangeset.Range

// FileIdentity is the weak (etag, last_modified) pair used only for
// equality comparison across runs, never parsed semantically.
type FileIdentity struct {
	ETag         string
	LastModified string
}

// Equal reports whether two identities match. An identity with both
// fields empty never equals anything, including another empty identity —
// "no identity" carries no resumption guarantee.
func (f FileIdentity) Equal(other FileIdentity) bool {
	if f.ETag == "" && f.LastModified == "" {
		return false
	}
	return f.ETag == other.ETag && f.LastModified == other.LastModified
}

// UrlInfo is the result of a successful prefetch probe.
type UrlInfo struct {
	FinalURL     string
	Size         uint64 // exact content length; required when FastDownload
	RawName      string
	Identity     FileIdentity
	FastDownload bool // server advertised Accept-Ranges and honored a 0-0 probe with 206
}

// DownloadRecord is the persisted state of one in-flight target path.
type DownloadRecord struct {
	FileName     string
	FileSize     uint64
	Identity     FileIdentity
	Progress     *rangeset.Set
	ElapsedMs    int64
	URL          string
}

// WorkChunk is handed to exactly one worker. Ownership transfers: the
// worker either completes it, reports a terminal error, or releases it on
// cancellation.
type WorkChunk struct {
	WorkerID int
	Range    ByteRange
}

// Args configures a single Download call, matching the engine API surface.
type Args struct {
	URL         string
	SaveFolder  string
	FileName    string // optional override of the derived name
	Headers     map[string]string
	Proxy       string
	BrowserEmulation bool

	Force  bool // overwrite an existing final file without asking
	Resume bool // attempt resume when a prior .fdpart + store entry exists

	Concurrent     int
	MinChunkSize   uint64
	RetryGap       time.Duration
	MaxRetries     int
	PullTimeout    time.Duration
	WriteBufferSize int
	PushQueueCap    int

	// Confirm is called for file-exists-no-resume, size-mismatch,
	// etag-mismatch, weak-etag-present, no-etag-present, and
	// last-modified-mismatch decisions. A headless caller supplies a
	// pre-decided boolean.
	Confirm func(prompt string, defaultYes bool) bool

	// Observer receives every Event emitted during the run, in the
	// ordering guarantees documented in internal/events.
	Observer func(Event)
}

// DefaultArgs returns sane defaults for fields Args callers commonly leave
// unset.
func DefaultArgs() Args {
	return Args{
		Concurrent:      8,
		BrowserEmulation: true,
		MinChunkSize:    1 << 20, // 1 MiB
		RetryGap:        2 * time.Second,
		MaxRetries:      5,
		PullTimeout:     30 * time.Second,
		WriteBufferSize: 256 * 1024,
		PushQueueCap:    64,
	}
}
