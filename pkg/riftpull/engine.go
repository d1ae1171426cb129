// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package riftpull

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quietloop/riftpull/internal/dispatch"
	"github.com/quietloop/riftpull/internal/diskspace"
	"github.com/quietloop/riftpull/internal/events"
	"github.com/quietloop/riftpull/internal/httpclient"
	"github.com/quietloop/riftpull/internal/prefetch"
	"github.com/quietloop/riftpull/internal/puller"
	"github.com/quietloop/riftpull/internal/rangeset"
	"github.com/quietloop/riftpull/internal/retry"
	"github.com/quietloop/riftpull/internal/sink"
	"github.com/quietloop/riftpull/internal/store"
)

// State is one of the Engine Façade's lifecycle states (spec §4.8).
type State string

const (
	StatePreparing State = "preparing"
	StateRunning   State = "running"
	StateDraining  State = "draining"
	StateDone      State = "done"
	StateAborted   State = "aborted"
)

// Engine composes the Prefetcher, Dispatcher, Pullers, Sink, Event bus,
// and Store behind a single Download call, owning the cancellation token
// and the join barrier. Grounded on the teacher's Download orchestration
// in hfdownloader/downloader.go, generalized from "N files in one HF
// repo" to "one URL, N chunks".
type Engine struct {
	Store  *store.Store
	state  atomic.Value // State
}

// NewEngine builds an Engine backed by the given Store.
func NewEngine(st *store.Store) *Engine {
	e := &Engine{Store: st}
	e.state.Store(StatePreparing)
	return e
}

// State reports the engine's current lifecycle state.
func (e *Engine) State() State { return e.state.Load().(State) }

// Download runs the full pipeline for a single Args. It returns nil both
// on successful completion and on cooperative cancellation (spec §4.8,
// §5): cancellation is not an error.
func (e *Engine) Download(ctx context.Context, args Args) error {
	e.state.Store(StatePreparing)

	clientOpts := httpclient.Options{Proxy: args.Proxy, BrowserEmulation: args.BrowserEmulation, ExtraHeaders: args.Headers}
	client, err := httpclient.New(clientOpts)
	if err != nil {
		return newErr(KindPreflight, "building http client", err)
	}

	prefetchPolicy := retry.Policy{Gap: args.RetryGap, MaxRetries: args.MaxRetries}
	info, err := prefetch.Probe(ctx, client, args.URL, args.Headers, clientOpts, prefetchPolicy)
	if err != nil {
		return newErr(KindTransport, "prefetch failed", err)
	}

	name := args.FileName
	if name == "" {
		name = sanitizeName(info.RawName)
	}
	dst := filepath.Join(args.SaveFolder, name)
	partPath := dst + partSuffix

	writeProgress, elapsedMs, err := e.resolveResume(args, dst, partPath, info)
	if err != nil {
		return err
	}
	if writeProgress == nil {
		// Validation rejected the resume/overwrite: graceful cancel-expected exit.
		return nil
	}

	if info.FastDownload && info.Size > 0 {
		remaining := rangeset.Invert(writeProgress, info.Size, args.MinChunkSize).Total()
		if err := diskspace.CheckFree(args.SaveFolder, remaining); err != nil {
			return newErr(KindPreflight, "insufficient free space", err)
		}
	}

	if err := os.MkdirAll(args.SaveFolder, 0o755); err != nil {
		return newErr(KindPreflight, "creating save folder", err)
	}

	var s sink.Sink
	if info.FastDownload {
		s, err = sink.NewRandomAccess(partPath, info.Size)
	} else {
		s, err = sink.NewSequential(partPath, args.WriteBufferSize)
	}
	if err != nil {
		return newErr(KindPreflight, "opening sink", err)
	}

	e.Store.InitEntry(partPath, name, info.Size, info.ETag, info.LastModified, info.FinalURL)

	// Fold the probe's already-read first byte into progress so worker 0
	// never re-requests it.
	if info.FastDownload && len(info.FirstByte) > 0 && !writeProgress.Contains(rangeset.Range{Start: 0, End: uint64(len(info.FirstByte))}) {
		if err := s.Push(rangeset.Range{Start: 0, End: uint64(len(info.FirstByte))}, info.FirstByte); err != nil {
			s.Close()
			return newErr(KindSinkIO, "writing probe byte", err)
		}
		writeProgress.Merge(rangeset.Range{Start: 0, End: uint64(len(info.FirstByte))})
	}

	e.state.Store(StateRunning)
	start := time.Now()

	runErr := e.run(ctx, args, info, client, clientOpts, partPath, s, writeProgress, elapsedMs)

	sessionElapsed := elapsedMs + time.Since(start).Milliseconds()

	if ctx.Err() != nil {
		// Cancellation path: drain already accepted, persist, exit success.
		e.state.Store(StateDraining)
		if err := s.Flush(); err != nil {
			e.state.Store(StateAborted)
			return newErr(KindSinkIO, "flush on cancel", err)
		}
		s.Close()
		e.Store.UpdateEntry(partPath, writeProgress, sessionElapsed)
		e.state.Store(StateDone)
		return nil
	}

	if runErr != nil {
		s.Close()
		e.state.Store(StateAborted)
		return runErr
	}

	if err := s.Finalize(); err != nil {
		e.state.Store(StateAborted)
		return newErr(KindSinkIO, "finalize", err)
	}

	final, err := finalPath(dst)
	if err != nil {
		e.state.Store(StateAborted)
		return newErr(KindSinkIO, "resolving final name", err)
	}
	if err := os.Rename(partPath, final); err != nil {
		e.state.Store(StateAborted)
		return newErr(KindSinkIO, "renaming into place", err)
	}
	e.Store.RemoveEntry(partPath)
	e.state.Store(StateDone)
	return nil
}

// resolveResume implements spec §4.8 steps 3-4: decide whether to resume
// from a prior .fdpart + store entry, require overwrite confirmation, or
// reject via Validation. A nil, non-error return means "validation
// rejected; treat as a graceful cancel".
func (e *Engine) resolveResume(args Args, dst, partPath string, info *prefetch.Result) (*rangeset.Set, int64, error) {
	confirm := args.Confirm
	if confirm == nil {
		confirm = func(string, bool) bool { return args.Resume }
	}

	_, partExists := os.Stat(partPath)
	partFileExists := partExists == nil
	rec, hasRecord := e.Store.GetEntry(partPath)

	if partFileExists && info.FastDownload && hasRecord {
		identity := FileIdentity{ETag: info.ETag, LastModified: info.LastModified}
		stored := FileIdentity{ETag: rec.ETag, LastModified: rec.LastModified}

		mismatch := rec.FileSize != info.Size || !stored.Equal(identity)
		if mismatch {
			prompt := fmt.Sprintf("remote copy of %q has changed since the last partial download; start over?", dst)
			if !confirm(prompt, false) {
				return nil, 0, nil // Validation: graceful cancel
			}
			e.Store.RemoveEntry(partPath)
			return rangeset.New(), 0, nil
		}

		prompt := fmt.Sprintf("resume partial download of %q?", dst)
		if !args.Resume && !confirm(prompt, true) {
			return nil, 0, nil
		}
		return rec.Progress(), rec.ElapsedMs, nil
	}

	if _, err := os.Stat(dst); err == nil && !args.Force {
		prompt := fmt.Sprintf("%q already exists; overwrite?", dst)
		if !confirm(prompt, false) {
			return nil, 0, nil
		}
	}

	return rangeset.New(), 0, nil
}

// run spawns the dispatcher, worker pool, and event consumer, and blocks
// until they join (spec §4.8 steps 7-8, §5's join barrier).
func (e *Engine) run(ctx context.Context, args Args, info *prefetch.Result, client *http.Client, clientOpts httpclient.Options, partPath string, s sink.Sink, writeProgress *rangeset.Set, priorElapsedMs int64) error {
	concurrent := args.Concurrent
	if !info.FastDownload {
		concurrent = 1 // fast_download=false implies single-stream regardless of caller preference
	}

	var chunks []rangeset.Range
	if info.FastDownload {
		remaining := rangeset.Invert(writeProgress, info.Size, args.MinChunkSize)
		chunks = dispatch.Plan(remaining.Entries(), concurrent, args.MinChunkSize)
		if len(chunks) == 0 {
			return nil // already fully covered (e.g. zero-byte file)
		}
	} else if info.Size > 0 {
		// Known length without range support: the sequential sink starts
		// from an empty file, so the whole body is one chunk.
		chunks = []rangeset.Range{{Start: 0, End: info.Size}}
	} else {
		// Unknown total length (info.Size == 0: a 200 response with no
		// Content-Length, per prefetch.go). There is no remaining-bytes
		// complement to invert against — drive a single unbounded stream
		// that runs until the server closes the connection (DESIGN.md
		// Open Question 1).
		chunks = []rangeset.Range{{Start: 0, End: 0}}
	}

	bus := events.NewBus(args.PushQueueCap)
	var mu sync.Mutex
	lastFlush := time.Now()

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		for ev := range bus.Events() {
			if args.Observer != nil {
				args.Observer(ev)
			}
			if ev.Kind == events.KindPushProgress {
				mu.Lock()
				writeProgress.Merge(rangeset.Range{Start: ev.Offset, End: ev.Offset + ev.Length})
				if time.Since(lastFlush) >= 500*time.Millisecond {
					e.Store.UpdateEntry(partPath, writeProgress, priorElapsedMs)
					lastFlush = time.Now()
				}
				mu.Unlock()
			}
		}
	}()

	chunkCh := dispatch.Queue(ctx, chunks, concurrent, args.PushQueueCap)

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < concurrent; w++ {
		workerID := w
		g.Go(func() error {
			for c := range chunkCh {
				cfg := puller.Config{
					Client:       client,
					URL:          info.FinalURL,
					Headers:      args.Headers,
					ClientOpts:   clientOpts,
					RetryPolicy:  retry.Policy{Gap: args.RetryGap, MaxRetries: args.MaxRetries},
					PullTimeout:  args.PullTimeout,
					Bus:          bus,
					FastDownload: info.FastDownload,
				}
				if err := puller.Pull(gctx, workerID, c.Range, cfg, s); err != nil {
					if gctx.Err() != nil {
						return nil // cooperative cancellation, not a failure
					}
					return err
				}
			}
			bus.Send(context.Background(), events.Event{Kind: events.KindFinished, Time: time.Now(), ChunkID: workerID})
			return nil
		})
	}

	err := g.Wait()
	bus.Close()
	<-consumerDone

	mu.Lock()
	e.Store.UpdateEntry(partPath, writeProgress, priorElapsedMs)
	mu.Unlock()

	return err
}
