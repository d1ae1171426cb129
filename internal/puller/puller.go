// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package puller performs a single ranged GET with retry, streaming bytes
// into a Sink and emitting ordered progress Events (spec §4.3). Grounded
// on the teacher's downloadMultipart per-part goroutine and v2's
// progressReader throttled-emission idiom.
package puller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/quietloop/riftpull/internal/events"
	"github.com/quietloop/riftpull/internal/httpclient"
	"github.com/quietloop/riftpull/internal/rangeset"
	"github.com/quietloop/riftpull/internal/retry"
	"github.com/quietloop/riftpull/internal/sink"
)

// Config holds everything a Pull call needs beyond the chunk itself.
type Config struct {
	Client      *http.Client
	URL         string
	Headers     map[string]string
	ClientOpts  httpclient.Options
	RetryPolicy retry.Policy
	PullTimeout time.Duration // per-read inactivity deadline
	Bus         *events.Bus

	// FastDownload reports whether the probe found the server honors
	// Range requests (spec §4.2). When false, Pull issues a plain GET
	// with no Range header, accepts 200 instead of 206, and treats r.End
	// as unreliable — the stream is driven to completion by the server
	// closing the connection, not by reaching r.End.
	FastDownload bool
}

var contentRangeRE = regexp.MustCompile(`^bytes (\d+)-(\d+)/(\d+|\*)$`)

// Pull fetches r from cfg.URL, pushing received bytes into s, and returns
// once the whole range has been written or a terminal error occurs.
// Transport/Protocol errors are retried internally up to
// cfg.RetryPolicy.MaxRetries, continuing from the worker's current cursor
// rather than restarting the whole chunk.
func Pull(ctx context.Context, workerID int, r rangeset.Range, cfg Config, s sink.Sink) error {
	cursor := r.Start
	attempt := 0

	for {
		if cfg.FastDownload && cursor >= r.End {
			return nil
		}

		if err := cfg.Bus.Send(ctx, events.Event{Kind: events.KindPulling, Time: now(), ChunkID: workerID, Offset: cursor, Length: r.End - cursor}); err != nil {
			return err
		}

		err := retry.Do(ctx, cfg.RetryPolicy, func() error {
			attempt++
			n, perr := pullOnce(ctx, workerID, rangeset.Range{Start: cursor, End: r.End}, cfg, s, attempt)
			cursor += n
			return perr
		})

		if err != nil {
			var sinkErr *SinkPushError
			if errors.As(err, &sinkErr) {
				cfg.Bus.Send(ctx, events.Event{Kind: events.KindPushError, Time: now(), ChunkID: workerID, Err: sinkErr.Err, Attempt: attempt})
				return sinkErr.Err
			}
			var terminal *TerminalError
			if errors.As(err, &terminal) {
				cfg.Bus.Send(ctx, events.Event{Kind: events.KindPullError, Time: now(), ChunkID: workerID, Err: terminal.Err, Attempt: attempt})
				return terminal.Err
			}
			cfg.Bus.Send(ctx, events.Event{Kind: events.KindPullError, Time: now(), ChunkID: workerID, Err: err, Attempt: attempt})
			return err
		}

		if !cfg.FastDownload {
			// A plain GET drains the whole remaining body in one call
			// (stream runs to server EOF); there is no next sub-range.
			return nil
		}
	}
}

// TerminalError wraps a non-retryable error so Do's backoff loop does not
// consume further attempts on it.
type TerminalError struct{ Err error }

func (e *TerminalError) Error() string { return e.Err.Error() }
func (e *TerminalError) Unwrap() error { return e.Err }

// SinkPushError wraps a non-retryable Sink.Push failure, kept distinct
// from TerminalError so Pull can surface it as a PushError event rather
// than a PullError (spec §3/§7 taxonomy).
type SinkPushError struct{ Err error }

func (e *SinkPushError) Error() string { return e.Err.Error() }
func (e *SinkPushError) Unwrap() error { return e.Err }

// pullOnce issues one ranged GET for the given sub-range and streams the
// body into s, returning the number of bytes actually written (which may
// be less than the full sub-range length if the connection drops
// mid-stream — the caller resumes from cursor+n).
func pullOnce(ctx context.Context, workerID int, r rangeset.Range, cfg Config, s sink.Sink, attempt int) (uint64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		return 0, retry.Permanent(&TerminalError{Err: err})
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	if cfg.FastDownload {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", r.Start, r.End-1))
	}
	httpclient.ApplyHeaders(req, cfg.ClientOpts)

	resp, err := cfg.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("puller: transport error: %w", err)
	}
	defer resp.Body.Close()

	wantStatus := http.StatusPartialContent
	if !cfg.FastDownload {
		wantStatus = http.StatusOK
	}
	if resp.StatusCode != wantStatus {
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != 408 && resp.StatusCode != 429 {
			return 0, retry.Permanent(&TerminalError{Err: fmt.Errorf("puller: non-retryable status %d", resp.StatusCode)})
		}
		return 0, fmt.Errorf("puller: unexpected status %d", resp.StatusCode)
	}
	if cfg.FastDownload {
		if cr := resp.Header.Get("Content-Range"); cr != "" && !contentRangeRE.MatchString(cr) {
			return 0, fmt.Errorf("puller: malformed Content-Range %q", cr)
		}
	}

	return stream(ctx, workerID, r, resp, cfg, s)
}

func stream(ctx context.Context, workerID int, r rangeset.Range, resp *http.Response, cfg Config, s sink.Sink) (uint64, error) {
	cursor := r.Start
	buf := make([]byte, 64*1024)

	for !cfg.FastDownload || cursor < r.End {
		n, readErr := readWithDeadline(resp.Body, buf, cfg.PullTimeout)
		if n > 0 {
			chunkRange := rangeset.Range{Start: cursor, End: cursor + uint64(n)}
			if err := cfg.Bus.Send(ctx, events.Event{Kind: events.KindPullProgress, Time: now(), ChunkID: workerID, Offset: chunkRange.Start, Length: chunkRange.Len()}); err != nil {
				return cursor - r.Start, err
			}
			if err := s.Push(chunkRange, buf[:n]); err != nil {
				return cursor - r.Start, &SinkPushError{Err: fmt.Errorf("puller: sink push: %w", err)}
			}
			if err := cfg.Bus.Send(ctx, events.Event{Kind: events.KindPushProgress, Time: now(), ChunkID: workerID, Offset: chunkRange.Start, Length: chunkRange.Len()}); err != nil {
				return cursor - r.Start, err
			}
			cursor += uint64(n)
		}
		if readErr != nil {
			if errors.Is(readErr, errReadTimeout) {
				cfg.Bus.Send(ctx, events.Event{Kind: events.KindPullTimeout, Time: now(), ChunkID: workerID, Offset: cursor})
				return cursor - r.Start, fmt.Errorf("puller: read timeout: %w", readErr)
			}
			if errors.Is(readErr, errEOF) {
				if !cfg.FastDownload || cursor >= r.End {
					// Sequential/unknown-length path: the server closing
					// the connection IS completion, regardless of r.End.
					return cursor - r.Start, nil
				}
				// Server closed mid-stream: retry remaining bytes.
				return cursor - r.Start, fmt.Errorf("puller: connection closed mid-stream at %d of %d", cursor, r.End)
			}
			return cursor - r.Start, fmt.Errorf("puller: read error: %w", readErr)
		}
		select {
		case <-ctx.Done():
			return cursor - r.Start, ctx.Err()
		default:
		}
	}
	return cursor - r.Start, nil
}

func now() time.Time { return time.Now() }
