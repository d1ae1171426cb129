// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package puller

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/quietloop/riftpull/internal/events"
	"github.com/quietloop/riftpull/internal/httpclient"
	"github.com/quietloop/riftpull/internal/rangeset"
	"github.com/quietloop/riftpull/internal/retry"
)

type recordingSink struct {
	buf     bytes.Buffer
	cursor  uint64
	pushErr error
}

func (s *recordingSink) Push(r rangeset.Range, b []byte) error {
	if s.pushErr != nil {
		return s.pushErr
	}
	if r.Start != s.cursor {
		return fmt.Errorf("out-of-order push at %d, cursor %d", r.Start, s.cursor)
	}
	s.buf.Write(b)
	s.cursor += uint64(len(b))
	return nil
}
func (s *recordingSink) Flush() error    { return nil }
func (s *recordingSink) Finalize() error { return nil }
func (s *recordingSink) Close() error    { return nil }

func drainBus(bus *events.Bus) <-chan events.Event {
	out := make(chan events.Event, 64)
	go func() {
		defer close(out)
		for ev := range bus.Events() {
			out <- ev
		}
	}()
	return out
}

func TestPullSequentialFallbackAcceptsPlainOK(t *testing.T) {
	blob := []byte("hello sequential world")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "" {
			t.Errorf("unexpected Range header on sequential fallback request: %q", r.Header.Get("Range"))
		}
		w.WriteHeader(http.StatusOK)
		w.Write(blob)
	}))
	defer srv.Close()

	client, err := httpclient.New(httpclient.Options{})
	if err != nil {
		t.Fatalf("httpclient.New: %v", err)
	}

	bus := events.NewBus(16)
	go func() {
		for range bus.Events() {
		}
	}()

	s := &recordingSink{}
	cfg := Config{
		Client:       client,
		URL:          srv.URL,
		RetryPolicy:  retry.Policy{Gap: time.Millisecond, MaxRetries: 1},
		PullTimeout:  2 * time.Second,
		Bus:          bus,
		FastDownload: false,
	}

	if err := Pull(context.Background(), 0, rangeset.Range{Start: 0, End: 0}, cfg, s); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	bus.Close()

	if !bytes.Equal(s.buf.Bytes(), blob) {
		t.Fatalf("got %q, want %q", s.buf.Bytes(), blob)
	}
}

func TestPullEmitsPushErrorOnSinkFailure(t *testing.T) {
	blob := make([]byte, 1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-%d/%d", len(blob)-1, len(blob)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(blob)
	}))
	defer srv.Close()

	client, err := httpclient.New(httpclient.Options{})
	if err != nil {
		t.Fatalf("httpclient.New: %v", err)
	}

	bus := events.NewBus(16)
	received := drainBus(bus)

	s := &recordingSink{pushErr: fmt.Errorf("disk full")}
	cfg := Config{
		Client:       client,
		URL:          srv.URL,
		RetryPolicy:  retry.Policy{Gap: time.Millisecond, MaxRetries: 0},
		PullTimeout:  2 * time.Second,
		Bus:          bus,
		FastDownload: true,
	}

	err = Pull(context.Background(), 0, rangeset.Range{Start: 0, End: uint64(len(blob))}, cfg, s)
	bus.Close()
	if err == nil {
		t.Fatal("expected error from Pull")
	}

	sawPushError := false
	for ev := range received {
		if ev.Kind == events.KindPullError {
			t.Fatalf("sink push failure must not surface as KindPullError: %+v", ev)
		}
		if ev.Kind == events.KindPushError {
			sawPushError = true
		}
	}
	if !sawPushError {
		t.Fatal("expected a KindPushError event for the sink push failure")
	}
}
