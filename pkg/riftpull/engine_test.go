package riftpull

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quietloop/riftpull/internal/store"
)

func rangeServer(t *testing.T, blob []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"abc"`)
		w.Header().Set("Last-Modified", "Wed, 01 Jan 2025 00:00:00 GMT")
		w.Header().Set("Accept-Ranges", "bytes")

		rng := r.Header.Get("Range")
		if rng == "" {
			w.Header().Set("Content-Length", fmt.Sprintf("%d", len(blob)))
			w.WriteHeader(http.StatusOK)
			w.Write(blob)
			return
		}

		var start, end int
		fmt.Sscanf(rng, "bytes=%d-%d", &start, &end)
		if end >= len(blob) {
			end = len(blob) - 1
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(blob)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(blob[start : end+1])
	}))
}

func TestDownloadHappyPathRanged(t *testing.T) {
	blob := make([]byte, 2<<20) // 2 MiB
	rand.New(rand.NewSource(1)).Read(blob)

	srv := rangeServer(t, blob)
	defer srv.Close()

	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "store.bin"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()

	engine := NewEngine(st)
	args := DefaultArgs()
	args.URL = srv.URL + "/model.bin"
	args.SaveFolder = dir
	args.Concurrent = 4
	args.MinChunkSize = 64 * 1024
	args.RetryGap = time.Millisecond
	args.PullTimeout = 2 * time.Second
	args.Confirm = func(string, bool) bool { return true }

	if err := engine.Download(context.Background(), args); err != nil {
		t.Fatalf("Download: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "model.bin"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, blob) {
		t.Fatalf("downloaded content mismatch, len got=%d want=%d", len(got), len(blob))
	}
	if engine.State() != StateDone {
		t.Fatalf("state = %v, want Done", engine.State())
	}
}

func TestDownloadSingleStreamFallback(t *testing.T) {
	blob := make([]byte, 64*1024)
	rand.New(rand.NewSource(2)).Read(blob)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Always 200 OK regardless of Range header: no range support.
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(blob)))
		w.WriteHeader(http.StatusOK)
		w.Write(blob)
	}))
	defer srv.Close()

	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "store.bin"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()

	engine := NewEngine(st)
	args := DefaultArgs()
	args.URL = srv.URL + "/file.bin"
	args.SaveFolder = dir
	args.RetryGap = time.Millisecond
	args.Confirm = func(string, bool) bool { return true }

	if err := engine.Download(context.Background(), args); err != nil {
		t.Fatalf("Download: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "file.bin"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, blob) {
		t.Fatal("content mismatch")
	}
}

func TestDownloadUnknownLength(t *testing.T) {
	blob := make([]byte, 128*1024)
	rand.New(rand.NewSource(3)).Read(blob)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// No Content-Length and no Accept-Ranges: total size unknown
		// until the connection closes.
		w.WriteHeader(http.StatusOK)
		w.Write(blob)
	}))
	defer srv.Close()

	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "store.bin"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()

	engine := NewEngine(st)
	args := DefaultArgs()
	args.URL = srv.URL + "/stream.bin"
	args.SaveFolder = dir
	args.RetryGap = time.Millisecond
	args.Confirm = func(string, bool) bool { return true }

	if err := engine.Download(context.Background(), args); err != nil {
		t.Fatalf("Download: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "stream.bin"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, blob) {
		t.Fatalf("content mismatch, len got=%d want=%d", len(got), len(blob))
	}
}
