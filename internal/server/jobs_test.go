// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/quietloop/riftpull/internal/store"
)

func newTestJobManager(t *testing.T) *JobManager {
	t.Helper()
	cfg := Config{
		DownloadsDir: t.TempDir(),
		Concurrency:  2,
	}
	st, err := store.Open(filepath.Join(t.TempDir(), "store.bin"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	hub := NewWSHub()
	go hub.Run()

	return NewJobManager(cfg, st, hub)
}

func TestJobManager_CreateJob(t *testing.T) {
	mgr := newTestJobManager(t)

	t.Run("creates job with server-controlled output", func(t *testing.T) {
		req := DownloadRequest{URL: "http://127.0.0.1:1/model.bin"}

		job, wasExisting, err := mgr.CreateJob(req)
		if err != nil {
			t.Fatalf("CreateJob failed: %v", err)
		}
		if wasExisting {
			t.Error("Expected new job, got existing")
		}
		if job.OutputDir != mgr.config.DownloadsDir {
			t.Errorf("Expected output %s, got %s", mgr.config.DownloadsDir, job.OutputDir)
		}
		if job.URL != req.URL {
			t.Errorf("Expected URL %s, got %s", req.URL, job.URL)
		}
	})
}

func TestJobManager_Deduplication(t *testing.T) {
	mgr := newTestJobManager(t)

	req := DownloadRequest{URL: "http://127.0.0.1:1/dedup.bin"}

	job1, wasExisting1, _ := mgr.CreateJob(req)
	if wasExisting1 {
		t.Error("First job should not be existing")
	}

	job2, wasExisting2, _ := mgr.CreateJob(req)
	if !wasExisting2 {
		t.Error("Second job should be detected as existing")
	}
	if job1.ID != job2.ID {
		t.Errorf("Expected same job ID, got %s vs %s", job1.ID, job2.ID)
	}
}

func TestJobManager_DifferentURLsNotDeduplicated(t *testing.T) {
	mgr := newTestJobManager(t)

	job1, _, _ := mgr.CreateJob(DownloadRequest{URL: "http://127.0.0.1:1/a.bin"})
	job2, wasExisting, _ := mgr.CreateJob(DownloadRequest{URL: "http://127.0.0.1:1/b.bin"})

	if wasExisting {
		t.Error("Different URLs should create different jobs")
	}
	if job1.ID == job2.ID {
		t.Error("Different URLs should have different IDs")
	}
}

func TestJobManager_GetJob(t *testing.T) {
	mgr := newTestJobManager(t)

	job, _, _ := mgr.CreateJob(DownloadRequest{URL: "http://127.0.0.1:1/get.bin"})

	t.Run("returns existing job", func(t *testing.T) {
		found, ok := mgr.GetJob(job.ID)
		if !ok {
			t.Error("Expected to find job")
		}
		if found.ID != job.ID {
			t.Error("Wrong job returned")
		}
	})

	t.Run("returns false for missing job", func(t *testing.T) {
		_, ok := mgr.GetJob("nonexistent")
		if ok {
			t.Error("Should not find nonexistent job")
		}
	})
}

func TestJobManager_ListJobs(t *testing.T) {
	mgr := newTestJobManager(t)

	mgr.CreateJob(DownloadRequest{URL: "http://127.0.0.1:1/list1.bin"})
	mgr.CreateJob(DownloadRequest{URL: "http://127.0.0.1:1/list2.bin"})
	mgr.CreateJob(DownloadRequest{URL: "http://127.0.0.1:1/list3.bin"})

	jobs := mgr.ListJobs()
	if len(jobs) < 3 {
		t.Errorf("Expected at least 3 jobs, got %d", len(jobs))
	}
}

func TestJobManager_CancelJob(t *testing.T) {
	mgr := newTestJobManager(t)

	started := make(chan struct{})
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-block
	}))
	defer srv.Close()
	defer close(block)

	job, _, _ := mgr.CreateJob(DownloadRequest{URL: srv.URL + "/cancel.bin"})

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never reached the server")
	}

	t.Run("cancels running job", func(t *testing.T) {
		ok := mgr.CancelJob(job.ID)
		if !ok {
			t.Error("Cancel should succeed")
		}

		found, _ := mgr.GetJob(job.ID)
		if found.Status != JobStatusCancelled {
			t.Errorf("Expected cancelled status, got %s", found.Status)
		}
	})

	t.Run("returns false for nonexistent job", func(t *testing.T) {
		ok := mgr.CancelJob("nonexistent")
		if ok {
			t.Error("Cancel should fail for nonexistent job")
		}
	})
}

func TestJobStatus_Values(t *testing.T) {
	statuses := []JobStatus{
		JobStatusQueued,
		JobStatusRunning,
		JobStatusCompleted,
		JobStatusFailed,
		JobStatusCancelled,
	}

	for _, s := range statuses {
		if s == "" {
			t.Error("Status should not be empty")
		}
	}
}
