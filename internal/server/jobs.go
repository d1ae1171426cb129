// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/quietloop/riftpull/internal/store"
	"github.com/quietloop/riftpull/pkg/riftpull"
)

// JobStatus represents the state of a download job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Job represents a single-URL download job.
type Job struct {
	ID        string      `json:"id"`
	URL       string      `json:"url"`
	OutputDir string      `json:"outputDir"`
	Status    JobStatus   `json:"status"`
	Progress  JobProgress `json:"progress"`
	Error     string      `json:"error,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	StartedAt *time.Time  `json:"startedAt,omitempty"`
	EndedAt   *time.Time  `json:"endedAt,omitempty"`

	cancel context.CancelFunc `json:"-"`
}

// JobProgress holds aggregate progress for a job's single file.
type JobProgress struct {
	TotalBytes      uint64 `json:"totalBytes"`
	DownloadedBytes uint64 `json:"downloadedBytes"`
	BytesPerSecond  int64  `json:"bytesPerSecond"`
}

// JobManager manages download jobs, each wrapping one riftpull.Engine.Download
// call against a shared Store.
type JobManager struct {
	mu         sync.RWMutex
	jobs       map[string]*Job
	config     Config
	store      *store.Store
	listeners  []chan *Job
	listenerMu sync.RWMutex
	wsHub      *WSHub
}

// NewJobManager creates a new job manager.
func NewJobManager(cfg Config, st *store.Store, wsHub *WSHub) *JobManager {
	return &JobManager{
		jobs:   make(map[string]*Job),
		config: cfg,
		store:  st,
		wsHub:  wsHub,
	}
}

// generateID creates a short random ID.
func generateID() string {
	b := make([]byte, 6)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// CreateJob creates a new download job. Returns the existing job if the
// same URL is already queued or running.
func (m *JobManager) CreateJob(req DownloadRequest) (*Job, bool, error) {
	m.mu.Lock()
	for _, existing := range m.jobs {
		if existing.URL == req.URL &&
			(existing.Status == JobStatusQueued || existing.Status == JobStatusRunning) {
			m.mu.Unlock()
			return existing, true, nil
		}
	}

	job := &Job{
		ID:        generateID(),
		URL:       req.URL,
		OutputDir: m.config.DownloadsDir, // server-controlled, not from request
		Status:    JobStatusQueued,
		CreatedAt: time.Now(),
	}

	m.jobs[job.ID] = job
	m.mu.Unlock()

	go m.runJob(job)

	return job, false, nil
}

// GetJob retrieves a job by ID.
func (m *JobManager) GetJob(id string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	return job, ok
}

// ListJobs returns all jobs.
func (m *JobManager) ListJobs() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	return jobs
}

// CancelJob cancels a running or queued job.
func (m *JobManager) CancelJob(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return false
	}

	if job.Status == JobStatusQueued || job.Status == JobStatusRunning {
		if job.cancel != nil {
			job.cancel()
		}
		job.Status = JobStatusCancelled
		now := time.Now()
		job.EndedAt = &now
		m.notifyListeners(job)
		return true
	}

	return false
}

// CancelAll cancels every job still queued or running, used on server
// shutdown so in-flight downloads persist their partial progress instead
// of being killed mid-write.
func (m *JobManager) CancelAll() {
	m.mu.RLock()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	m.mu.RUnlock()

	for _, job := range jobs {
		m.CancelJob(job.ID)
	}
}

// DeleteJob removes a job from the list.
func (m *JobManager) DeleteJob(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return false
	}

	if job.cancel != nil && (job.Status == JobStatusQueued || job.Status == JobStatusRunning) {
		job.cancel()
	}

	delete(m.jobs, id)
	return true
}

// Subscribe adds a listener for job updates.
func (m *JobManager) Subscribe() chan *Job {
	ch := make(chan *Job, 100)
	m.listenerMu.Lock()
	m.listeners = append(m.listeners, ch)
	m.listenerMu.Unlock()
	return ch
}

// Unsubscribe removes a listener.
func (m *JobManager) Unsubscribe(ch chan *Job) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()

	for i, listener := range m.listeners {
		if listener == ch {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

func (m *JobManager) notifyListeners(job *Job) {
	m.listenerMu.RLock()
	for _, ch := range m.listeners {
		select {
		case ch <- job:
		default:
		}
	}
	m.listenerMu.RUnlock()

	if m.wsHub != nil {
		m.wsHub.BroadcastJob(job)
	}
}

// runJob drives a single riftpull.Engine.Download call and folds its
// Event stream into the job's aggregate progress.
func (m *JobManager) runJob(job *Job) {
	ctx, cancel := context.WithCancel(context.Background())
	job.cancel = cancel

	m.mu.Lock()
	job.Status = JobStatusRunning
	now := time.Now()
	job.StartedAt = &now
	m.mu.Unlock()
	m.notifyListeners(job)

	args := riftpull.DefaultArgs()
	args.URL = job.URL
	args.SaveFolder = job.OutputDir
	args.Concurrent = m.config.Concurrency
	args.Resume = true
	// A headless server has no terminal to prompt: always resume a prior
	// partial and never silently overwrite a finished file.
	args.Confirm = func(_ string, defaultYes bool) bool { return defaultYes }
	args.Observer = func(ev riftpull.Event) {
		m.mu.Lock()
		if ev.Kind == riftpull.EventPushProgress {
			job.Progress.DownloadedBytes += ev.Length
		}
		m.mu.Unlock()
		m.notifyListeners(job)
		if m.wsHub != nil {
			m.wsHub.BroadcastEvent(jobEvent{JobID: job.ID, Kind: string(ev.Kind), ChunkID: ev.ChunkID, Offset: ev.Offset, Length: ev.Length})
		}
	}

	engine := riftpull.NewEngine(m.store)
	err := engine.Download(ctx, args)

	m.mu.Lock()
	endTime := time.Now()
	job.EndedAt = &endTime
	switch {
	case ctx.Err() != nil:
		job.Status = JobStatusCancelled
	case err != nil:
		job.Status = JobStatusFailed
		job.Error = err.Error()
	default:
		job.Status = JobStatusCompleted
	}
	m.mu.Unlock()

	m.notifyListeners(job)
}

// jobEvent is the WebSocket wire shape for a single riftpull.Event,
// scoped to the job it belongs to.
type jobEvent struct {
	JobID   string `json:"jobId"`
	Kind    string `json:"kind"`
	ChunkID int    `json:"chunkId"`
	Offset  uint64 `json:"offset"`
	Length  uint64 `json:"length"`
}
