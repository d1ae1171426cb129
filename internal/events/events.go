// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package events defines the typed Event stream emitted by a download and
// the bounded bus that carries it from producers (Puller, Sink) to a
// single consumer (TUI, CLI printer, WebSocket hub).
package events

import (
	"context"
	"time"
)

// Kind discriminates the Event variants.
type Kind string

const (
	KindPulling      Kind = "pulling"
	KindPullProgress Kind = "pull_progress"
	KindPullError    Kind = "pull_error"
	KindPullTimeout  Kind = "pull_timeout"
	KindPushProgress Kind = "push_progress"
	KindPushError    Kind = "push_error"
	KindFlushError   Kind = "flush_error"
	KindFinished     Kind = "finished"
)

// Event is a single tagged occurrence in a download's lifetime. Only the
// fields relevant to Kind are populated; the rest are left zero.
//
// Ordering guarantee: for a given ChunkID, a PullProgress/PushProgress
// stream for that chunk is never observed after a PullError or the
// terminal Finished event for that chunk. A PullTimeout is followed by a
// retry, which emits further progress.
type Event struct {
	Kind    Kind
	Time    time.Time
	ChunkID int

	// Pulling / PullProgress / PushProgress
	Offset uint64
	Length uint64

	// PullError / PullTimeout / PushError / FlushError
	Err     error
	Attempt int

	// Finished
	TotalBytes uint64
}

// Bus is a bounded multi-producer/single-consumer channel of Events. Send
// blocks under backpressure rather than dropping events — the engine's
// progress accounting depends on seeing every event in order.
type Bus struct {
	ch chan Event
}

// NewBus creates a Bus with the given channel capacity. A capacity of 0
// makes every send synchronous with a receive.
func NewBus(capacity int) *Bus {
	return &Bus{ch: make(chan Event, capacity)}
}

// Send blocks until the event is enqueued or the context is cancelled (in
// which case it returns ctx.Err()). Send must not be called after Close.
func (b *Bus) Send(ctx context.Context, ev Event) error {
	select {
	case b.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events returns the receive-only channel for the single consumer.
func (b *Bus) Events() <-chan Event {
	return b.ch
}

// Close signals that no further events will be sent. Callers must ensure
// no producer calls Send after Close.
func (b *Bus) Close() {
	close(b.ch)
}
