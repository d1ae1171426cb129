// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package riftpull

import "github.com/quietloop/riftpull/internal/events"

// Event re-exports internal/events.Event at the package boundary observers
// consume.
type Event = events.Event

const (
	EventPulling      = events.KindPulling
	EventPullProgress = events.KindPullProgress
	EventPullError    = events.KindPullError
	EventPullTimeout  = events.KindPullTimeout
	EventPushProgress = events.KindPushProgress
	EventPushError    = events.KindPushError
	EventFlushError   = events.KindFlushError
	EventFinished     = events.KindFinished
)
