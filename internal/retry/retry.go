// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package retry provides the fixed-gap, bounded-attempt retry loop shared
// by the Puller and Prefetcher. Unlike the teacher's hand-rolled
// exponential-with-jitter backoff, this wraps cenkalti/backoff's
// ConstantBackOff: the record model's retry_gap is a fixed duration, not
// an exponential curve.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes a bounded, constant-gap retry schedule.
type Policy struct {
	Gap        time.Duration // wait between attempts
	MaxRetries int           // retries after the first attempt; 0 disables retrying
}

// Do runs fn, retrying on error up to policy.MaxRetries additional times
// with a constant policy.Gap between attempts. It stops early if ctx is
// cancelled or fn returns an error wrapped with Permanent.
func Do(ctx context.Context, policy Policy, fn func() error) error {
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(policy.Gap), uint64(policy.MaxRetries)),
		ctx,
	)
	return backoff.Retry(fn, b)
}

// Permanent marks err as non-retryable, causing Do to return immediately
// without consuming further attempts.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
