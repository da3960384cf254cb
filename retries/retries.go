// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package retries holds the fixed-interval retry policies used by
// operations that wait on asynchronously-starting resources.
package retries

import (
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/retry"
)

// UntilDeadline calls op at the given interval until it succeeds or the
// deadline elapses. On exhaustion the last error returned by op is
// returned unchanged, so the caller sees the real cause rather than a
// generic timeout.
func UntilDeadline(clk clock.Clock, interval, deadline time.Duration, op func() error) error {
	err := retry.Call(retry.CallArgs{
		Func:        op,
		Clock:       clk,
		Delay:       interval,
		Attempts:    retry.UnlimitedAttempts,
		MaxDuration: deadline,
	})
	if retry.IsDurationExceeded(err) {
		return errors.Trace(retry.LastError(err))
	}
	return errors.Trace(err)
}

// WithinAttempts calls op at the given interval until it succeeds or the
// attempt count is exhausted, and reports whether it ever succeeded. The
// underlying cause is dropped; this policy suits binary liveness checks
// where only availability matters.
func WithinAttempts(clk clock.Clock, interval time.Duration, attempts int, op func() error) bool {
	err := retry.Call(retry.CallArgs{
		Func:     op,
		Clock:    clk,
		Delay:    interval,
		Attempts: attempts,
	})
	return err == nil
}
