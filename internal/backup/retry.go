// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package backup

import (
	"context"
	"math/rand"
	"time"

	"github.com/aws/smithy-go"
	"github.com/juju/clock"
	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/retry"
)

const (
	retryAttempts  = 7
	retryBaseDelay = time.Second
	retryMaxJitter = 500 * time.Millisecond
)

// throttleCodes are the EC2 error codes treated as transient rate
// limiting. Any other error code is fatal to the call.
var throttleCodes = set.NewStrings(
	"SnapshotCreationPerVolumeRateExceeded",
	"RequestLimitExceeded",
	"Throttling",
)

func isThrottle(err error) bool {
	return throttleCodes.Contains(errorCode(err))
}

func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// callWithBackoff invokes f, retrying with exponential backoff while
// the EC2 API reports throttling, up to retryAttempts attempts. Any
// non-throttle error, or exhaustion of attempts, hands the remote
// error back to the caller.
func callWithBackoff(ctx context.Context, clk clock.Clock, what string, f func() error) error {
	err := retry.Call(retry.CallArgs{
		Func: f,
		IsFatalError: func(err error) bool {
			return !isThrottle(err)
		},
		NotifyFunc: func(err error, attempt int) {
			logger.Warningf("%s throttled (%s), retrying (attempt %d/%d)",
				what, errorCode(err), attempt, retryAttempts)
		},
		Attempts:    retryAttempts,
		Delay:       retryBaseDelay,
		BackoffFunc: backoffWithJitter,
		Clock:       clk,
		Stop:        ctx.Done(),
	})
	if retry.IsAttemptsExceeded(err) || retry.IsRetryStopped(err) {
		return retry.LastError(err)
	}
	return err
}

// backoffWithJitter computes the sleep after failed attempt N as
// base * 2^(N-1) plus jitter; it is invoked before every sleep, so
// the Delay passed to retry.Call never becomes an actual wait. The
// jitter is recomputed every time rather than fed back through the
// doubling, so it cannot compound.
func backoffWithJitter(_ time.Duration, attempt int) time.Duration {
	return retryBaseDelay*time.Duration(1<<(attempt-1)) + jitter()
}

func jitter() time.Duration {
	return time.Duration(rand.Int63n(int64(retryMaxJitter)))
}
