package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/aws/smithy-go"
	"github.com/cenkalti/backoff/v4"

	"github.com/praetorian-inc/privmap/pkg/fault"
)

// throttleCodes are the provider error codes treated as transient
// rate-limit responses.
var throttleCodes = map[string]struct{}{
	"Throttling":               {},
	"ThrottlingException":      {},
	"TooManyRequestsException": {},
	"RequestLimitExceeded":     {},
	"SlowDown":                 {},
}

// authCodes are the provider error codes treated as permanent
// authorization failures. These are never retried.
var authCodes = map[string]struct{}{
	"AccessDenied":                {},
	"AccessDeniedException":       {},
	"UnauthorizedOperation":       {},
	"InvalidClientTokenId":        {},
	"ExpiredToken":                {},
	"ExpiredTokenException":       {},
	"UnrecognizedClientException": {},
}

// classify maps a raw SDK error onto the pipeline's failure taxonomy.
func classify(operation string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if _, ok := throttleCodes[code]; ok {
			return &fault.ThrottleError{Operation: operation, Err: err}
		}
		if _, ok := authCodes[code]; ok {
			return &fault.AuthError{Operation: operation, Err: err}
		}
	}
	return err
}

// callWithRetry runs fn, retrying throttled failures with exponential
// backoff up to maxElapsed, honoring context cancellation. Authorization
// failures abort immediately.
func callWithRetry(ctx context.Context, operation string, maxElapsed time.Duration, fn func(ctx context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxElapsed

	return backoff.Retry(func() error {
		err := classify(operation, fn(ctx))
		if err == nil {
			return nil
		}
		if fault.IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(bo, ctx))
}
