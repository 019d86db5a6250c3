// Retry orchestration around a content-producing operation.
//
// ValidateWithRetry drives the attempt → validate → repair → retry loop
// described by the generation pipeline: the operation is invoked, its result
// validated, and on a retryable failure the loop sleeps for a fixed delay
// and tries again, up to a configured maximum number of attempts. The
// operation returning an error is treated identically to the operation
// returning invalid data; only the error message differs.
package story

import (
	"context"
	"fmt"
	"time"
)

// Defaults applied when RetryOptions fields are zero.
const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = 1 * time.Second
)

// RetryOptions configures ValidateWithRetry.
//
// OnRetry and OnFinalFailure are observability hooks only: they are invoked
// respectively before each scheduled retry (with the failing attempt number
// and its errors) and once at terminal failure. They never affect control
// flow and may be nil.
type RetryOptions struct {
	MaxRetries     int           // total attempts; <= 0 defaults to DefaultMaxRetries
	RetryDelay     time.Duration // delay between attempts; <= 0 defaults to DefaultRetryDelay
	OnRetry        func(attempt int, errs []string)
	OnFinalFailure func(errs []string)
}

// Attempt records the outcome of a single failed attempt, for callers that
// want deterministic visibility into the retry history instead of relying on
// the fire-and-forget callbacks.
type Attempt struct {
	Number int
	Errors []string
}

// Operation produces one untyped candidate value. It may fail with an error,
// which the orchestrator converts into a retryable failure record.
type Operation func(ctx context.Context) (any, error)

// ValidateWithRetry invokes op up to MaxRetries times, validating each
// result with validate. It returns the first successful ValidationResult
// (including any repair notices), or the LAST attempt's failure when the
// retry budget is exhausted or the failure is classified non-retryable.
// Alongside the result it returns the full history of failed attempts.
//
// The inter-attempt delay honors ctx cancellation: a cancelled context ends
// the loop with the last failure, the cancellation reason appended to its
// error list.
func ValidateWithRetry[T any](
	ctx context.Context,
	op Operation,
	validate func(any) ValidationResult[T],
	opts RetryOptions,
) (ValidationResult[T], []Attempt) {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}

	var history []Attempt

	for attempt := 1; ; attempt++ {
		res := runAttempt(ctx, op, validate)
		if res.Success {
			return res, history
		}

		history = append(history, Attempt{Number: attempt, Errors: res.Errors})

		if !res.CanRetry || attempt >= maxRetries {
			// Terminal: surface only the last attempt's errors.
			res.CanRetry = false
			if opts.OnFinalFailure != nil {
				opts.OnFinalFailure(res.Errors)
			}
			return res, history
		}

		if opts.OnRetry != nil {
			opts.OnRetry(attempt, res.Errors)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			res.Errors = append(res.Errors, ctx.Err().Error())
			res.CanRetry = false
			if opts.OnFinalFailure != nil {
				opts.OnFinalFailure(res.Errors)
			}
			return res, history
		}
	}
}

// runAttempt executes a single produce+validate cycle, converting an
// operation error (or panic) into a synthetic retryable failure.
func runAttempt[T any](
	ctx context.Context,
	op Operation,
	validate func(any) ValidationResult[T],
) (res ValidationResult[T]) {
	defer func() {
		if rec := recover(); rec != nil {
			res = ValidationResult[T]{
				Success:  false,
				Errors:   []string{fmt.Sprintf("operation panicked: %v", rec)},
				CanRetry: true,
			}
		}
	}()

	raw, err := op(ctx)
	if err != nil {
		return ValidationResult[T]{
			Success:  false,
			Errors:   []string{fmt.Sprintf("operation failed: %v", err)},
			CanRetry: true,
		}
	}
	return validate(raw)
}
