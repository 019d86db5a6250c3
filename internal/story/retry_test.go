package story

import (
	"context"
	"errors"
	"testing"
	"time"
)

// passthroughValidator treats any map with ok=true as success, anything else
// as a failure whose retryability follows the "retryable" key.
func passthroughValidator(raw any) ValidationResult[string] {
	m, ok := raw.(map[string]any)
	if !ok {
		return ValidationResult[string]{Success: false, Errors: []string{"response: expected object"}, CanRetry: true}
	}
	if v, _ := m["ok"].(bool); v {
		s := "done"
		return ValidationResult[string]{Success: true, Data: &s}
	}
	retryable, _ := m["retryable"].(bool)
	return ValidationResult[string]{Success: false, Errors: []string{"payload: rejected"}, CanRetry: retryable}
}

func TestValidateWithRetry_SucceedsOnThirdAttempt(t *testing.T) {
	calls := 0
	op := func(context.Context) (any, error) {
		calls++
		if calls < 3 {
			return map[string]any{"retryable": true}, nil
		}
		return map[string]any{"ok": true}, nil
	}

	var retries []int
	finalFailures := 0
	res, history := ValidateWithRetry(context.Background(), op, passthroughValidator, RetryOptions{
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
		OnRetry:    func(attempt int, errs []string) { retries = append(retries, attempt) },
		OnFinalFailure: func(errs []string) {
			finalFailures++
		},
	})

	if !res.Success || res.Data == nil || *res.Data != "done" {
		t.Fatalf("expected success, got %+v", res)
	}
	if calls != 3 {
		t.Fatalf("operation called %d times, want 3", calls)
	}
	if len(retries) != 2 || retries[0] != 1 || retries[1] != 2 {
		t.Fatalf("OnRetry calls = %v, want [1 2]", retries)
	}
	if finalFailures != 0 {
		t.Fatalf("OnFinalFailure called %d times on success", finalFailures)
	}
	if len(history) != 2 {
		t.Fatalf("history length %d, want 2 failed attempts", len(history))
	}
}

func TestValidateWithRetry_NonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	op := func(context.Context) (any, error) {
		calls++
		return map[string]any{"retryable": false}, nil
	}

	retries := 0
	finalFailures := 0
	res, history := ValidateWithRetry(context.Background(), op, passthroughValidator, RetryOptions{
		MaxRetries:     5,
		RetryDelay:     time.Millisecond,
		OnRetry:        func(int, []string) { retries++ },
		OnFinalFailure: func([]string) { finalFailures++ },
	})

	if res.Success {
		t.Fatal("expected failure")
	}
	if calls != 1 {
		t.Fatalf("operation called %d times, want 1", calls)
	}
	if retries != 0 {
		t.Fatalf("OnRetry called %d times, want 0", retries)
	}
	if finalFailures != 1 {
		t.Fatalf("OnFinalFailure called %d times, want 1", finalFailures)
	}
	if res.CanRetry {
		t.Fatal("terminal result must not advertise CanRetry")
	}
	if len(history) != 1 {
		t.Fatalf("history length %d, want 1", len(history))
	}
}

func TestValidateWithRetry_ExhaustionReturnsLastErrorsOnly(t *testing.T) {
	calls := 0
	op := func(context.Context) (any, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("upstream hiccup")
		}
		return map[string]any{"retryable": true}, nil
	}

	res, history := ValidateWithRetry(context.Background(), op, passthroughValidator, RetryOptions{
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	})

	if res.Success {
		t.Fatal("expected failure after exhaustion")
	}
	if calls != 2 {
		t.Fatalf("operation called %d times, want 2", calls)
	}
	// Only the last attempt's errors surface.
	if len(res.Errors) != 1 || res.Errors[0] != "payload: rejected" {
		t.Fatalf("expected last attempt errors only, got %v", res.Errors)
	}
	// The history still carries both failures.
	if len(history) != 2 {
		t.Fatalf("history length %d, want 2", len(history))
	}
	if len(history[0].Errors) != 1 || history[0].Errors[0] != "operation failed: upstream hiccup" {
		t.Fatalf("first attempt record wrong: %+v", history[0])
	}
}

func TestValidateWithRetry_OperationErrorIsRetryable(t *testing.T) {
	calls := 0
	op := func(context.Context) (any, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("connection reset")
		}
		return map[string]any{"ok": true}, nil
	}

	res, _ := ValidateWithRetry(context.Background(), op, passthroughValidator, RetryOptions{
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	})
	if !res.Success {
		t.Fatalf("expected recovery after operation error, got %v", res.Errors)
	}
	if calls != 2 {
		t.Fatalf("operation called %d times, want 2", calls)
	}
}

func TestValidateWithRetry_PanicIsRetryable(t *testing.T) {
	calls := 0
	op := func(context.Context) (any, error) {
		calls++
		if calls == 1 {
			panic("producer blew up")
		}
		return map[string]any{"ok": true}, nil
	}

	res, history := ValidateWithRetry(context.Background(), op, passthroughValidator, RetryOptions{
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	})
	if !res.Success {
		t.Fatalf("expected recovery after panic, got %v", res.Errors)
	}
	if len(history) != 1 {
		t.Fatalf("history length %d, want 1", len(history))
	}
}

func TestValidateWithRetry_ContextCancelledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	op := func(context.Context) (any, error) {
		return map[string]any{"retryable": true}, nil
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res, _ := ValidateWithRetry(ctx, op, passthroughValidator, RetryOptions{
		MaxRetries: 3,
		RetryDelay: 5 * time.Second,
	})
	if res.Success {
		t.Fatal("expected failure on cancellation")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("cancellation did not interrupt the delay (took %v)", elapsed)
	}
	if !containsSubstring(res.Errors, "context canceled") {
		t.Fatalf("expected cancellation reason in errors, got %v", res.Errors)
	}
}

func TestValidateWithRetry_DefaultsApplied(t *testing.T) {
	calls := 0
	op := func(context.Context) (any, error) {
		calls++
		return map[string]any{"ok": true}, nil
	}
	res, _ := ValidateWithRetry(context.Background(), op, passthroughValidator, RetryOptions{})
	if !res.Success || calls != 1 {
		t.Fatalf("defaults broken: success=%v calls=%d", res.Success, calls)
	}
}
