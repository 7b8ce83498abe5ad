package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
)

// Safe runs fn and returns its result, or fallback if fn returns an error or
// panics. It never propagates a failure: panics and plain errors are
// converted through the taxonomy and logged.
func Safe[T any](fn func() (T, error), fallback T) T {
	result, err := run(fn)
	if err != nil {
		slog.Warn("safe call failed, using fallback",
			slog.String("code", GetCode(err)),
			slog.String("error", err.Error()))
		return fallback
	}
	return result
}

// RetryWithFallback retries fn with backoff and returns fallback only after
// retries exhaust (or a non-retryable error surfaces).
func RetryWithFallback[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error), fallback T) T {
	result, err := RetryWithResult(ctx, cfg, func() (T, error) {
		return run(fn)
	})
	if err != nil {
		slog.Warn("retries exhausted, using fallback",
			slog.String("code", GetCode(err)),
			slog.String("error", err.Error()))
		return fallback
	}
	return result
}

// run invokes fn, converting panics and untyped errors into typed errors.
func run[T any](fn func() (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = New(ErrCodePanic, fmt.Sprintf("panic recovered: %v", r), nil)
		}
	}()

	result, err = fn()
	if err != nil {
		var typed *Error
		if !stderrors.As(err, &typed) {
			err = Wrap(ErrCodeInternal, err)
		}
	}
	return result, err
}
