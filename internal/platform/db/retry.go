package db

import "context"

// Retry runs fn and re-runs it up to retries more times while retryable(err) holds.
// Only idempotent operations may be wrapped.
func Retry(ctx context.Context, retries int, retryable func(error) bool, fn func(context.Context) error) error {
	err := fn(ctx)
	for i := 0; i < retries && err != nil && retryable(err); i++ {
		if ctx.Err() != nil {
			return err
		}
		err = fn(ctx)
	}
	return err
}
