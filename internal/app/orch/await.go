package orch

import (
	"context"
	"fmt"
	"time"
)

// await runs call with a deadline. When the deadline passes first the
// call is left to finish in the background and a successful late result
// is handed to release.
func await[T any](ctx context.Context, timeout time.Duration, step string, call func(context.Context) (T, error), release func(T)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := call(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return r.v, fmt.Errorf("%s: %w", step, r.err)
		}
		return r.v, nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil && release != nil {
				release(r.v)
			}
		}()
		var zero T
		return zero, fmt.Errorf("%s: %w", step, ctx.Err())
	}
}

// awaitErr is await for calls that only report an error.
func awaitErr(ctx context.Context, timeout time.Duration, step string, call func(context.Context) error) error {
	_, err := await(ctx, timeout, step, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, call(ctx)
	}, nil)
	return err
}
