// Package limiter runs a function over a slice with bounded concurrency while
// keeping results aligned with their inputs.
package limiter

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Slot is the outcome for one input index. OK is false when the call failed;
// callers must treat such slots as unknown, never as a zero-valued success.
type Slot[R any] struct {
	Value R
	OK    bool
	Err   error
}

// Map calls f for every item with at most concurrency calls in flight and
// returns one Slot per item in input order. A failing call is logged and
// recorded in its slot; it does not cancel the others. A non-positive
// concurrency is treated as 1.
func Map[T, R any](
	ctx context.Context,
	items []T,
	concurrency int,
	f func(ctx context.Context, item T) (R, error),
	logger *zap.Logger,
) []Slot[R] {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	slots := make([]Slot[R], len(items))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, item := range items {
		g.Go(func() error {
			v, err := safeCall(ctx, f, item)
			if err != nil {
				logger.Warn("limited call failed", zap.Int("index", i), zap.Error(err))
				slots[i] = Slot[R]{Err: err}
				return nil
			}
			slots[i] = Slot[R]{Value: v, OK: true}
			return nil
		})
	}
	// Every goroutine returns nil; failures live in the slots.
	_ = g.Wait()
	return slots
}

func safeCall[T, R any](ctx context.Context, f func(context.Context, T) (R, error), item T) (v R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in limited call: %v", r)
		}
	}()
	return f(ctx, item)
}

// Values returns the successful slot values in order, dropping failures.
func Values[R any](slots []Slot[R]) []R {
	out := make([]R, 0, len(slots))
	for _, s := range slots {
		if s.OK {
			out = append(out, s.Value)
		}
	}
	return out
}
