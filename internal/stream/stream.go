// Package stream provides finite, single-pass, pull-based iterators and the
// batching adapter used to group a URL stream into fixed-size work units.
package stream

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidBatchSize is returned by Batch when size is not positive.
var ErrInvalidBatchSize = errors.New("batch size must be > 0")

// Iterator yields values one at a time. Next returns ok=false once the
// sequence is exhausted; after that, or after an error, the iterator must
// not be used again.
type Iterator[T any] interface {
	Next(ctx context.Context) (value T, ok bool, err error)
}

// Func adapts a function to the Iterator interface.
type Func[T any] func(ctx context.Context) (T, bool, error)

// Next calls f.
func (f Func[T]) Next(ctx context.Context) (T, bool, error) {
	return f(ctx)
}

// FromSlice iterates over a copy-free view of items.
func FromSlice[T any](items []T) Iterator[T] {
	i := 0
	return Func[T](func(ctx context.Context) (T, bool, error) {
		var zero T
		if err := ctx.Err(); err != nil {
			return zero, false, fmt.Errorf("iterate slice: %w", err)
		}
		if i >= len(items) {
			return zero, false, nil
		}
		v := items[i]
		i++
		return v, true, nil
	})
}

// Take stops the source after limit values. A non-positive limit passes the
// source through unchanged.
func Take[T any](src Iterator[T], limit int) Iterator[T] {
	if limit <= 0 {
		return src
	}
	taken := 0
	return Func[T](func(ctx context.Context) (T, bool, error) {
		var zero T
		if taken >= limit {
			return zero, false, nil
		}
		v, ok, err := src.Next(ctx)
		if err != nil || !ok {
			return zero, false, err
		}
		taken++
		return v, true, nil
	})
}

// Batch groups src into slices of exactly size items; the final slice holds
// the remainder. An empty source yields nothing. At most size items are
// buffered, and errors from src are returned unchanged.
func Batch[T any](src Iterator[T], size int) (Iterator[[]T], error) {
	if size <= 0 {
		return nil, ErrInvalidBatchSize
	}
	done := false
	return Func[[]T](func(ctx context.Context) ([]T, bool, error) {
		if done {
			return nil, false, nil
		}
		group := make([]T, 0, size)
		for len(group) < size {
			v, ok, err := src.Next(ctx)
			if err != nil {
				done = true
				return nil, false, err
			}
			if !ok {
				done = true
				break
			}
			group = append(group, v)
		}
		if len(group) == 0 {
			return nil, false, nil
		}
		return group, true, nil
	}), nil
}

// Collect drains it into a slice.
func Collect[T any](ctx context.Context, it Iterator[T]) ([]T, error) {
	var out []T
	for {
		v, ok, err := it.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, v)
	}
}
