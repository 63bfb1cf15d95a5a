package limiter

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMap_PreservesOrderDespiteCompletionOrder(t *testing.T) {
	t.Parallel()

	items := []int{5, 1, 4, 2, 3}
	slots := Map(context.Background(), items, 3, func(_ context.Context, n int) (int, error) {
		time.Sleep(time.Duration(n) * 5 * time.Millisecond)
		return n * 10, nil
	}, zap.NewNop())

	require.Len(t, slots, len(items))
	for i, n := range items {
		require.True(t, slots[i].OK)
		require.Equal(t, n*10, slots[i].Value)
	}
}

func TestMap_RespectsConcurrencyCap(t *testing.T) {
	t.Parallel()

	const limit = 3
	var inFlight, peak atomic.Int64
	items := make([]int, 20)

	Map(context.Background(), items, limit, func(_ context.Context, _ int) (struct{}, error) {
		cur := inFlight.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return struct{}{}, nil
	}, nil)

	require.LessOrEqual(t, peak.Load(), int64(limit))
	require.Positive(t, peak.Load())
}

func TestMap_FailureLeavesSlotUnsetWithoutAbortingOthers(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	var calls atomic.Int64
	slots := Map(context.Background(), []string{"a", "b", "c"}, 2, func(_ context.Context, s string) (string, error) {
		calls.Add(1)
		if s == "b" {
			return "", boom
		}
		return s + "!", nil
	}, zap.NewNop())

	require.Equal(t, int64(3), calls.Load())
	require.True(t, slots[0].OK)
	require.False(t, slots[1].OK)
	require.ErrorIs(t, slots[1].Err, boom)
	require.Empty(t, slots[1].Value)
	require.True(t, slots[2].OK)
	require.Equal(t, []string{"a!", "c!"}, Values(slots))
}

func TestMap_RecoversPanics(t *testing.T) {
	t.Parallel()

	slots := Map(context.Background(), []int{1, 2}, 0, func(_ context.Context, n int) (int, error) {
		if n == 2 {
			panic("bad input")
		}
		return n, nil
	}, nil)

	require.True(t, slots[0].OK)
	require.False(t, slots[1].OK)
	require.ErrorContains(t, slots[1].Err, "bad input")
}

func TestMap_Empty(t *testing.T) {
	t.Parallel()

	slots := Map(context.Background(), []int(nil), 4, func(context.Context, int) (int, error) {
		return 0, nil
	}, nil)
	require.Empty(t, slots)
}
