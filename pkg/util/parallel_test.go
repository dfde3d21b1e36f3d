package util

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParallelRunsEveryInput(t *testing.T) {
	var sum atomic.Int64
	err := Parallel(context.Background(), []int{1, 2, 3, 4, 5}, 2, func(_ context.Context, n int) error {
		sum.Add(int64(n))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(15), sum.Load())
}

func TestParallelJoinsErrorsAndKeepsGoing(t *testing.T) {
	errOdd := errors.New("odd")
	var calls atomic.Int32
	err := Parallel(context.Background(), []int{1, 2, 3, 4}, 3, func(_ context.Context, n int) error {
		calls.Add(1)
		if n%2 == 1 {
			return errOdd
		}
		return nil
	})
	assert.ErrorIs(t, err, errOdd)
	assert.Equal(t, int32(4), calls.Load())
}

func TestParallelRespectsWorkerLimit(t *testing.T) {
	var running, peak atomic.Int32
	err := Parallel(context.Background(), make([]int, 10), 3, func(context.Context, int) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestParallelStopsFeedingOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Parallel(ctx, []int{1, 2, 3}, 1, func(context.Context, int) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParallelEmpty(t *testing.T) {
	assert.NoError(t, Parallel(context.Background(), []string(nil), 4, func(context.Context, string) error {
		return errors.New("unreachable")
	}))
}
