package builder

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncer_CoalescesBurst(t *testing.T) {
	var saves atomic.Int32
	d := NewDebouncer(20*time.Millisecond, func(context.Context) error {
		saves.Add(1)
		return nil
	}, nil)

	for i := 0; i < 10; i++ {
		d.Schedule()
	}
	require.Eventually(t, func() bool { return saves.Load() == 1 }, time.Second, 5*time.Millisecond)

	// Nothing else fires afterwards.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), saves.Load())
	assert.False(t, d.Pending())
}

func TestDebouncer_SavesNeverOverlap(t *testing.T) {
	var active, maxActive, saves atomic.Int32
	d := NewDebouncer(time.Millisecond, func(context.Context) error {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(15 * time.Millisecond)
		active.Add(-1)
		saves.Add(1)
		return nil
	}, nil)

	for i := 0; i < 5; i++ {
		d.Schedule()
		time.Sleep(5 * time.Millisecond)
	}
	require.NoError(t, d.Flush(context.Background()))
	require.Eventually(t, func() bool { return active.Load() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), maxActive.Load())
	assert.GreaterOrEqual(t, saves.Load(), int32(1))
}

func TestDebouncer_FlushRunsPendingSave(t *testing.T) {
	var saves atomic.Int32
	d := NewDebouncer(time.Hour, func(context.Context) error {
		saves.Add(1)
		return nil
	}, nil)

	require.NoError(t, d.Flush(context.Background()))
	assert.Equal(t, int32(0), saves.Load())

	d.Schedule()
	assert.True(t, d.Pending())
	require.NoError(t, d.Flush(context.Background()))
	assert.Equal(t, int32(1), saves.Load())
	assert.False(t, d.Pending())
}

func TestDebouncer_ErrorsReported(t *testing.T) {
	boom := errors.New("disk full")
	var mu sync.Mutex
	var got []error
	d := NewDebouncer(time.Millisecond, func(context.Context) error { return boom }, func(err error) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, err)
	})

	d.Schedule()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)

	// Flush surfaces the error to its caller instead.
	d2 := NewDebouncer(time.Hour, func(context.Context) error { return boom }, nil)
	d2.Schedule()
	assert.ErrorIs(t, d2.Flush(context.Background()), boom)
}

func TestDebouncer_CloseDropsPending(t *testing.T) {
	var saves atomic.Int32
	d := NewDebouncer(10*time.Millisecond, func(context.Context) error {
		saves.Add(1)
		return nil
	}, nil)

	d.Schedule()
	d.Close()
	d.Schedule()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(0), saves.Load())
}
