package loop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T) *Loop {
	ctx, cancel := context.WithCancel(context.Background())
	l := New()
	go l.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	return l
}

func TestCallRunsInOrder(t *testing.T) {
	l := startLoop(t)
	var seq []int
	for i := 0; i < 10; i++ {
		i := i
		require.NoError(t, l.Submit(func() { seq = append(seq, i) }))
	}
	var got []int
	require.NoError(t, l.Call(context.Background(), func() { got = append(got, seq...) }))
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
}

func TestTimerFires(t *testing.T) {
	l := startLoop(t)
	var fired atomic.Int32
	id := l.SetTimer(10*time.Millisecond, func() { fired.Add(1) })
	assert.NotEqual(t, InvalidTimer, id)
	assert.True(t, l.Pending(id))

	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, l.Pending(id))
}

func TestClearTimerCancels(t *testing.T) {
	l := startLoop(t)
	var fired atomic.Int32
	id := l.SetTimer(20*time.Millisecond, func() { fired.Add(1) })
	l.ClearTimer(id)
	l.ClearTimer(id)
	l.ClearTimer(InvalidTimer)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestClearTimerAfterExpiryIsNoop(t *testing.T) {
	l := startLoop(t)
	done := make(chan struct{})
	id := l.SetTimer(time.Millisecond, func() { close(done) })
	<-done
	assert.NotPanics(t, func() { l.ClearTimer(id) })
}

func TestTimerClearedAfterExpiryNeverRuns(t *testing.T) {
	l := startLoop(t)
	var fired atomic.Int32
	err := l.Call(context.Background(), func() {
		id := l.SetTimer(time.Millisecond, func() { fired.Add(1) })
		// The timer expires while the loop is busy here, so its callback is
		// queued behind this call.
		time.Sleep(10 * time.Millisecond)
		l.ClearTimer(id)
		assert.False(t, l.Pending(id))
	})
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestSubmitAfterStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := New()
	go l.Run(ctx)
	cancel()
	<-l.Done()

	assert.ErrorIs(t, l.Submit(func() {}), ErrStopped)
	assert.ErrorIs(t, l.Call(context.Background(), func() {}), ErrStopped)
}
