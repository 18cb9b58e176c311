package service

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopRunsInOrder(t *testing.T) {
	l := newLoop(8)
	defer l.stop()

	var got []int
	for i := range 5 {
		require.True(t, l.post(func() { got = append(got, i) }))
	}
	require.NoError(t, l.do(func() {}))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestLoopAfterStop(t *testing.T) {
	l := newLoop(1)
	l.stop()
	l.stop()

	assert.False(t, l.post(func() {}))
	assert.ErrorIs(t, l.do(func() {}), ErrNotStarted)
}

func TestLoopTimersFireOnLoop(t *testing.T) {
	l := newLoop(8)
	defer l.stop()
	timers := newLoopTimers(l)

	fired := make(chan struct{})
	_, err := timers.StartTimer(5*time.Millisecond, func() { close(fired) })
	require.NoError(t, err)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
	assert.Zero(t, timers.Len())
}

func TestLoopTimersStop(t *testing.T) {
	l := newLoop(8)
	defer l.stop()
	timers := newLoopTimers(l)

	var fires atomic.Int32
	h, err := timers.StartTimer(20*time.Millisecond, func() { fires.Add(1) })
	require.NoError(t, err)
	_, err = timers.StartTimer(time.Hour, func() { fires.Add(1) })
	require.NoError(t, err)

	timers.StopTimer(h)
	timers.StopTimer(h)
	assert.Equal(t, 1, timers.Len())
	assert.Equal(t, 1, timers.stopAll())

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, l.do(func() {}))
	assert.Zero(t, fires.Load())
}
