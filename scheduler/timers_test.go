package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronTimersAfterFiresOnce(t *testing.T) {
	timers := NewCronTimers()
	defer timers.Close()

	var n atomic.Int32
	_, err := timers.After(50*time.Millisecond, func() { n.Add(1) })
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return n.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.EqualValues(t, 1, n.Load())
}

func TestCronTimersCancel(t *testing.T) {
	timers := NewCronTimers()
	defer timers.Close()

	var n atomic.Int32
	h, err := timers.Every(30*time.Millisecond, func() { n.Add(1) })
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return n.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
	h.Cancel()
	h.Cancel()
	assert.Zero(t, timers.Len())

	// Allow a run that was already dispatched to finish.
	time.Sleep(50 * time.Millisecond)
	stopped := n.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, stopped, n.Load())
}

func TestCronTimersRejectsInvalidInterval(t *testing.T) {
	timers := NewCronTimers()
	defer timers.Close()

	_, err := timers.Every(0, func() {})
	assert.Error(t, err)
}
