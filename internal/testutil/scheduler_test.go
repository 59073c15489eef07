package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualScheduler_FiresInDueOrder(t *testing.T) {
	s := NewManualScheduler()
	var order []string

	_, err := s.AfterFunc(30*time.Millisecond, func() { order = append(order, "c") })
	require.NoError(t, err)
	_, err = s.AfterFunc(10*time.Millisecond, func() { order = append(order, "a") })
	require.NoError(t, err)
	_, err = s.AfterFunc(10*time.Millisecond, func() { order = append(order, "b") })
	require.NoError(t, err)

	s.Advance(20 * time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, 1, s.Pending())

	s.Advance(10 * time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, 30*time.Millisecond, s.Now())
}

func TestManualScheduler_StopPreventsFire(t *testing.T) {
	s := NewManualScheduler()
	fired := false

	stop, err := s.AfterFunc(time.Second, func() { fired = true })
	require.NoError(t, err)

	assert.True(t, stop())
	assert.False(t, stop(), "second stop reports nothing to stop")

	s.Advance(2 * time.Second)
	assert.False(t, fired)
}

func TestManualScheduler_ChainedTimers(t *testing.T) {
	s := NewManualScheduler()
	count := 0

	var tick func()
	tick = func() {
		count++
		if count < 3 {
			_, _ = s.AfterFunc(10*time.Millisecond, tick)
		}
	}
	_, err := s.AfterFunc(10*time.Millisecond, tick)
	require.NoError(t, err)

	s.Advance(100 * time.Millisecond)
	assert.Equal(t, 3, count)
}

func TestManualScheduler_Failing(t *testing.T) {
	s := NewManualScheduler()
	s.SetFailing(true)

	_, err := s.AfterFunc(time.Second, func() {})
	assert.ErrorIs(t, err, ErrSchedulerUnavailable)
}

func TestInlineScheduler_RunsBeforeReturning(t *testing.T) {
	s := &InlineScheduler{}
	ran := false

	stop, err := s.AfterFunc(time.Hour, func() { ran = true })
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, stop())
	assert.Equal(t, 1, s.Calls())
}
