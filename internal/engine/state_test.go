package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateMachineStrategyPath(t *testing.T) {
	sm := NewStateMachine()
	path := []State{
		StatePositionUpdated, StateExposureComputed, StateRiskAssessed, StatePnLComputed,
		StateStrategyInvoked, StateInstructionsDispatched, StateReconciling,
		StatePositionUpdated, StateExposureComputed, StateRiskAssessed, StatePnLComputed,
		StateExecutionBypass, StateInstructionsDispatched, StateReconciling,
		StateTickComplete, StateIdle,
	}
	for _, s := range path {
		require.NoError(t, sm.Transition(s), "-> %s", s)
	}
	assert.Equal(t, StateIdle, sm.Current())
	assert.Equal(t, path, sm.Path())

	require.NoError(t, sm.Transition(StatePositionUpdated))
	assert.Equal(t, []State{StatePositionUpdated}, sm.Path(), "leaving idle starts a new path")
}

func TestStateMachineRejectsSkips(t *testing.T) {
	sm := NewStateMachine()
	tests := []struct {
		from, to State
	}{
		{StateIdle, StateExposureComputed},
		{StatePositionUpdated, StateRiskAssessed},
		{StateRiskAssessed, StateStrategyInvoked},
		{StateStrategyInvoked, StateReconciling},
		{StateStrategyInvoked, StateTickComplete},
		{StateExecutionBypass, StateTickComplete},
		{StateInstructionsDispatched, StateTickComplete},
		{StateTickComplete, StatePositionUpdated},
		{StateIdle, StateIdle},
	}
	for _, tt := range tests {
		assert.Error(t, sm.ValidateTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}

	require.Error(t, sm.Transition(StateReconciling))
	assert.Equal(t, StateIdle, sm.Current(), "failed transition keeps state")
	assert.ElementsMatch(t, []State{StateStrategyInvoked, StateExecutionBypass}, sm.AllowedTransitions(StatePnLComputed))
}

func TestGridAndReplayClock(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	grid := Grid(start, start.Add(3*time.Hour), time.Hour)
	require.Len(t, grid, 4)
	assert.Nil(t, Grid(start, start.Add(-time.Hour), time.Hour))

	c := NewReplayClock(grid)
	var got []time.Time
	for {
		ts, ok, err := c.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, ts)
	}
	assert.Equal(t, grid, got)
	assert.Equal(t, 0, c.Remaining())
}

func TestPollingClockAlignsToBoundaries(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 20, 0, time.UTC)
	var slept []time.Duration
	c := NewPollingClock(time.Minute, now.Add(3*time.Minute))
	c.now = func() time.Time { return now }
	c.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		now = now.Add(d)
		return nil
	}

	ts, ok, err := c.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), ts, "first tick fires on the current boundary")
	assert.Empty(t, slept)

	// 处理耗时 5 秒
	now = now.Add(5 * time.Second)
	ts, ok, err = c.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 1, 0, 0, time.UTC), ts)
	assert.Equal(t, []time.Duration{35 * time.Second}, slept)

	// 处理超过一个周期，错过的边界不补发
	now = now.Add(150 * time.Second)
	ts, ok, err = c.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 3, 0, 0, time.UTC), ts)

	_, ok, err = c.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "past end")
}

func TestPollingClockHonoursCancel(t *testing.T) {
	c := NewPollingClock(time.Hour, time.Time{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok, err := c.Next(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}
