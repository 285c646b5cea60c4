package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskLifecycle(t *testing.T) {
	tsk, err := New(Input{Title: "build", Priority: PriorityHigh, BlockedBy: []string{"t0"}})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, tsk.Status)

	require.NoError(t, tsk.Queue())
	assert.Equal(t, StatusQueued, tsk.Status)

	require.NoError(t, tsk.Assign("a1"))
	assert.Equal(t, StatusAssigned, tsk.Status)
	assert.Equal(t, "a1", tsk.AssignedAgentID)

	require.NoError(t, tsk.Start())
	assert.Equal(t, StatusRunning, tsk.Status)
	assert.False(t, tsk.StartedAt.IsZero())

	require.NoError(t, tsk.Complete("ok"))
	assert.Equal(t, StatusCompleted, tsk.Status)
	assert.Equal(t, "ok", tsk.Output)
	assert.False(t, tsk.CompletedAt.IsZero())
}

func TestTaskIllegalTransition(t *testing.T) {
	tsk, err := New(Input{Title: "x"})
	require.NoError(t, err)
	err = tsk.Start()
	assert.ErrorContains(t, err, "invalid state transition")
}

func TestTaskFailRetryThenTerminal(t *testing.T) {
	tsk, err := New(Input{Title: "flaky", MaxRetries: 1})
	require.NoError(t, err)
	require.NoError(t, tsk.Queue())
	require.NoError(t, tsk.Assign("a1"))
	require.NoError(t, tsk.Start())
	require.NoError(t, tsk.Fail("boom"))
	assert.Equal(t, StatusQueued, tsk.Status)
	assert.Equal(t, 1, tsk.RetryCount)
	assert.Empty(t, tsk.AssignedAgentID)

	require.NoError(t, tsk.Assign("a2"))
	require.NoError(t, tsk.Start())
	require.NoError(t, tsk.Fail("boom again"))
	assert.Equal(t, StatusFailed, tsk.Status)
}

func TestTaskCancelFromNonTerminal(t *testing.T) {
	tsk, err := New(Input{Title: "x"})
	require.NoError(t, err)
	require.NoError(t, tsk.Cancel())
	assert.Equal(t, StatusCancelled, tsk.Status)

	err = tsk.Cancel()
	assert.ErrorContains(t, err, "invalid state transition")
}

func TestNewTaskWithTitleOnlySucceeds(t *testing.T) {
	_, err := New(Input{Title: "x"})
	require.NoError(t, err)
}

func TestComparePriority(t *testing.T) {
	high, _ := New(Input{Title: "h", Priority: PriorityHigh})
	low, _ := New(Input{Title: "l", Priority: PriorityLow})
	assert.True(t, high.ComparePriority(low))
	assert.False(t, low.ComparePriority(high))
}

func TestDrainEventsClears(t *testing.T) {
	tsk, err := New(Input{Title: "x"})
	require.NoError(t, err)
	evts := tsk.DrainEvents()
	assert.Len(t, evts, 1)
	assert.Empty(t, tsk.DrainEvents())
}
