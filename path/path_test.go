package path

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBranchScheduleRecordsAndReplays(t *testing.T) {
	p := New(100, nil)
	seed := []ThreadStatus{Active, Pending}
	active := p.BranchSchedule(seed)
	assert.Equal(t, 0, active)
	require.Equal(t, 1, p.Len())

	ok := p.Step()
	require.True(t, ok, "a Pending alternative should yield a next replay")

	active = p.BranchSchedule([]ThreadStatus{Pending, Pending})
	assert.Equal(t, 1, active, "replay should consume the promoted decision, not the fresh seed")
}

func TestStepExhaustsWhenNoAlternatives(t *testing.T) {
	p := New(100, nil)
	p.BranchSchedule([]ThreadStatus{Active})
	assert.False(t, p.Step())
	assert.Equal(t, 0, p.Len())
}

func TestBranchWriteDequeuesOnStep(t *testing.T) {
	p := New(100, nil)
	chosen := p.BranchWrite([]int{2, 1, 0})
	assert.Equal(t, 2, chosen)

	require.True(t, p.Step())
	chosen = p.BranchWrite([]int{9})
	assert.Equal(t, 1, chosen, "replay should consume the dequeued head")

	require.True(t, p.Step())
	chosen = p.BranchWrite([]int{9})
	assert.Equal(t, 0, chosen)

	assert.False(t, p.Step(), "queue now empty, tape exhausted")
}

func TestBacktrackMarksSlotPending(t *testing.T) {
	p := New(100, nil)
	p.BranchSchedule([]ThreadStatus{Active, Skip})

	p.Backtrack(0, 1)

	sb := p.branches[0].Schedule
	assert.Equal(t, Pending, sb.Status[1])
}

func TestBacktrackWidensWhenTargetDisabled(t *testing.T) {
	p := New(100, nil)
	p.BranchSchedule([]ThreadStatus{Active, Disabled, Skip})

	p.Backtrack(0, 1)

	sb := p.branches[0].Schedule
	assert.Equal(t, Active, sb.Status[0], "active entry must not be downgraded")
	assert.Equal(t, Pending, sb.Status[1])
	assert.Equal(t, Pending, sb.Status[2], "conservative widening marks every other thread pending")
}

func TestBacktrackSuppressedAtPreemptionBound(t *testing.T) {
	bound := 0
	p := New(100, &bound)
	p.BranchSchedule([]ThreadStatus{Active, Skip})
	// First Schedule's Preemptions defaults to 0, equal to bound -> suppressed.
	p.Backtrack(0, 1)

	sb := p.branches[0].Schedule
	assert.Equal(t, Skip, sb.Status[1], "backtrack at the bound must be suppressed")
}

func TestMaxBranchesPanics(t *testing.T) {
	p := New(1, nil)
	p.BranchSchedule([]ThreadStatus{Active})
	assert.Panics(t, func() {
		p.BranchSchedule([]ThreadStatus{Active})
	})
}

func TestRecordingFlag(t *testing.T) {
	p := New(100, nil)
	assert.True(t, p.Recording())
	p.BranchSchedule([]ThreadStatus{Active})
	assert.True(t, p.Recording(), "pos caught back up to len(branches)")
}
