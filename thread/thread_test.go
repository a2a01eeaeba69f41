package thread

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHasSingleRunnableThread(t *testing.T) {
	s := New(1, 8)
	require.Equal(t, 1, s.Len())
	assert.Equal(t, Runnable, s.All()[0].State)
}

func TestSpawnInheritsAndIncrementsOwnSlot(t *testing.T) {
	s := New(1, 8)
	parent := s.All()[0].ID
	child, err := s.Spawn(parent, 8)
	require.NoError(t, err)

	ct := s.Get(child)
	require.NotNil(t, ct)
	assert.Equal(t, uint64(1), ct.Causality.Get(child.Slot), "child slot bumped on spawn")
}

func TestSpawnRespectsMaxThreads(t *testing.T) {
	s := New(1, 1)
	parent := s.All()[0].ID
	_, err := s.Spawn(parent, 1)
	require.Error(t, err)
	assert.IsType(t, ErrMaxThreads{}, err)
}

func TestTerminatedNeverResurrects(t *testing.T) {
	s := New(1, 4)
	id := s.All()[0].ID
	s.SetState(id, Terminated)
	assert.Panics(t, func() { s.SetState(id, Runnable) })
}

func TestUnparkJoinsCausalityAndWakes(t *testing.T) {
	s := New(1, 4)
	main := s.All()[0].ID
	child, err := s.Spawn(main, 4)
	require.NoError(t, err)
	s.SetState(child, Blocked)

	mt := s.Get(main)
	mt.Causality.Inc(main.Slot)

	s.Unpark(main, child)

	ct := s.Get(child)
	assert.Equal(t, Runnable, ct.State)
	assert.True(t, ct.Causality.GE(mt.Causality))
}

func TestSeqCstTotalOrdering(t *testing.T) {
	s := New(1, 4)
	a := s.All()[0].ID
	b, err := s.Spawn(a, 4)
	require.NoError(t, err)

	at := s.Get(a)
	at.Causality.Inc(a.Slot)
	s.SeqCst(a)

	bt := s.Get(b)
	s.SeqCst(b)

	assert.True(t, bt.Causality.GE(at.Causality))
}

func TestReenableYieldedSkipsGiven(t *testing.T) {
	s := New(1, 4)
	a := s.All()[0].ID
	b, err := s.Spawn(a, 4)
	require.NoError(t, err)
	s.SetState(a, Yield)
	s.SetState(b, Yield)

	s.ReenableYielded(b)

	assert.Equal(t, Runnable, s.Get(a).State)
	assert.Equal(t, Yield, s.Get(b).State)
}

func TestAllTerminated(t *testing.T) {
	s := New(1, 2)
	a := s.All()[0].ID
	assert.False(t, s.AllTerminated())
	s.SetState(a, Terminated)
	assert.True(t, s.AllTerminated())
}

func TestSplitActiveAndOthers(t *testing.T) {
	s := New(1, 4)
	a := s.All()[0].ID
	b, err := s.Spawn(a, 4)
	require.NoError(t, err)

	sp := s.Split(a)
	require.NotNil(t, sp.ActiveThread())
	assert.Equal(t, a, sp.ActiveThread().ID)

	var others []ID
	sp.Others(func(th *Thread) { others = append(others, th.ID) })
	assert.Equal(t, []ID{b}, others)
}
