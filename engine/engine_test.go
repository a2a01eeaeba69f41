package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loom-go/loom/atomicsim"
	"github.com/loom-go/loom/causality"
	"github.com/loom-go/loom/execution"
	"github.com/loom-go/loom/thread"
)

func testConfig(bound *int) Config {
	return Config{MaxThreads: 8, MaxBranches: 5000, MaxMemory: 1 << 20, PreemptionBound: bound}
}

// intAtomic pairs an atomicsim handle with the payload table a real
// wrapper would keep alongside it, since atomicsim itself is
// payload-agnostic.
type intAtomic struct {
	sim    *atomicsim.Simulator
	handle uint32
	values []int
}

func newIntAtomic(sim *atomicsim.Simulator, creator thread.ID, initial int) *intAtomic {
	h := sim.NewAtomic(creator)
	return &intAtomic{sim: sim, handle: h, values: []int{initial}}
}

func (a *intAtomic) Store(active thread.ID, order causality.Order, v int) {
	idx := a.sim.Store(a.handle, active, order)
	for len(a.values) <= idx {
		a.values = append(a.values, 0)
	}
	a.values[idx] = v
}

func (a *intAtomic) Load(active thread.ID, order causality.Order) int {
	idx := a.sim.Load(a.handle, active, order)
	return a.values[idx]
}

// --- Scenario 1/2: valid_get_mut / invalid_get_mut -----------

func TestScenarioValidGetMut(t *testing.T) {
	e := execution.New(1, 4, nil)
	main := e.Threads.All()[0].ID
	a, err := e.Threads.Spawn(main, 4)
	require.NoError(t, err)

	x := newIntAtomic(e.Atomics, main, 0)
	x.Store(a, causality.SeqCst, 1)
	e.Threads.SetState(a, thread.Terminated)
	e.Threads.Unpark(a, main) // A joins main: transfers A's causality

	assert.NotPanics(t, func() { e.Atomics.GetMut(x.handle, main) })
	assert.Equal(t, 1, x.values[len(x.values)-1])
}

func TestScenarioInvalidGetMut(t *testing.T) {
	e := execution.New(1, 4, nil)
	main := e.Threads.All()[0].ID
	a, err := e.Threads.Spawn(main, 4)
	require.NoError(t, err)

	x := newIntAtomic(e.Atomics, main, 0)
	x.Store(a, causality.Relaxed, 1)
	// No join: main never observes A's store in its causality.

	assert.PanicsWithValue(t,
		atomicsim.ViolationGetMut{Handle: x.handle},
		func() { e.Atomics.GetMut(x.handle, main) },
	)
}

// --- Scenario 3: mutex_mutual_exclusion ---------------------------------

func mutexProgram(mh uint32, counter *int, iterations int) Program {
	var prog Program
	for i := 0; i < iterations; i++ {
		prog = append(prog,
			Step{Op: thread.Operation{Kind: "mutex", Object: uint64(mh)}, Run: func(rc *RunContext, id thread.ID) {
				rc.Mutexes.Lock(mh, id)
			}},
			Step{Op: thread.Operation{Kind: "mutex", Object: uint64(mh)}, Run: func(rc *RunContext, id thread.ID) {
				*counter++
				rc.Mutexes.Unlock(mh, id)
			}},
		)
	}
	return prog
}

func TestScenarioMutexMutualExclusion(t *testing.T) {
	d, err := NewDriver(testConfig(nil))
	require.NoError(t, err)

	failure := d.Run("mutex_mutual_exclusion", func(rc *RunContext) {
		main := rc.Threads.All()[0].ID
		w1, err := rc.Threads.Spawn(main, 8)
		require.NoError(t, err)
		w2, err := rc.Threads.Spawn(main, 8)
		require.NoError(t, err)

		mh := rc.Mutexes.New()
		counter := 0

		RunPrograms(rc, []thread.ID{main, w1, w2}, []Program{
			nil,
			mutexProgram(mh, &counter, 2),
			mutexProgram(mh, &counter, 2),
		})

		if counter != 4 {
			panic(fmt.Sprintf("mutex_mutual_exclusion: counter should be 4 after both workers finish, got %d", counter))
		}
	})
	assert.Nil(t, failure, "every replay must see counter == 4 and no deadlock")
}

// --- Scenario 4: condvar_signal -----------------------------------------

func TestScenarioCondvarSignal(t *testing.T) {
	d, err := NewDriver(testConfig(nil))
	require.NoError(t, err)

	failure := d.Run("condvar_signal", func(rc *RunContext) {
		main := rc.Threads.All()[0].ID
		consumer, err := rc.Threads.Spawn(main, 8)
		require.NoError(t, err)
		producer, err := rc.Threads.Spawn(main, 8)
		require.NoError(t, err)

		mh := rc.Mutexes.New()
		ch := rc.Condvars.New()
		flag := false
		waited := false

		consumerProgram := Program{
			{Op: thread.Operation{Kind: "mutex", Object: uint64(mh)}, Run: func(rc *RunContext, id thread.ID) {
				rc.Mutexes.Lock(mh, id)
			}},
			{Op: thread.Operation{Kind: "condvar", Object: uint64(ch)}, Run: func(rc *RunContext, id thread.ID) {
				if flag {
					waited = false
					return
				}
				waited = true
				rc.Condvars.Wait(ch, id, rc.Mutexes, mh)
			}},
			{Op: thread.Operation{Kind: "mutex", Object: uint64(mh)}, Run: func(rc *RunContext, id thread.ID) {
				if waited {
					rc.Mutexes.Lock(mh, id)
				}
			}},
			{Op: thread.Operation{Kind: "mutex", Object: uint64(mh)}, Run: func(rc *RunContext, id thread.ID) {
				rc.Mutexes.Unlock(mh, id)
			}},
		}

		producerProgram := Program{
			{Op: thread.Operation{Kind: "mutex", Object: uint64(mh)}, Run: func(rc *RunContext, id thread.ID) {
				rc.Mutexes.Lock(mh, id)
			}},
			{Op: thread.Operation{Kind: "condvar", Object: uint64(ch)}, Run: func(rc *RunContext, id thread.ID) {
				flag = true
				rc.Condvars.NotifyOne(ch, id)
			}},
			{Op: thread.Operation{Kind: "mutex", Object: uint64(mh)}, Run: func(rc *RunContext, id thread.ID) {
				rc.Mutexes.Unlock(mh, id)
			}},
		}

		RunPrograms(rc, []thread.ID{main, consumer, producer}, []Program{nil, consumerProgram, producerProgram})

		if !flag {
			panic("condvar_signal: consumer finished without observing flag == true")
		}
	})
	assert.Nil(t, failure, "every replay must eventually deliver the notification")
}

// --- Scenario 5: seq_cst_total_order (classic SB litmus test) ----------

func TestScenarioSeqCstTotalOrder(t *testing.T) {
	d, err := NewDriver(testConfig(nil))
	require.NoError(t, err)

	failure := d.Run("seq_cst_total_order", func(rc *RunContext) {
		main := rc.Threads.All()[0].ID
		ta, err := rc.Threads.Spawn(main, 8)
		require.NoError(t, err)
		tb, err := rc.Threads.Spawn(main, 8)
		require.NoError(t, err)

		x := newIntAtomic(rc.Atomics, main, 0)
		y := newIntAtomic(rc.Atomics, main, 0)
		var observedA, observedB int

		progA := Program{
			{Op: thread.Operation{Kind: "atomic", Object: uint64(x.handle)}, Run: func(rc *RunContext, id thread.ID) {
				x.Store(id, causality.SeqCst, 1)
			}},
			{Op: thread.Operation{Kind: "atomic", Object: uint64(y.handle)}, Run: func(rc *RunContext, id thread.ID) {
				observedA = y.Load(id, causality.SeqCst)
			}},
		}
		progB := Program{
			{Op: thread.Operation{Kind: "atomic", Object: uint64(y.handle)}, Run: func(rc *RunContext, id thread.ID) {
				y.Store(id, causality.SeqCst, 1)
			}},
			{Op: thread.Operation{Kind: "atomic", Object: uint64(x.handle)}, Run: func(rc *RunContext, id thread.ID) {
				observedB = x.Load(id, causality.SeqCst)
			}},
		}

		RunPrograms(rc, []thread.ID{main, ta, tb}, []Program{nil, progA, progB})

		if observedA == 0 && observedB == 0 {
			panic("seq_cst_total_order: both loads observed 0, which SeqCst forbids")
		}
	})
	assert.Nil(t, failure, "no replay may observe both SeqCst loads as 0")
}

// --- Scenario 6: bounded_preemption_reduces_space ------------------------

func TestScenarioBoundedPreemptionReducesSpace(t *testing.T) {
	run := func(bound *int) int {
		d, err := NewDriver(testConfig(bound))
		require.NoError(t, err)
		replays := 0

		failure := d.Run("bounded_preemption_reduces_space", func(rc *RunContext) {
			replays++
			main := rc.Threads.All()[0].ID
			w1, err := rc.Threads.Spawn(main, 8)
			require.NoError(t, err)
			w2, err := rc.Threads.Spawn(main, 8)
			require.NoError(t, err)

			mh := rc.Mutexes.New()
			counter := 0
			RunPrograms(rc, []thread.ID{main, w1, w2}, []Program{
				nil,
				mutexProgram(mh, &counter, 2),
				mutexProgram(mh, &counter, 2),
			})
		})
		require.Nil(t, failure)
		return replays
	}

	zero := 0
	bounded := run(&zero)
	unbounded := run(nil)
	assert.Less(t, bounded, unbounded, "a preemption bound of 0 must explore strictly fewer paths than exhaustive search")
}
