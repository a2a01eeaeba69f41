package main

import (
	"fmt"

	"github.com/loom-go/loom/causality"
	"github.com/loom-go/loom/engine"
	"github.com/loom-go/loom/thread"
)

// scenario is one built-in named check: a human description plus the
// closure the Driver replays. loomdemo only ever drives these fixed,
// compiled-in scenarios, never an arbitrary caller-supplied spec file.
type scenario struct {
	name        string
	description string
	bound       *int
	run         engine.Scenario
}

// intAtomic pairs an atomicsim handle with the payload table a real typed
// wrapper would keep alongside it; atomicsim itself only tracks the store
// history and ordering, not values.
type intAtomic struct {
	rc     *engine.RunContext
	handle uint32
	values []int
}

func newIntAtomic(rc *engine.RunContext, creator thread.ID, initial int) *intAtomic {
	h := rc.Atomics.NewAtomic(creator)
	return &intAtomic{rc: rc, handle: h, values: []int{initial}}
}

func (a *intAtomic) Store(active thread.ID, order causality.Order, v int) {
	idx := a.rc.Atomics.Store(a.handle, active, order)
	for len(a.values) <= idx {
		a.values = append(a.values, 0)
	}
	a.values[idx] = v
}

func (a *intAtomic) Load(active thread.ID, order causality.Order) int {
	idx := a.rc.Atomics.Load(a.handle, active, order)
	return a.values[idx]
}

func mutexProgram(mh uint32, counter *int, iterations int) engine.Program {
	var prog engine.Program
	for i := 0; i < iterations; i++ {
		prog = append(prog,
			engine.Step{Op: thread.Operation{Kind: "mutex", Object: uint64(mh)}, Run: func(rc *engine.RunContext, id thread.ID) {
				rc.Mutexes.Lock(mh, id)
			}},
			engine.Step{Op: thread.Operation{Kind: "mutex", Object: uint64(mh)}, Run: func(rc *engine.RunContext, id thread.ID) {
				*counter++
				rc.Mutexes.Unlock(mh, id)
			}},
		)
	}
	return prog
}

func mutexScenario() engine.Scenario {
	return func(rc *engine.RunContext) {
		main := rc.Threads.All()[0].ID
		w1, err := rc.Threads.Spawn(main, rc.MaxThreads())
		if err != nil {
			panic(err)
		}
		w2, err := rc.Threads.Spawn(main, rc.MaxThreads())
		if err != nil {
			panic(err)
		}

		mh := rc.Mutexes.New()
		counter := 0

		engine.RunPrograms(rc, []thread.ID{main, w1, w2}, []engine.Program{
			nil,
			mutexProgram(mh, &counter, 2),
			mutexProgram(mh, &counter, 2),
		})

		if counter != 4 {
			panic(fmt.Sprintf("mutex_mutual_exclusion: counter should be 4 after both workers finish, got %d", counter))
		}
	}
}

func condvarScenario() engine.Scenario {
	return func(rc *engine.RunContext) {
		main := rc.Threads.All()[0].ID
		consumer, err := rc.Threads.Spawn(main, rc.MaxThreads())
		if err != nil {
			panic(err)
		}
		producer, err := rc.Threads.Spawn(main, rc.MaxThreads())
		if err != nil {
			panic(err)
		}

		mh := rc.Mutexes.New()
		ch := rc.Condvars.New()
		flag := false
		waited := false

		consumerProgram := engine.Program{
			{Op: thread.Operation{Kind: "mutex", Object: uint64(mh)}, Run: func(rc *engine.RunContext, id thread.ID) {
				rc.Mutexes.Lock(mh, id)
			}},
			{Op: thread.Operation{Kind: "condvar", Object: uint64(ch)}, Run: func(rc *engine.RunContext, id thread.ID) {
				if flag {
					waited = false
					return
				}
				waited = true
				rc.Condvars.Wait(ch, id, rc.Mutexes, mh)
			}},
			{Op: thread.Operation{Kind: "mutex", Object: uint64(mh)}, Run: func(rc *engine.RunContext, id thread.ID) {
				if waited {
					rc.Mutexes.Lock(mh, id)
				}
			}},
			{Op: thread.Operation{Kind: "mutex", Object: uint64(mh)}, Run: func(rc *engine.RunContext, id thread.ID) {
				rc.Mutexes.Unlock(mh, id)
			}},
		}

		producerProgram := engine.Program{
			{Op: thread.Operation{Kind: "mutex", Object: uint64(mh)}, Run: func(rc *engine.RunContext, id thread.ID) {
				rc.Mutexes.Lock(mh, id)
			}},
			{Op: thread.Operation{Kind: "condvar", Object: uint64(ch)}, Run: func(rc *engine.RunContext, id thread.ID) {
				flag = true
				rc.Condvars.NotifyOne(ch, id)
			}},
			{Op: thread.Operation{Kind: "mutex", Object: uint64(mh)}, Run: func(rc *engine.RunContext, id thread.ID) {
				rc.Mutexes.Unlock(mh, id)
			}},
		}

		engine.RunPrograms(rc, []thread.ID{main, consumer, producer}, []engine.Program{nil, consumerProgram, producerProgram})

		if !flag {
			panic("condvar_signal: consumer finished without observing flag == true")
		}
	}
}

func seqCstScenario() engine.Scenario {
	return func(rc *engine.RunContext) {
		main := rc.Threads.All()[0].ID
		ta, err := rc.Threads.Spawn(main, rc.MaxThreads())
		if err != nil {
			panic(err)
		}
		tb, err := rc.Threads.Spawn(main, rc.MaxThreads())
		if err != nil {
			panic(err)
		}

		x := newIntAtomic(rc, main, 0)
		y := newIntAtomic(rc, main, 0)
		var observedA, observedB int

		progA := engine.Program{
			{Op: thread.Operation{Kind: "atomic", Object: uint64(x.handle)}, Run: func(rc *engine.RunContext, id thread.ID) {
				x.Store(id, causality.SeqCst, 1)
			}},
			{Op: thread.Operation{Kind: "atomic", Object: uint64(y.handle)}, Run: func(rc *engine.RunContext, id thread.ID) {
				observedA = y.Load(id, causality.SeqCst)
			}},
		}
		progB := engine.Program{
			{Op: thread.Operation{Kind: "atomic", Object: uint64(y.handle)}, Run: func(rc *engine.RunContext, id thread.ID) {
				y.Store(id, causality.SeqCst, 1)
			}},
			{Op: thread.Operation{Kind: "atomic", Object: uint64(x.handle)}, Run: func(rc *engine.RunContext, id thread.ID) {
				observedB = x.Load(id, causality.SeqCst)
			}},
		}

		engine.RunPrograms(rc, []thread.ID{main, ta, tb}, []engine.Program{nil, progA, progB})

		if observedA == 0 && observedB == 0 {
			panic("seq_cst_total_order: both loads observed 0, which SeqCst forbids")
		}
	}
}

func getMutScenario(valid bool) engine.Scenario {
	return func(rc *engine.RunContext) {
		main := rc.Threads.All()[0].ID
		a, err := rc.Threads.Spawn(main, rc.MaxThreads())
		if err != nil {
			panic(err)
		}

		x := newIntAtomic(rc, main, 0)
		if valid {
			x.Store(a, causality.SeqCst, 1)
			rc.Threads.SetState(a, thread.Terminated)
			rc.Threads.Unpark(a, main) // A joins main: transfers A's causality
		} else {
			x.Store(a, causality.Relaxed, 1)
			// No join: main never observes A's store in its causality.
		}

		rc.Atomics.GetMut(x.handle, main)
	}
}

func boundedPreemptionScenario() engine.Scenario {
	return mutexScenario()
}

func builtinScenarios() []scenario {
	zero := 0
	return []scenario{
		{name: "valid_get_mut", description: "get_mut after a join observes the joined thread's store", run: getMutScenario(true)},
		{name: "invalid_get_mut", description: "get_mut without a join panics: main never synchronized with the store", run: getMutScenario(false)},
		{name: "mutex_mutual_exclusion", description: "two workers incrementing a counter under a shared mutex never race", run: mutexScenario()},
		{name: "condvar_signal", description: "a producer's notify_one always reaches a consumer waiting on the same condvar", run: condvarScenario()},
		{name: "seq_cst_total_order", description: "the classic store-buffering litmus test: SeqCst forbids both loads observing 0", run: seqCstScenario()},
		{name: "bounded_preemption_reduces_space", description: "the same mutex scenario, explored with a preemption bound of 0", bound: &zero, run: boundedPreemptionScenario()},
	}
}
