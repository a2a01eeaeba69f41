package engine

import "github.com/loom-go/loom/thread"

// Step is one suspension point in a logical thread's program: Op
// describes what it touches, set as PendingOp immediately before
// scheduling and cleared immediately after, and Run performs the actual
// operation once this thread has been chosen to run.
type Step struct {
	Op  thread.Operation
	Run func(rc *RunContext, id thread.ID)
}

// Program is one logical thread's full suspension-point sequence: a flat
// step list standing in for a real stackful fiber. Only one logical
// thread needs to run at a time, with switches happening exactly at
// suspension points, and a step list satisfies that directly. A Step
// whose Run blocks the thread (mutex lock while held, condvar wait,
// notify wait) leaves it Blocked; RunPrograms simply stops offering it as
// a candidate until a primitive's own unpark call makes it Runnable
// again.
type Program []Step

// RunPrograms drives every program to completion, letting the Execution's
// DPOR-guided Schedule decide, at each suspension point, which logical
// thread advances next. ids must be in the same slot order as programs
// (ids[i] is the thread id that runs programs[i]).
func RunPrograms(rc *RunContext, ids []thread.ID, programs []Program) {
	cursor := make([]int, len(programs))
	current := ids[0]

	for {
		anyPending := false
		for i, id := range ids {
			t := rc.Threads.Get(id)
			switch t.State {
			case thread.Terminated, thread.Blocked:
				continue
			}
			if cursor[i] >= len(programs[i]) {
				t.PendingOp = nil
				rc.Threads.SetState(id, thread.Terminated)
				continue
			}
			op := programs[i][cursor[i]].Op
			t.PendingOp = &op
			anyPending = true
		}

		if !anyPending {
			if allTerminated(rc, ids) {
				return
			}
			// every remaining thread is Blocked: either a genuine deadlock
			// (Schedule will panic) or we've simply run out of programs to
			// offer, so ask Schedule to confirm.
		}

		next, ok := rc.Schedule(current)
		if !ok {
			return
		}
		current = next

		idx := slotIndex(ids, next)
		step := programs[idx][cursor[idx]]
		rc.Threads.Get(next).PendingOp = nil
		step.Run(rc, next)
		cursor[idx]++
	}
}

func allTerminated(rc *RunContext, ids []thread.ID) bool {
	for _, id := range ids {
		if rc.Threads.Get(id).State != thread.Terminated {
			return false
		}
	}
	return true
}

func slotIndex(ids []thread.ID, target thread.ID) int {
	for i, id := range ids {
		if id == target {
			return i
		}
	}
	panic("loom: unknown thread id in program dispatch")
}
