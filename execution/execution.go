// Package execution owns the per-replay state and
// implements the DPOR-guided scheduling step.
package execution

import (
	"fmt"

	"github.com/loom-go/loom/alloc"
	"github.com/loom-go/loom/atomicsim"
	"github.com/loom-go/loom/path"
	"github.com/loom-go/loom/primitives"
	"github.com/loom-go/loom/thread"
	"github.com/loom-go/loom/vclock"
)

// objKey identifies an object touched by a pending operation, for the
// "last dependent access" bookkeeping used by race detection and clock
// seeding.
type objKey struct {
	kind thread.Operation
}

// lastAccess records the DPOR clock and Path position of the most recent
// access to one object, used to detect races (step 1) and to seed the next
// access's DPOR clock (step 4).
type lastAccess struct {
	clock  vclock.V
	pathID int
}

// Execution is all state scoped to one replay: the thread set, the branch
// tape, and every typed object arena (atomics, mutexes, condvars, notifies,
// allocations), each addressed by a small handle.
type Execution struct {
	Threads  *thread.Set
	Path     *path.Path
	Atomics  *atomicsim.Simulator
	Mutexes  *primitives.Mutexes
	Condvars *primitives.Condvars
	Notifies *primitives.Notifies
	Allocs   *alloc.Tracker

	maxThreads int
	last       map[objKey]lastAccess
}

// New creates a fresh Execution scoped to exec for a new replay, sharing p
// (the branch tape persists across replays; only the object arenas and
// thread set are per-replay, recreated with a fresh execution id).
func New(exec vclock.ExecID, maxThreads int, p *path.Path) *Execution {
	set := thread.New(exec, maxThreads)
	return &Execution{
		Threads:    set,
		Path:       p,
		Atomics:    atomicsim.New(set, p),
		Mutexes:    primitives.NewMutexes(set, p),
		Condvars:   primitives.NewCondvars(set, p),
		Notifies:   primitives.NewNotifies(set, p),
		Allocs:     alloc.New(),
		maxThreads: maxThreads,
		last:       make(map[objKey]lastAccess),
	}
}

// MaxThreads reports the per-replay thread cap a Scenario should pass to
// every Spawn call.
func (e *Execution) MaxThreads() int { return e.maxThreads }

// Reset replaces the thread set and every per-replay simulator with fresh
// ones scoped to exec, keeping the same Execution and Path; the old arenas'
// backing storage is not reused.
func (e *Execution) Reset(exec vclock.ExecID) {
	e.Threads = thread.New(exec, e.maxThreads)
	e.Atomics = atomicsim.New(e.Threads, e.Path)
	e.Mutexes = primitives.NewMutexes(e.Threads, e.Path)
	e.Condvars = primitives.NewCondvars(e.Threads, e.Path)
	e.Notifies = primitives.NewNotifies(e.Threads, e.Path)
	e.Allocs = alloc.New()
	e.last = make(map[objKey]lastAccess)
}

// ViolationDeadlock is panicked by Schedule when no thread can be made
// active and at least one thread remains non-Terminated.
type ViolationDeadlock struct {
	States []thread.State
}

func (e ViolationDeadlock) Error() string {
	return fmt.Sprintf("loom: deadlock: no runnable thread, states=%v", e.States)
}

// statusFor classifies th for the Schedule seed as one of
// Active/Yield/Disabled/Skip.
func statusFor(th thread.Thread, preferred thread.ID) path.ThreadStatus {
	switch th.State {
	case thread.Terminated, thread.Blocked:
		return path.Disabled
	case thread.Yield:
		return path.Yield
	}
	if th.ID == preferred {
		return path.Active
	}
	return path.Skip
}

// pickPreferred chooses the thread Schedule prefers as Active this step:
// current if still Runnable, else the first Runnable thread by slot order.
func pickPreferred(set *thread.Set, current thread.ID) (thread.ID, bool) {
	if t := set.Get(current); t != nil && t.State == thread.Runnable {
		return current, true
	}
	for _, th := range set.All() {
		if th.State == thread.Runnable {
			return th.ID, true
		}
	}
	return thread.ID{}, false
}

// Schedule implements one step of DPOR-guided scheduling.
// current is the thread that was active before this call (the caller's own
// id, typically: the thread that just performed a suspension point).
// Schedule returns the newly active thread id and whether any thread
// remains active (false means every thread has terminated).
func (e *Execution) Schedule(current thread.ID) (thread.ID, bool) {
	// Step 1: race detection against every non-active pending operation.
	for _, th := range e.Threads.All() {
		if th.ID == current || th.PendingOp == nil {
			continue
		}
		key := objKey{kind: *th.PendingOp}
		rec, ok := e.last[key]
		if !ok {
			continue
		}
		if !th.DPORClock.GE(rec.clock) {
			e.Path.Backtrack(rec.pathID, int(th.ID.Slot))
		}
	}

	// Step 2: consult the Path for the next active thread.
	preferred, any := pickPreferred(e.Threads, current)
	threads := e.Threads.All()
	seed := make([]path.ThreadStatus, len(threads))
	for i, th := range threads {
		if any {
			seed[i] = statusFor(th, preferred)
		} else {
			seed[i] = path.Disabled
		}
	}
	activeSlot := e.Path.BranchSchedule(seed)

	// Step 3: deadlock check.
	if activeSlot < 0 {
		if e.Threads.AllTerminated() {
			return thread.ID{}, false
		}
		states := make([]thread.State, len(threads))
		for i, th := range threads {
			states[i] = th.State
		}
		panic(ViolationDeadlock{States: states})
	}

	newActive := threads[activeSlot].ID

	// Step 4: join dependent-access DPOR clocks, bump, and record.
	nt := e.Threads.Get(newActive)
	if nt.PendingOp != nil {
		key := objKey{kind: *nt.PendingOp}
		if rec, ok := e.last[key]; ok {
			nt.DPORClock.Join(rec.clock)
		}
		nt.DPORClock.Inc(newActive.Slot)
		e.last[key] = lastAccess{clock: nt.DPORClock.Clone(), pathID: e.Path.Pos() - 1}
	} else {
		nt.DPORClock.Inc(newActive.Slot)
	}

	// Step 5: re-enable yielded threads other than the newly active one.
	e.Threads.ReenableYielded(newActive)

	return newActive, true
}
