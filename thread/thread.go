// Package thread owns the set of logical threads for the current replay:
// their state, causality, DPOR clock, and yield bookkeeping.
package thread

import (
	"fmt"

	"github.com/loom-go/loom/vclock"
)

// State is the closed sum type of thread lifecycle states.
type State int

const (
	Runnable State = iota
	Blocked
	Yield
	Terminated
)

func (s State) String() string {
	switch s {
	case Runnable:
		return "Runnable"
	case Blocked:
		return "Blocked"
	case Yield:
		return "Yield"
	case Terminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// Operation is the pending action a blocked/about-to-schedule thread is
// trying to perform, used by Execution.Schedule to find
// dependent prior accesses. Kind/Object identify what the operation
// touches; the op itself is opaque to the thread set.
type Operation struct {
	Kind   string // e.g. "atomic", "mutex", "condvar", "notify", "alloc"
	Object uint64 // handle index within its kind's arena
}

// Thread is one logical thread's state.
type Thread struct {
	ID               ID
	State            State
	Critical         bool
	PendingOp        *Operation
	Causality        vclock.V
	DPORClock        vclock.V
	LastYieldVersion *uint64
	YieldCount       int

	// OpSeq is the thread-local sequence counter ("atomic version"): it is
	// bumped on every atomic load/store/RMW this thread performs (see
	// Bump) and snapshotted into LastYieldVersion when the thread yields
	// (see RecordYield). Legal-write selection needs to know whether a
	// store has been observed by this thread before its last yield, which
	// is only well-defined given some such counter.
	OpSeq uint64
}

// ID re-exports vclock.ID so callers needn't import vclock for the common
// case of naming a thread.
type ID = vclock.ID

// Set owns all threads for the current replay plus the seq-cst causality
// vector every SeqCst operation funnels through.
type Set struct {
	exec            vclock.ExecID
	threads         []Thread
	seqCstCausality vclock.V
}

// New creates a Set scoped to exec with a single Runnable initial thread
// at slot 0.
func New(exec vclock.ExecID, maxThreads int) *Set {
	s := &Set{exec: exec, seqCstCausality: vclock.New(exec, maxThreads)}
	s.threads = make([]Thread, 0, maxThreads)
	s.spawnLocked(vclock.New(exec, maxThreads))
	return s
}

func (s *Set) spawnLocked(parentCausality vclock.V) ID {
	slot := vclock.Slot(len(s.threads))
	id := ID{Exec: s.exec, Slot: slot}
	causality := parentCausality.Clone()
	// The child's own slot is incremented on spawn (causality[child] +=
	// 1); harmless even where not strictly required, and matches what
	// existing bug reproducers expect bit-for-bit.
	causality.Inc(slot)
	s.threads = append(s.threads, Thread{
		ID:        id,
		State:     Runnable,
		Causality: causality,
		DPORClock: vclock.New(s.exec, len(s.threads)+1),
	})
	return id
}

// ErrMaxThreads is returned by Spawn when the configured thread cap is hit.
type ErrMaxThreads struct{ Max int }

func (e ErrMaxThreads) Error() string {
	return fmt.Sprintf("loom: max_threads (%d) exceeded", e.Max)
}

// Spawn creates a new thread whose initial causality is inherited from
// the parent by join, then has its own slot incremented.
func (s *Set) Spawn(parent ID, maxThreads int) (ID, error) {
	if len(s.threads) >= maxThreads {
		return ID{}, ErrMaxThreads{Max: maxThreads}
	}
	p := s.mustGet(parent)
	return s.spawnLocked(p.Causality), nil
}

func (s *Set) mustGet(id ID) *Thread {
	for i := range s.threads {
		if s.threads[i].ID == id {
			return &s.threads[i]
		}
	}
	panic(fmt.Sprintf("loom: unknown thread id %+v", id))
}

// Get returns a pointer to the thread with id, or nil if unknown.
func (s *Set) Get(id ID) *Thread {
	for i := range s.threads {
		if s.threads[i].ID == id {
			return &s.threads[i]
		}
	}
	return nil
}

// All returns every thread in slot order. Callers must not retain the
// slice past the next mutation.
func (s *Set) All() []Thread { return s.threads }

// Len reports the number of threads tracked this replay.
func (s *Set) Len() int { return len(s.threads) }

// Split lets the scheduler address (active thread, iterator over the
// rest) simultaneously. It returns index-based accessors rather than
// aliasing slices, since Go has no borrow checker to enforce disjointness
// for us.
type Split struct {
	set    *Set
	active int // index into set.threads, or -1
}

// Split returns a Split over the current threads, with active identifying
// the currently-Active thread by id (or the zero ID if none is active).
func (s *Set) Split(active ID) Split {
	idx := -1
	for i := range s.threads {
		if s.threads[i].ID == active {
			idx = i
			break
		}
	}
	return Split{set: s, active: idx}
}

// ActiveThread returns the active thread, or nil if Split was built with
// an unknown/zero id.
func (sp Split) ActiveThread() *Thread {
	if sp.active < 0 {
		return nil
	}
	return &sp.set.threads[sp.active]
}

// Others calls fn for every thread other than the active one.
func (sp Split) Others(fn func(*Thread)) {
	for i := range sp.set.threads {
		if i != sp.active {
			fn(&sp.set.threads[i])
		}
	}
}

// SetState transitions id to state. Terminated is sticky: a Terminated
// thread never transitions back.
func (s *Set) SetState(id ID, state State) {
	t := s.mustGet(id)
	if t.State == Terminated && state != Terminated {
		panic(fmt.Sprintf("loom: attempted to resurrect terminated thread %+v", id))
	}
	t.State = state
}

// Unpark joins the active thread's causality into the target and moves a
// Blocked/Yield target to Runnable.
func (s *Set) Unpark(active, target ID) {
	a := s.mustGet(active)
	tgt := s.mustGet(target)
	tgt.Causality.Join(a.Causality)
	if tgt.State == Blocked || tgt.State == Yield {
		tgt.State = Runnable
	}
}

// SeqCst pipes the active thread's causality through the set's seq-cst
// causality vector in both directions, so all SeqCst operations are
// totally ordered.
func (s *Set) SeqCst(active ID) {
	a := s.mustGet(active)
	s.seqCstCausality.Join(a.Causality)
	a.Causality.Join(s.seqCstCausality)
}

// Bump increments id's atomic-version counter and returns the new value,
// called by atomicsim on every load/store/RMW.
func (s *Set) Bump(id ID) uint64 {
	t := s.mustGet(id)
	t.OpSeq++
	return t.OpSeq
}

// RecordYield snapshots id's current atomic-version counter into
// LastYieldVersion and increments YieldCount, called when a thread
// performs an explicit yield.
func (s *Set) RecordYield(id ID) {
	t := s.mustGet(id)
	t.YieldCount++
	v := t.OpSeq
	t.LastYieldVersion = &v
}

// ReenableYielded moves every Yield thread except skip back to Runnable,
// so they are reconsidered by the next schedule.
func (s *Set) ReenableYielded(skip ID) {
	for i := range s.threads {
		if s.threads[i].State == Yield && s.threads[i].ID != skip {
			s.threads[i].State = Runnable
		}
	}
}

// AllTerminated reports whether every tracked thread is Terminated, used
// by the deadlock check.
func (s *Set) AllTerminated() bool {
	for i := range s.threads {
		if s.threads[i].State != Terminated {
			return false
		}
	}
	return true
}
