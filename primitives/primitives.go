// Package primitives implements the blocking synchronization wrappers:
// Mutex, Condvar and Notify. Each owns its own causality Synchronize and
// a FIFO waiter queue of parked thread ids, and each suspension point is
// a branch point recorded on the Path.
package primitives

import (
	"fmt"

	"github.com/loom-go/loom/causality"
	"github.com/loom-go/loom/objstore"
	"github.com/loom-go/loom/path"
	"github.com/loom-go/loom/thread"
	"github.com/loom-go/loom/vclock"
)

// ---- Mutex -----------------------------------------------------------

// MutexState is one mutex's tracked state.
type MutexState struct {
	Locked  bool
	Sync    causality.Synchronize
	Waiters []thread.ID
}

// Mutexes owns every mutex tracked this replay.
type Mutexes struct {
	arena objstore.Arena[MutexState]
	set   *thread.Set
	p     *path.Path
}

// NewMutexes returns a Mutexes bound to set and p for the current replay.
func NewMutexes(set *thread.Set, p *path.Path) *Mutexes {
	return &Mutexes{set: set, p: p}
}

// Reset clears every tracked mutex for the next replay.
func (m *Mutexes) Reset() { m.arena.Reset() }

// New creates a new, unlocked mutex.
func (m *Mutexes) New() uint32 {
	return m.arena.Alloc(MutexState{})
}

// ErrWouldBlock is returned by TryLock when the mutex is already held.
type ErrWouldBlock struct{ Handle uint32 }

func (e ErrWouldBlock) Error() string {
	return fmt.Sprintf("loom: mutex %d already locked", e.Handle)
}

// TryLock performs the RMW on the internal locked bit. On success the
// mutex's Synchronize transfers causality into active via Acquire.
func (m *Mutexes) TryLock(handle uint32, active thread.ID) error {
	st := m.arena.Get(handle)
	if st.Locked {
		return ErrWouldBlock{Handle: handle}
	}
	st.Locked = true
	st.Sync.Load(m.set, active, causality.Acquire)
	return nil
}

// Lock blocks until the mutex can be acquired. If it is already held the
// active thread registers intent, is marked Blocked, and parked on the
// mutex's waiter queue; the scheduler will not reconsider it until a
// release unparks it.
func (m *Mutexes) Lock(handle uint32, active thread.ID) {
	st := m.arena.Get(handle)
	if !st.Locked {
		st.Locked = true
		st.Sync.Load(m.set, active, causality.Acquire)
		return
	}
	st.Waiters = append(st.Waiters, active)
	m.set.SetState(active, thread.Blocked)
}

// Unlock releases the mutex. If waiters are queued, a branch point picks
// one (the head, by default) to hand the lock to directly, transferring
// causality through the mutex's Synchronize with Release/Acquire pairing;
// otherwise the mutex simply becomes unlocked.
func (m *Mutexes) Unlock(handle uint32, active thread.ID) {
	st := m.arena.Get(handle)
	st.Sync.Store(m.set, active, causality.Release)

	if len(st.Waiters) == 0 {
		st.Locked = false
		return
	}
	choice := m.p.BranchWrite(indices(len(st.Waiters)))
	next := st.Waiters[choice]
	st.Waiters = append(st.Waiters[:choice], st.Waiters[choice+1:]...)

	st.Sync.Load(m.set, next, causality.Acquire)
	m.set.Unpark(active, next)
}

// indices returns [0, 1, ..., n-1], the seed for a branch point that picks
// among n equally-legal candidates (the waiter-selection branch point has
// no ordering preference analogous to write recency, so candidates are
// listed head-first).
func indices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// ---- Condvar -----------------------------------------------------------

// Access is a diagnostic record of the path position and causality a
// primitive was last touched at.
type Access struct {
	PathID  int
	Version vclock.V
}

// CondvarState is one condvar's tracked state.
type CondvarState struct {
	Sync       causality.Synchronize
	Waiters    []thread.ID
	LastAccess *Access
}

// Condvars owns every condvar tracked this replay.
type Condvars struct {
	arena objstore.Arena[CondvarState]
	set   *thread.Set
	p     *path.Path
}

// NewCondvars returns a Condvars bound to set and p for the current replay.
func NewCondvars(set *thread.Set, p *path.Path) *Condvars {
	return &Condvars{set: set, p: p}
}

// Reset clears every tracked condvar for the next replay.
func (c *Condvars) Reset() { c.arena.Reset() }

// New creates a new, empty condvar.
func (c *Condvars) New() uint32 {
	return c.arena.Alloc(CondvarState{})
}

// touch records active's causality and the current path position as st's
// last access, for diagnostics.
func (c *Condvars) touch(st *CondvarState, active thread.ID) {
	t := c.set.Get(active)
	if t == nil {
		return
	}
	st.LastAccess = &Access{PathID: c.p.Pos(), Version: t.Causality.Clone()}
}

// Wait appends active to the waiter queue, releases mutex, and parks active
// (Blocked). It does not reacquire the mutex on wake: the caller re-invokes
// Mutexes.Lock once active is runnable again. The caller
// (the wrapper) is expected to call Wait only after having already
// verified the mutex is held by active.
func (c *Condvars) Wait(handle uint32, active thread.ID, mutexes *Mutexes, mutex uint32) {
	st := c.arena.Get(handle)
	c.touch(st, active)
	st.Waiters = append(st.Waiters, active)
	mutexes.Unlock(mutex, active)
	mutexes.set.SetState(active, thread.Blocked)
	// On resume (driven by NotifyOne/NotifyAll unparking active) the
	// wrapper re-invokes Mutexes.Lock on mutex; wait itself does not block
	// past the unpark since scheduling resumes it only once runnable.
}

// NotifyOne pops a waiter, if any, via a branch point and unparks it.
func (c *Condvars) NotifyOne(handle uint32, active thread.ID) {
	st := c.arena.Get(handle)
	c.touch(st, active)
	st.Sync.Store(c.set, active, causality.Release)
	if len(st.Waiters) == 0 {
		return
	}
	choice := c.p.BranchWrite(indices(len(st.Waiters)))
	next := st.Waiters[choice]
	st.Waiters = append(st.Waiters[:choice], st.Waiters[choice+1:]...)
	st.Sync.Load(c.set, next, causality.Acquire)
	c.set.Unpark(active, next)
}

// NotifyAll drains the waiter queue, unparking every waiter.
func (c *Condvars) NotifyAll(handle uint32, active thread.ID) {
	st := c.arena.Get(handle)
	c.touch(st, active)
	st.Sync.Store(c.set, active, causality.Release)
	waiters := st.Waiters
	st.Waiters = nil
	for _, w := range waiters {
		st.Sync.Load(c.set, w, causality.Acquire)
		c.set.Unpark(active, w)
	}
}

// ---- Notify -----------------------------------------------------------

// NotifyState is one notify gate's tracked state.
type NotifyState struct {
	Sync       causality.Synchronize
	Notified   bool
	SeqCst     bool
	Waiters    []thread.ID
	LastAccess *Access
}

// Notifies owns every notify gate tracked this replay.
type Notifies struct {
	arena objstore.Arena[NotifyState]
	set   *thread.Set
	p     *path.Path
}

// NewNotifies returns a Notifies bound to set and p for the current replay.
func NewNotifies(set *thread.Set, p *path.Path) *Notifies {
	return &Notifies{set: set, p: p}
}

// Reset clears every tracked notify gate for the next replay.
func (n *Notifies) Reset() { n.arena.Reset() }

// New creates a new, unset notify gate. seqCst selects the SeqCst flavor:
// a single-shot gate with optional SeqCst ordering on notify/wait.
func (n *Notifies) New(seqCst bool) uint32 {
	return n.arena.Alloc(NotifyState{SeqCst: seqCst})
}

// touch records active's causality and the current path position as st's
// last access, for diagnostics.
func (n *Notifies) touch(st *NotifyState, active thread.ID) {
	t := n.set.Get(active)
	if t == nil {
		return
	}
	st.LastAccess = &Access{PathID: n.p.Pos(), Version: t.Causality.Clone()}
}

// Notify joins causality via Release, sets notified, and unparks any
// thread whose pending operation targets this object.
func (n *Notifies) Notify(handle uint32, active thread.ID) {
	st := n.arena.Get(handle)
	n.touch(st, active)
	order := causality.Release
	if st.SeqCst {
		order = causality.SeqCst
	}
	st.Sync.Store(n.set, active, order)
	st.Notified = true

	waiters := st.Waiters
	st.Waiters = nil
	for _, w := range waiters {
		n.set.Unpark(active, w)
	}
}

// Wait returns immediately (consuming the flag with Acquire) if the gate
// is already notified; otherwise registers intent and blocks. On resume
// the caller (wrapper) is expected to re-check Notified and call
// Consume, which asserts the flag and applies the acquire.
func (n *Notifies) Wait(handle uint32, active thread.ID) (ready bool) {
	st := n.arena.Get(handle)
	n.touch(st, active)
	if st.Notified {
		n.consumeLocked(st, active)
		return true
	}
	st.Waiters = append(st.Waiters, active)
	n.set.SetState(active, thread.Blocked)
	return false
}

// Consume asserts the gate is notified and applies the deferred acquire
// for a thread resuming from a blocked Wait.
func (n *Notifies) Consume(handle uint32, active thread.ID) {
	st := n.arena.Get(handle)
	n.touch(st, active)
	n.consumeLocked(st, active)
}

func (n *Notifies) consumeLocked(st *NotifyState, active thread.ID) {
	if !st.Notified {
		panic("loom: notify consumed before being notified")
	}
	order := causality.Acquire
	if st.SeqCst {
		order = causality.SeqCst
	}
	st.Sync.Load(n.set, active, order)
	st.Notified = false
}
