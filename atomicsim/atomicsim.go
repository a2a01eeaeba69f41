// Package atomicsim implements the atomic memory simulator:
// a per-location write history, a write-selection algorithm among writes
// legal under the requested ordering, and first-seen tracking per thread.
//
// The simulator is payload-agnostic: it tracks which store a load
// observed by index, not what value that store carried. Wrapper types
// (the external, out-of-scope atomic mimics) keep a parallel value table
// and use the returned index to look up the observed payload.
package atomicsim

import (
	"fmt"

	"github.com/loom-go/loom/causality"
	"github.com/loom-go/loom/objstore"
	"github.com/loom-go/loom/path"
	"github.com/loom-go/loom/thread"
	"github.com/loom-go/loom/vclock"
)

// Store is one entry in an atomic's history.
type Store struct {
	Sync      causality.Synchronize
	FirstSeen map[vclock.Slot]uint64 // thread slot -> atomic-version at first observation
	SeqCst    bool
}

// State is one atomic object's history. Invariant: History
// is never empty from creation onward.
type State struct {
	History []Store
}

// Simulator owns every atomic tracked this replay.
type Simulator struct {
	arena objstore.Arena[State]
	set   *thread.Set
	p     *path.Path
}

// New returns a Simulator bound to set and p for the current replay.
func New(set *thread.Set, p *path.Path) *Simulator {
	return &Simulator{set: set, p: p}
}

// Reset clears every tracked atomic for the next replay.
func (s *Simulator) Reset() { s.arena.Reset() }

// Len reports how many atomics are tracked this replay (for the
// reproducer dump / diagnostics).
func (s *Simulator) Len() int { return s.arena.Len() }

// NewAtomic creates a new atomic, seeding its history with one store
// carrying active's full causality.
func (s *Simulator) NewAtomic(active thread.ID) uint32 {
	t := s.set.Get(active)
	initial := Store{
		Sync:      causality.Seed(t.Causality),
		FirstSeen: map[vclock.Slot]uint64{active.Slot: s.set.Bump(active)},
	}
	return s.arena.Alloc(State{History: []Store{initial}})
}

// ViolationGetMut is panicked by GetMut when the precondition doesn't
// hold.
type ViolationGetMut struct {
	Handle uint32
}

func (e ViolationGetMut) Error() string {
	return "get_mut requires entire history to happen-before current thread"
}

// GetMut asserts that a mutable reference to the atomic at handle is sound:
// every store in its history must happen-before active's causality.
func (s *Simulator) GetMut(handle uint32, active thread.ID) {
	t := s.set.Get(active)
	st := s.arena.Get(handle)
	for _, store := range st.History {
		if !t.Causality.GE(store.Sync.Version()) {
			panic(ViolationGetMut{Handle: handle})
		}
	}
}

// isSeenByCurrent reports whether store is transitively visible to t: for
// some slot in t's causality, some thread first observed store at or
// before t's own recorded version for that slot. This is a first-seen
// check, not a dominance check against the store's own Synchronize
// vector: a Relaxed store leaves that vector empty, so dominance would
// trivially hold for everyone and no thread could ever see a stale value.
func isSeenByCurrent(store *Store, t *thread.Thread) bool {
	seen := false
	t.Causality.Iter(t.Causality.Exec(), func(pair vclock.Pair) {
		if seen {
			return
		}
		if fs, ok := store.FirstSeen[pair.Slot]; ok && fs <= pair.Version {
			seen = true
		}
	})
	return seen
}

// legalWrites computes the seed handed to Path.BranchWrite: the indices
// of stores legal under order, walking the history newest-first.
func legalWrites(st *State, t *thread.Thread, order causality.Order) []int {
	n := len(st.History)
	var candidates []int
	for i := n - 1; i >= 0; i-- {
		store := &st.History[i]
		mostRecent := i == n-1

		observedBeforeYield := false
		if fs, ok := store.FirstSeen[t.ID.Slot]; ok && t.LastYieldVersion != nil && fs <= *t.LastYieldVersion {
			observedBeforeYield = true
		}
		seen := isSeenByCurrent(store, t)
		seqCstMatch := order == causality.SeqCst && store.SeqCst

		if mostRecent || observedBeforeYield || seen || seqCstMatch {
			candidates = append(candidates, i)
		}
		if observedBeforeYield || seen {
			break
		}
	}
	return candidates
}

// Load performs the atomic load algorithm.
func (s *Simulator) Load(handle uint32, active thread.ID, order causality.Order) int {
	t := s.set.Get(active)
	st := s.arena.Get(handle)

	seed := legalWrites(st, t, order)
	chosen := s.p.BranchWrite(seed)

	version := s.set.Bump(active)
	store := &st.History[chosen]
	if _, ok := store.FirstSeen[active.Slot]; !ok {
		if store.FirstSeen == nil {
			store.FirstSeen = make(map[vclock.Slot]uint64)
		}
		store.FirstSeen[active.Slot] = version
	}
	store.Sync.Load(s.set, active, order)
	return chosen
}

// Store performs the atomic store algorithm: append a new
// store, sync_store on it, and record whether it's SeqCst.
func (s *Simulator) Store(handle uint32, active thread.ID, order causality.Order) int {
	t := s.set.Get(active)
	st := s.arena.Get(handle)

	s.set.Bump(active)
	sync := causality.New(t.Causality.Exec(), s.set.Len())
	sync.Store(s.set, active, order)
	st.History = append(st.History, Store{
		Sync:      sync,
		FirstSeen: map[vclock.Slot]uint64{},
		SeqCst:    order == causality.SeqCst,
	})
	return len(st.History) - 1
}

// RMWAttempt is the caller's attempt closure: it reports whether the
// read-modify-write succeeded (e.g. a CAS comparing against the observed
// value).
type RMWAttempt func(observedIndex int) (success bool)

// ErrRMWFailed is returned by RMW when the attempt closure reports
// failure, after applying sync_load(failure) on the latest store.
type ErrRMWFailed struct{ Handle uint32 }

func (e ErrRMWFailed) Error() string {
	return fmt.Sprintf("loom: rmw on atomic %d failed", e.Handle)
}

// RMW performs the atomic RMW algorithm: operate on the
// latest store; on success append a new store whose Synchronize clones
// the predecessor's (realising the release sequence) before sync_store.
func (s *Simulator) RMW(handle uint32, active thread.ID, success, failure causality.Order, attempt RMWAttempt) (int, error) {
	st := s.arena.Get(handle)

	latest := len(st.History) - 1
	version := s.set.Bump(active)
	store := &st.History[latest]
	if store.FirstSeen == nil {
		store.FirstSeen = make(map[vclock.Slot]uint64)
	}
	if _, ok := store.FirstSeen[active.Slot]; !ok {
		store.FirstSeen[active.Slot] = version
	}

	if !attempt(latest) {
		store.Sync.Load(s.set, active, failure)
		return latest, ErrRMWFailed{Handle: handle}
	}

	store.Sync.Load(s.set, active, success)
	newSync := store.Sync.Clone()
	newSync.Store(s.set, active, success)
	st.History = append(st.History, Store{
		Sync:      newSync,
		FirstSeen: map[vclock.Slot]uint64{},
		SeqCst:    success == causality.SeqCst,
	})
	return len(st.History) - 1, nil
}

// FenceAcquire implements Fence(Acquire): for every atomic and
// every store whose first_seen includes active, apply sync_load(Acquire).
// Other fence orderings are out of scope and fail fast.
func (s *Simulator) FenceAcquire(active thread.ID) {
	states := s.arena.All()
	for i := range states {
		for j := range states[i].History {
			store := &states[i].History[j]
			if _, ok := store.FirstSeen[active.Slot]; ok {
				store.Sync.Load(s.set, active, causality.Acquire)
			}
		}
	}
}

// HistoryLen reports the number of stores on the atomic at handle
// (diagnostic / test use).
func (s *Simulator) HistoryLen(handle uint32) int {
	return len(s.arena.Get(handle).History)
}
