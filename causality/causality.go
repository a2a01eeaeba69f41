// Package causality implements Synchronize: the
// happens-before carrier between release/acquire paired operations on
// atomics, mutexes, condvars, and notifies.
package causality

import (
	"github.com/loom-go/loom/thread"
	"github.com/loom-go/loom/vclock"
)

// Order is the memory ordering requested on a synchronizing operation.
// Wrappers are expected to enforce: store orderings are
// Relaxed/Release/SeqCst; load orderings are Relaxed/Acquire/SeqCst; RMW
// pairs a success ordering with an AcqRel-compatible failure ordering.
type Order int

const (
	Relaxed Order = iota
	Acquire
	Release
	AcqRel
	SeqCst
)

func (o Order) String() string {
	switch o {
	case Relaxed:
		return "Relaxed"
	case Acquire:
		return "Acquire"
	case Release:
		return "Release"
	case AcqRel:
		return "AcqRel"
	case SeqCst:
		return "SeqCst"
	default:
		return "Unknown"
	}
}

// IsRelease reports whether o includes release semantics (Release, AcqRel
// or SeqCst all do).
func (o Order) IsRelease() bool { return o == Release || o == AcqRel || o == SeqCst }

// IsAcquire reports whether o includes acquire semantics.
func (o Order) IsAcquire() bool { return o == Acquire || o == AcqRel || o == SeqCst }

// Synchronize wraps a single version vector and transfers causality
// between threads on release/acquire pairs.
type Synchronize struct {
	version vclock.V
}

// New returns a Synchronize with an empty stored vector scoped to exec.
func New(exec vclock.ExecID, n int) Synchronize {
	return Synchronize{version: vclock.New(exec, n)}
}

// Seed returns a Synchronize whose stored vector already carries seed's
// causality, used by the atomic simulator's constructor to seed the
// initial store with the creator's causality.
func Seed(seed vclock.V) Synchronize {
	return Synchronize{version: seed.Clone()}
}

// Version returns the stored vector (read-only use; callers must Clone
// before mutating).
func (s Synchronize) Version() vclock.V { return s.version }

// Clone returns an independent copy, used by RMW to realise the release
// sequence: the new store's Synchronize clones the predecessor's.
func (s Synchronize) Clone() Synchronize { return Synchronize{version: s.version.Clone()} }

// Store performs sync_store: on release-or-stronger orderings the stored
// vector becomes max(stored, active.causality). A SeqCst store also pipes
// the active thread's causality through the thread set's seq-cst vector
// in both directions, totally ordering all SeqCst operations.
func (s *Synchronize) Store(set *thread.Set, active thread.ID, order Order) {
	if !order.IsRelease() {
		return
	}
	active_ := set.Get(active)
	if active_ == nil {
		return
	}
	s.version.Join(active_.Causality)
	if order == SeqCst {
		set.SeqCst(active)
	}
}

// Load performs sync_load: on acquire-or-stronger orderings the active
// thread's causality becomes max(active.causality, stored). A SeqCst load
// also pipes through the seq-cst vector.
func (s *Synchronize) Load(set *thread.Set, active thread.ID, order Order) {
	if !order.IsAcquire() {
		return
	}
	active_ := set.Get(active)
	if active_ == nil {
		return
	}
	active_.Causality.Join(s.version)
	if order == SeqCst {
		set.SeqCst(active)
	}
}
