// Package vclock implements the version vector used for both causality and
// DPOR clocks.
package vclock

// ExecID distinguishes thread identifiers across replays. A fresh Execution
// increments this counter so that stale identifiers from a prior replay are
// statically distinguishable.
type ExecID uint32

// Slot is the per-replay index of a logical thread within its execution.
type Slot uint32

// ID is a thread identifier: a pair (execution id, slot index).
type ID struct {
	Exec ExecID
	Slot Slot
}

// V is a version vector: a mapping from thread slot to a non-decreasing
// integer version, scoped to a single execution id. Clocks never cross
// replays, so V only tracks Slot, not the full ID; callers filter by ExecID
// at the boundary (Iter's exec parameter).
type V struct {
	exec     ExecID
	versions []uint64
}

// New returns a fresh vector scoped to exec with capacity for n threads.
func New(exec ExecID, n int) V {
	return V{exec: exec, versions: make([]uint64, n)}
}

// Exec reports the execution id this vector is scoped to.
func (v V) Exec() ExecID { return v.exec }

// Get returns the version recorded for slot, or 0 if slot is out of range.
func (v V) Get(slot Slot) uint64 {
	if int(slot) >= len(v.versions) {
		return 0
	}
	return v.versions[slot]
}

// grow extends the backing slice so slot is addressable.
func (v *V) grow(slot Slot) {
	if int(slot) < len(v.versions) {
		return
	}
	grown := make([]uint64, slot+1)
	copy(grown, v.versions)
	v.versions = grown
}

// Inc increments the entry for slot by one. Inc and Join are the only
// mutations of a vector, and both only ever grow it.
func (v *V) Inc(slot Slot) {
	v.grow(slot)
	v.versions[slot]++
}

// Join performs a pointwise max of v and other into v (receiver mutates).
// A vector may only grow from a join; the result dominates both inputs.
func (v *V) Join(other V) {
	if len(other.versions) > len(v.versions) {
		v.grow(Slot(len(other.versions) - 1))
	}
	for i, ov := range other.versions {
		if ov > v.versions[i] {
			v.versions[i] = ov
		}
	}
}

// GE reports whether v dominates other pointwise (v >= other at every
// slot). Slots absent from one side are treated as 0.
func (v V) GE(other V) bool {
	for i, ov := range other.versions {
		if v.Get(Slot(i)) < ov {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of v.
func (v V) Clone() V {
	cp := make([]uint64, len(v.versions))
	copy(cp, v.versions)
	return V{exec: v.exec, versions: cp}
}

// Pair is one (slot, version) observation yielded by Iter.
type Pair struct {
	Slot    Slot
	Version uint64
}

// Iter calls fn for every (slot, version) pair with version > 0, provided
// exec matches this vector's execution id. Pairs from a foreign execution
// id are ignored, since clocks never cross replays.
func (v V) Iter(exec ExecID, fn func(Pair)) {
	if exec != v.exec {
		return
	}
	for i, ver := range v.versions {
		if ver > 0 {
			fn(Pair{Slot: Slot(i), Version: ver})
		}
	}
}
