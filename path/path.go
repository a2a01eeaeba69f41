// Package path implements the branch tape: the ordered log of per-replay
// decisions, the backtrack frontier the next replay consumes, and
// DPOR/preemption-bounded backtracking.
package path

import (
	"fmt"

	"github.com/loom-go/loom/vclock"
)

// Kind is the closed sum type of branch records.
type Kind int

const (
	KindSchedule Kind = iota
	KindWrite
)

// ThreadStatus is a Schedule branch's per-thread-slot status.
type ThreadStatus int

const (
	Disabled ThreadStatus = iota // not runnable at all
	Skip                         // runnable but not to be explored
	Yield                        // yielded this schedule point
	Pending                      // scheduled for later exploration
	Active                       // the current decision
	Visited                      // was Active, already consumed
)

// ScheduleBranch is the payload of a Schedule branch.
type ScheduleBranch struct {
	Status      []ThreadStatus
	Preemptions int
}

// ActiveSlot returns the slot currently marked Active, or -1 if none.
func (b *ScheduleBranch) ActiveSlot() int {
	for i, st := range b.Status {
		if st == Active {
			return i
		}
	}
	return -1
}

// WriteBranch is the payload of a Write branch: a queue of candidate
// store indices, head-first.
type WriteBranch struct {
	Candidates []int
}

// Branch is one tape position: exactly one of Schedule/Write is set,
// selected by Kind.
type Branch struct {
	Kind     Kind
	Schedule *ScheduleBranch
	Write    *WriteBranch
}

// ErrMaxBranches is panicked when recording
// a branch would exceed the configured cap.
type ErrMaxBranches struct{ Max int }

func (e ErrMaxBranches) Error() string {
	return fmt.Sprintf("loom: max_branches (%d) exceeded", e.Max)
}

// Path is the branch tape for the current replay.
type Path struct {
	branches        []Branch
	pos             int
	maxBranches     int
	preemptionBound *int // nil = exhaustive (None)
}

// New returns an empty Path with the given hard cap and optional
// preemption bound (nil means exhaustive exploration).
func New(maxBranches int, preemptionBound *int) *Path {
	return &Path{maxBranches: maxBranches, preemptionBound: preemptionBound}
}

// Len reports the number of recorded branches (the tape length so far).
func (p *Path) Len() int { return len(p.branches) }

// Pos reports the current read/write cursor.
func (p *Path) Pos() int { return p.pos }

// Recording reports whether the next branch call will seed a fresh
// decision (pos == len(branches)) rather than replay a recorded one.
func (p *Path) Recording() bool { return p.pos == len(p.branches) }

func (p *Path) checkBudget() {
	if len(p.branches) >= p.maxBranches {
		panic(ErrMaxBranches{Max: p.maxBranches})
	}
}

// lastSchedule returns the most recently recorded Schedule branch (for
// inheriting the preemption count), or nil if none yet exist.
func (p *Path) lastSchedule() *ScheduleBranch {
	for i := len(p.branches) - 1; i >= 0; i-- {
		if p.branches[i].Kind == KindSchedule {
			return p.branches[i].Schedule
		}
	}
	return nil
}

// BranchSchedule is a Schedule branch point. seed carries the per-slot
// status as computed by the caller (typically execution.Schedule):
// Disabled/Skip/Yield for non-candidates, Pending for runnable
// alternatives, and exactly one Active entry naming the caller's
// preferred thread, the initial-active hint.
//
// On replay, the decision already recorded at this tape position is
// consumed verbatim and seed is ignored, since step() already promoted the
// Active entry for this replay.
func (p *Path) BranchSchedule(seed []ThreadStatus) (active int) {
	if p.Recording() {
		p.checkBudget()
		sb := &ScheduleBranch{Status: append([]ThreadStatus(nil), seed...)}
		if prev := p.lastSchedule(); prev != nil {
			sb.Preemptions = prev.Preemptions
			if prevActive := prev.ActiveSlot(); prevActive >= 0 && prevActive != sb.ActiveSlot() {
				sb.Preemptions++
			}
		}
		p.branches = append(p.branches, Branch{Kind: KindSchedule, Schedule: sb})
		p.pos++
		return sb.ActiveSlot()
	}

	br := &p.branches[p.pos]
	if br.Kind != KindSchedule {
		panic("loom: path desynchronized: expected Schedule branch, found Write")
	}
	p.pos++
	return br.Schedule.ActiveSlot()
}

// BranchWrite is a Write branch point. seed is the list of store indices
// legal under the requested ordering, newest-first; the head is the
// current choice.
func (p *Path) BranchWrite(seed []int) (chosen int) {
	if p.Recording() {
		p.checkBudget()
		wb := &WriteBranch{Candidates: append([]int(nil), seed...)}
		p.branches = append(p.branches, Branch{Kind: KindWrite, Write: wb})
		p.pos++
		return wb.Candidates[0]
	}

	br := &p.branches[p.pos]
	if br.Kind != KindWrite {
		panic("loom: path desynchronized: expected Write branch, found Schedule")
	}
	p.pos++
	return br.Write.Candidates[0]
}

// markPending applies the backtrack widening rule: if slot is Disabled at
// sched, every other non-Active slot becomes Pending (conservative
// widening); otherwise only slot itself becomes Pending.
func markPending(sched *ScheduleBranch, slot int) {
	if slot < 0 || slot >= len(sched.Status) || sched.Status[slot] == Disabled {
		for i := range sched.Status {
			if sched.Status[i] != Active {
				sched.Status[i] = Pending
			}
		}
		return
	}
	if sched.Status[slot] != Active {
		sched.Status[slot] = Pending
	}
}

// Backtrack records that operation O by thread `slot` races with a prior
// operation recorded at pathPoint; it marks slot Pending at that Schedule
// so a future replay explores O running before the racing access.
//
// Under preemption-bounded DPOR, a Schedule whose preemption count already
// equals the bound suppresses the backtrack entirely; otherwise a second,
// conservative backtrack is additionally recorded at the nearest earlier
// Schedule whose active thread differs from its successor's (or, failing
// that, the first Schedule on the tape).
func (p *Path) Backtrack(pathPoint int, slot int) {
	if pathPoint < 0 || pathPoint >= len(p.branches) {
		return
	}
	br := &p.branches[pathPoint]
	if br.Kind != KindSchedule {
		return
	}
	sched := br.Schedule

	if p.preemptionBound != nil && sched.Preemptions == *p.preemptionBound {
		return // suppressed: bound already reached at this Schedule
	}

	markPending(sched, slot)

	if p.preemptionBound == nil {
		return
	}

	if idx := p.nearestPreemptionPoint(pathPoint); idx >= 0 {
		markPending(p.branches[idx].Schedule, slot)
	}
}

// nearestPreemptionPoint walks backward from pathPoint-1 looking for the
// nearest Schedule whose active thread differs from its immediate
// Schedule successor's, i.e. where a real preemption occurred. Failing
// that, it returns the index of the first Schedule branch on the tape, or
// -1 if there is none.
func (p *Path) nearestPreemptionPoint(pathPoint int) int {
	var scheduleIdxs []int
	for i := 0; i <= pathPoint && i < len(p.branches); i++ {
		if p.branches[i].Kind == KindSchedule {
			scheduleIdxs = append(scheduleIdxs, i)
		}
	}
	for i := len(scheduleIdxs) - 1; i > 0; i-- {
		cur := p.branches[scheduleIdxs[i-1]].Schedule
		next := p.branches[scheduleIdxs[i]].Schedule
		if cur.ActiveSlot() != next.ActiveSlot() {
			return scheduleIdxs[i-1]
		}
	}
	if len(scheduleIdxs) > 0 {
		return scheduleIdxs[0]
	}
	return -1
}

// Step advances to the next replay: walking the tape from the tail, for
// each Schedule it promotes any one Pending thread to Active (that
// replay's next decision); if none remain it pops the frame. For each
// Write it dequeues the head; if the queue empties it pops the frame.
// Step returns false when the tape is empty, meaning exploration is
// complete.
func (p *Path) Step() bool {
	for len(p.branches) > 0 {
		last := &p.branches[len(p.branches)-1]
		switch last.Kind {
		case KindSchedule:
			for i, st := range last.Schedule.Status {
				if st == Active {
					last.Schedule.Status[i] = Visited
				}
			}
			promoted := false
			for i, st := range last.Schedule.Status {
				if st == Pending {
					last.Schedule.Status[i] = Active
					promoted = true
					break
				}
			}
			if promoted {
				p.pos = 0
				return true
			}
			p.branches = p.branches[:len(p.branches)-1]
		case KindWrite:
			last.Write.Candidates = last.Write.Candidates[1:]
			if len(last.Write.Candidates) == 0 {
				p.branches = p.branches[:len(p.branches)-1]
				continue
			}
			p.pos = 0
			return true
		}
	}
	p.pos = 0
	return false
}

// Branches exposes the recorded tape read-only, for the reproducer dump.
func (p *Path) Branches() []Branch { return p.branches }

// Slot is re-exported for callers that want to talk about thread slots
// without importing vclock directly.
type Slot = vclock.Slot
