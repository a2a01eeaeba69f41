// Package engine implements the driver that iterates replays of a test
// closure over the Path's branching exploration tree, holds the
// process-wide re-entrancy guard for the duration of a Run, and converts
// a recovered panic into a ReplayFailure.
package engine

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/loom-go/loom/execution"
	"github.com/loom-go/loom/path"
	"github.com/loom-go/loom/reproducer"
	"github.com/loom-go/loom/thread"
	"github.com/loom-go/loom/vclock"
)

// RunContext is what a Scenario drives the replay through: the current
// replay's Execution plus the switch-logging wrapper around
// Execution.Schedule.
type RunContext struct {
	*execution.Execution

	driver *Driver
	replay int
}

// Schedule wraps Execution.Schedule, emitting the `~~ THREAD n ~~` log
// line the Config.Log flag enables whenever the active thread changes.
func (rc *RunContext) Schedule(current thread.ID) (thread.ID, bool) {
	next, ok := rc.Execution.Schedule(current)
	if ok && next != current {
		rc.driver.logSwitch(rc.replay, uint32(next.Slot))
	}
	return next, ok
}

// Scenario is a user test closure: it drives every logical thread it
// spawned to completion (or panics with a user assertion) against the
// RunContext installed for the current replay, returning once the replay
// has run to quiescence.
type Scenario func(rc *RunContext)

// cell is the process-wide re-entrancy guard: the driver marks it held on
// entry, clears it on exit, and panics if re-entered concurrently. It
// holds only that flag; the current Execution reaches the Scenario through
// its RunContext, not through the cell.
var (
	cellMu   sync.Mutex
	cellHeld bool
)

func enterCell() {
	cellMu.Lock()
	defer cellMu.Unlock()
	if cellHeld {
		panic("loom: engine re-entered concurrently")
	}
	cellHeld = true
}

func exitCell() {
	cellMu.Lock()
	defer cellMu.Unlock()
	cellHeld = false
}

// Driver owns the branch tape across every replay of one test and the
// run-wide identity used in logs and reproducer dumps.
type Driver struct {
	Config Config
	RunID  uuid.UUID

	p    *path.Path
	exec vclock.ExecID
}

// NewDriver validates cfg and returns a Driver ready to Run a Scenario.
func NewDriver(cfg Config) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	return &Driver{
		Config: cfg,
		RunID:  uuid.New(),
		p:      path.New(cfg.MaxBranches, cfg.PreemptionBound),
	}, nil
}

// logSwitch emits the `~~ THREAD n ~~` line, tagged with the run id so
// concurrent runs' logs don't interleave confusingly in CI.
func (d *Driver) logSwitch(replay int, slot uint32) {
	if !d.Config.Log {
		return
	}
	log.Info().
		Str("run_id", d.RunID.String()).
		Int("replay", replay).
		Msgf("~~ THREAD %d ~~", slot)
}

// Run explores every replay reachable from the Path's current backtrack
// frontier, invoking scenario once per replay against a fresh Execution.
// It returns the first ReplayFailure encountered, or nil if every replay
// ran to completion without a user assertion or engine violation firing.
func (d *Driver) Run(name string, scenario Scenario) *ReplayFailure {
	enterCell()
	defer exitCell()

	replay := 0
	for {
		replay++
		d.exec++
		e := execution.New(d.exec, d.Config.MaxThreads, d.p)

		log.Trace().Str("run_id", d.RunID.String()).Int("replay", replay).Msg("loom: starting replay")

		if failure := d.runOne(name, replay, e, scenario); failure != nil {
			return failure
		}

		if !d.p.Step() {
			log.Debug().Str("run_id", d.RunID.String()).Int("replays", replay).Msg("loom: exploration complete")
			return nil
		}
	}
}

// runOne drives a single replay to completion, recovering exactly one
// panic to print diagnostics; it never resumes the same replay
// afterward.
func (d *Driver) runOne(name string, replay int, e *execution.Execution, scenario Scenario) (failure *ReplayFailure) {
	defer func() {
		if r := recover(); r != nil {
			cause := asError(r)
			dump := reproducer.NewDump(d.RunID.String(), name, replay, cause, d.p)
			(&reproducer.Printer{Writer: logWriter{}}).ReportFailure(dump, reproducer.Fingerprint(d.p))
			failure = &ReplayFailure{
				RunID:    d.RunID.String(),
				Replay:   replay,
				Scenario: name,
				Cause:    cause,
			}
		}
	}()

	rc := &RunContext{Execution: e, driver: d, replay: replay}
	scenario(rc)

	for _, leak := range e.Allocs.Leaks() {
		panic(Violation{Kind: "leak", Err: fmt.Errorf("allocation %d (addr %#x, size %d) was never dropped", leak.Handle, leak.Record.Addr, leak.Record.Size)})
	}
	return nil
}

// logWriter adapts zerolog's global logger into an io.Writer so
// reproducer.Printer's colorized output flows through the same sink as
// the rest of the driver's structured logs.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	log.Error().Msg(string(p))
	return len(p), nil
}
