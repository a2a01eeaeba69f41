// Package reproducer turns a failed replay's Path into something a human
// or a CI artifact store can use: a short content fingerprint, a
// colorized console report, and an on-disk msgpack dump.
package reproducer

import (
	"fmt"
	"io"

	"github.com/dgryski/go-farm"
	"github.com/shamaton/msgpack/v2"

	"github.com/loom-go/loom/path"
)

// ScheduleRecord is the plain-data mirror of path.ScheduleBranch, suitable
// for msgpack encoding.
type ScheduleRecord struct {
	Status      []int
	Preemptions int
}

// WriteRecord is the plain-data mirror of path.WriteBranch.
type WriteRecord struct {
	Candidates []int
}

// BranchRecord is the plain-data mirror of path.Branch.
type BranchRecord struct {
	Kind     int
	Schedule *ScheduleRecord `msgpack:",omitempty"`
	Write    *WriteRecord    `msgpack:",omitempty"`
}

// Dump is the full reproducer artifact for one failing replay.
type Dump struct {
	RunID    string
	Scenario string
	Replay   int
	Cause    string
	Branches []BranchRecord
}

// Flatten converts p's recorded tape into its plain-data mirror.
func Flatten(p *path.Path) []BranchRecord {
	branches := p.Branches()
	out := make([]BranchRecord, 0, len(branches))
	for _, br := range branches {
		rec := BranchRecord{Kind: int(br.Kind)}
		if br.Kind == path.KindSchedule {
			status := make([]int, len(br.Schedule.Status))
			for i, st := range br.Schedule.Status {
				status[i] = int(st)
			}
			rec.Schedule = &ScheduleRecord{Status: status, Preemptions: br.Schedule.Preemptions}
		} else {
			rec.Write = &WriteRecord{Candidates: append([]int(nil), br.Write.Candidates...)}
		}
		out = append(out, rec)
	}
	return out
}

// Fingerprint content-hashes the recorded branch tape into a short
// identifier two reproducers can be compared by.
func Fingerprint(p *path.Path) uint64 {
	var buf []byte
	for _, br := range p.Branches() {
		buf = append(buf, byte(br.Kind))
		if br.Kind == path.KindSchedule {
			for _, st := range br.Schedule.Status {
				buf = append(buf, byte(st))
			}
			buf = append(buf, byte(br.Schedule.Preemptions), byte(br.Schedule.Preemptions>>8))
		} else {
			for _, c := range br.Write.Candidates {
				buf = append(buf, byte(c), byte(c>>8), byte(c>>16), byte(c>>24))
			}
		}
	}
	return farm.Hash64(buf)
}

// NewDump builds a Dump for a failing replay.
func NewDump(runID, scenario string, replay int, cause error, p *path.Path) Dump {
	c := ""
	if cause != nil {
		c = cause.Error()
	}
	return Dump{
		RunID:    runID,
		Scenario: scenario,
		Replay:   replay,
		Cause:    c,
		Branches: Flatten(p),
	}
}

// Encode writes d to w as msgpack.
func Encode(w io.Writer, d Dump) error {
	return msgpack.MarshalWrite(w, d)
}

// Decode reads a Dump previously written by Encode.
func Decode(r io.Reader) (Dump, error) {
	var d Dump
	if err := msgpack.UnmarshalRead(r, &d); err != nil {
		return Dump{}, fmt.Errorf("loom: decoding reproducer dump: %w", err)
	}
	return d, nil
}
