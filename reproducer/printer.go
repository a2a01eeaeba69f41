package reproducer

import (
	"fmt"
	"io"
	"strings"

	"github.com/gookit/color"
)

// Printer writes colorized reproducer reports to a console.
type Printer struct {
	Writer io.Writer
}

// ReportFailure prints a failing replay's summary: the scenario, run id,
// fingerprint, and the cause.
func (p *Printer) ReportFailure(d Dump, fingerprint uint64) {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(color.Gray.Sprint(strings.Repeat("=", 80)))
	b.WriteString("\n")
	b.WriteString(color.Red.Sprint("REPLAY FAILURE"))
	b.WriteString("\n")
	b.WriteString(color.Gray.Sprint(strings.Repeat("=", 80)))
	b.WriteString("\n")
	b.WriteString(color.Bold.Sprint("Scenario:    "))
	b.WriteString(color.Yellow.Sprintf("%s\n", d.Scenario))
	b.WriteString(color.Bold.Sprint("Replay:      "))
	b.WriteString(fmt.Sprintf("#%d\n", d.Replay))
	b.WriteString(color.Bold.Sprint("Run ID:      "))
	b.WriteString(fmt.Sprintf("%s\n", d.RunID))
	b.WriteString(color.Bold.Sprint("Fingerprint: "))
	b.WriteString(fmt.Sprintf("%016x\n", fingerprint))
	b.WriteString(color.Bold.Sprint("Cause:       "))
	b.WriteString(color.Red.Sprintf("%s\n", d.Cause))
	b.WriteString(color.Gray.Sprint(strings.Repeat("-", 80)))
	b.WriteString("\n")

	fmt.Fprint(p.Writer, b.String())
}

// ReportProgress prints a one-line progress update as replays are explored.
func (p *Printer) ReportProgress(scenario string, replay int, branches int) {
	fmt.Fprintf(p.Writer, "%s %s: replay %d, %d branches recorded\n",
		color.Cyan.Sprint("~~"), scenario, replay, branches)
}
