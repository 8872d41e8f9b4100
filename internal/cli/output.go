package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"churnrig/pkg/controller"
	"churnrig/pkg/journal"
)

var (
	colorAbort   = color.New(color.FgRed, color.Bold)
	colorDone    = color.New(color.FgGreen)
	colorStep    = color.New(color.FgCyan)
	colorWarn    = color.New(color.FgYellow)
	colorStage   = color.New(color.FgHiMagenta)
	colorComment = color.New(color.FgHiBlack)
)

// reportPrinter is a telemetry sink writing colored report lines.
type reportPrinter struct {
	w io.Writer
}

func (p reportPrinter) Report(text string) {
	reportColor(text).Fprintln(p.w, text)
}

func reportColor(text string) *color.Color {
	switch {
	case strings.HasPrefix(text, "ABORT"):
		return colorAbort
	case strings.HasPrefix(text, "Finished"):
		return colorDone
	case strings.HasPrefix(text, "Step"), strings.HasPrefix(text, "Rotation"):
		return colorStep
	case strings.HasPrefix(text, "Cannot"), strings.HasPrefix(text, "Unknown"), strings.Contains(text, " stuck "):
		return colorWarn
	case !strings.Contains(text, " "):
		// bare stage names
		return colorStage
	default:
		return color.New(color.Reset)
	}
}

func printStatus(w io.Writer, st controller.Status) {
	c := colorDone
	switch {
	case st.Error != "":
		c = colorAbort
	case !st.Active:
		c = colorComment
	}
	c.Fprintln(w, st.Summary())
	if st.Run == nil {
		return
	}
	for _, a := range st.Run.Axes {
		fmt.Fprintf(w, "  %-18s %-6s %9.3f  rate %8.3f\n", a.Name, a.Role, a.Value, a.Rate)
	}
}

func printConfig(w io.Writer, rep controller.ConfigReport) {
	for _, line := range rep.Lines() {
		if strings.HasPrefix(line, "error:") {
			colorAbort.Fprintln(w, line)
			continue
		}
		fmt.Fprintln(w, line)
	}
}

func printRuns(w io.Writer, runs []journal.Run) {
	if len(runs) == 0 {
		colorComment.Fprintln(w, "no runs recorded")
		return
	}
	for _, r := range runs {
		outcome := r.Outcome
		switch outcome {
		case "finished":
			outcome = colorDone.Sprint(outcome)
		case "aborted":
			outcome = colorAbort.Sprint(outcome)
		default:
			outcome = colorWarn.Sprint(outcome)
		}
		dur := "-"
		if r.EndedAt != nil {
			dur = r.EndedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s  %s  %-8s  %8s  %d reports\n",
			r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), outcome, dur, r.Reports)
	}
}

func printEntries(w io.Writer, entries []journal.Entry) {
	for _, e := range entries {
		fmt.Fprintf(w, "%s  ", colorComment.Sprint(e.At.Format("15:04:05")))
		reportColor(e.Text).Fprintln(w, e.Text)
	}
}
