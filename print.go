package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"nbcommit/commit"
)

var (
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow, color.Bold)
	faint  = color.New(color.Faint)
)

func outcomeColor(o commit.Outcome) *color.Color {
	switch o {
	case commit.OutcomeCommitted:
		return green
	case commit.OutcomeAborted:
		return red
	case commit.OutcomeUnresolved:
		return yellow
	}
	return faint
}

// agreement returns the state shared by every process that reached a
// decision, and false if two of them disagree.
func agreement(reports []commit.Report) (commit.State, bool) {
	var decided commit.State
	for _, r := range reports {
		if r.Outcome != commit.OutcomeCommitted && r.Outcome != commit.OutcomeAborted {
			continue
		}
		if decided != commit.StateNew && decided != r.State {
			return decided, false
		}
		decided = r.State
	}
	return decided, true
}

func printReports(w io.Writer, txn string, reports []commit.Report) {
	fmt.Fprintf(w, "\ntransaction %s\n", txn)
	for _, r := range reports {
		outcomeColor(r.Outcome).Fprintln(w, "  "+r.String())
	}
	state, ok := agreement(reports)
	switch {
	case !ok:
		yellow.Fprintln(w, "  processes disagree on the outcome")
	case state == commit.StateNew:
		yellow.Fprintln(w, "  no process reached a decision")
	case state == commit.StateCommit:
		green.Fprintf(w, "  decided: %s\n", state)
	default:
		red.Fprintf(w, "  decided: %s\n", state)
	}
	fmt.Fprintln(w)
}

type loadResult struct {
	Type       string
	Duration   time.Duration
	Committed  int
	Aborted    int
	Unresolved int
	Failed     int
}

func printLoad(w io.Writer, r loadResult) {
	fmt.Fprintf(w, "\n========================================\n")
	fmt.Fprintf(w, "          LOAD TEST RESULTS             \n")
	fmt.Fprintf(w, "========================================\n")
	fmt.Fprintf(w, "Mode:             %s Contention\n", r.Type)
	fmt.Fprintf(w, "Total Time:       %v\n", r.Duration)
	green.Fprintf(w, "Committed Txns:   %d\n", r.Committed)
	red.Fprintf(w, "Aborted Txns:     %d\n", r.Aborted)
	if r.Unresolved > 0 {
		yellow.Fprintf(w, "Unresolved Txns:  %d\n", r.Unresolved)
	}
	if r.Failed > 0 {
		yellow.Fprintf(w, "Failed Runs:      %d\n", r.Failed)
	}
	fmt.Fprintf(w, "========================================\n\n")
}
