// Package report renders consolidation run statistics for operators.
package report

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/odyssey-erp/consolbatch/internal/batch"
	"github.com/odyssey-erp/consolbatch/internal/pipeline"
)

// Render formats stats as a plain-text run summary. It is pure.
func Render(stats batch.Statistics) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Consolidation run %s\n", orDash(stats.RunID))
	fmt.Fprintf(&b, "Scenario: %s\n", orDash(stats.Scenario))
	fmt.Fprintf(&b, "Scope:    %s\n", orDash(stats.Scope))
	fmt.Fprintf(&b, "Periods:  %s\n", orDash(strings.Join(stats.Periods, ", ")))
	if !stats.StartedAt.IsZero() {
		fmt.Fprintf(&b, "Started:  %s\n", stats.StartedAt.UTC().Format(time.RFC3339))
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "Units processed: %s of %s\n", humanize.Comma(int64(stats.Processed)), humanize.Comma(int64(stats.Planned())))
	fmt.Fprintf(&b, "Succeeded:       %s\n", humanize.Comma(int64(stats.Succeeded)))
	fmt.Fprintf(&b, "Failed:          %s\n", humanize.Comma(int64(stats.Failed)))
	fmt.Fprintf(&b, "Total time:      %s\n", roundDuration(stats.Duration()))
	fmt.Fprintf(&b, "Average unit:    %s\n", roundDuration(stats.AverageElapsed()))
	if stats.Cancelled {
		b.WriteString("\nRun was cancelled before every unit was dispatched.\n")
	}

	if len(stats.Failures) > 0 {
		fmt.Fprintf(&b, "\nFailures (%s):\n", humanize.Comma(int64(len(stats.Failures))))
		rows := [][]string{{"unit", "period", "stage", "message"}}
		for _, f := range stats.Failures {
			rows = append(rows, []string{f.Unit, f.Period, stageLabel(f.Stage), singleLine(f.Message)})
		}
		writeTable(&b, rows)
	}
	return b.String()
}

func writeTable(b *strings.Builder, rows [][]string) {
	w := tabwriter.NewWriter(b, 0, 0, 1, ' ', 0)
	for _, row := range rows {
		fmt.Fprintf(w, "  %s\n", strings.Join(row, "\t| "))
	}
	_ = w.Flush()
}

func roundDuration(d time.Duration) time.Duration {
	switch {
	case d >= time.Second:
		return d.Round(10 * time.Millisecond)
	case d >= time.Millisecond:
		return d.Round(time.Microsecond)
	default:
		return d
	}
}

func stageLabel(stage pipeline.Stage) string {
	if stage == "" {
		return "-"
	}
	return string(stage)
}

func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
