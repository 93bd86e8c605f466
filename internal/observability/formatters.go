// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/jonathan/bloodwork-analyzer/internal/pipeline"
	"github.com/jonathan/bloodwork-analyzer/internal/store"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// previewLines is the number of stage output lines shown in verbose mode
	previewLines = 6
)

// Printer handles formatted output for verbose mode
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		// Truncate long lines on rune boundaries; byte slicing would cut
		// multibyte characters in half
		if runes := []rune(line); len(runes) > boxWidth-4 {
			line = string(runes[:boxWidth-7]) + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintStageResult outputs one stage's result: a short preview on success, the
// failure message otherwise.
func (p *Printer) PrintStageResult(name string, result pipeline.StageResult) {
	var sb strings.Builder

	if result.Failure != nil {
		sb.WriteString("Status: FAILED\n")
		sb.WriteString(fmt.Sprintf("Reason: %s", result.Failure.Message))
		p.printBox(fmt.Sprintf("STAGE %s", strings.ToUpper(name)), sb.String())
		return
	}

	sb.WriteString("Status: OK\n\n")
	lines := strings.Split(result.Output.Text, "\n")
	count := min(len(lines), previewLines)
	for i := 0; i < count; i++ {
		sb.WriteString(lines[i])
		sb.WriteString("\n")
	}
	if len(lines) > previewLines {
		sb.WriteString(fmt.Sprintf("... and %d more lines", len(lines)-previewLines))
	}

	p.printBox(fmt.Sprintf("STAGE %s", strings.ToUpper(name)), strings.TrimSuffix(sb.String(), "\n"))
}

// PrintOutcome outputs the terminal summary of one analysis run.
func (p *Printer) PrintOutcome(outcome pipeline.Outcome) {
	var sb strings.Builder

	if outcome.Succeeded() {
		sb.WriteString("Status:     succeeded\n")
	} else {
		sb.WriteString("Status:     failed\n")
		sb.WriteString(fmt.Sprintf("Error:      %s\n", outcome.ErrorDetail))
	}
	sb.WriteString(fmt.Sprintf("Analysis:   %s\n", outcome.JobID))
	sb.WriteString(fmt.Sprintf("Duration:   %.2fs", outcome.ProcessingSeconds))

	if len(outcome.Stages) > 0 {
		sb.WriteString("\n\nStages:\n")
		for name, res := range outcome.Stages {
			mark := "✓"
			if !res.Succeeded() {
				mark = "✗"
			}
			sb.WriteString(fmt.Sprintf("  %s %s\n", mark, name))
		}
	}

	p.printBox("ANALYSIS COMPLETE", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintStats outputs aggregate history statistics.
func (p *Printer) PrintStats(stats *store.Stats) {
	if stats == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Total analyses:   %d\n", stats.Total))
	sb.WriteString(fmt.Sprintf("Succeeded:        %d\n", stats.Succeeded))
	sb.WriteString(fmt.Sprintf("Failed:           %d\n", stats.Failed))
	sb.WriteString(fmt.Sprintf("Success rate:     %.1f%%\n", stats.SuccessRatePercent))
	sb.WriteString(fmt.Sprintf("Avg duration:     %.2fs", stats.AverageSeconds))

	p.printBox("ANALYSIS STATISTICS", sb.String())
}
