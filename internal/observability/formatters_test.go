package observability

import (
	"bytes"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/jonathan/bloodwork-analyzer/internal/pipeline"
	"github.com/jonathan/bloodwork-analyzer/internal/store"
)

func TestPrintStageResultSuccess(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintStageResult("verification", pipeline.StageResult{
		Output: &pipeline.StageOutput{
			Stage: "verification",
			Text:  "Document verified.\nCBC panel detected.",
		},
	})
	output := buf.String()

	assert.Contains(t, output, "STAGE VERIFICATION")
	assert.Contains(t, output, "Status: OK")
	assert.Contains(t, output, "Document verified.")
	assert.Contains(t, output, "CBC panel detected.")
}

func TestPrintStageResultTruncatesLongOutput(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	text := "line\nline\nline\nline\nline\nline\nline\nline"
	p.PrintStageResult("summary", pipeline.StageResult{
		Output: &pipeline.StageOutput{Stage: "summary", Text: text},
	})

	assert.Contains(t, buf.String(), "more lines")
}

func TestPrintBoxTruncatesMultibyteOnRuneBoundary(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintStageResult("summary", pipeline.StageResult{
		Output: &pipeline.StageOutput{
			Stage: "summary",
			Text:  strings.Repeat("é", 120),
		},
	})
	output := buf.String()

	assert.True(t, utf8.ValidString(output), "truncation must not split a rune")
	assert.Contains(t, output, "...")
	assert.NotContains(t, output, string(utf8.RuneError))
}

func TestPrintStageResultFailure(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintStageResult("medical_analysis", pipeline.StageResult{
		Failure: &pipeline.StageFailure{
			Stage:   "medical_analysis",
			Message: "blocked by upstream failure: verification",
		},
	})
	output := buf.String()

	assert.Contains(t, output, "STAGE MEDICAL_ANALYSIS")
	assert.Contains(t, output, "Status: FAILED")
	assert.Contains(t, output, "blocked by upstream failure")
}

func TestPrintOutcome(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	id := uuid.New()
	p.PrintOutcome(pipeline.Outcome{
		JobID:             id,
		Status:            store.StatusSucceeded,
		Result:            "all good",
		ProcessingSeconds: 2.5,
		Stages: map[string]pipeline.StageResult{
			"summary": {Output: &pipeline.StageOutput{Stage: "summary", Text: "all good"}},
		},
	})
	output := buf.String()

	assert.Contains(t, output, "ANALYSIS COMPLETE")
	assert.Contains(t, output, "succeeded")
	assert.Contains(t, output, "2.50s")
	assert.Contains(t, output, "✓ summary")
}

func TestPrintOutcomeFailed(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintOutcome(pipeline.Outcome{
		JobID:       uuid.New(),
		Status:      store.StatusFailed,
		ErrorDetail: "stage summary: model unavailable",
	})
	output := buf.String()

	assert.Contains(t, output, "failed")
	assert.Contains(t, output, "model unavailable")
}

func TestPrintStats(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintStats(&store.Stats{
		Total:              4,
		Succeeded:          3,
		Failed:             1,
		SuccessRatePercent: 75.0,
		AverageSeconds:     2.0,
	})
	output := buf.String()

	assert.Contains(t, output, "ANALYSIS STATISTICS")
	assert.Contains(t, output, "75.0%")
	assert.Contains(t, output, "2.00s")
}

func TestPrintStatsNil(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintStats(nil)

	assert.Empty(t, buf.String())
}
