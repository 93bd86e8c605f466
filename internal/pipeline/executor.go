package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jonathan/bloodwork-analyzer/internal/prompts"
)

// Capability is the opaque reasoning call a stage delegates to: one
// synchronous invocation, no retries at this layer. Failures surface as
// errors and are contained by the executor.
type Capability interface {
	Invoke(ctx context.Context, stageName, payload string) (string, error)
}

// StageOutput is the successful result of one stage, shared read-only with
// every downstream stage that declares a dependency on it.
type StageOutput struct {
	Stage      string    `json:"stage"`
	Text       string    `json:"text"`
	ProducedAt time.Time `json:"produced_at"`
}

// StageFailure is the typed failure of one stage: either the capability call
// failed or the stage was blocked by an upstream failure.
type StageFailure struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

func (f *StageFailure) Error() string {
	return fmt.Sprintf("stage %s: %s", f.Stage, f.Message)
}

// StageResult holds exactly one of Output or Failure.
type StageResult struct {
	Output  *StageOutput  `json:"output,omitempty"`
	Failure *StageFailure `json:"failure,omitempty"`
}

// Succeeded reports whether the stage produced an output.
func (r StageResult) Succeeded() bool {
	return r.Output != nil
}

// StageInput is the material a stage's payload is built from: the normalized
// query, the extracted report text, and the outputs of all declared
// dependencies in dependency-declaration order.
type StageInput struct {
	Query             string
	Report            string
	DependencyOutputs []StageOutput
}

// Executor runs one named stage against the capability. It never mutates
// shared job state and never lets an error escape its boundary: every failure
// becomes a typed StageFailure.
type Executor struct {
	capability Capability
}

// NewExecutor creates an executor bound to a capability.
func NewExecutor(capability Capability) *Executor {
	return &Executor{capability: capability}
}

// Execute builds the stage payload and performs the capability call.
func (e *Executor) Execute(ctx context.Context, spec StageSpec, input StageInput) StageResult {
	payload, err := BuildPayload(spec, input)
	if err != nil {
		return StageResult{Failure: &StageFailure{Stage: spec.Name, Message: err.Error()}}
	}

	text, err := e.capability.Invoke(ctx, spec.Name, payload)
	if err != nil {
		return StageResult{Failure: &StageFailure{Stage: spec.Name, Message: err.Error()}}
	}

	return StageResult{Output: &StageOutput{
		Stage:      spec.Name,
		Text:       text,
		ProducedAt: time.Now().UTC(),
	}}
}

// BuildPayload renders the stage prompt template with the query and report,
// then appends each dependency output in declaration order.
func BuildPayload(spec StageSpec, input StageInput) (string, error) {
	template, err := prompts.Get(promptFile, spec.Name)
	if err != nil {
		return "", fmt.Errorf("no prompt for stage %s: %w", spec.Name, err)
	}

	var sb strings.Builder
	sb.WriteString(prompts.Format(template, map[string]string{
		"Query":  input.Query,
		"Report": input.Report,
	}))
	for _, dep := range input.DependencyOutputs {
		sb.WriteString(fmt.Sprintf("\n\n## Findings from %s\n\n%s", dep.Stage, dep.Text))
	}
	return sb.String(), nil
}
