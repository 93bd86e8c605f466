// Package pipeline provides the job orchestration and stage-execution engine:
// it walks a stage DAG in dependency order, contains stage failures, persists
// the outcome, and guarantees cleanup of the transient report file on every
// exit path.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/bloodwork-analyzer/internal/artifacts"
	"github.com/jonathan/bloodwork-analyzer/internal/ingestion"
	"github.com/jonathan/bloodwork-analyzer/internal/store"
)

// Job is an immutable descriptor of one submitted analysis. The runner reads
// it but never mutates it.
type Job struct {
	ID          uuid.UUID
	Query       string
	Filename    string
	Variant     Variant
	Artifact    *artifacts.Artifact
	SubmittedAt time.Time
}

// Outcome is the terminal result of running one job. Exactly one of Result
// and ErrorDetail is populated.
type Outcome struct {
	JobID             uuid.UUID              `json:"job_id"`
	Status            store.Status           `json:"status"`
	Result            string                 `json:"result,omitempty"`
	ErrorDetail       string                 `json:"error_detail,omitempty"`
	Stages            map[string]StageResult `json:"stages,omitempty"`
	ProcessingSeconds float64                `json:"processing_seconds"`
	StartedAt         time.Time              `json:"started_at"`
	CompletedAt       time.Time              `json:"completed_at"`
}

// Succeeded reports whether every stage produced an output.
func (o Outcome) Succeeded() bool {
	return o.Status == store.StatusSucceeded
}

// ProgressEvent is an advisory progress update emitted during execution.
type ProgressEvent struct {
	JobID   uuid.UUID `json:"job_id"`
	Stage   string    `json:"stage"`
	Message string    `json:"message"`
}

// ProgressFunc is called when pipeline progress occurs. Updates are
// best-effort and never required for correctness.
type ProgressFunc func(event ProgressEvent)

// Options holds optional runner configuration.
type Options struct {
	Verbose bool
}

// Runner executes jobs for all registered pipeline variants. The stage DAGs
// are compiled once at construction; a cyclic or malformed composition is a
// fatal configuration error surfaced by NewRunner, never a job failure.
type Runner struct {
	executor *Executor
	store    store.Store
	files    *artifacts.Store
	specs    map[Variant][]StageSpec
	waves    map[Variant][][]StageSpec
	extract  func(path string) (string, error)
	verbose  bool
}

// NewRunner compiles every registered variant and returns a runner wired to
// the given capability, record store, and artifact store.
func NewRunner(capability Capability, st store.Store, files *artifacts.Store, opts Options) (*Runner, error) {
	r := &Runner{
		executor: NewExecutor(capability),
		store:    st,
		files:    files,
		specs:    make(map[Variant][]StageSpec),
		waves:    make(map[Variant][][]StageSpec),
		extract:  ingestion.ExtractText,
		verbose:  opts.Verbose,
	}
	for _, variant := range Variants() {
		specs, err := StagesFor(variant)
		if err != nil {
			return nil, err
		}
		waves, err := sortWaves(specs)
		if err != nil {
			return nil, fmt.Errorf("invalid %s pipeline: %w", variant, err)
		}
		r.specs[variant] = specs
		r.waves[variant] = waves
	}
	return r, nil
}

// Run executes one job to its terminal state. The persistence write and the
// artifact release are part of the contract of running a job: both happen on
// every exit path, and neither failure masks the job's own outcome. The same
// method serves asynchronous workers and synchronous callers.
func (r *Runner) Run(ctx context.Context, job Job, onProgress ProgressFunc) Outcome {
	started := time.Now()

	defer func() {
		if err := r.files.Release(job.Artifact); err != nil {
			log.Printf("Warning: could not clean up report file for analysis %s: %v", job.ID, err)
		}
	}()

	if err := r.store.MarkRunning(ctx, job.ID, started.UTC()); err != nil {
		log.Printf("Warning: failed to mark analysis %s running: %v", job.ID, err)
	}

	outcome := r.execute(ctx, job, onProgress)
	completed := time.Now()
	outcome.JobID = job.ID
	outcome.StartedAt = started.UTC()
	outcome.CompletedAt = completed.UTC()
	outcome.ProcessingSeconds = completed.Sub(started).Seconds()

	r.persist(ctx, job, outcome)
	return outcome
}

// execute walks the stage DAG. It never returns an error: every failure mode
// is folded into a failed outcome.
func (r *Runner) execute(ctx context.Context, job Job, onProgress ProgressFunc) Outcome {
	waves, ok := r.waves[job.Variant]
	if !ok {
		return Outcome{Status: store.StatusFailed, ErrorDetail: fmt.Sprintf("unknown pipeline variant: %q", job.Variant)}
	}

	// Central precondition: a missing, empty, or unreadable report fails the
	// whole job before any stage runs.
	report, err := r.loadReport(job)
	if err != nil {
		return Outcome{Status: store.StatusFailed, ErrorDetail: err.Error()}
	}

	query := NormalizeQuery(job.Variant, job.Query)
	results := make(map[string]StageResult, len(r.specs[job.Variant]))

	for _, wave := range waves {
		var eligible []StageSpec
		for _, spec := range wave {
			if blockedBy := firstFailedDependency(spec, results); blockedBy != "" {
				results[spec.Name] = StageResult{Failure: &StageFailure{
					Stage:   spec.Name,
					Message: "blocked by upstream failure: " + blockedBy,
				}}
				r.emit(job, onProgress, spec.Name, fmt.Sprintf("Skipping %s: blocked by upstream failure", spec.Name))
				continue
			}
			eligible = append(eligible, spec)
		}

		// Stage inputs depend only on earlier waves, so build them all before
		// launching anything: once the goroutines start writing results, the
		// map must not be read outside the lock.
		inputs := make([]StageInput, len(eligible))
		for i, spec := range eligible {
			inputs[i] = StageInput{
				Query:             query,
				Report:            report,
				DependencyOutputs: dependencyOutputs(spec, results),
			}
		}

		// Stages within a wave have no dependencies on each other and may run
		// concurrently. Stage failures are contained in results, so the group
		// never carries an error.
		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		for i, spec := range eligible {
			input := inputs[i]
			g.Go(func() error {
				r.emit(job, onProgress, spec.Name, fmt.Sprintf("Running %s stage...", spec.Name))
				res := r.executor.Execute(gctx, spec, input)
				mu.Lock()
				results[spec.Name] = res
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}

	return r.aggregate(job.Variant, results)
}

// loadReport validates the artifact and extracts the report text exactly once.
func (r *Runner) loadReport(job Job) (string, error) {
	if job.Artifact == nil || job.Artifact.Path == "" {
		return "", fmt.Errorf("no input report for analysis %s", job.ID)
	}
	info, err := os.Stat(job.Artifact.Path)
	if err != nil {
		return "", fmt.Errorf("input report not found at %s", job.Artifact.Path)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("input report at %s is empty", job.Artifact.Path)
	}
	return r.extract(job.Artifact.Path)
}

// aggregate folds stage results into the job's terminal outcome: success only
// when every stage produced an output, otherwise the concatenated failures.
func (r *Runner) aggregate(variant Variant, results map[string]StageResult) Outcome {
	specs := r.specs[variant]

	var sections []string
	var failures []string
	for _, spec := range specs {
		res := results[spec.Name]
		if res.Failure != nil {
			failures = append(failures, res.Failure.Error())
			continue
		}
		sections = append(sections, fmt.Sprintf("## %s\n\n%s", res.Output.Stage, res.Output.Text))
	}

	if len(failures) > 0 {
		return Outcome{
			Status:      store.StatusFailed,
			ErrorDetail: strings.Join(failures, "; "),
			Stages:      results,
		}
	}

	// Single-stage pipelines return the bare stage text; multi-stage results
	// are joined into one titled report.
	result := results[specs[0].Name].Output.Text
	if len(sections) > 1 {
		result = strings.Join(sections, "\n\n")
	}
	return Outcome{
		Status: store.StatusSucceeded,
		Result: result,
		Stages: results,
	}
}

// persist writes the terminal record. A persistence failure is logged and
// never conflated with the job's own outcome.
func (r *Runner) persist(ctx context.Context, job Job, outcome Outcome) {
	var err error
	if outcome.Succeeded() {
		err = r.store.CompleteSuccess(ctx, job.ID, outcome.Result, outcome.ProcessingSeconds, outcome.CompletedAt)
	} else {
		err = r.store.CompleteFailure(ctx, job.ID, outcome.ErrorDetail, outcome.ProcessingSeconds, outcome.CompletedAt)
	}
	if err != nil {
		log.Printf("Warning: failed to persist analysis %s: %v", job.ID, err)
	}
}

func (r *Runner) emit(job Job, onProgress ProgressFunc, stage, message string) {
	if r.verbose {
		fmt.Printf("[%s] %s\n", job.ID, message)
	}
	if onProgress != nil {
		onProgress(ProgressEvent{JobID: job.ID, Stage: stage, Message: message})
	}
}

// firstFailedDependency returns the name of the first declared dependency
// that failed, or "" when all dependencies produced outputs.
func firstFailedDependency(spec StageSpec, results map[string]StageResult) string {
	for _, dep := range spec.DependsOn {
		if res, ok := results[dep]; !ok || res.Failure != nil {
			return dep
		}
	}
	return ""
}

// dependencyOutputs collects dependency outputs in declaration order. Callers
// only invoke this after firstFailedDependency reported no failures.
func dependencyOutputs(spec StageSpec, results map[string]StageResult) []StageOutput {
	outputs := make([]StageOutput, 0, len(spec.DependsOn))
	for _, dep := range spec.DependsOn {
		if res, ok := results[dep]; ok && res.Output != nil {
			outputs = append(outputs, *res.Output)
		}
	}
	return outputs
}
