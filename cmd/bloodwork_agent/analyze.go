package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/bloodwork-analyzer/internal/artifacts"
	"github.com/jonathan/bloodwork-analyzer/internal/llm"
	"github.com/jonathan/bloodwork-analyzer/internal/observability"
	"github.com/jonathan/bloodwork-analyzer/internal/pipeline"
	"github.com/jonathan/bloodwork-analyzer/internal/store"
)

var (
	analyzeFile    string
	analyzeQuery   string
	analyzeMode    string
	analyzeAPIKey  string
	analyzeVerbose bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze a blood test report from the command line",
	Long: `Run one analysis pipeline over a local blood test report PDF and print the result.

Quick mode produces a single summary; comprehensive mode runs document verification, clinical analysis, and nutrition and exercise recommendations.`,
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeFile, "file", "f", "", "Path to the blood test report PDF (required)")
	analyzeCmd.Flags().StringVarP(&analyzeQuery, "query", "q", "", "Question to answer about the report")
	analyzeCmd.Flags().StringVarP(&analyzeMode, "mode", "m", "quick", "Analysis mode: quick or comprehensive")
	analyzeCmd.Flags().StringVar(&analyzeAPIKey, "api-key", "", "Gemini API Key (optional, defaults to GEMINI_API_KEY env var)")
	analyzeCmd.Flags().BoolVarP(&analyzeVerbose, "verbose", "v", false, "Print detailed stage output")
	_ = analyzeCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	variant := pipeline.Variant(analyzeMode)
	specs, err := pipeline.StagesFor(variant)
	if err != nil {
		return err
	}

	apiKey := analyzeAPIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}

	f, err := os.Open(analyzeFile)
	if err != nil {
		return fmt.Errorf("failed to open report: %w", err)
	}
	defer f.Close()

	// One-shot runs keep their working copy and records in a temp directory.
	files, err := artifacts.NewStore(filepath.Join(os.TempDir(), "bloodwork"))
	if err != nil {
		return fmt.Errorf("failed to prepare working directory: %w", err)
	}
	art, err := files.Acquire(f, filepath.Base(analyzeFile))
	if err != nil {
		return err
	}

	client, err := llm.NewClient(ctx, llm.DefaultConfig(), apiKey)
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}
	defer client.Close()

	records := store.NewMemory()
	runner, err := pipeline.NewRunner(llm.NewStageCapability(client), records, files, pipeline.Options{Verbose: analyzeVerbose})
	if err != nil {
		return fmt.Errorf("failed to build pipeline runner: %w", err)
	}

	job := pipeline.Job{
		ID:       uuid.New(),
		Query:    analyzeQuery,
		Filename: filepath.Base(analyzeFile),
		Variant:  variant,
		Artifact: art,
	}
	if err := records.Create(ctx, store.Analysis{
		ID:       job.ID,
		Filename: job.Filename,
		Query:    pipeline.NormalizeQuery(variant, analyzeQuery),
		Variant:  string(variant),
		Status:   store.StatusQueued,
	}); err != nil {
		return err
	}

	outcome := runner.Run(ctx, job, nil)

	if analyzeVerbose {
		printer := observability.NewPrinter(os.Stdout)
		for _, spec := range specs {
			if res, ok := outcome.Stages[spec.Name]; ok {
				printer.PrintStageResult(spec.Name, res)
			}
		}
		printer.PrintOutcome(outcome)
	}

	if !outcome.Succeeded() {
		return fmt.Errorf("analysis failed: %s", outcome.ErrorDetail)
	}

	fmt.Println(outcome.Result)
	return nil
}
