package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jonathan/bloodwork-analyzer/internal/artifacts"
	"github.com/jonathan/bloodwork-analyzer/internal/config"
	"github.com/jonathan/bloodwork-analyzer/internal/llm"
	"github.com/jonathan/bloodwork-analyzer/internal/pipeline"
	"github.com/jonathan/bloodwork-analyzer/internal/queue"
	"github.com/jonathan/bloodwork-analyzer/internal/server"
	"github.com/jonathan/bloodwork-analyzer/internal/store"
)

var (
	serveConfigPath string
	servePort       int
	serveDataDir    string
	serveWorkers    int
	serveVerbose    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long:  `Start an HTTP server that accepts blood test report uploads and runs analysis pipelines, synchronously or through the background task queue.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to config.json file (values can be overridden by other flags)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on")
	serveCmd.Flags().StringVar(&serveDataDir, "data-dir", "", "Directory for uploaded report files")
	serveCmd.Flags().IntVar(&serveWorkers, "workers", 0, "Background worker count")
	serveCmd.Flags().BoolVarP(&serveVerbose, "verbose", "v", false, "Print detailed debug information")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	cfg, err := loadServeConfig(cmd)
	if err != nil {
		return err
	}

	// API key from environment unless already configured
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}

	// Records live in Postgres when configured, otherwise in process memory.
	var records store.Store
	if cfg.DatabaseURL != "" {
		pg, err := store.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		records = pg
	} else {
		log.Println("Warning: DATABASE_URL not set, analysis history will not survive restarts")
		records = store.NewMemory()
	}
	defer records.Close()

	files, err := artifacts.NewStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to prepare data directory: %w", err)
	}

	client, err := llm.NewClient(ctx, llm.DefaultConfig(), cfg.APIKey)
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}
	defer client.Close()

	runner, err := pipeline.NewRunner(llm.NewStageCapability(client), records, files, pipeline.Options{Verbose: cfg.Verbose})
	if err != nil {
		return fmt.Errorf("failed to build pipeline runner: %w", err)
	}

	tasks := queue.New(runner, cfg.Workers)
	tasks.Start(ctx)
	defer tasks.Shutdown()

	srv := server.New(server.Config{Port: cfg.Port}, records, files, runner, tasks)
	return srv.Start()
}

// loadServeConfig merges the config file, CLI flags, and defaults, with flags
// taking priority over the file.
func loadServeConfig(cmd *cobra.Command) (config.Config, error) {
	var cfg config.Config
	if serveConfigPath != "" {
		loaded, err := config.LoadConfig(serveConfigPath)
		if err != nil {
			return cfg, fmt.Errorf("failed to load config: %w", err)
		}
		if err := loaded.Validate(); err != nil {
			return cfg, err
		}
		cfg = *loaded
	}

	if cmd.Flags().Changed("port") {
		cfg.Port = servePort
	}
	if cmd.Flags().Changed("data-dir") {
		cfg.DataDir = serveDataDir
	}
	if cmd.Flags().Changed("workers") {
		cfg.Workers = serveWorkers
	}
	if cmd.Flags().Changed("verbose") {
		cfg.Verbose = serveVerbose
	}

	// Environment fills anything flags and the file left unset
	if cfg.Port == 0 {
		if port, err := strconv.Atoi(os.Getenv("PORT")); err == nil {
			cfg.Port = port
		}
	}
	if cfg.DataDir == "" {
		cfg.DataDir = os.Getenv("DATA_DIR")
	}
	if cfg.Workers == 0 {
		if workers, err := strconv.Atoi(os.Getenv("WORKERS")); err == nil {
			cfg.Workers = workers
		}
	}

	cfg = cfg.MergeWithDefaults(config.DefaultConfig())
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
