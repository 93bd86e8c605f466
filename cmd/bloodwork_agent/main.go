// Package main provides the entry point for the Blood Test Analyzer CLI and HTTP API server.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "bloodwork_agent",
	Short: "Blood Test Report Analyzer",
	Long:  "Blood Test Report Analyzer runs LLM analysis pipelines over uploaded blood test reports, either one-shot from the command line or as a REST API server.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
