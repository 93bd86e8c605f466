package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandsRegistered(t *testing.T) {
	names := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		names[cmd.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["analyze"])
}

func TestAnalyzeFlagDefaults(t *testing.T) {
	mode, err := analyzeCmd.Flags().GetString("mode")
	require.NoError(t, err)
	assert.Equal(t, "quick", mode)
}

func TestAnalyzeRejectsUnknownMode(t *testing.T) {
	orig := analyzeMode
	analyzeMode = "experimental"
	t.Cleanup(func() { analyzeMode = orig })

	err := runAnalyze(analyzeCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown pipeline variant")
}
