package main

import (
	"errors"
	"fmt"
	"os"

	"matrixci/internal/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Process exit codes
const (
	exitOK        = 0
	exitJobFailed = 1
	exitUsage     = 2
	exitNoMatch   = 3
)

var (
	verbose  bool
	jsonLogs bool
)

var rootCmd = &cobra.Command{
	Use:   "matrixci",
	Short: "Change-triggered test runner",
	Long: `matrixci listens for pull request events, matches the changed paths
against workflow trigger rules, and runs each matching workflow's step
pipeline once per environment of its matrix, in parallel.

Workflows are YAML files; see the workflows/ directory for examples.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := "info"
		if verbose {
			level = "debug"
		}
		format := logger.FormatText
		if jsonLogs {
			format = logger.FormatJSON
		}
		logger.Init(level, format)
	},
}

func main() {
	// A .env file is optional; real environment variables win either way
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: failed to load .env: %v\n", err)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json", false, "Log in JSON format")
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// exitError carries a process exit code through cobra's error return
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string {
	return e.msg
}

// exitCodeFor maps an error to the process exit code
func exitCodeFor(err error) int {
	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	return exitUsage
}
