package main

import (
	"fmt"
	"strings"

	"matrixci/internal/workflow"

	"github.com/spf13/cobra"
)

var (
	validateWorkflowsDir string
	validateChanged      []string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate workflow definitions",
	Long: `validate loads every workflow in the workflows directory and reports
what it found. With --changed it also evaluates the given paths and shows
which workflows would fire, without running anything.`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVarP(&validateWorkflowsDir, "workflows", "w", "./workflows", "Directory containing workflow definitions")
	validateCmd.Flags().StringArrayVar(&validateChanged, "changed", nil, "Changed path for a dry-run evaluation (repeatable)")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	workflows, err := workflow.LoadDir(validateWorkflowsDir)
	if err != nil {
		return &exitError{code: exitUsage, msg: err.Error()}
	}
	if len(workflows) == 0 {
		fmt.Printf("no workflows found in %s\n", validateWorkflowsDir)
		return nil
	}

	for _, wf := range workflows {
		fmt.Printf("%s (%s)\n", wf.Name, wf.Source())
		if wf.On.PullRequest != nil {
			fmt.Printf("  on pull_request: %s\n", strings.Join(wf.On.PullRequest.Paths, ", "))
		}
		for _, spec := range wf.Schedules() {
			fmt.Printf("  on schedule: %s\n", spec)
		}
		envs := make([]string, 0, len(wf.Environments))
		for _, env := range wf.Environments {
			envs = append(envs, env.Name)
		}
		fmt.Printf("  environments: %s\n", strings.Join(envs, ", "))
		fmt.Printf("  steps: %d\n", len(wf.Steps))
	}
	fmt.Printf("\n%d workflow(s) valid\n", len(workflows))

	// Dry-run evaluation
	if len(validateChanged) > 0 {
		fmt.Printf("\nevaluating %d changed path(s):\n", len(validateChanged))
		fired := 0
		for _, wf := range workflows {
			if wf.On.PullRequest == nil {
				continue
			}
			if path, pattern, ok := wf.FirstMatch(validateChanged); ok {
				fmt.Printf("  %s would fire: %s (pattern %s)\n", wf.Name, path, pattern)
				fired++
			}
		}
		if fired == 0 {
			fmt.Println("  no workflows would fire")
		}
	}

	return nil
}
