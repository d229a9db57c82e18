package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"matrixci/internal/config"
	"matrixci/internal/runner"
	"matrixci/internal/storage/models"
	"matrixci/internal/stream"
	"matrixci/internal/workflow"

	"github.com/spf13/cobra"
)

var (
	runWorkflowsDir  string
	runDir           string
	runChanged       []string
	runFromStdin     bool
	runRequireMatch  bool
	runForce         bool
	runWorkflowName  string
	runEnvName       string
	runMaxConcurrent int
	runJobTimeout    int
	runQuiet         bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Evaluate changed paths and run matching workflows locally",
	Long: `run evaluates a changed-path set against the loaded workflows' trigger
rules and executes every matching workflow's matrix against a local working
tree. Checkout steps are skipped: the working tree is used as it is.

Changed paths come from repeated --changed flags or, with --from-stdin, one
per line on standard input (the shape of git diff --name-only output).`,
	Example: `  git diff --name-only origin/main... | matrixci run --from-stdin
  matrixci run --changed core/src/lib.rs
  matrixci run --changed core/src/lib.rs --env ubuntu-latest
  matrixci run --workflow nightly --force`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runWorkflowsDir, "workflows", "w", "./workflows", "Directory containing workflow definitions")
	runCmd.Flags().StringVarP(&runDir, "dir", "C", ".", "Working tree the steps run against")
	runCmd.Flags().StringArrayVar(&runChanged, "changed", nil, "Changed path to evaluate (repeatable)")
	runCmd.Flags().BoolVar(&runFromStdin, "from-stdin", false, "Read changed paths from stdin, one per line")
	runCmd.Flags().BoolVar(&runRequireMatch, "require-match", false, "Exit with an error when no workflow matches")
	runCmd.Flags().BoolVar(&runForce, "force", false, "Run without trigger evaluation")
	runCmd.Flags().StringVar(&runWorkflowName, "workflow", "", "Evaluate only the named workflow")
	runCmd.Flags().StringVar(&runEnvName, "env", "", "Run only the named environment of each matrix")
	runCmd.Flags().IntVar(&runMaxConcurrent, "max-concurrent", 0, "Maximum jobs running at once (0 = unbounded)")
	runCmd.Flags().IntVar(&runJobTimeout, "timeout", 0, "Per-job timeout in seconds (0 = none)")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Suppress live job output")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	workflows, err := workflow.LoadDir(runWorkflowsDir)
	if err != nil {
		return &exitError{code: exitUsage, msg: err.Error()}
	}
	if runWorkflowName != "" {
		workflows = filterWorkflows(workflows, runWorkflowName)
		if len(workflows) == 0 {
			return &exitError{code: exitUsage, msg: fmt.Sprintf("no workflow named %q in %s", runWorkflowName, runWorkflowsDir)}
		}
	}

	dir, err := filepath.Abs(runDir)
	if err != nil {
		return &exitError{code: exitUsage, msg: fmt.Sprintf("invalid --dir: %v", err)}
	}

	// Decide which workflows run: evaluate the changed paths, unless
	// --force skips evaluation entirely
	var matched []*workflow.Workflow
	if runForce {
		matched = workflows
	} else {
		changed, err := collectChangedPaths()
		if err != nil {
			return err
		}
		if len(changed) == 0 {
			return &exitError{code: exitUsage, msg: "no changed paths given (use --changed, --from-stdin or --force)"}
		}

		for _, wf := range workflows {
			if wf.On.PullRequest == nil {
				continue
			}
			if path, pattern, ok := wf.FirstMatch(changed); ok {
				fmt.Printf("workflow %s matched: %s (pattern %s)\n", wf.Name, path, pattern)
				matched = append(matched, wf)
			}
		}
	}

	// A changed-path set that fires nothing is a successful no-op unless
	// the caller asked otherwise
	if len(matched) == 0 {
		fmt.Println("no workflows matched")
		if runRequireMatch {
			return &exitError{code: exitNoMatch, msg: "no workflows matched the changed paths"}
		}
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sink stream.Sink = stream.NopSink{}
	if !runQuiet {
		sink = &consoleSink{}
	}
	r := runner.New(config.RunnerConfig{
		MaxConcurrent: runMaxConcurrent,
		JobTimeout:    runJobTimeout,
	}, sink, nil)

	failed := false
	ran := 0
	for _, wf := range matched {
		if runEnvName != "" {
			narrowed, ok := selectEnvironment(wf, runEnvName)
			if !ok {
				fmt.Printf("workflow %s has no environment %q, skipping\n", wf.Name, runEnvName)
				continue
			}
			wf = narrowed
		}
		ran++

		fmt.Printf("\n=== %s\n", wf.Name)
		jobs := r.RunLocal(ctx, wf, dir)
		for _, job := range jobs {
			fmt.Println(formatJobResult(job))
			if job.Status != models.StatusSuccess {
				failed = true
			}
		}
	}
	if ran == 0 {
		return &exitError{code: exitUsage, msg: fmt.Sprintf("no matched workflow has environment %q", runEnvName)}
	}

	if failed {
		return &exitError{code: exitJobFailed, msg: "one or more jobs failed"}
	}
	return nil
}

// collectChangedPaths gathers the changed-path set from flags and stdin
func collectChangedPaths() ([]string, error) {
	changed := append([]string(nil), runChanged...)
	if runFromStdin {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				changed = append(changed, line)
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
	}
	return changed, nil
}

// selectEnvironment narrows a workflow's matrix to the named environment.
func selectEnvironment(wf *workflow.Workflow, name string) (*workflow.Workflow, bool) {
	for _, env := range wf.Environments {
		if env.Name == name {
			narrowed := *wf
			narrowed.Environments = []workflow.Environment{env}
			return &narrowed, true
		}
	}
	return nil, false
}

func filterWorkflows(workflows []*workflow.Workflow, name string) []*workflow.Workflow {
	var out []*workflow.Workflow
	for _, wf := range workflows {
		if wf.Name == name {
			out = append(out, wf)
		}
	}
	return out
}

// formatJobResult renders one job's terminal state for the summary
func formatJobResult(job models.Job) string {
	var duration string
	if job.StartedAt != nil && job.FinishedAt != nil {
		duration = job.FinishedAt.Sub(*job.StartedAt).Round(time.Millisecond).String()
	}

	if job.Status == models.StatusSuccess {
		return fmt.Sprintf("  %-20s ok    %s", job.Environment, duration)
	}

	detail := job.Error
	if detail == "" && job.ExitCode != nil {
		detail = fmt.Sprintf("exit %d", *job.ExitCode)
	}
	return fmt.Sprintf("  %-20s FAIL  %s  %s", job.Environment, duration, detail)
}

// consoleSink prints job log lines as they happen, tagged by environment.
// Jobs run in parallel, so writes are serialized.
type consoleSink struct {
	mu sync.Mutex
}

func (s *consoleSink) Publish(e stream.Event) {
	if e.Type != stream.EventJobLog {
		return
	}
	s.mu.Lock()
	fmt.Printf("[%s] %s\n", e.Environment, e.Line)
	s.mu.Unlock()
}
