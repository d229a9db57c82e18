package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"matrixci/internal/storage/models"
	"matrixci/internal/workflow"

	"github.com/kballard/go-shellquote"
)

// runStep executes a single run step in the job's working tree and returns
// its exit code.
func (r *Runner) runStep(ctx context.Context, step workflow.Step, baseDir string, baseEnv []string, out io.Writer) (int, error) {
	argv, err := stepArgv(step)
	if err != nil {
		return 0, err
	}

	dir := baseDir
	if step.Dir != "" {
		dir = filepath.Join(baseDir, step.Dir)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = appendEnv(baseEnv, step.Env)
	cmd.Stdout = out
	cmd.Stderr = out

	return runCommand(cmd)
}

// stepArgv resolves the command line for a run step. The default splits the
// command into argv words and executes it directly; shell: sh hands the
// whole line to the host shell instead.
func stepArgv(step workflow.Step) ([]string, error) {
	if step.Shell == workflow.ShellSh {
		if runtime.GOOS == "windows" {
			return []string{"powershell", "-Command", step.Run}, nil
		}
		return []string{"sh", "-c", step.Run}, nil
	}

	argv, err := shellquote.Split(step.Run)
	if err != nil {
		return nil, fmt.Errorf("invalid command: %w", err)
	}
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}
	return argv, nil
}

// jobEnv builds the base environment for a job's steps: the host
// environment, the run coordinates, then the environment's own variables.
func jobEnv(wf *workflow.Workflow, env workflow.Environment, job models.Job) []string {
	merged := os.Environ()
	merged = append(merged,
		"MATRIXCI=true",
		"MATRIXCI_WORKFLOW="+wf.Name,
		"MATRIXCI_ENVIRONMENT="+env.Name,
		"MATRIXCI_RUN_ID="+job.RunID,
		"MATRIXCI_JOB_ID="+job.ID,
	)
	return appendEnv(merged, env.Env)
}

// appendEnv appends the map's entries to the environment. os/exec resolves
// duplicate keys to the last value, so appended entries win.
func appendEnv(base []string, vars map[string]string) []string {
	if len(vars) == 0 {
		return base
	}
	merged := make([]string, len(base), len(base)+len(vars))
	copy(merged, base)
	for k, v := range vars {
		merged = append(merged, k+"="+v)
	}
	return merged
}

// runCommand runs a prepared command and maps the error to an exit code.
func runCommand(cmd *exec.Cmd) (int, error) {
	err := cmd.Run()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), err
	}
	return 0, err
}
