package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// checkout materializes the source into the workspace: init an empty
// repository, fetch exactly the wanted commit at depth 1, and check it out.
// A full clone would pull history no step ever looks at.
func (r *Runner) checkout(ctx context.Context, dir string, source Source, baseEnv []string, out io.Writer) (int, error) {
	if source.CloneURL == "" {
		return 0, errors.New("no clone URL for checkout")
	}

	want := source.SHA
	if want == "" {
		want = source.Ref
	}
	if want == "" {
		want = "HEAD"
	}

	commands := [][]string{
		{"git", "init", "--quiet", "."},
		{"git", "fetch", "--quiet", "--depth", "1", source.CloneURL, want},
		{"git", "checkout", "--quiet", "--force", "FETCH_HEAD"},
	}
	for _, argv := range commands {
		fmt.Fprintf(out, "$ %s\n", strings.Join(argv, " "))

		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Dir = dir
		cmd.Env = baseEnv
		cmd.Stdout = out
		cmd.Stderr = out
		if code, err := runCommand(cmd); err != nil {
			return code, err
		}
	}

	return 0, nil
}
