package workflow

import (
	"fmt"

	"github.com/gobwas/glob"
	"github.com/robfig/cron/v3"
)

// Shell values accepted on a step. The default empty value splits the
// command into argv and execs it directly; "sh" runs the command through the
// host shell (sh -c on Unix, powershell -Command on Windows).
const (
	ShellNone = "none"
	ShellSh   = "sh"
)

// UsesCheckout is the only builtin step. It materializes the repository
// source tree at the triggering head commit inside the job workspace.
const UsesCheckout = "checkout"

// Workflow is one declarative workflow definition: trigger rules, an
// environment matrix, and a step pipeline executed once per environment.
type Workflow struct {
	Name         string        `yaml:"name"`
	On           Triggers      `yaml:"on"`
	Repo         *RepoSpec     `yaml:"repo"`
	Environments []Environment `yaml:"environments"`
	Steps        []Step        `yaml:"steps"`

	source string      // file the workflow was loaded from, for error messages
	globs  []glob.Glob // compiled pull_request path patterns
}

// RepoSpec pins a workflow to a repository. Pull request runs already know
// their repository from the event; scheduled runs check out this one.
type RepoSpec struct {
	CloneURL string `yaml:"clone_url"`
	Ref      string `yaml:"ref"` // defaults to the remote HEAD
}

// Triggers declares when a workflow fires.
type Triggers struct {
	PullRequest *PullRequestTrigger `yaml:"pull_request"`
	Schedule    []ScheduleEntry     `yaml:"schedule"`
}

// PullRequestTrigger fires when a pull request's changed-path set intersects
// the configured glob patterns.
type PullRequestTrigger struct {
	Paths []string `yaml:"paths"`
}

// ScheduleEntry fires on a 5-field cron expression, with no path filtering.
type ScheduleEntry struct {
	Cron string `yaml:"cron"`
}

// Environment names one target execution context in the job matrix. A
// non-empty OS restricts the environment to hosts with that GOOS; a mismatch
// fails the job during provisioning.
type Environment struct {
	Name string            `yaml:"name"`
	OS   string            `yaml:"os"`
	Env  map[string]string `yaml:"env"`
}

// Step is a single instruction in the job pipeline. Exactly one of Uses and
// Run must be set.
type Step struct {
	Name  string            `yaml:"name"`
	Uses  string            `yaml:"uses"`
	Run   string            `yaml:"run"`
	Dir   string            `yaml:"dir"`
	Shell string            `yaml:"shell"`
	Env   map[string]string `yaml:"env"`
}

// IsCheckout reports whether the step is the builtin checkout step.
func (s Step) IsCheckout() bool {
	return s.Uses == UsesCheckout
}

// Source returns the file the workflow was loaded from, or "" for workflows
// constructed in code.
func (w *Workflow) Source() string {
	return w.source
}

// Compile validates the workflow and compiles its trigger patterns. Load and
// LoadDir call it; workflows constructed in code must call it before use.
func (w *Workflow) Compile() error {
	if w.Name == "" {
		return fmt.Errorf("workflow name is required")
	}

	// A workflow with no trigger at all can never run
	hasPaths := w.On.PullRequest != nil && len(w.On.PullRequest.Paths) > 0
	if !hasPaths && len(w.On.Schedule) == 0 {
		return fmt.Errorf("workflow %q declares no triggers", w.Name)
	}

	// Validate cron expressions up front so a bad schedule fails at load
	// time, not at the first firing
	for _, entry := range w.On.Schedule {
		if entry.Cron == "" {
			return fmt.Errorf("workflow %q: schedule entry without cron expression", w.Name)
		}
		if _, err := cron.ParseStandard(entry.Cron); err != nil {
			return fmt.Errorf("workflow %q: invalid cron expression %q: %v", w.Name, entry.Cron, err)
		}
	}

	// A scheduled run has no event to take a repository from, so a checkout
	// step needs the workflow to pin one
	if len(w.On.Schedule) > 0 && (w.Repo == nil || w.Repo.CloneURL == "") {
		for _, step := range w.Steps {
			if step.IsCheckout() {
				return fmt.Errorf("workflow %q: schedule trigger with a checkout step requires repo.clone_url", w.Name)
			}
		}
	}

	// Validate the environment matrix
	if len(w.Environments) == 0 {
		return fmt.Errorf("workflow %q declares no environments", w.Name)
	}
	seen := make(map[string]bool, len(w.Environments))
	for i, env := range w.Environments {
		if env.Name == "" {
			return fmt.Errorf("workflow %q: environments[%d] has no name", w.Name, i)
		}
		if seen[env.Name] {
			return fmt.Errorf("workflow %q: duplicate environment %q", w.Name, env.Name)
		}
		seen[env.Name] = true
		switch env.OS {
		case "", "linux", "darwin", "windows":
		default:
			return fmt.Errorf("workflow %q: environment %q: unsupported os %q", w.Name, env.Name, env.OS)
		}
	}

	// Validate the step pipeline
	if len(w.Steps) == 0 {
		return fmt.Errorf("workflow %q declares no steps", w.Name)
	}
	for i, step := range w.Steps {
		if step.Name == "" {
			return fmt.Errorf("workflow %q: steps[%d] has no name", w.Name, i)
		}
		if step.Uses != "" && step.Run != "" {
			return fmt.Errorf("workflow %q: step %q sets both uses and run", w.Name, step.Name)
		}
		if step.Uses == "" && step.Run == "" {
			return fmt.Errorf("workflow %q: step %q sets neither uses nor run", w.Name, step.Name)
		}
		if step.Uses != "" && step.Uses != UsesCheckout {
			return fmt.Errorf("workflow %q: step %q: unknown uses %q", w.Name, step.Name, step.Uses)
		}
		switch step.Shell {
		case "", ShellNone, ShellSh:
		default:
			return fmt.Errorf("workflow %q: step %q: unsupported shell %q", w.Name, step.Name, step.Shell)
		}
	}

	// Compile path patterns. The separator makes * stop at path boundaries
	// while ** crosses them, matching the forge's path-filter semantics.
	w.globs = w.globs[:0]
	if w.On.PullRequest != nil {
		for _, pattern := range w.On.PullRequest.Paths {
			g, err := glob.Compile(pattern, '/')
			if err != nil {
				return fmt.Errorf("workflow %q: invalid path pattern %q: %v", w.Name, pattern, err)
			}
			w.globs = append(w.globs, g)
		}
	}

	return nil
}

// Matches reports whether the changed-path set intersects the workflow's
// pull_request path patterns. Paths are repo-relative and slash-separated,
// exactly as the forge reports them.
func (w *Workflow) Matches(changedPaths []string) bool {
	_, _, ok := w.FirstMatch(changedPaths)
	return ok
}

// FirstMatch returns the first changed path that matches a configured
// pattern, with the pattern it matched, for trigger logging. One matching
// path is enough to fire; the others are never consulted.
func (w *Workflow) FirstMatch(changedPaths []string) (path, pattern string, ok bool) {
	if w.On.PullRequest == nil {
		return "", "", false
	}
	for _, p := range changedPaths {
		for i, g := range w.globs {
			if g.Match(p) {
				return p, w.On.PullRequest.Paths[i], true
			}
		}
	}
	return "", "", false
}

// Schedules returns the workflow's cron expressions.
func (w *Workflow) Schedules() []string {
	specs := make([]string, 0, len(w.On.Schedule))
	for _, entry := range w.On.Schedule {
		specs = append(specs, entry.Cron)
	}
	return specs
}
