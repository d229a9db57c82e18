package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	yaml "gopkg.in/yaml.v3"
)

// Load reads and compiles a single workflow file.
func Load(path string) (*Workflow, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Trusted file path input
	if err != nil {
		return nil, err
	}

	return Parse(data, path)
}

// Parse parses YAML content into a compiled workflow. The source is recorded
// for error messages and may be empty.
func Parse(data []byte, source string) (*Workflow, error) {
	wf := &Workflow{}
	if err := yaml.Unmarshal(data, wf); err != nil {
		return nil, fmt.Errorf("parse %s: %v", sourceLabel(source), err)
	}
	wf.source = source

	if err := wf.Compile(); err != nil {
		return nil, fmt.Errorf("%s: %w", sourceLabel(source), err)
	}

	return wf, nil
}

// LoadDir loads every *.yml and *.yaml file in dir as a workflow, sorted by
// file name. Workflow names must be unique across the directory.
func LoadDir(dir string) ([]*Workflow, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".yml" || ext == ".yaml" {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	workflows := make([]*Workflow, 0, len(files))
	byName := make(map[string]string, len(files))
	for _, name := range files {
		path := filepath.Join(dir, name)
		wf, err := Load(path)
		if err != nil {
			return nil, err
		}
		if prev, ok := byName[wf.Name]; ok {
			return nil, fmt.Errorf("duplicate workflow %q in %s and %s", wf.Name, prev, name)
		}
		byName[wf.Name] = name
		workflows = append(workflows, wf)
	}

	return workflows, nil
}

func sourceLabel(source string) string {
	if source == "" {
		return "workflow"
	}
	return source
}
