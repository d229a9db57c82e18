// Package schedule fires scheduled workflow runs on their cron expressions.
package schedule

import (
	"fmt"

	"matrixci/internal/engine"
	"matrixci/internal/logger"

	"github.com/robfig/cron/v3"
)

// Scheduler owns one cron instance with an entry per workflow schedule.
type Scheduler struct {
	cron    *cron.Cron
	entries int
}

// New registers every schedule trigger of the loaded workflows.
func New(eng engine.Engine) (*Scheduler, error) {
	c := cron.New()

	entries := 0
	for _, wf := range eng.Workflows() {
		for _, spec := range wf.Schedules() {
			_, err := c.AddFunc(spec, func() {
				run, err := eng.DispatchScheduled(wf)
				if err != nil {
					logger.Error("Failed to dispatch scheduled run", "error", err, "workflow", wf.Name)
					return
				}
				logger.Info("Scheduled run dispatched", "workflow", wf.Name, "run_id", run.ID)
			})
			if err != nil {
				// Workflow validation already parsed the expression, so
				// this is only reachable for a parser disagreement
				return nil, fmt.Errorf("workflow %q: schedule %q: %w", wf.Name, spec, err)
			}
			entries++
		}
	}

	return &Scheduler{cron: c, entries: entries}, nil
}

// Entries returns the number of registered schedules.
func (s *Scheduler) Entries() int {
	return s.entries
}

// Start begins firing schedules. A scheduler with no entries stays idle.
func (s *Scheduler) Start() {
	if s.entries == 0 {
		return
	}
	s.cron.Start()
	logger.Info("Scheduler started", "entries", s.entries)
}

// Stop stops firing and waits for in-flight dispatch callbacks to return.
// Dispatch only enqueues runs; the jobs themselves belong to the runner and
// drain with it.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
