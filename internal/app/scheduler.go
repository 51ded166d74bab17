/**
 * @description
 * Cron scheduler for in-process maintenance jobs.
 */
package app

import (
	"context"
	"log"

	"github.com/robfig/cron/v3"
)

// Pruner drops idle rate-limit buckets.
type Pruner interface {
	Prune() int
}

// Scheduler manages the maintenance cron jobs.
type Scheduler struct {
	cron     *cron.Cron
	pruner   Pruner
	schedule string
}

// NewScheduler creates a scheduler that prunes on schedule.
func NewScheduler(pruner Pruner, schedule string) *Scheduler {
	c := cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(log.Default()))))
	return &Scheduler{cron: c, pruner: pruner, schedule: schedule}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.pruneRateLimits); err != nil {
		log.Printf("level=error component=scheduler msg=\"failed to schedule rate-limit prune job\" schedule=%q err=%v", s.schedule, err)
		return err
	}
	log.Printf("level=info component=scheduler msg=\"scheduled rate-limit prune job\" schedule=%q", s.schedule)
	s.cron.Start()
	return nil
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) pruneRateLimits() {
	if removed := s.pruner.Prune(); removed > 0 {
		log.Printf("level=info component=scheduler msg=\"pruned idle rate-limit buckets\" removed=%d", removed)
	}
}
