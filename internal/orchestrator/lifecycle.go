package orchestrator

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/taskmesh/orchestrator/internal/registry"
)

// staleSweeper is implemented by registry.MemoryStore; durable registry
// backends would implement it the same way, but none exist in this repo
// (spec names only the in-process registry).
type staleSweeper interface {
	SweepStale(ctx context.Context, now time.Time, staleAfter time.Duration) ([]string, error)
}

// StartStaleSweep runs registry.SweepStale on a ticker until ctx is done,
// demoting agents whose heartbeat has gone silent longer than staleAfter
// (SPEC_FULL.md §C.3). Returns immediately if the registry doesn't support
// sweeping.
func (o *Engine) StartStaleSweep(ctx context.Context, interval, staleAfter time.Duration) {
	sweeper, ok := o.agents.(staleSweeper)
	if !ok {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				demoted, err := sweeper.SweepStale(ctx, now, staleAfter)
				if err != nil {
					o.triplet.Logger.Warn(ctx, "stale sweep failed", "error", err.Error())
					continue
				}
				if len(demoted) > 0 {
					o.triplet.Logger.Info(ctx, "demoted stale agents", "count", len(demoted), "agent_ids", demoted)
				}
			}
		}
	}()
}

var _ registry.Store = (*registry.MemoryStore)(nil)

// Scheduler wraps robfig/cron to submit a recurring task on a cron
// schedule, supplementing the spec's single-shot submission with the
// original implementation's scheduled-replan behavior (SPEC_FULL.md §B,
// "optional recurring-task submission").
type Scheduler struct {
	cron *cron.Cron
	eng  *Engine
}

// NewScheduler constructs a Scheduler bound to eng. Start must be called
// separately to begin firing entries.
func NewScheduler(eng *Engine) *Scheduler {
	return &Scheduler{cron: cron.New(), eng: eng}
}

// ScheduleRecurring registers a cron entry that calls Submit(req) on every
// firing. cronExpr uses the standard five-field syntax (robfig/cron/v3
// default parser).
func (s *Scheduler) ScheduleRecurring(cronExpr string, req SubmitRequest) (cron.EntryID, error) {
	return s.cron.AddFunc(cronExpr, func() {
		ctx := context.Background()
		if _, err := s.eng.Submit(ctx, req); err != nil {
			s.eng.triplet.Logger.Error(ctx, "scheduled task submission failed", "task_type", req.Type, "error", err.Error())
		}
	})
}

// Start begins firing registered cron entries in their own goroutine.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the scheduler so no further entries fire. It does not wait for
// a running job; the returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context { return s.cron.Stop() }

// Remove cancels a previously scheduled entry.
func (s *Scheduler) Remove(id cron.EntryID) { s.cron.Remove(id) }
