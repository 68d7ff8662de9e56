package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"shopfloor/pkg/coordination"
	"shopfloor/pkg/logger"
	"shopfloor/pkg/metrics"
	"shopfloor/pkg/models"
	"shopfloor/pkg/storage"
)

// AutoTrigger creates schedule runs on a cron cadence for each configured
// org, so the board stays fresh without an operator clicking re-solve.
// Leader-gated like the reaper: exactly one worker fires the cron.
type AutoTrigger struct {
	jobs      storage.JobStore
	schedules storage.ScheduleStore
	election  coordination.Election
	nodeID    string

	orgIDs       []uuid.UUID
	schedule     cron.Schedule
	horizonHours int
}

// AutoTriggerConfig holds auto-trigger construction parameters.
type AutoTriggerConfig struct {
	Jobs         storage.JobStore
	Schedules    storage.ScheduleStore
	Election     coordination.Election
	NodeID       string
	OrgIDs       []uuid.UUID
	CronSpec     string // standard 5-field cron
	HorizonHours int
}

func NewAutoTrigger(cfg AutoTriggerConfig) (*AutoTrigger, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cfg.CronSpec)
	if err != nil {
		return nil, fmt.Errorf("invalid auto-trigger cron spec %q: %w", cfg.CronSpec, err)
	}
	horizon := cfg.HorizonHours
	if horizon <= 0 {
		horizon = 8
	}
	return &AutoTrigger{
		jobs:         cfg.Jobs,
		schedules:    cfg.Schedules,
		election:     cfg.Election,
		nodeID:       cfg.NodeID,
		orgIDs:       cfg.OrgIDs,
		schedule:     schedule,
		horizonHours: horizon,
	}, nil
}

// Run blocks until ctx is cancelled, firing at each cron boundary.
func (a *AutoTrigger) Run(ctx context.Context) {
	log := logger.Get().With(zap.String("worker_id", a.nodeID))

	for {
		next := a.schedule.Next(time.Now())
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
		}

		if !a.isLeader(ctx) {
			continue
		}
		for _, orgID := range a.orgIDs {
			if err := a.triggerOne(ctx, orgID); err != nil {
				log.Error("auto-trigger failed",
					zap.String("org_id", orgID.String()), zap.Error(err))
			}
		}
	}
}

// triggerOne creates one run and its driving job, mirroring what the API
// does for a manual trigger.
func (a *AutoTrigger) triggerOne(ctx context.Context, orgID uuid.UUID) error {
	horizonStart := time.Now().Truncate(time.Minute)
	horizonEnd := horizonStart.Add(time.Duration(a.horizonHours) * time.Hour)

	lockedCount, err := a.schedules.CountLockedTasks(ctx, orgID)
	if err != nil {
		return fmt.Errorf("failed to count locked tasks: %w", err)
	}

	run := &models.ScheduleRun{
		OrgID:           orgID,
		HorizonStart:    horizonStart,
		HorizonEnd:      horizonEnd,
		Trigger:         "auto_cron",
		LockedTaskCount: lockedCount,
	}
	if err := a.schedules.CreateRun(ctx, run); err != nil {
		return err
	}

	job := &models.Job{
		OrgID: orgID,
		Type:  models.JobTypeScheduleRun,
		Payload: models.Payload{
			"schedule_run_id": run.ID.String(),
			"org_id":          orgID.String(),
			"horizon_start":   horizonStart.Format(time.RFC3339),
			"horizon_end":     horizonEnd.Format(time.RFC3339),
		},
		// A solve is deterministic for a given snapshot; retrying a
		// failed solve buys nothing.
		MaxAttempts: 1,
	}
	if err := a.jobs.Enqueue(ctx, job); err != nil {
		return err
	}
	metrics.JobsEnqueued.WithLabelValues(string(models.JobTypeScheduleRun)).Inc()

	logger.Info("auto-triggered schedule run",
		zap.String("org_id", orgID.String()),
		zap.String("schedule_run_id", run.ID.String()))
	return nil
}

func (a *AutoTrigger) isLeader(ctx context.Context) bool {
	if a.election == nil {
		return true
	}
	leader, err := a.election.Leader(ctx)
	if err != nil {
		return false
	}
	return leader == a.nodeID
}
