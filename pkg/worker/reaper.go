package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"shopfloor/pkg/coordination"
	"shopfloor/pkg/logger"
	"shopfloor/pkg/metrics"
	"shopfloor/pkg/storage"
)

// Reaper requeues jobs whose worker died mid-flight: a running job with a
// lock older than the staleness threshold goes back to queued. The
// attempts counter keeps its claimed value, so a job that repeatedly
// kills its worker still dead-letters after max_attempts claims.
//
// Only the elected leader reaps, otherwise every worker would race the
// same rows.
type Reaper struct {
	jobs      storage.JobStore
	election  coordination.Election
	nodeID    string
	staleness time.Duration
	interval  time.Duration
}

func NewReaper(jobs storage.JobStore, election coordination.Election, nodeID string, staleness time.Duration) *Reaper {
	if staleness <= 0 {
		staleness = 10 * time.Minute
	}
	return &Reaper{
		jobs:      jobs,
		election:  election,
		nodeID:    nodeID,
		staleness: staleness,
		interval:  30 * time.Second,
	}
}

// Run blocks until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	log := logger.Get().With(zap.String("worker_id", r.nodeID))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !r.isLeader(ctx) {
				continue
			}
			cutoff := time.Now().Add(-r.staleness)
			n, err := r.jobs.ReapStaleJobs(ctx, cutoff)
			if err != nil {
				log.Error("reap failed", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Warn("reaped stale jobs", zap.Int64("count", n))
				metrics.StaleJobsReaped.Add(float64(n))
			}
		}
	}
}

func (r *Reaper) isLeader(ctx context.Context) bool {
	if r.election == nil {
		return true // Single-node deployment
	}
	leader, err := r.election.Leader(ctx)
	if err != nil {
		return false
	}
	return leader == r.nodeID
}
