package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shopfloor/pkg/logger"
	"shopfloor/pkg/metrics"
	"shopfloor/pkg/models"
	"shopfloor/pkg/resilience"
	"shopfloor/pkg/scheduler"
	"shopfloor/pkg/storage"
)

// ScheduleRunHandler executes one schedule run: load the snapshot, solve,
// persist. Infeasibility finalizes the run as failed but the job as
// succeeded; the solver gave a definitive answer and a retry would only
// reproduce it.
type ScheduleRunHandler struct {
	schedules storage.ScheduleStore
	snapshots storage.SnapshotStore
	audits    storage.AuditStore
	archive   storage.ArchiveStore // optional
	breaker   *resilience.CircuitBreaker
}

func NewScheduleRunHandler(schedules storage.ScheduleStore, snapshots storage.SnapshotStore, audits storage.AuditStore, archive storage.ArchiveStore) *ScheduleRunHandler {
	return &ScheduleRunHandler{
		schedules: schedules,
		snapshots: snapshots,
		audits:    audits,
		archive:   archive,
		breaker:   resilience.NewCircuitBreaker("run-archive", resilience.DefaultCircuitBreakerConfig()),
	}
}

// scheduleRunPayload is the parsed job payload.
type scheduleRunPayload struct {
	RunID        uuid.UUID
	OrgID        uuid.UUID
	HorizonStart time.Time
	HorizonEnd   time.Time
	TimeLimit    time.Duration
}

func parseScheduleRunPayload(p models.Payload) (*scheduleRunPayload, error) {
	out := &scheduleRunPayload{TimeLimit: scheduler.DefaultTimeLimit}

	runID, err := payloadUUID(p, "schedule_run_id")
	if err != nil {
		return nil, err
	}
	out.RunID = runID

	orgID, err := payloadUUID(p, "org_id")
	if err != nil {
		return nil, err
	}
	out.OrgID = orgID

	out.HorizonStart, err = payloadTime(p, "horizon_start")
	if err != nil {
		return nil, err
	}
	out.HorizonEnd, err = payloadTime(p, "horizon_end")
	if err != nil {
		return nil, err
	}
	if !out.HorizonEnd.After(out.HorizonStart) {
		return nil, errors.New("horizon_end must be after horizon_start")
	}

	if v, ok := p["time_limit_seconds"]; ok {
		secs, ok := v.(float64)
		if !ok || secs <= 0 {
			return nil, fmt.Errorf("invalid time_limit_seconds %v", v)
		}
		out.TimeLimit = time.Duration(secs * float64(time.Second))
	}
	return out, nil
}

func payloadUUID(p models.Payload, key string) (uuid.UUID, error) {
	s, ok := p[key].(string)
	if !ok {
		return uuid.Nil, fmt.Errorf("payload missing %s", key)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	return id, nil
}

func payloadTime(p models.Payload, key string) (time.Time, error) {
	s, ok := p[key].(string)
	if !ok {
		return time.Time{}, fmt.Errorf("payload missing %s", key)
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: %w", key, err)
	}
	return t, nil
}

// Handle processes one schedule_run job.
func (h *ScheduleRunHandler) Handle(ctx context.Context, job *models.Job) error {
	p, err := parseScheduleRunPayload(job.Payload)
	if err != nil {
		return fmt.Errorf("bad schedule_run payload: %w", err)
	}
	// The payload is caller-supplied; the job row is the authoritative
	// tenant. A payload naming another org never reaches the run tables.
	if p.OrgID != job.OrgID {
		return fmt.Errorf("payload org %s does not match job org %s", p.OrgID, job.OrgID)
	}
	log := logger.Get().With(
		zap.String("schedule_run_id", p.RunID.String()),
		zap.String("org_id", p.OrgID.String()))

	if err := h.schedules.MarkRunRunning(ctx, p.OrgID, p.RunID); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// A retried job found the run already finalized. Nothing
			// left to do; the first attempt's outcome stands.
			log.Info("run already finalized, skipping solve")
			return nil
		}
		return fmt.Errorf("failed to mark run running: %w", err)
	}

	snap, err := h.snapshots.LoadSnapshot(ctx, p.OrgID, p.RunID, p.HorizonStart, p.HorizonEnd)
	if err != nil {
		h.failRun(p.OrgID, p.RunID, "snapshot load failed", 0)
		return fmt.Errorf("failed to load snapshot: %w", err)
	}

	if len(snap.Tasks) == 0 {
		log.Info("no tasks in horizon, run trivially succeeded")
		if err := h.schedules.MarkRunEmpty(ctx, p.OrgID, p.RunID, 0); err != nil {
			return fmt.Errorf("failed to finalize empty run: %w", err)
		}
		return nil
	}
	if len(snap.Technicians) == 0 {
		h.failRun(p.OrgID, p.RunID, "No technicians available for scheduling", 0)
		return errors.New("No technicians available for scheduling")
	}
	if len(snap.Bays) == 0 {
		h.failRun(p.OrgID, p.RunID, "No bays available for scheduling", 0)
		return errors.New("No bays available for scheduling")
	}

	res := scheduler.Solve(ctx, scheduler.BuildModel(snap), p.TimeLimit)
	metrics.RecordSolve(string(res.Status), res.WallTime.Seconds(), len(snap.Tasks))
	log.Info("solve finished",
		zap.String("status", string(res.Status)),
		zap.Int64("wall_time_ms", res.WallTimeMS()),
		zap.Int64("objective", res.Objective))

	if res.Status == scheduler.StatusFailed {
		h.failRun(p.OrgID, p.RunID, res.Reason, res.WallTimeMS())
		return fmt.Errorf("solver gave no answer: %s", res.Reason)
	}

	if err := h.schedules.SaveResult(ctx, p.OrgID, p.RunID, &res); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			log.Info("run finalized concurrently, dropping result")
			return nil
		}
		return fmt.Errorf("failed to persist result: %w", err)
	}

	h.appendAudit(p, &res)
	h.archiveRun(p, log)
	return nil
}

// failRun records a terminal failure on the run row before the job goes
// back through the retry policy. Errors here are logged, not returned;
// the job error is the authoritative signal.
func (h *ScheduleRunHandler) failRun(orgID, runID uuid.UUID, reason string, wallTimeMS int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.schedules.MarkRunFailed(ctx, orgID, runID, reason, wallTimeMS); err != nil {
		logger.Error("failed to mark run failed",
			zap.String("schedule_run_id", runID.String()), zap.Error(err))
	}
}

func (h *ScheduleRunHandler) appendAudit(p *scheduleRunPayload, res *scheduler.Result) {
	if h.audits == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	entry := &models.AuditLog{
		OrgID:      p.OrgID,
		EntityType: "schedule_run",
		EntityID:   p.RunID,
		Action:     "solved",
		Diff: models.Diff{
			"status":       string(res.Status),
			"item_count":   len(res.Items),
			"objective":    res.Objective,
			"wall_time_ms": res.WallTimeMS(),
		},
	}
	if err := h.audits.AppendAudit(ctx, entry); err != nil {
		logger.Warn("failed to append audit entry", zap.Error(err))
	}
}

// archiveRun ships the finished run to object storage behind a circuit
// breaker, so a broken S3 endpoint cannot slow the solve path down.
func (h *ScheduleRunHandler) archiveRun(p *scheduleRunPayload, log *zap.Logger) {
	if h.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := h.breaker.Execute(ctx, func() error {
		run, err := h.schedules.GetRun(ctx, p.OrgID, p.RunID)
		if err != nil {
			return err
		}
		items, err := h.schedules.ListItems(ctx, p.OrgID, p.RunID)
		if err != nil {
			return err
		}
		artifact := map[string]interface{}{"run": run, "items": items}
		_, err = h.archive.Store(ctx, p.RunID.String(), artifact)
		return err
	})
	if err != nil {
		log.Warn("run archive skipped", zap.Error(err))
	}
}
