package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"shopfloor/pkg/models"
	"shopfloor/pkg/scheduler"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict signals a write lost to the record's current state,
	// such as finalizing a schedule run that is already terminal.
	ErrConflict = errors.New("conflicting record state")
	// ErrUnknownJobType rejects an enqueue whose type has no registered
	// handler. Validated at the boundary so the queue never carries jobs
	// nobody can dispatch.
	ErrUnknownJobType = errors.New("unknown job type")
)

// JobStore defines the data access layer for the durable job queue.
// Every read and write is tenant-scoped except the claim, which crosses
// tenants: workers are shared infrastructure.
type JobStore interface {
	// Enqueue persists a new queued job.
	Enqueue(ctx context.Context, job *models.Job) error

	// GetJob retrieves a job by ID within an org. Returns ErrNotFound
	// for both missing rows and rows belonging to another org.
	GetJob(ctx context.Context, orgID, id uuid.UUID) (*models.Job, error)

	// ListJobs returns recent jobs for an org, optionally filtered by
	// status and type, newest first.
	ListJobs(ctx context.Context, orgID uuid.UUID, filter JobFilter) ([]models.Job, error)

	// ClaimNextJob atomically picks the oldest due queued job, marks it
	// running, stamps the worker identity and increments attempts.
	// Returns (nil, nil) when nothing is due. Concurrent callers never
	// receive the same job.
	ClaimNextJob(ctx context.Context, workerID string) (*models.Job, error)

	// MarkJobSucceeded finalizes a running job and clears its lock.
	MarkJobSucceeded(ctx context.Context, id uuid.UUID) error

	// RequeueJob returns a failed job to the queue with a backoff delay,
	// recording the handler error. The lock is cleared; attempts keep
	// their claimed value.
	RequeueJob(ctx context.Context, id uuid.UUID, handlerErr string, backoff time.Duration) error

	// DeadLetterJob marks a job failed terminally with its final error.
	DeadLetterJob(ctx context.Context, id uuid.UUID, handlerErr string) error

	// ReapStaleJobs requeues running jobs whose lock is older than
	// cutoff. Attempts are not decremented; a reaped claim still counts
	// against max_attempts. Returns the number of jobs reaped.
	ReapStaleJobs(ctx context.Context, cutoff time.Time) (int64, error)

	// QueueDepth counts jobs currently due for claiming.
	QueueDepth(ctx context.Context) (int64, error)
}

// JobFilter narrows a job listing. Zero values mean no filter.
type JobFilter struct {
	Status models.JobStatus
	Type   models.JobType
	Limit  int
}

// ScheduleStore defines the data access layer for schedule runs and their
// items.
type ScheduleStore interface {
	// CreateRun persists a new queued run.
	CreateRun(ctx context.Context, run *models.ScheduleRun) error

	// GetRun retrieves a run by ID within an org.
	GetRun(ctx context.Context, orgID, id uuid.UUID) (*models.ScheduleRun, error)

	// ListRuns returns recent runs for an org, newest first.
	ListRuns(ctx context.Context, orgID uuid.UUID, limit int) ([]models.ScheduleRun, error)

	// ListItems returns a run's items ordered by start time then
	// technician name, with technician and bay names joined in.
	ListItems(ctx context.Context, orgID, runID uuid.UUID) ([]models.ScheduleItem, error)

	// CountLockedTasks counts the org's locked todo tasks, recorded on
	// the run at creation for operator visibility.
	CountLockedTasks(ctx context.Context, orgID uuid.UUID) (int, error)

	// MarkRunRunning transitions a run to running within an org. Returns
	// ErrNotFound for a missing run, ErrConflict for a terminal one.
	MarkRunRunning(ctx context.Context, orgID, id uuid.UUID) error

	// MarkRunFailed finalizes a run that errored outside the solver,
	// recording the reason and the wall time spent. Terminal runs are
	// left untouched and reported as ErrConflict.
	MarkRunFailed(ctx context.Context, orgID, id uuid.UUID, reason string, wallTimeMS int64) error

	// MarkRunEmpty finalizes a run whose snapshot contained no tasks:
	// succeeded with a zero task count and no items.
	MarkRunEmpty(ctx context.Context, orgID, id uuid.UUID, wallTimeMS int64) error

	// SaveResult persists a solver outcome atomically: the run row is
	// finalized, previous items for the run are replaced, and on success
	// the scheduled tasks move todo -> scheduled. Only a queued or
	// running run accepts a result; a terminal run rolls the transaction
	// back with ErrConflict.
	SaveResult(ctx context.Context, orgID, runID uuid.UUID, res *scheduler.Result) error
}

// SnapshotStore loads the solver's input in one consistent read.
type SnapshotStore interface {
	// LoadSnapshot reads the org's todo tasks, technicians with skills,
	// active bays and referenced work orders inside a single repeatable
	// read transaction.
	LoadSnapshot(ctx context.Context, orgID, runID uuid.UUID, horizonStart, horizonEnd time.Time) (*scheduler.Snapshot, error)
}

// AuditStore appends to the audit log. Entries are never updated.
type AuditStore interface {
	AppendAudit(ctx context.Context, entry *models.AuditLog) error
}

// Notifier wakes idle workers when new work arrives, cutting the poll
// latency without replacing the poll loop.
type Notifier interface {
	// NotifyEnqueued signals that a job was enqueued.
	NotifyEnqueued(ctx context.Context, jobType models.JobType) error

	// Wake returns a channel that receives after an enqueue signal.
	// Best-effort: missed signals are covered by the poll interval.
	Wake(ctx context.Context) (<-chan struct{}, error)
}
