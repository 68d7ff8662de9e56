package worker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopfloor/pkg/models"
	"shopfloor/pkg/scheduler"
	"shopfloor/pkg/storage"
)

type fakeScheduleStore struct {
	running     []uuid.UUID
	failed      map[uuid.UUID]string
	failedWall  map[uuid.UUID]int64
	empty       []uuid.UUID
	savedStatus map[uuid.UUID]scheduler.Status
	savedItems  map[uuid.UUID]int
	orgs        map[uuid.UUID]uuid.UUID // run -> org seen on writes
	terminal    map[uuid.UUID]bool
}

func newFakeScheduleStore() *fakeScheduleStore {
	return &fakeScheduleStore{
		failed:      make(map[uuid.UUID]string),
		failedWall:  make(map[uuid.UUID]int64),
		savedStatus: make(map[uuid.UUID]scheduler.Status),
		savedItems:  make(map[uuid.UUID]int),
		orgs:        make(map[uuid.UUID]uuid.UUID),
		terminal:    make(map[uuid.UUID]bool),
	}
}

func (f *fakeScheduleStore) CreateRun(ctx context.Context, run *models.ScheduleRun) error {
	return nil
}

func (f *fakeScheduleStore) GetRun(ctx context.Context, orgID, id uuid.UUID) (*models.ScheduleRun, error) {
	return &models.ScheduleRun{ID: id, OrgID: orgID}, nil
}

func (f *fakeScheduleStore) ListRuns(ctx context.Context, orgID uuid.UUID, limit int) ([]models.ScheduleRun, error) {
	return nil, nil
}

func (f *fakeScheduleStore) ListItems(ctx context.Context, orgID, runID uuid.UUID) ([]models.ScheduleItem, error) {
	return nil, nil
}

func (f *fakeScheduleStore) CountLockedTasks(ctx context.Context, orgID uuid.UUID) (int, error) {
	return 0, nil
}

func (f *fakeScheduleStore) MarkRunRunning(ctx context.Context, orgID, id uuid.UUID) error {
	if f.terminal[id] {
		return storage.ErrConflict
	}
	f.running = append(f.running, id)
	f.orgs[id] = orgID
	return nil
}

func (f *fakeScheduleStore) MarkRunFailed(ctx context.Context, orgID, id uuid.UUID, reason string, wallTimeMS int64) error {
	if f.terminal[id] {
		return storage.ErrConflict
	}
	f.failed[id] = reason
	f.failedWall[id] = wallTimeMS
	f.orgs[id] = orgID
	return nil
}

func (f *fakeScheduleStore) MarkRunEmpty(ctx context.Context, orgID, id uuid.UUID, wallTimeMS int64) error {
	if f.terminal[id] {
		return storage.ErrConflict
	}
	f.empty = append(f.empty, id)
	f.orgs[id] = orgID
	return nil
}

func (f *fakeScheduleStore) SaveResult(ctx context.Context, orgID, runID uuid.UUID, res *scheduler.Result) error {
	if f.terminal[runID] {
		return storage.ErrConflict
	}
	f.savedStatus[runID] = res.Status
	f.savedItems[runID] = len(res.Items)
	f.orgs[runID] = orgID
	return nil
}

type fakeSnapshotStore struct {
	snap *scheduler.Snapshot
}

func (f *fakeSnapshotStore) LoadSnapshot(ctx context.Context, orgID, runID uuid.UUID, horizonStart, horizonEnd time.Time) (*scheduler.Snapshot, error) {
	f.snap.OrgID = orgID
	f.snap.ScheduleRunID = runID
	f.snap.HorizonStart = horizonStart
	f.snap.HorizonEnd = horizonEnd
	return f.snap, nil
}

type fakeAuditStore struct {
	entries []*models.AuditLog
}

func (f *fakeAuditStore) AppendAudit(ctx context.Context, entry *models.AuditLog) error {
	f.entries = append(f.entries, entry)
	return nil
}

func runPayload(runID, orgID uuid.UUID) models.Payload {
	start := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	return models.Payload{
		"schedule_run_id": runID.String(),
		"org_id":          orgID.String(),
		"horizon_start":   start.Format(time.RFC3339),
		"horizon_end":     start.Add(8 * time.Hour).Format(time.RFC3339),
	}
}

func scheduleJob(runID, orgID uuid.UUID) *models.Job {
	return &models.Job{
		ID:          uuid.New(),
		OrgID:       orgID,
		Type:        models.JobTypeScheduleRun,
		Payload:     runPayload(runID, orgID),
		MaxAttempts: 1,
		Attempts:    1,
	}
}

func TestScheduleRunHandler_BadPayload(t *testing.T) {
	h := NewScheduleRunHandler(newFakeScheduleStore(), &fakeSnapshotStore{}, nil, nil)

	err := h.Handle(context.Background(), &models.Job{Payload: models.Payload{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schedule_run_id")
}

func TestScheduleRunHandler_EmptyHorizonSucceeds(t *testing.T) {
	runID, orgID := uuid.New(), uuid.New()
	schedules := newFakeScheduleStore()
	snapshots := &fakeSnapshotStore{snap: &scheduler.Snapshot{
		WorkOrders: map[uuid.UUID]models.WorkOrder{},
	}}
	h := NewScheduleRunHandler(schedules, snapshots, nil, nil)

	err := h.Handle(context.Background(), scheduleJob(runID, orgID))
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{runID}, schedules.running)
	assert.Equal(t, []uuid.UUID{runID}, schedules.empty)
	assert.Empty(t, schedules.savedStatus)
}

func TestScheduleRunHandler_NoTechniciansFails(t *testing.T) {
	runID, orgID := uuid.New(), uuid.New()
	schedules := newFakeScheduleStore()
	wo := models.WorkOrder{ID: uuid.New(), OrgID: orgID, Priority: 3, PartsReady: true}
	snapshots := &fakeSnapshotStore{snap: &scheduler.Snapshot{
		Tasks: []models.Task{{
			ID: uuid.New(), OrgID: orgID, WorkOrderID: wo.ID,
			DurationMinutesLow: 60, DurationMinutesHigh: 60,
		}},
		Bays:       []models.Bay{{ID: uuid.New(), OrgID: orgID, BayType: "general", IsActive: true}},
		WorkOrders: map[uuid.UUID]models.WorkOrder{wo.ID: wo},
	}}
	h := NewScheduleRunHandler(schedules, snapshots, nil, nil)

	err := h.Handle(context.Background(), scheduleJob(runID, orgID))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No technicians available for scheduling")
	assert.Equal(t, "No technicians available for scheduling", schedules.failed[runID])
}

func TestScheduleRunHandler_SolveAndPersist(t *testing.T) {
	runID, orgID := uuid.New(), uuid.New()
	schedules := newFakeScheduleStore()
	audits := &fakeAuditStore{}
	wo := models.WorkOrder{ID: uuid.New(), OrgID: orgID, Priority: 3, PartsReady: true}
	snapshots := &fakeSnapshotStore{snap: &scheduler.Snapshot{
		Tasks: []models.Task{{
			ID: uuid.New(), OrgID: orgID, WorkOrderID: wo.ID,
			DurationMinutesLow: 60, DurationMinutesHigh: 60,
		}},
		Technicians: []models.Technician{{ID: uuid.New(), OrgID: orgID, Name: "Ana"}},
		Bays:        []models.Bay{{ID: uuid.New(), OrgID: orgID, BayType: "general", IsActive: true}},
		WorkOrders:  map[uuid.UUID]models.WorkOrder{wo.ID: wo},
	}}
	h := NewScheduleRunHandler(schedules, snapshots, audits, nil)

	err := h.Handle(context.Background(), scheduleJob(runID, orgID))
	require.NoError(t, err)

	assert.Equal(t, scheduler.StatusSucceeded, schedules.savedStatus[runID])
	assert.Equal(t, 1, schedules.savedItems[runID])
	require.Len(t, audits.entries, 1)
	assert.Equal(t, "schedule_run", audits.entries[0].EntityType)
	assert.Equal(t, runID, audits.entries[0].EntityID)
}

func TestScheduleRunHandler_InfeasibleJobSucceeds(t *testing.T) {
	runID, orgID := uuid.New(), uuid.New()
	schedules := newFakeScheduleStore()
	wo := models.WorkOrder{ID: uuid.New(), OrgID: orgID, Priority: 3, PartsReady: true}
	skill := "engine"
	snapshots := &fakeSnapshotStore{snap: &scheduler.Snapshot{
		Tasks: []models.Task{{
			ID: uuid.New(), OrgID: orgID, WorkOrderID: wo.ID,
			RequiredSkill: &skill, RequiredSkillIsHard: true,
			DurationMinutesLow: 60, DurationMinutesHigh: 60,
		}},
		Technicians: []models.Technician{{ID: uuid.New(), OrgID: orgID, Name: "Ana"}},
		Bays:        []models.Bay{{ID: uuid.New(), OrgID: orgID, BayType: "general", IsActive: true}},
		WorkOrders:  map[uuid.UUID]models.WorkOrder{wo.ID: wo},
	}}
	h := NewScheduleRunHandler(schedules, snapshots, nil, nil)

	// Infeasibility is a definitive answer: the run fails, the job does
	// not.
	err := h.Handle(context.Background(), scheduleJob(runID, orgID))
	require.NoError(t, err)

	assert.Equal(t, scheduler.StatusInfeasible, schedules.savedStatus[runID])
	assert.Equal(t, 0, schedules.savedItems[runID])
}

func TestScheduleRunHandler_PayloadOrgMismatchRejected(t *testing.T) {
	runID, orgID := uuid.New(), uuid.New()
	schedules := newFakeScheduleStore()
	h := NewScheduleRunHandler(schedules, &fakeSnapshotStore{}, nil, nil)

	// The job belongs to a different org than the payload names.
	job := scheduleJob(runID, orgID)
	job.OrgID = uuid.New()

	err := h.Handle(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match job org")

	// The run tables were never touched.
	assert.Empty(t, schedules.running)
	assert.Empty(t, schedules.failed)
	assert.Empty(t, schedules.savedStatus)
}

func TestScheduleRunHandler_TerminalRunSkipsResolve(t *testing.T) {
	runID, orgID := uuid.New(), uuid.New()
	schedules := newFakeScheduleStore()
	schedules.terminal[runID] = true
	h := NewScheduleRunHandler(schedules, &fakeSnapshotStore{}, nil, nil)

	// A retried job whose run already finished must not re-solve or flip
	// the outcome.
	err := h.Handle(context.Background(), scheduleJob(runID, orgID))
	require.NoError(t, err)

	assert.Empty(t, schedules.running)
	assert.Empty(t, schedules.savedStatus)
	assert.Empty(t, schedules.failed)
}

func TestScheduleRunHandler_SolverDeadlineRecordsWallTime(t *testing.T) {
	runID, orgID := uuid.New(), uuid.New()
	schedules := newFakeScheduleStore()
	wo := models.WorkOrder{ID: uuid.New(), OrgID: orgID, Priority: 3, PartsReady: true}
	snap := &scheduler.Snapshot{
		Technicians: []models.Technician{{ID: uuid.New(), OrgID: orgID, Name: "Ana"}},
		Bays:        []models.Bay{{ID: uuid.New(), OrgID: orgID, BayType: "general", IsActive: true}},
		WorkOrders:  map[uuid.UUID]models.WorkOrder{wo.ID: wo},
	}
	// Enough tasks that the search cannot finish inside a nanosecond
	// budget.
	for i := 0; i < 70; i++ {
		snap.Tasks = append(snap.Tasks, models.Task{
			ID: uuid.New(), OrgID: orgID, WorkOrderID: wo.ID,
			DurationMinutesLow: 5, DurationMinutesHigh: 5,
		})
	}
	h := NewScheduleRunHandler(schedules, &fakeSnapshotStore{snap: snap}, nil, nil)

	job := scheduleJob(runID, orgID)
	job.Payload["time_limit_seconds"] = 1e-9

	err := h.Handle(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEADLINE_EXCEEDED")

	// The failed run carries the solver wall time alongside the reason.
	assert.Contains(t, schedules.failed[runID], "DEADLINE_EXCEEDED")
	_, recorded := schedules.failedWall[runID]
	assert.True(t, recorded)
	assert.Equal(t, orgID, schedules.orgs[runID])
}
