package integration

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"shopfloor/pkg/models"
	"shopfloor/pkg/storage/postgres"
	"shopfloor/pkg/worker"
)

// ScheduleRunSuite drives a full schedule run through the real store:
// seed shop-floor data, enqueue the run job, execute its handler and
// verify what was persisted.
type ScheduleRunSuite struct {
	suite.Suite
	store *postgres.PostgresStore

	// handleErr carries the last handler outcome into the assertions.
	handleErr error
}

func (s *ScheduleRunSuite) SetupSuite() {
	if os.Getenv("SKIP_INTEGRATION_TESTS") == "true" {
		s.T().Skip("Skipping integration tests (SKIP_INTEGRATION_TESTS=true)")
	}

	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		getEnv("TEST_DB_HOST", "localhost"),
		getEnv("TEST_DB_PORT", "5432"),
		getEnv("TEST_DB_USER", "shopfloor"),
		getEnv("TEST_DB_PASS", "password"),
		getEnv("TEST_DB_NAME", "shopfloor_test"),
	)

	store, err := postgres.NewPostgresStore(connStr)
	if err != nil {
		s.T().Skipf("Skipping integration tests: %v", err)
	}
	s.store = store
}

func (s *ScheduleRunSuite) TearDownSuite() {
	if s.store != nil {
		s.store.Close()
	}
}

type seededFloor struct {
	orgID  uuid.UUID
	taskID uuid.UUID
	techID uuid.UUID
	bayID  uuid.UUID
}

func (s *ScheduleRunSuite) seedFloor(skill string) seededFloor {
	db := s.store.DB()
	orgID := uuid.New()

	wo := &models.WorkOrder{OrgID: orgID, Priority: 3, PartsReady: true}
	require.NoError(s.T(), db.Create(wo).Error)

	task := &models.Task{
		OrgID:               orgID,
		WorkOrderID:         wo.ID,
		Type:                "brake-service",
		Status:              models.TaskStatusTodo,
		DurationMinutesLow:  60,
		DurationMinutesHigh: 60,
	}
	if skill != "" {
		task.RequiredSkill = &skill
		task.RequiredSkillIsHard = true
	}
	require.NoError(s.T(), db.Create(task).Error)

	tech := &models.Technician{OrgID: orgID, Name: "Avery", WIPLimit: 1}
	require.NoError(s.T(), db.Create(tech).Error)
	if skill != "" {
		require.NoError(s.T(), db.Create(&models.TechnicianSkill{
			TechnicianID: tech.ID, Skill: skill, OrgID: orgID,
		}).Error)
	}

	bay := &models.Bay{OrgID: orgID, Name: "Bay 1", BayType: "general", Capacity: 1, IsActive: true}
	require.NoError(s.T(), db.Create(bay).Error)

	return seededFloor{orgID: orgID, taskID: task.ID, techID: tech.ID, bayID: bay.ID}
}

func (s *ScheduleRunSuite) runSchedule(orgID uuid.UUID) *models.ScheduleRun {
	ctx := context.Background()
	horizonStart := time.Now().Truncate(time.Minute)
	horizonEnd := horizonStart.Add(8 * time.Hour)

	run := &models.ScheduleRun{
		OrgID:        orgID,
		HorizonStart: horizonStart,
		HorizonEnd:   horizonEnd,
		Trigger:      "manual",
	}
	require.NoError(s.T(), s.store.CreateRun(ctx, run))

	job := &models.Job{
		OrgID: orgID,
		Type:  models.JobTypeScheduleRun,
		Payload: models.Payload{
			"schedule_run_id": run.ID.String(),
			"org_id":          orgID.String(),
			"horizon_start":   horizonStart.Format(time.RFC3339),
			"horizon_end":     horizonEnd.Format(time.RFC3339),
		},
		MaxAttempts: 1,
	}

	handler := worker.NewScheduleRunHandler(s.store, s.store, s.store, nil)
	s.handleErr = handler.Handle(ctx, job)

	result, err := s.store.GetRun(ctx, orgID, run.ID)
	require.NoError(s.T(), err)
	return result
}

func (s *ScheduleRunSuite) TestFeasibleRunPersistsItems() {
	floor := s.seedFloor("")
	run := s.runSchedule(floor.orgID)
	require.NoError(s.T(), s.handleErr)

	assert.Equal(s.T(), models.RunStatusSucceeded, run.Status)
	require.NotNil(s.T(), run.SolverStatus)
	assert.Equal(s.T(), "SUCCEEDED", *run.SolverStatus)
	require.NotNil(s.T(), run.TaskCount)
	assert.Equal(s.T(), 1, *run.TaskCount)
	require.NotNil(s.T(), run.ObjectiveValue)
	require.NotNil(s.T(), run.Breakdown)
	assert.Equal(s.T(), *run.ObjectiveValue, run.Breakdown.Total)

	ctx := context.Background()
	items, err := s.store.ListItems(ctx, floor.orgID, run.ID)
	require.NoError(s.T(), err)
	require.Len(s.T(), items, 1)
	assert.Equal(s.T(), floor.taskID, items[0].TaskID)
	assert.Equal(s.T(), floor.techID, items[0].TechnicianID)
	assert.Equal(s.T(), floor.bayID, items[0].BayID)
	assert.Equal(s.T(), "Avery", items[0].TechnicianName)

	var task models.Task
	require.NoError(s.T(), s.store.DB().First(&task, "id = ?", floor.taskID).Error)
	assert.Equal(s.T(), models.TaskStatusScheduled, task.Status)
}

func (s *ScheduleRunSuite) TestInfeasibleRunFailsWithoutFailingJob() {
	floor := s.seedFloor("")

	// Strip the only technician of eligibility by demanding a skill
	// nobody holds.
	hardSkill := "hydraulics"
	require.NoError(s.T(), s.store.DB().Model(&models.Task{}).
		Where("id = ?", floor.taskID).
		Updates(map[string]interface{}{
			"required_skill":         hardSkill,
			"required_skill_is_hard": true,
		}).Error)

	run := s.runSchedule(floor.orgID)
	assert.NoError(s.T(), s.handleErr, "infeasibility is a result, not a job failure")

	assert.Equal(s.T(), models.RunStatusFailed, run.Status)
	require.NotNil(s.T(), run.SolverStatus)
	assert.Equal(s.T(), models.SolverStatusInfeasible, *run.SolverStatus)
	require.NotNil(s.T(), run.InfeasibleReason)
	assert.Contains(s.T(), *run.InfeasibleReason, hardSkill)

	items, err := s.store.ListItems(context.Background(), floor.orgID, run.ID)
	require.NoError(s.T(), err)
	assert.Empty(s.T(), items)
}

func (s *ScheduleRunSuite) TestEmptyHorizonSucceedsWithZeroTasks() {
	orgID := uuid.New()

	db := s.store.DB()
	require.NoError(s.T(), db.Create(&models.Technician{OrgID: orgID, Name: "Sam"}).Error)
	require.NoError(s.T(), db.Create(&models.Bay{OrgID: orgID, Name: "Bay 9", BayType: "general", IsActive: true}).Error)

	run := s.runSchedule(orgID)
	require.NoError(s.T(), s.handleErr)

	assert.Equal(s.T(), models.RunStatusSucceeded, run.Status)
	require.NotNil(s.T(), run.TaskCount)
	assert.Equal(s.T(), 0, *run.TaskCount)
}

func TestScheduleRunEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	suite.Run(t, new(ScheduleRunSuite))
}
