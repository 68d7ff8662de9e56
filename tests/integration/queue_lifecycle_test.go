package integration

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"shopfloor/pkg/models"
	"shopfloor/pkg/storage"
	"shopfloor/pkg/storage/postgres"
	"shopfloor/pkg/worker"
)

// QueueLifecycleSuite exercises the durable job queue against a real
// Postgres instance. Each test uses its own org so runs do not interfere.
type QueueLifecycleSuite struct {
	suite.Suite
	store *postgres.PostgresStore
}

func (s *QueueLifecycleSuite) SetupSuite() {
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

func (s *QueueLifecycleSuite) TearDownSuite() {
	if s.store != nil {
		s.store.Close()
	}
}

// claimOwn claims until it finds the given job, dead-lettering stray jobs
// left behind by earlier runs. Returns nil when the queue drains first.
func (s *QueueLifecycleSuite) claimOwn(ctx context.Context, workerID string, jobID uuid.UUID) *models.Job {
	for {
		job, err := s.store.ClaimNextJob(ctx, workerID)
		require.NoError(s.T(), err)
		if job == nil {
			return nil
		}
		if job.ID == jobID {
			return job
		}
		_ = s.store.DeadLetterJob(ctx, job.ID, "stale test job")
	}
}

func (s *QueueLifecycleSuite) TestEnqueueClaimSucceed() {
	ctx := context.Background()
	orgID := uuid.New()

	job := &models.Job{
		OrgID:       orgID,
		Type:        models.JobTypeAIEnrich,
		Payload:     models.Payload{"work_order_id": uuid.NewString()},
		MaxAttempts: 3,
	}
	require.NoError(s.T(), s.store.Enqueue(ctx, job))

	claimed := s.claimOwn(ctx, "it-worker-1", job.ID)
	require.NotNil(s.T(), claimed)
	assert.Equal(s.T(), models.JobStatusRunning, claimed.Status)
	assert.Equal(s.T(), 1, claimed.Attempts)
	require.NotNil(s.T(), claimed.LockedBy)
	assert.Equal(s.T(), "it-worker-1", *claimed.LockedBy)

	require.NoError(s.T(), s.store.MarkJobSucceeded(ctx, job.ID))

	final, err := s.store.GetJob(ctx, orgID, job.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.JobStatusSucceeded, final.Status)
	assert.Nil(s.T(), final.LockedBy)
	assert.Nil(s.T(), final.LockedAt)
}

func (s *QueueLifecycleSuite) TestConcurrentClaimIsExclusive() {
	ctx := context.Background()
	orgID := uuid.New()

	job := &models.Job{OrgID: orgID, Type: models.JobTypeAIEnrich, MaxAttempts: 3}
	require.NoError(s.T(), s.store.Enqueue(ctx, job))

	const claimers = 8
	var mu sync.Mutex
	var winners []string
	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			workerID := fmt.Sprintf("it-racer-%d", n)
			claimed, err := s.store.ClaimNextJob(ctx, workerID)
			if err != nil || claimed == nil {
				return
			}
			if claimed.ID == job.ID {
				mu.Lock()
				winners = append(winners, workerID)
				mu.Unlock()
			} else {
				_ = s.store.DeadLetterJob(ctx, claimed.ID, "stale test job")
			}
		}(i)
	}
	wg.Wait()

	assert.Len(s.T(), winners, 1, "exactly one claimer must win the job")
	_ = s.store.DeadLetterJob(ctx, job.ID, "test cleanup")
}

func (s *QueueLifecycleSuite) TestRetryChainDeadLetters() {
	ctx := context.Background()
	orgID := uuid.New()

	job := &models.Job{OrgID: orgID, Type: models.JobTypeAIEnrich, MaxAttempts: 3}
	require.NoError(s.T(), s.store.Enqueue(ctx, job))

	// Zero backoff keeps the job immediately claimable between attempts.
	for attempt, msg := range []string{"e1", "e2"} {
		claimed := s.claimOwn(ctx, "it-retry", job.ID)
		require.NotNil(s.T(), claimed)
		assert.Equal(s.T(), attempt+1, claimed.Attempts)

		decision := worker.Decide(claimed.Attempts, claimed.MaxAttempts)
		require.True(s.T(), decision.Requeue)
		require.NoError(s.T(), s.store.RequeueJob(ctx, job.ID, msg, 0))

		requeued, err := s.store.GetJob(ctx, orgID, job.ID)
		require.NoError(s.T(), err)
		assert.Equal(s.T(), models.JobStatusQueued, requeued.Status)
		require.NotNil(s.T(), requeued.Error)
		assert.Equal(s.T(), msg, *requeued.Error)
	}

	claimed := s.claimOwn(ctx, "it-retry", job.ID)
	require.NotNil(s.T(), claimed)
	assert.Equal(s.T(), 3, claimed.Attempts)

	decision := worker.Decide(claimed.Attempts, claimed.MaxAttempts)
	require.False(s.T(), decision.Requeue)
	require.NoError(s.T(), s.store.DeadLetterJob(ctx, job.ID, "e3"))

	final, err := s.store.GetJob(ctx, orgID, job.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.JobStatusFailed, final.Status)
	require.NotNil(s.T(), final.Error)
	assert.Equal(s.T(), "e3", *final.Error)
}

func (s *QueueLifecycleSuite) TestBackoffDelaysReclaim() {
	ctx := context.Background()
	orgID := uuid.New()

	job := &models.Job{OrgID: orgID, Type: models.JobTypeAIEnrich, MaxAttempts: 3}
	require.NoError(s.T(), s.store.Enqueue(ctx, job))

	claimed := s.claimOwn(ctx, "it-backoff", job.ID)
	require.NotNil(s.T(), claimed)

	require.NoError(s.T(), s.store.RequeueJob(ctx, job.ID, "transient", 2*time.Minute))

	requeued, err := s.store.GetJob(ctx, orgID, job.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.JobStatusQueued, requeued.Status)
	assert.True(s.T(), requeued.RunAfter.After(time.Now().Add(time.Minute)),
		"run_after must be pushed into the future")

	// Not yet due, so a claim must not return it.
	reclaimed := s.claimOwn(ctx, "it-backoff", job.ID)
	assert.Nil(s.T(), reclaimed)

	_ = s.store.DeadLetterJob(ctx, job.ID, "test cleanup")
}

func (s *QueueLifecycleSuite) TestTenantIsolation() {
	ctx := context.Background()
	orgA := uuid.New()
	orgB := uuid.New()

	job := &models.Job{OrgID: orgA, Type: models.JobTypeAIEnrich, MaxAttempts: 3}
	require.NoError(s.T(), s.store.Enqueue(ctx, job))

	_, err := s.store.GetJob(ctx, orgB, job.ID)
	assert.ErrorIs(s.T(), err, storage.ErrNotFound)

	jobsB, err := s.store.ListJobs(ctx, orgB, storage.JobFilter{})
	require.NoError(s.T(), err)
	for _, j := range jobsB {
		assert.NotEqual(s.T(), job.ID, j.ID)
	}

	jobsA, err := s.store.ListJobs(ctx, orgA, storage.JobFilter{})
	require.NoError(s.T(), err)
	require.Len(s.T(), jobsA, 1)
	assert.Equal(s.T(), job.ID, jobsA[0].ID)

	_ = s.store.DeadLetterJob(ctx, job.ID, "test cleanup")
}

func (s *QueueLifecycleSuite) TestUnknownTypeRejected() {
	ctx := context.Background()
	job := &models.Job{OrgID: uuid.New(), Type: "volcano_watch", MaxAttempts: 3}
	err := s.store.Enqueue(ctx, job)
	assert.ErrorIs(s.T(), err, storage.ErrUnknownJobType)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func TestQueueLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	suite.Run(t, new(QueueLifecycleSuite))
}
