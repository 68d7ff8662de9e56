package postgres

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopfloor/pkg/models"
)

func lockedTask() models.Task {
	techID, bayID := uuid.New(), uuid.New()
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)
	return models.Task{
		ID:            uuid.New(),
		OrgID:         uuid.New(),
		LockFlag:      true,
		LockedTechID:  &techID,
		LockedBayID:   &bayID,
		LockedStartAt: &start,
		LockedEndAt:   &end,
	}
}

func TestCheckLockFields_CompleteReservation(t *testing.T) {
	task := lockedTask()
	assert.NoError(t, checkLockFields(&task))
}

func TestCheckLockFields_UnlockedIgnoresNilFields(t *testing.T) {
	task := models.Task{ID: uuid.New()}
	assert.NoError(t, checkLockFields(&task))
}

func TestCheckLockFields_MissingFieldRejected(t *testing.T) {
	clear := []struct {
		name string
		fn   func(*models.Task)
	}{
		{"tech", func(task *models.Task) { task.LockedTechID = nil }},
		{"bay", func(task *models.Task) { task.LockedBayID = nil }},
		{"start", func(task *models.Task) { task.LockedStartAt = nil }},
		{"end", func(task *models.Task) { task.LockedEndAt = nil }},
	}
	for _, tc := range clear {
		t.Run(tc.name, func(t *testing.T) {
			task := lockedTask()
			tc.fn(&task)
			err := checkLockFields(&task)
			require.Error(t, err)
			assert.Contains(t, err.Error(), task.ID.String())
		})
	}
}
