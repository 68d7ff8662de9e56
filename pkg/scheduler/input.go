package scheduler

import (
	"time"

	"github.com/google/uuid"

	"shopfloor/pkg/models"
)

// Snapshot is a self-contained view of everything the solver needs for one
// run: tasks, technicians with skills, active bays, and the work-order
// projections referenced by the tasks. It is loaded in a single repeatable
// read so the solver never observes a torn state.
type Snapshot struct {
	OrgID         uuid.UUID
	ScheduleRunID uuid.UUID
	HorizonStart  time.Time
	HorizonEnd    time.Time
	Tasks         []models.Task
	Technicians   []models.Technician
	Bays          []models.Bay
	WorkOrders    map[uuid.UUID]models.WorkOrder
}

// HorizonMinutes returns the horizon length H in whole minutes.
func (s *Snapshot) HorizonMinutes() int {
	return minutesBetween(s.HorizonStart, s.HorizonEnd)
}

// LockedTasks returns the tasks pinned to a (tech, bay, start, end).
func (s *Snapshot) LockedTasks() []models.Task {
	var out []models.Task
	for _, t := range s.Tasks {
		if t.LockFlag {
			out = append(out, t)
		}
	}
	return out
}

// UnlockedTasks returns the tasks the solver is free to place.
func (s *Snapshot) UnlockedTasks() []models.Task {
	var out []models.Task
	for _, t := range s.Tasks {
		if !t.LockFlag {
			out = append(out, t)
		}
	}
	return out
}

// minutesBetween converts a timestamp to whole minutes from base.
// Negative when t precedes base.
func minutesBetween(base, t time.Time) int {
	return int(t.Sub(base) / time.Minute)
}

// minutesAfter converts minutes-from-base back to a timestamp.
func minutesAfter(base time.Time, minutes int) time.Time {
	return base.Add(time.Duration(minutes) * time.Minute)
}
