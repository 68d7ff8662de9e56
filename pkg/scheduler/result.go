package scheduler

import (
	"time"

	"github.com/google/uuid"

	"shopfloor/pkg/models"
)

// Status is the outcome tag of a solver invocation.
type Status string

const (
	// StatusSucceeded means every unlocked task received a feasible
	// assignment.
	StatusSucceeded Status = "SUCCEEDED"
	// StatusInfeasible means the hard constraints admit no assignment.
	// This is a result, not an error.
	StatusInfeasible Status = "INFEASIBLE"
	// StatusFailed means the solver stopped without proving either:
	// typically the wall budget expired before any feasible assignment
	// was found.
	StatusFailed Status = "FAILED"
)

// Item is one placed task: who, where, and when.
type Item struct {
	TaskID       uuid.UUID
	TechnicianID uuid.UUID
	BayID        uuid.UUID
	StartAt      time.Time
	EndAt        time.Time
	IsLocked     bool
	Why          models.Why
}

// Result is the tagged outcome of a solve. The persister switches on
// Status: Succeeded carries Items, Objective and Breakdown; Infeasible and
// Failed carry Reason. WallTime is always set.
type Result struct {
	Status    Status
	Items     []Item
	WallTime  time.Duration
	Objective int64
	Breakdown models.Breakdown
	Reason    string
}

// WallTimeMS returns the wall time in whole milliseconds.
func (r *Result) WallTimeMS() int64 {
	return r.WallTime.Milliseconds()
}

func succeeded(items []Item, breakdown models.Breakdown, wall time.Duration) Result {
	return Result{
		Status:    StatusSucceeded,
		Items:     items,
		WallTime:  wall,
		Objective: breakdown.Total,
		Breakdown: breakdown,
	}
}

func infeasible(reason string, wall time.Duration) Result {
	return Result{Status: StatusInfeasible, Reason: reason, WallTime: wall}
}

func failed(reason string, wall time.Duration) Result {
	return Result{Status: StatusFailed, Reason: reason, WallTime: wall}
}
