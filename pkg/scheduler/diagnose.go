package scheduler

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const genericConflictReason = "Unable to find feasible schedule (constraint conflict)"

func skillGap(taskID uuid.UUID, skill string) string {
	return fmt.Sprintf("Task %s requires skill '%s' but no technician has it", taskID, skill)
}

func bayGap(taskID uuid.UUID, bayType string) string {
	return fmt.Sprintf("Task %s requires bay type '%s' but no bay has it", taskID, bayType)
}

// overCapacity reports whether the unlocked workload cannot fit the fleet
// even with perfect packing: the sum of durations exceeds |Techs| x H.
func (m *Model) overCapacity() (int, int, bool) {
	total := 0
	for i := range m.tasks {
		total += m.tasks[i].duration
	}
	capacity := len(m.techs) * m.horizon
	return total, capacity, total > capacity
}

// structurallyInfeasible reports whether the build-time self-check already
// rules out any assignment.
func (m *Model) structurallyInfeasible() bool {
	if len(m.gaps) > 0 {
		return true
	}
	_, _, over := m.overCapacity()
	return over
}

// DiagnoseInfeasibility assembles a human-readable reason from the model's
// feasibility self-check: per-task skill gaps, per-task bay-type gaps, and
// the aggregate capacity check. Falls back to a generic conflict message
// when none of those apply.
func (m *Model) DiagnoseInfeasibility() string {
	reasons := append([]string(nil), m.gaps...)
	if total, capacity, over := m.overCapacity(); over {
		reasons = append(reasons, fmt.Sprintf(
			"Total task duration (%d min) exceeds total tech capacity (%d min)", total, capacity))
	}
	if len(reasons) == 0 {
		return genericConflictReason
	}
	return strings.Join(reasons, "; ")
}
