package scheduler

import (
	"sort"

	"github.com/google/uuid"

	"shopfloor/pkg/models"
)

// Penalty weights. All integer; no floating point enters the objective.
const (
	softSkillPenalty     = 50
	partsNotReadyPenalty = 100
	duePenaltyPerLevel   = 100
	startWeightDivisor   = 100
	maxPriority          = 5
)

// span is a half-open busy interval [start, end) in horizon minutes.
type span struct {
	start int
	end   int
}

// taskVar is the decision view of one unlocked task: its discretized
// duration, time window, and the technician/bay index sets admitted by the
// hard constraints. A nil candidate slice means "unrestricted".
type taskVar struct {
	task     models.Task
	wo       *models.WorkOrder
	duration int
	earliest int
	latest   int // latest allowed end, <= horizon

	techCands []int
	bayCands  []int

	// softSkillTech marks which technician indices hold the soft-required
	// skill. nil when the task carries no soft skill requirement. If no
	// technician holds the skill the map is all-false and the penalty is
	// always charged; the assignment itself stays unconstrained.
	softSkillTech map[int]bool
}

// Model is the constraint model for one snapshot: unlocked task variables,
// fixed reservations from locked tasks, and the structural feasibility
// gaps found while building.
type Model struct {
	snap    *Snapshot
	horizon int

	techs []models.Technician
	bays  []models.Bay

	tasks []taskVar

	lockedByTech map[int][]span
	lockedByBay  map[int][]span

	// gaps collects per-task structural infeasibilities (hard skill held
	// by nobody, bay type with no bay) found during the build.
	gaps []string
}

// BuildModel transforms a snapshot into a constraint model. Structural
// infeasibility is diagnosed, not raised: callers inspect the model's
// feasibility self-check through the solver.
func BuildModel(snap *Snapshot) *Model {
	m := &Model{
		snap:         snap,
		horizon:      snap.HorizonMinutes(),
		techs:        snap.Technicians,
		bays:         snap.Bays,
		lockedByTech: make(map[int][]span),
		lockedByBay:  make(map[int][]span),
	}

	techIndex := make(map[uuid.UUID]int, len(m.techs))
	for i, t := range m.techs {
		techIndex[t.ID] = i
	}
	bayIndex := make(map[uuid.UUID]int, len(m.bays))
	for i, b := range m.bays {
		bayIndex[b.ID] = i
	}

	for _, t := range snap.LockedTasks() {
		// Locked tasks are not solver-assigned; they reserve their
		// pinned resources, possibly outside the horizon.
		s := minutesBetween(snap.HorizonStart, *t.LockedStartAt)
		e := minutesBetween(snap.HorizonStart, *t.LockedEndAt)
		if t.LockedTechID != nil {
			if ti, ok := techIndex[*t.LockedTechID]; ok {
				m.lockedByTech[ti] = append(m.lockedByTech[ti], span{s, e})
			}
		}
		if t.LockedBayID != nil {
			if bi, ok := bayIndex[*t.LockedBayID]; ok {
				m.lockedByBay[bi] = append(m.lockedByBay[bi], span{s, e})
			}
		}
	}
	for ti := range m.lockedByTech {
		sortSpans(m.lockedByTech[ti])
	}
	for bi := range m.lockedByBay {
		sortSpans(m.lockedByBay[bi])
	}

	for _, t := range snap.UnlockedTasks() {
		tv := taskVar{
			task:     t,
			duration: t.DurationMinutes(),
			earliest: 0,
			latest:   m.horizon,
		}

		if wo, ok := snap.WorkOrders[t.WorkOrderID]; ok {
			woCopy := wo
			tv.wo = &woCopy
		}

		if t.EarliestStart != nil {
			if em := minutesBetween(snap.HorizonStart, *t.EarliestStart); em > 0 {
				tv.earliest = em
			}
		}
		if t.LatestFinish != nil {
			if lm := minutesBetween(snap.HorizonStart, *t.LatestFinish); lm < m.horizon {
				tv.latest = lm
			}
		}

		if t.RequiredSkill != nil {
			var holders []int
			for i := range m.techs {
				if m.techs[i].HasSkill(*t.RequiredSkill) {
					holders = append(holders, i)
				}
			}
			if t.RequiredSkillIsHard {
				tv.techCands = holders
				if len(holders) == 0 {
					m.gaps = append(m.gaps, skillGap(t.ID, *t.RequiredSkill))
				}
			} else {
				tv.softSkillTech = make(map[int]bool, len(holders))
				for _, i := range holders {
					tv.softSkillTech[i] = true
				}
			}
		}

		if t.RequiredBayType != nil {
			var matches []int
			for i := range m.bays {
				if m.bays[i].BayType == *t.RequiredBayType {
					matches = append(matches, i)
				}
			}
			tv.bayCands = matches
			if len(matches) == 0 {
				m.gaps = append(m.gaps, bayGap(t.ID, *t.RequiredBayType))
			}
		}

		m.tasks = append(m.tasks, tv)
	}

	return m
}

// techChoices returns the technician indices a task may be assigned to.
func (m *Model) techChoices(tv *taskVar) []int {
	if tv.task.RequiredSkill != nil && tv.task.RequiredSkillIsHard {
		return tv.techCands
	}
	all := make([]int, len(m.techs))
	for i := range all {
		all[i] = i
	}
	return all
}

// bayChoices returns the bay indices a task may be assigned to.
func (m *Model) bayChoices(tv *taskVar) []int {
	if tv.task.RequiredBayType != nil {
		return tv.bayCands
	}
	all := make([]int, len(m.bays))
	for i := range all {
		all[i] = i
	}
	return all
}

// penalty computes the full integer penalty for placing tv on the given
// technician at start minute s. Parts-not-ready is a flat gate signal and
// does not depend on placement.
func (tv *taskVar) penalty(techIdx, s int, base *Snapshot) int64 {
	var total int64

	if tv.softSkillTech != nil && !tv.softSkillTech[techIdx] {
		total += softSkillPenalty
	}
	if tv.wo != nil {
		if !tv.wo.PartsReady {
			total += partsNotReadyPenalty
		}
		weight := maxPriority + 1 - tv.wo.Priority
		total += int64(weight * s / startWeightDivisor)
		if tv.wo.DueDate != nil {
			due := minutesBetween(base.HorizonStart, *tv.wo.DueDate)
			if s+tv.duration > due {
				total += int64(duePenaltyPerLevel * tv.wo.Priority)
			}
		}
	}
	return total
}

// breakdownFor decomposes the penalty of one placement by category.
func (tv *taskVar) breakdownFor(techIdx, s int, base *Snapshot) models.Breakdown {
	var b models.Breakdown
	if tv.softSkillTech != nil && !tv.softSkillTech[techIdx] {
		b.SkillMismatch = softSkillPenalty
	}
	if tv.wo != nil {
		if !tv.wo.PartsReady {
			b.PartsNotReady = partsNotReadyPenalty
		}
		weight := maxPriority + 1 - tv.wo.Priority
		b.Priority = int64(weight * s / startWeightDivisor)
		if tv.wo.DueDate != nil {
			due := minutesBetween(base.HorizonStart, *tv.wo.DueDate)
			if s+tv.duration > due {
				b.DueDate = int64(duePenaltyPerLevel * tv.wo.Priority)
			}
		}
	}
	b.Total = b.DueDate + b.Priority + b.SkillMismatch + b.PartsNotReady
	return b
}

func sortSpans(s []span) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].start != s[j].start {
			return s[i].start < s[j].start
		}
		return s[i].end < s[j].end
	})
}
