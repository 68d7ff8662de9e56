package scheduler

import (
	"context"
	"sort"
	"time"

	"shopfloor/pkg/models"
)

// DefaultTimeLimit bounds a solve when the payload does not override it.
const DefaultTimeLimit = 30 * time.Second

const deadlineStatusName = "DEADLINE_EXCEEDED"

// Solve runs the constraint search over the model under a wall-clock
// budget. It returns a tagged Result and never an error: infeasibility and
// budget exhaustion are outcomes, not faults.
//
// The search enumerates active schedules: every task starts either at its
// release or right after a busy span on one of its resources. Any feasible
// schedule left-shifts into an active one, so exhausting the tree without
// a solution proves the hard constraints cannot be met. A search cut short
// by the budget reports FAILED, never INFEASIBLE.
func Solve(ctx context.Context, m *Model, timeLimit time.Duration) Result {
	start := time.Now()
	if timeLimit <= 0 {
		timeLimit = DefaultTimeLimit
	}

	if m.structurallyInfeasible() {
		return infeasible(m.DiagnoseInfeasibility(), time.Since(start))
	}

	if len(m.tasks) == 0 {
		// Nothing to place; locked reservations pass through verbatim.
		return succeeded(m.lockedItems(), models.Breakdown{}, time.Since(start))
	}

	s := &search{
		m:        m,
		deadline: start.Add(timeLimit),
		ctx:      ctx,
		busyTech: make([][]span, len(m.techs)),
		busyBay:  make([][]span, len(m.bays)),
		assigned: make([]placement, len(m.tasks)),
		done:     make([]bool, len(m.tasks)),
		rank:     make([]int, len(m.tasks)),
	}
	for ti, spans := range m.lockedByTech {
		s.busyTech[ti] = append(s.busyTech[ti], spans...)
	}
	for bi, spans := range m.lockedByBay {
		s.busyBay[bi] = append(s.busyBay[bi], spans...)
	}
	for pos, taskIdx := range m.placementOrder() {
		s.rank[taskIdx] = pos
	}

	s.dfs(0, 0)

	wall := time.Since(start)
	switch {
	case s.haveBest:
		items, breakdown := m.extract(s.best)
		return succeeded(items, breakdown, wall)
	case s.expired:
		return failed("Solver status: "+deadlineStatusName, wall)
	default:
		return infeasible(m.DiagnoseInfeasibility(), wall)
	}
}

// placement fixes one unlocked task to (tech, bay, start).
type placement struct {
	techIdx int
	bayIdx  int
	start   int
}

type search struct {
	m        *Model
	ctx      context.Context
	deadline time.Time
	expired  bool

	rank     []int // static priority rank per task, for tie-breaks
	done     []bool
	busyTech [][]span
	busyBay  [][]span
	assigned []placement

	best     []placement
	bestCost int64
	haveBest bool

	nodes int
}

// candidate is one feasible placement option for one still-unplaced task,
// scored by its incremental penalty.
type candidate struct {
	placement
	taskIdx int
	cost    int64
}

func (s *search) dfs(placed int, cost int64) {
	s.nodes++
	if s.nodes%64 == 0 && (time.Now().After(s.deadline) || s.ctx.Err() != nil) {
		s.expired = true
	}
	if s.expired {
		return
	}
	if s.haveBest && cost >= s.bestCost {
		return
	}
	if placed == len(s.m.tasks) {
		s.best = append(s.best[:0], s.assigned...)
		s.bestCost = cost
		s.haveBest = true
		return
	}

	cands, ok := s.frontier()
	if !ok {
		return
	}
	for _, c := range cands {
		tv := &s.m.tasks[c.taskIdx]
		occupied := span{c.start, c.start + tv.duration}
		s.busyTech[c.techIdx] = insertSpan(s.busyTech[c.techIdx], occupied)
		s.busyBay[c.bayIdx] = insertSpan(s.busyBay[c.bayIdx], occupied)
		s.assigned[c.taskIdx] = c.placement
		s.done[c.taskIdx] = true

		s.dfs(placed+1, cost+c.cost)

		s.busyTech[c.techIdx] = removeSpan(s.busyTech[c.techIdx], occupied)
		s.busyBay[c.bayIdx] = removeSpan(s.busyBay[c.bayIdx], occupied)
		s.done[c.taskIdx] = false
		if s.expired {
			return
		}
	}
}

// frontier enumerates the next placements worth branching on: for every
// unplaced task and admissible (tech, bay), the earliest start inside each
// free gap. Candidates starting at or beyond the minimal completion time
// across the frontier are dropped; some other task can always run first,
// and the pruned branch reappears under that ordering. Returns false when
// any unplaced task has no placement at all, which dead-ends the branch.
func (s *search) frontier() ([]candidate, bool) {
	var out []candidate
	minCompletion := -1
	for taskIdx := range s.m.tasks {
		if s.done[taskIdx] {
			continue
		}
		tv := &s.m.tasks[taskIdx]
		found := false
		for _, ti := range s.m.techChoices(tv) {
			for _, bi := range s.m.bayChoices(tv) {
				for _, start := range feasibleStarts(s.busyTech[ti], s.busyBay[bi], tv.earliest, tv.duration, tv.latest) {
					found = true
					out = append(out, candidate{
						placement: placement{techIdx: ti, bayIdx: bi, start: start},
						taskIdx:   taskIdx,
						cost:      tv.penalty(ti, start, s.m.snap),
					})
					if end := start + tv.duration; minCompletion < 0 || end < minCompletion {
						minCompletion = end
					}
				}
			}
		}
		if !found {
			return nil, false
		}
	}

	kept := out[:0]
	for _, c := range out {
		if c.start < minCompletion {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		// Zero-duration tasks make every start equal its completion; fall
		// back to the earliest starts so the branch can still advance.
		minStart := out[0].start
		for _, c := range out[1:] {
			if c.start < minStart {
				minStart = c.start
			}
		}
		for _, c := range out {
			if c.start == minStart {
				kept = append(kept, c)
			}
		}
	}

	sort.Slice(kept, func(i, j int) bool {
		if kept[i].cost != kept[j].cost {
			return kept[i].cost < kept[j].cost
		}
		if kept[i].start != kept[j].start {
			return kept[i].start < kept[j].start
		}
		if s.rank[kept[i].taskIdx] != s.rank[kept[j].taskIdx] {
			return s.rank[kept[i].taskIdx] < s.rank[kept[j].taskIdx]
		}
		if kept[i].techIdx != kept[j].techIdx {
			return kept[i].techIdx < kept[j].techIdx
		}
		return kept[i].bayIdx < kept[j].bayIdx
	})
	return kept, true
}

// placementOrder ranks task indices so the most constrained, highest
// priority work breaks ties first: priority descending, then tighter
// windows, then snapshot order for stability.
func (m *Model) placementOrder() []int {
	order := make([]int, len(m.tasks))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ta, tb := &m.tasks[order[a]], &m.tasks[order[b]]
		pa, pb := taskPriority(ta), taskPriority(tb)
		if pa != pb {
			return pa > pb
		}
		sa, sb := ta.latest-ta.earliest, tb.latest-tb.earliest
		if sa != sb {
			return sa < sb
		}
		return ta.duration > tb.duration
	})
	return order
}

func taskPriority(tv *taskVar) int {
	if tv.wo == nil {
		return 3
	}
	return tv.wo.Priority
}

// extract converts a complete assignment into schedule items plus the
// penalty breakdown. Locked tasks pass through with their pinned fields.
func (m *Model) extract(assigned []placement) ([]Item, models.Breakdown) {
	var total models.Breakdown
	items := make([]Item, 0, len(assigned)+len(m.lockedByTech))

	for i := range m.tasks {
		tv := &m.tasks[i]
		p := assigned[i]
		b := tv.breakdownFor(p.techIdx, p.start, m.snap)
		total.DueDate += b.DueDate
		total.Priority += b.Priority
		total.SkillMismatch += b.SkillMismatch
		total.PartsNotReady += b.PartsNotReady
		total.Total += b.Total

		items = append(items, Item{
			TaskID:       tv.task.ID,
			TechnicianID: m.techs[p.techIdx].ID,
			BayID:        m.bays[p.bayIdx].ID,
			StartAt:      minutesAfter(m.snap.HorizonStart, p.start),
			EndAt:        minutesAfter(m.snap.HorizonStart, p.start+tv.duration),
			IsLocked:     false,
			Why:          models.Why{"reason": "optimized"},
		})
	}

	items = append(items, m.lockedItems()...)
	return items, total
}

// lockedItems emits the locked tasks verbatim: the persisted item matches
// the lock quintuple bit-for-bit.
func (m *Model) lockedItems() []Item {
	var items []Item
	for _, t := range m.snap.LockedTasks() {
		items = append(items, Item{
			TaskID:       t.ID,
			TechnicianID: *t.LockedTechID,
			BayID:        *t.LockedBayID,
			StartAt:      *t.LockedStartAt,
			EndAt:        *t.LockedEndAt,
			IsLocked:     true,
			Why:          models.Why{"reason": "locked"},
		})
	}
	return items
}

// feasibleStarts lists the earliest start in each free gap of the two
// busy lists where [start, start+dur) fits and ends by latest. The gap
// starts are exactly the placements an active schedule can use.
func feasibleStarts(busyA, busyB []span, from, dur, latest int) []int {
	var starts []int
	cur := from
	for _, b := range mergeSpans(busyA, busyB) {
		if b.end <= cur {
			continue
		}
		if cur+dur <= b.start && cur+dur <= latest {
			starts = append(starts, cur)
		}
		// Whether the gap fit or not, the next candidate lives past b.
		cur = b.end
	}
	if cur+dur <= latest {
		starts = append(starts, cur)
	}
	return starts
}

func mergeSpans(a, b []span) []span {
	out := make([]span, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i].start <= b[j].start {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

func insertSpan(list []span, sp span) []span {
	list = append(list, sp)
	sortSpans(list)
	return list
}

func removeSpan(list []span, sp span) []span {
	for i, v := range list {
		if v == sp {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
