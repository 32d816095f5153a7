package routing

import (
	"bytes"

	"github.com/itf-gmbh/phone-agent/internal/tenancy"
)

// ProximityFunc scores the distance between a task and a worker; a
// larger return value pulls the worker's score down (closer is better
// when the collaborator returns a bonus for nearby workers).
type ProximityFunc func(task *tenancy.Task, worker *tenancy.Worker) float64

const tradeMatchBonus = 20.0

// selectWorker picks the best worker in a department for the task.
// Eligibility: active, available, capacity left, and a matching trade
// category when the task names one. Score, lower is better:
//
//	100 * current_task_count / max_tasks_per_day
//	- 20 if the trade category matches
//	- proximity bonus, if a proximity collaborator is set
//
// Ties break by lowest task count, then by worker id, so the decision
// is deterministic for identical inputs. Returns nil when nobody is
// eligible; the task then stays unassigned.
func selectWorker(workers []tenancy.Worker, task *tenancy.Task, proximity ProximityFunc) *tenancy.Worker {
	var best *tenancy.Worker
	var bestScore float64

	for i := range workers {
		w := &workers[i]
		if !w.Active || !w.Available || !w.HasCapacity() {
			continue
		}
		if task.TradeCategory != "" && !w.HasTrade(task.TradeCategory) {
			continue
		}

		score := 0.0
		if w.MaxTasksPerDay > 0 {
			score = 100 * float64(w.CurrentTaskCount) / float64(w.MaxTasksPerDay)
		}
		if task.TradeCategory != "" && w.HasTrade(task.TradeCategory) {
			score -= tradeMatchBonus
		}
		if proximity != nil {
			score -= proximity(task, w)
		}

		if best == nil || score < bestScore || (score == bestScore && prefersOnTie(w, best)) {
			best = w
			bestScore = score
		}
	}
	return best
}

func prefersOnTie(candidate, incumbent *tenancy.Worker) bool {
	if candidate.CurrentTaskCount != incumbent.CurrentTaskCount {
		return candidate.CurrentTaskCount < incumbent.CurrentTaskCount
	}
	return bytes.Compare(candidate.ID[:], incumbent.ID[:]) < 0
}
