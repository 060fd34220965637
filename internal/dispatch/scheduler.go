package dispatch

// readyTasks returns pending tasks, in declaration order, whose
// prerequisites have all completed and whose agent is not already busy.
// A session must never serve two tasks at once, so at most one task per
// agent is selected. Tasks naming an unknown agent are always ready; the
// worker fails them.
func readyTasks(tasks []*Task, byID map[string]*Task, busy map[string]bool, known func(string) bool) []*Task {
	var selected []*Task
	claimed := make(map[string]bool)
	for _, t := range tasks {
		if t.Status != StatusPending {
			continue
		}
		if !dependenciesMet(t, byID) {
			continue
		}
		if known(t.Agent) {
			if busy[t.Agent] || claimed[t.Agent] {
				continue
			}
			claimed[t.Agent] = true
		}
		selected = append(selected, t)
	}
	return selected
}
