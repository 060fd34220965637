package dispatch

import (
	"fmt"
	"strings"
)

// Validate rejects batches with duplicate or empty task ids.
func Validate(tasks []*Task) error {
	ids := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if t.ID == "" {
			return fmt.Errorf("task for agent %q has no id", t.Agent)
		}
		if ids[t.ID] {
			return fmt.Errorf("duplicate task ID: %s", t.ID)
		}
		ids[t.ID] = true
	}
	return nil
}

// dependenciesMet reports whether every prerequisite of t has completed.
func dependenciesMet(t *Task, byID map[string]*Task) bool {
	for _, id := range t.DependsOn {
		dep, ok := byID[id]
		if !ok || dep.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// cascadeBlocked marks every pending task that can no longer run as
// blocked: first those with unknown, failed or blocked prerequisites
// (transitively), then whatever is left, which can only be waiting on a
// dependency cycle.
func cascadeBlocked(tasks []*Task, byID map[string]*Task) []*Task {
	var blocked []*Task
	for changed := true; changed; {
		changed = false
		for _, t := range tasks {
			if t.Status != StatusPending {
				continue
			}
			for _, id := range t.DependsOn {
				dep, ok := byID[id]
				switch {
				case !ok:
					t.Error = fmt.Sprintf("unknown prerequisite '%s'", id)
				case dep.Status == StatusFailed:
					t.Error = fmt.Sprintf("prerequisite '%s' failed", id)
				case dep.Status == StatusBlocked:
					t.Error = fmt.Sprintf("prerequisite '%s' blocked", id)
				default:
					continue
				}
				t.Status = StatusBlocked
				blocked = append(blocked, t)
				changed = true
				break
			}
		}
	}

	var cycle []string
	for _, t := range tasks {
		if t.Status == StatusPending {
			cycle = append(cycle, t.ID)
		}
	}
	for _, t := range tasks {
		if t.Status == StatusPending {
			t.Status = StatusBlocked
			t.Error = "dependency cycle among " + strings.Join(cycle, ", ")
			blocked = append(blocked, t)
		}
	}
	return blocked
}
