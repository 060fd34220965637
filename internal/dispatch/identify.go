package dispatch

import (
	"fmt"
	"strings"
)

// ArchitectAgent is the team member whose tasks gate everything declared
// after them in IdentifyParallelizable.
const ArchitectAgent = "architect"

// TaskSpec is an undeclared-dependency task description.
type TaskSpec struct {
	ID        string `json:"id"`
	Agent     string `json:"agent"`
	Directive string `json:"directive"`
	// DependsOn, when non-nil, is used as-is by Tasks.
	DependsOn []string `json:"depends_on,omitempty"`
}

// IdentifyParallelizable builds tasks with inferred dependencies: architect
// tasks have none, and every other task depends on all architect tasks
// declared before it.
func IdentifyParallelizable(specs []TaskSpec) []*Task {
	var (
		out          []*Task
		architectIDs []string
	)
	for _, s := range specs {
		if s.Agent == ArchitectAgent {
			out = append(out, NewTask(s.ID, s.Agent, s.Directive))
			architectIDs = append(architectIDs, s.ID)
			continue
		}
		out = append(out, NewTask(s.ID, s.Agent, s.Directive, append([]string(nil), architectIDs...)...))
	}
	return out
}

// Tasks converts specs to tasks. Specs that declare dependencies keep
// them; if none do, dependencies are inferred with IdentifyParallelizable.
func Tasks(specs []TaskSpec) []*Task {
	explicit := false
	for _, s := range specs {
		if s.DependsOn != nil {
			explicit = true
			break
		}
	}
	if !explicit {
		return IdentifyParallelizable(specs)
	}
	out := make([]*Task, 0, len(specs))
	for _, s := range specs {
		out = append(out, NewTask(s.ID, s.Agent, s.Directive, s.DependsOn...))
	}
	return out
}

// Report renders the batch for the conductor, truncating each task's
// output to limit characters.
func (r *Result) Report(limit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Parallel batch: %d task(s), %.1fs wall, %.1fs sequential (%.2fx speedup)\n",
		len(r.Tasks), r.Total.Seconds(), r.Sequential.Seconds(), r.Speedup())
	for _, t := range r.Tasks {
		fmt.Fprintf(&b, "\n## %s [%s] (%s, %.1fs)\n", t.ID, t.Agent, t.Status, t.Elapsed().Seconds())
		switch {
		case t.Error != "":
			b.WriteString("Error: " + truncate(t.Error, limit) + "\n")
		case t.Result != nil:
			b.WriteString(truncate(t.Result.Text, limit) + "\n")
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n] + "\n... (truncated)"
}
