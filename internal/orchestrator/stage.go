package orchestrator

import (
	"fmt"
	"strings"

	"github.com/kylegalloway/kodo/internal/plan"
)

// previewLimit bounds the next-stage preview.
const previewLimit = 200

// ComposeStageGoal builds the goal for stage stageIdx (1-based) from the
// shared context, the summaries of completed stages, the stage itself and
// a preview of the stage after it.
func ComposeStageGoal(p *plan.GoalPlan, stageIdx int, completed []string) string {
	pos := -1
	for i, s := range p.Stages {
		if s.Index == stageIdx {
			pos = i
			break
		}
	}
	if pos < 0 {
		return ""
	}
	stage := p.Stages[pos]

	parts := []string{"# Project Context\n" + p.Context}
	if len(completed) > 0 {
		var b strings.Builder
		b.WriteString("# Completed Stages")
		for i, summary := range completed {
			fmt.Fprintf(&b, "\n\n## Stage %d: completed\n%s", i+1, summary)
		}
		parts = append(parts, b.String())
	}
	parts = append(parts, fmt.Sprintf("# Current Stage (%d/%d): %s\n%s",
		stage.Index, len(p.Stages), stage.Name, stage.Description))
	if stage.AcceptanceCriteria != "" {
		parts = append(parts, "## Acceptance Criteria\n"+stage.AcceptanceCriteria)
	}
	if pos+1 < len(p.Stages) {
		next := p.Stages[pos+1]
		parts = append(parts, fmt.Sprintf("## Next Stage Preview\nAfter this stage, the next stage will be: **%s**: %s",
			next.Name, truncate(next.Description, previewLimit)))
	}
	return strings.Join(parts, "\n\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
