// Package verify gates the conductor's done signal behind independent
// reviewers.
package verify

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kylegalloway/kodo/internal/agent"
	"github.com/kylegalloway/kodo/internal/metrics"
	"github.com/kylegalloway/kodo/internal/runlog"
	"github.com/kylegalloway/kodo/internal/sanitize"
)

// reportLimit bounds each reviewer report quoted in a rejection.
const reportLimit = 3000

var acceptPhrases = []string{"ALL CHECKS PASS", "MINOR ISSUES FIXED"}

// State tracks done attempts within one cycle.
type State struct {
	DoneAttempt int
	// CostUSD accumulates what reviewers spent.
	CostUSD float64
}

// Gate runs verification for a team.
type Gate struct {
	Team           agent.Team
	WorkDir        string
	BrowserTesting bool
	Run            *runlog.Run
	Logger         *zap.Logger
	Metrics        *metrics.Collector
}

// Outcome is the result of HandleDone: either *Done or *Rejected.
type Outcome interface {
	outcome()
}

// Done ends the cycle.
type Done struct {
	Finished bool
	Success  bool
	Message  string
}

// Rejected sends the conductor back to work with the reviewers' findings.
type Rejected struct {
	Message string
}

func (*Done) outcome()     {}
func (*Rejected) outcome() {}

func (g *Gate) logger() *zap.Logger {
	if g.Logger == nil {
		return zap.NewNop()
	}
	return g.Logger
}

// HandleDone processes a done signal. An unsuccessful done is acknowledged
// without review.
func (g *Gate) HandleDone(ctx context.Context, st *State, goal, summary string, success bool) Outcome {
	if !success {
		g.Metrics.RecordVerification("skipped")
		return &Done{Finished: true, Success: false, Message: "Acknowledged (marked as unsuccessful)."}
	}
	rejection, ok := g.Verify(ctx, st, goal, summary)
	if !ok {
		return &Rejected{Message: rejection}
	}
	return &Done{Finished: true, Success: true, Message: "Verified and accepted. All checks pass."}
}

// Verify increments the attempt counter and asks every reviewer to check
// the claimed work. It returns the rejection text and false when any
// reviewer reports issues or crashes.
func (g *Gate) Verify(ctx context.Context, st *State, goal, summary string) (string, bool) {
	st.DoneAttempt++
	attempt := st.DoneAttempt
	logger := g.logger().With(zap.Int("attempt", attempt))

	reviewers := SelectReviewers(g.Team, g.BrowserTesting)
	prefix := "The orchestrator claims the following goal is complete:\n\n" +
		"# Goal\n" + sanitize.Wrap(sanitize.TagGoal, goal) + "\n\n" +
		"# Orchestrator's summary\n" + sanitize.Wrap(sanitize.TagSummary, summary) + "\n\n"

	var findings []string
	review := func(r Reviewer, fresh bool) {
		if f := g.review(ctx, st, r, prefix+r.instructions(), fresh, logger); f != "" {
			findings = append(findings, f)
		}
	}
	for _, r := range reviewers.Dedicated {
		review(r, attempt == 1)
	}
	if reviewers.Fallback != nil {
		review(*reviewers.Fallback, true)
	}
	if reviewers.Empty() {
		logger.Warn("no reviewers available, accepting done unverified")
	}

	accepted := len(findings) == 0
	g.Run.Emit(runlog.EventVerification,
		zap.Int("attempt", attempt),
		zap.Bool("accepted", accepted),
		zap.Int("issues", len(findings)),
	)
	if accepted {
		g.Metrics.RecordVerification("accepted")
		logger.Info("done verified")
		return "", true
	}
	g.Metrics.RecordVerification("rejected")
	logger.Info("done rejected", zap.Int("issues", len(findings)))
	return fmt.Sprintf("DONE REJECTED (attempt %d): verification found issues that must be fixed:\n\n", attempt) +
		strings.Join(findings, "\n\n") +
		"\n\nFix these issues and try calling done again.", false
}

// review runs one reviewer and returns its finding, or "" when it passed.
func (g *Gate) review(ctx context.Context, st *State, r Reviewer, prompt string, fresh bool, logger *zap.Logger) (finding string) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("reviewer panicked", zap.String("reviewer", r.Name), zap.Any("panic", p))
			finding = fmt.Sprintf("**%s crashed:** %v", r.Label(), p)
		}
	}()

	opts := []agent.RunOption{agent.WithAgentName(r.Name + "_verification")}
	if fresh {
		opts = append(opts, agent.WithNewConversation())
	}
	res, err := r.Agent.Run(ctx, prompt, g.WorkDir, opts...)
	if err != nil {
		logger.Warn("reviewer crashed", zap.String("reviewer", r.Name), zap.Error(err))
		return fmt.Sprintf("**%s crashed:** %v", r.Label(), err)
	}
	st.CostUSD += res.CostUSD
	if passes(res.Text) {
		return ""
	}
	return fmt.Sprintf("**%s found issues:**\n%s", r.Label(), truncate(res.Text, reportLimit))
}

func passes(report string) bool {
	upper := strings.ToUpper(report)
	for _, p := range acceptPhrases {
		if strings.Contains(upper, p) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
