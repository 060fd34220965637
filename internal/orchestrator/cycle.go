package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kylegalloway/kodo/internal/agent"
	"github.com/kylegalloway/kodo/internal/dispatch"
	"github.com/kylegalloway/kodo/internal/metrics"
	"github.com/kylegalloway/kodo/internal/runlog"
	"github.com/kylegalloway/kodo/internal/verify"
)

const (
	// reportLimit bounds a delegated agent's report.
	reportLimit = 10000
	// taskReportLimit bounds each task's output in a parallel batch report.
	taskReportLimit = 2000
	// carryReports is how many recent reports an exhausted cycle carries.
	carryReports  = 3
	carryReportSz = 1000
)

// CostReporter is implemented by conductors that spend money themselves.
type CostReporter interface {
	CostUSD() float64
}

// DirectiveCycle is a Cycler driven by a Conductor: each exchange asks the
// conductor for a directive and executes it against the team.
type DirectiveCycle struct {
	Conductor Conductor
	// Workers sizes the pool for parallel batches.
	Workers int
	Run     *runlog.Run
	Logger  *zap.Logger
	Metrics *metrics.Collector
}

func (c *DirectiveCycle) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// Cycle runs up to maxExchanges directives. It finishes when the conductor's
// done claim is accepted by the verification gate or abandoned.
func (c *DirectiveCycle) Cycle(ctx context.Context, goal, workDir string, team agent.Team, maxExchanges int, priorSummary string, browserTesting bool) (CycleResult, error) {
	gate := &verify.Gate{
		Team:           team,
		WorkDir:        workDir,
		BrowserTesting: browserTesting,
		Run:            c.Run,
		Logger:         c.logger(),
		Metrics:        c.Metrics,
	}
	vst := &verify.State{}
	turn := Turn{
		Goal:           goal,
		WorkDir:        workDir,
		PriorSummary:   priorSummary,
		Team:           members(team),
		MaxExchanges:   maxExchanges,
		BrowserTesting: browserTesting,
	}

	var (
		spent    float64
		reports  []string
		lastNote string
	)
	conductorStart := c.conductorCost()
	cost := func() float64 {
		return spent + vst.CostUSD + c.conductorCost() - conductorStart
	}

	for ex := 1; ex <= maxExchanges; ex++ {
		turn.Exchange = ex
		d, err := c.Conductor.Next(ctx, turn)
		if err != nil {
			return CycleResult{Exchanges: ex, CostUSD: cost()}, fmt.Errorf("conductor: %w", err)
		}
		if n, ok := d.(Note); ok {
			lastNote = n.Text
		}

		out, taskCost := c.step(ctx, d, goal, workDir, team, gate, vst)
		spent += taskCost
		switch o := out.(type) {
		case outcomeDone:
			return CycleResult{
				Exchanges: ex,
				CostUSD:   cost(),
				Finished:  true,
				Success:   o.Success,
				Summary:   o.Summary,
			}, nil
		case outcomeContinue:
			turn.Report = o.Report
			reports = append(reports, o.Report)
		}
	}

	c.logger().Info("cycle exhausted exchanges", zap.Int("exchanges", maxExchanges))
	return CycleResult{
		Exchanges: maxExchanges,
		CostUSD:   cost(),
		Summary:   carryForward(maxExchanges, lastNote, reports),
	}, nil
}

func (c *DirectiveCycle) conductorCost() float64 {
	if cr, ok := c.Conductor.(CostReporter); ok {
		return cr.CostUSD()
	}
	return 0
}

// step executes one directive and returns its outcome and what it cost.
func (c *DirectiveCycle) step(ctx context.Context, d Directive, goal, workDir string, team agent.Team, gate *verify.Gate, vst *verify.State) (cycleOutcome, float64) {
	switch d := d.(type) {
	case Delegate:
		return c.delegate(ctx, d, workDir, team)
	case Parallel:
		return c.parallel(ctx, d, workDir, team)
	case Done:
		switch o := gate.HandleDone(ctx, vst, goal, d.Summary, d.Success).(type) {
		case *verify.Done:
			return outcomeDone{Summary: d.Summary, Success: o.Success}, 0
		case *verify.Rejected:
			return outcomeContinue{Report: o.Message}, 0
		}
		return outcomeContinue{Report: "[ERROR] done was not handled"}, 0
	case Note:
		return outcomeContinue{Report: "Noted."}, 0
	default:
		return outcomeContinue{Report: fmt.Sprintf("[ERROR] Unsupported directive %T", d)}, 0
	}
}

func (c *DirectiveCycle) delegate(ctx context.Context, d Delegate, workDir string, team agent.Team) (out cycleOutcome, cost float64) {
	a, ok := team.Get(d.Agent)
	if !ok {
		return outcomeContinue{Report: "[ERROR] Unknown agent: " + d.Agent}, 0
	}
	defer func() {
		if p := recover(); p != nil {
			c.logger().Error("agent panicked", zap.String("agent", d.Agent), zap.Any("panic", p))
			out = outcomeContinue{Report: fmt.Sprintf("[ERROR] %s crashed: %v", d.Agent, p)}
		}
	}()

	var opts []agent.RunOption
	if d.NewConversation {
		opts = append(opts, agent.WithNewConversation())
	}
	res, err := a.Run(ctx, d.Directive, workDir, opts...)
	if err != nil {
		c.logger().Warn("agent crashed", zap.String("agent", d.Agent), zap.Error(err))
		return outcomeContinue{Report: fmt.Sprintf("[ERROR] %s crashed: %v", d.Agent, err)}, 0
	}
	return outcomeContinue{Report: truncate(res.FormatReport(), reportLimit)}, res.CostUSD
}

func (c *DirectiveCycle) parallel(ctx context.Context, d Parallel, workDir string, team agent.Team) (cycleOutcome, float64) {
	if len(d.Tasks) == 0 {
		return outcomeContinue{Report: "[ERROR] Parallel batch has no tasks"}, 0
	}
	disp := &dispatch.Dispatcher{
		Team:    team,
		WorkDir: workDir,
		Workers: c.Workers,
		Run:     c.Run,
		Logger:  c.logger(),
		Metrics: c.Metrics,
	}
	res, err := disp.Dispatch(ctx, dispatch.Tasks(d.Tasks))
	if err != nil {
		return outcomeContinue{Report: "[ERROR] Invalid parallel batch: " + err.Error()}, 0
	}
	var cost float64
	for _, t := range res.Tasks {
		if t.Result != nil {
			cost += t.Result.CostUSD
		}
	}
	return outcomeContinue{Report: truncate(res.Report(taskReportLimit), reportLimit)}, cost
}

func members(team agent.Team) []Member {
	names := team.Names()
	out := make([]Member, 0, len(names))
	for _, n := range names {
		out = append(out, Member{Name: n, Role: team[n].Role})
	}
	return out
}

// carryForward summarizes a cycle that ran out of exchanges.
func carryForward(maxExchanges int, lastNote string, reports []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The previous cycle used all %d exchanges without a verified done.", maxExchanges)
	if lastNote != "" {
		b.WriteString("\n\nOrchestrator notes:\n")
		b.WriteString(lastNote)
	}
	if len(reports) > carryReports {
		reports = reports[len(reports)-carryReports:]
	}
	if len(reports) > 0 {
		b.WriteString("\n\nMost recent reports:")
		for _, r := range reports {
			b.WriteString("\n\n")
			b.WriteString(truncate(r, carryReportSz))
		}
	}
	return b.String()
}
