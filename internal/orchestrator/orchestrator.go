// Package orchestrator drives runs: repeated bounded cycles over a goal or
// a staged plan, with resume and guaranteed teardown.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kylegalloway/kodo/internal/agent"
	"github.com/kylegalloway/kodo/internal/checkpoint"
	"github.com/kylegalloway/kodo/internal/metrics"
	"github.com/kylegalloway/kodo/internal/plan"
	"github.com/kylegalloway/kodo/internal/runlog"
	"github.com/kylegalloway/kodo/internal/state"
	"github.com/kylegalloway/kodo/internal/ui"
)

var (
	ErrStopped        = errors.New("run stopped")
	ErrBudgetExceeded = errors.New("run cost budget exceeded")
	ErrNoRun          = errors.New("orchestrator has no run context")
)

// Cycler runs one cycle. Implementations are expected to pass completion
// claims through verification before reporting finished and successful.
type Cycler interface {
	Cycle(ctx context.Context, goal, workDir string, team agent.Team, maxExchanges int, priorSummary string, browserTesting bool) (CycleResult, error)
}

// Config configures an Orchestrator.
type Config struct {
	// Name and Model identify the conductor in the run log.
	Name           string
	Model          string
	BrowserTesting bool
	// MaxRunCostUSD stops the run between cycles once reached. Zero
	// disables the check.
	MaxRunCostUSD float64
	Logger        *zap.Logger
	Metrics       *metrics.Collector
}

// RunOptions selects the run shape.
type RunOptions struct {
	Plan   *plan.GoalPlan
	Resume *runlog.ResumeState
}

// Orchestrator manages the cycle loop for one run.
type Orchestrator struct {
	cycler   Cycler
	team     agent.Team
	run      *runlog.Run
	cfg      Config
	logger   *zap.Logger
	ui       ui.Prompter
	stateMgr *state.Manager

	stopped atomic.Bool
	state   *state.RunState
	start   time.Time
}

// New creates an Orchestrator. prompter and stateMgr may be nil; run may
// not, since the run log is what makes a run resumable.
func New(cycler Cycler, team agent.Team, run *runlog.Run, cfg Config, prompter ui.Prompter, stateMgr *state.Manager) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cycler:   cycler,
		team:     team,
		run:      run,
		cfg:      cfg,
		logger:   logger,
		ui:       prompter,
		stateMgr: stateMgr,
	}
}

// Stop asks the run to end after the cycle in progress.
func (o *Orchestrator) Stop() {
	o.stopped.Store(true)
}

// Run executes the run. The returned result is valid even when an error
// ends the run early. Teardown closes every agent and the run log.
func (o *Orchestrator) Run(ctx context.Context, goal, workDir string, maxExchanges, maxCycles int, opts RunOptions) (result *RunResult, err error) {
	if o.run == nil {
		return &RunResult{}, ErrNoRun
	}
	o.start = time.Now()
	result = &RunResult{RunID: o.run.ID}
	staged := opts.Plan != nil && len(opts.Plan.Stages) > 0
	o.state = &state.RunState{
		RunID:      o.run.ID,
		Goal:       goal,
		ProjectDir: workDir,
		LogPath:    o.run.Path(),
		Staged:     staged,
		StartTime:  o.start,
	}

	defer func() {
		p := recover()
		o.teardown(result, err, p != nil)
		if p != nil {
			panic(p)
		}
	}()

	o.team.SetRun(o.run)
	if opts.Resume != nil {
		missing := o.team.InjectSessionIDs(opts.Resume.AgentSessionIDs)
		if len(missing) > 0 {
			o.logger.Debug("resume session ids for agents not in team", zap.Strings("agents", missing))
		}
		o.run.Emit(runlog.EventRunResumed,
			zap.Int("completed_cycles", opts.Resume.CompletedCycles),
			zap.Ints("completed_stages", opts.Resume.CompletedStages),
		)
	} else {
		numStages := 0
		if staged {
			numStages = len(opts.Plan.Stages)
		}
		o.run.Emit(runlog.EventRunStart,
			zap.String("goal", goal),
			zap.String("orchestrator", o.cfg.Name),
			zap.String("model", o.cfg.Model),
			zap.String("project_dir", workDir),
			zap.Int("max_exchanges", maxExchanges),
			zap.Int("max_cycles", maxCycles),
			zap.Strings("team", o.team.Names()),
			zap.Bool("has_stages", staged),
			zap.Int("num_stages", numStages),
		)
	}
	o.persistState()

	if staged {
		result.StageTotal = len(opts.Plan.Stages)
		if opts.Resume != nil {
			for _, st := range opts.Plan.Stages {
				if opts.Resume.StageCompleted(st.Index) {
					result.StagesResumed++
				}
			}
		}
		err = o.runStaged(ctx, goal, workDir, maxExchanges, maxCycles, opts.Plan, opts.Resume, result)
	} else {
		startCycle, prior := 1, ""
		if opts.Resume != nil {
			startCycle = opts.Resume.CompletedCycles + 1
			prior = opts.Resume.LastSummary
		}
		err = o.runSingle(ctx, goal, workDir, maxExchanges, maxCycles, startCycle, prior, result)
	}
	return result, err
}

func (o *Orchestrator) runSingle(ctx context.Context, goal, workDir string, maxExchanges, maxCycles, startCycle int, prior string, result *RunResult) error {
	for i := startCycle; i <= maxCycles; i++ {
		if err := o.checkContinue(ctx, result); err != nil {
			return o.haltErr(err)
		}
		o.info(fmt.Sprintf("=== CYCLE %d/%d ===", i, maxCycles))

		cr, err := o.cycler.Cycle(ctx, goal, workDir, o.team, maxExchanges, prior, o.cfg.BrowserTesting)
		cr.StageIndex = 0
		if err != nil {
			result.Cycles = append(result.Cycles, cr)
			return fmt.Errorf("cycle %d: %w", i, err)
		}
		o.recordCycle(i, maxCycles, cr, result, nil, 0)
		if cr.Finished {
			return nil
		}
		prior = cr.Summary
	}
	return nil
}

func (o *Orchestrator) runStaged(ctx context.Context, goal, workDir string, maxExchanges, maxCycles int, p *plan.GoalPlan, resume *runlog.ResumeState, result *RunResult) error {
	globalCycle := 0
	var summaries []string
	resumeStage := 0
	if resume != nil {
		globalCycle = resume.CompletedCycles
		for _, s := range p.Stages {
			if resume.StageCompleted(s.Index) {
				summaries = append(summaries, resume.StageSummaries[s.Index])
			} else if resumeStage == 0 {
				resumeStage = s.Index
			}
		}
	}

	for _, stage := range p.Stages {
		if resume != nil && resume.StageCompleted(stage.Index) {
			continue
		}
		o.run.Emit(runlog.EventStageStart,
			zap.Int("stage_index", stage.Index),
			zap.String("stage_name", stage.Name),
			zap.Int("global_cycle", globalCycle),
			zap.Int("max_cycles", maxCycles),
		)
		o.info(fmt.Sprintf("=== STAGE %d/%d: %s ===", stage.Index, len(p.Stages), stage.Name))

		stageGoal := ComposeStageGoal(p, stage.Index, summaries)
		sr := StageResult{Index: stage.Index, Name: stage.Name}
		prior := ""
		if resume != nil && resume.CurrentStageCycles > 0 && stage.Index == resumeStage {
			prior = resume.LastSummary
		}
		browser := o.cfg.BrowserTesting || stage.BrowserTesting

		var halt error
		for !sr.Finished && globalCycle < maxCycles {
			if err := o.checkContinue(ctx, result); err != nil {
				halt = err
				break
			}
			globalCycle++
			o.info(fmt.Sprintf("=== CYCLE %d/%d (stage %d) ===", globalCycle, maxCycles, stage.Index))

			cr, err := o.cycler.Cycle(ctx, stageGoal, workDir, o.team, maxExchanges, prior, browser)
			cr.StageIndex = stage.Index
			sr.Cycles = append(sr.Cycles, cr)
			if err != nil {
				result.Cycles = append(result.Cycles, cr)
				sr.Summary = prior
				result.Stages = append(result.Stages, sr)
				o.emitStageEnd(sr)
				return fmt.Errorf("stage %d cycle %d: %w", stage.Index, globalCycle, err)
			}
			o.recordCycle(globalCycle, maxCycles, cr, result, p, stage.Index)
			if cr.Finished {
				sr.Finished = true
				sr.Summary = cr.Summary
				summaries = append(summaries, cr.Summary)
				break
			}
			prior = cr.Summary
		}

		if !sr.Finished {
			sr.Summary = prior
		}
		result.Stages = append(result.Stages, sr)
		o.emitStageEnd(sr)
		if sr.Finished {
			o.info(fmt.Sprintf("Stage %d (%s) completed in %d cycle(s)", sr.Index, sr.Name, len(sr.Cycles)))
			continue
		}
		if halt != nil {
			return o.haltErr(halt)
		}
		o.warn(fmt.Sprintf("Cycle budget exhausted during stage %d (%s)", sr.Index, sr.Name))
		return nil
	}
	return nil
}

func (o *Orchestrator) emitStageEnd(sr StageResult) {
	o.run.Emit(runlog.EventStageEnd,
		zap.Int("stage_index", sr.Index),
		zap.String("stage_name", sr.Name),
		zap.Bool("finished", sr.Finished),
		zap.String("summary", truncate(sr.Summary, 1000)),
		zap.Int("cycles_used", len(sr.Cycles)),
	)
}

// checkContinue reports why the run must not start another cycle.
func (o *Orchestrator) checkContinue(ctx context.Context, result *RunResult) error {
	if o.stopped.Load() {
		return ErrStopped
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if limit := o.cfg.MaxRunCostUSD; limit > 0 {
		if spent := result.TotalCostUSD(); spent >= limit {
			return fmt.Errorf("%w: $%.2f of $%.2f", ErrBudgetExceeded, spent, limit)
		}
	}
	return nil
}

// haltErr turns a between-cycle halt into the run's error. A requested
// stop is not an error.
func (o *Orchestrator) haltErr(err error) error {
	if errors.Is(err, ErrStopped) {
		o.info("Stop requested, ending run after the current cycle")
		return nil
	}
	if errors.Is(err, ErrBudgetExceeded) {
		o.warn(err.Error())
		return nil
	}
	return err
}

func (o *Orchestrator) recordCycle(n, maxCycles int, cr CycleResult, result *RunResult, p *plan.GoalPlan, stageIdx int) {
	result.Cycles = append(result.Cycles, cr)
	fields := []zap.Field{
		zap.Int("cycle", n),
		zap.Int("exchanges", cr.Exchanges),
		zap.Float64("cost_usd", cr.CostUSD),
		zap.Bool("finished", cr.Finished),
		zap.Bool("success", cr.Success),
		zap.String("summary", cr.Summary),
	}
	// Unstaged cycles carry no stage_index.
	if stageIdx > 0 {
		fields = append(fields, zap.Int("stage_index", stageIdx))
	}
	o.run.Emit(runlog.EventCycleEnd, fields...)
	switch {
	case cr.Finished && cr.Success:
		o.cfg.Metrics.RecordCycle("success")
	case cr.Finished:
		o.cfg.Metrics.RecordCycle("failed")
	default:
		o.cfg.Metrics.RecordCycle("unfinished")
	}

	o.state.Cycle = n
	o.state.StageIndex = stageIdx
	o.state.Exchanges = result.TotalExchanges()
	o.state.CostUSD = result.TotalCostUSD()
	o.persistState()

	ps := ui.ProgressState{
		Cycle:     n,
		MaxCycles: maxCycles,
		Exchanges: result.TotalExchanges(),
		CostUSD:   result.TotalCostUSD(),
		StartTime: o.start,
	}
	if p != nil {
		ps.Stage = stageIdx
		ps.StageTotal = len(p.Stages)
		for _, s := range p.Stages {
			if s.Index == stageIdx {
				ps.StageName = s.Name
			}
		}
	}
	o.info(ui.FormatProgress(ps))
}

func (o *Orchestrator) teardown(result *RunResult, runErr error, panicked bool) {
	if err := o.team.CloseAll(); err != nil {
		o.logger.Warn("closing agents", zap.Error(err))
	}

	finished := result.Finished()
	o.run.Emit(runlog.EventRunEnd,
		zap.String("orchestrator", o.cfg.Name),
		zap.Int("cycles", len(result.Cycles)),
		zap.Bool("finished", finished),
		zap.Float64("total_cost_usd", result.TotalCostUSD()),
		zap.Int("total_exchanges", result.TotalExchanges()),
		zap.String("summary", truncate(result.Summary(), 1000)),
		zap.Int("stages_completed", result.StagesCompleted()),
		zap.Bool("aborted", runErr != nil || panicked),
	)

	if finished {
		if err := checkpoint.Clear(o.run.ID, o.run.ProjectDir); err != nil {
			o.logger.Warn("clearing checkpoints", zap.Error(err))
		}
		if o.stateMgr != nil {
			if err := o.stateMgr.Remove(); err != nil {
				o.logger.Warn("removing state file", zap.Error(err))
			}
		}
	}

	o.logger.Info("run ended",
		zap.String("run_id", o.run.ID),
		zap.Bool("finished", finished),
		zap.Int("cycles", len(result.Cycles)),
		zap.Float64("cost_usd", result.TotalCostUSD()),
	)
	if err := o.run.Close(); err != nil {
		o.logger.Warn("closing run log", zap.Error(err))
	}
}

func (o *Orchestrator) persistState() {
	if o.stateMgr == nil {
		return
	}
	if err := o.stateMgr.Save(o.state); err != nil {
		o.logger.Warn("saving state", zap.Error(err))
	}
}

func (o *Orchestrator) info(msg string) {
	if o.ui != nil {
		o.ui.Info(msg)
	}
}

func (o *Orchestrator) warn(msg string) {
	if o.ui != nil {
		o.ui.Warn(msg)
	}
}

// Summary renders result for end-of-run display.
func (o *Orchestrator) Summary(result *RunResult, p *plan.GoalPlan) string {
	rs := ui.RunSummary{
		RunID:           result.RunID,
		Finished:        result.Finished(),
		Cycles:          len(result.Cycles),
		StagesCompleted: result.StagesCompleted(),
		Exchanges:       result.TotalExchanges(),
		CostUSD:         result.TotalCostUSD(),
		CostLimit:       o.cfg.MaxRunCostUSD,
		Duration:        time.Since(o.start),
		LastSummary:     result.Summary(),
		LogPath:         o.run.Path(),
	}
	if p != nil {
		rs.StageTotal = len(p.Stages)
	}
	return ui.FormatRunSummary(rs)
}
