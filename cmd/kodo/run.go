package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kylegalloway/kodo/internal/dispatch"
	"github.com/kylegalloway/kodo/internal/locks"
	"github.com/kylegalloway/kodo/internal/orchestrator"
	"github.com/kylegalloway/kodo/internal/plan"
	"github.com/kylegalloway/kodo/internal/runlog"
	"github.com/kylegalloway/kodo/internal/state"
	"github.com/kylegalloway/kodo/internal/ui"
)

var (
	planPath     string
	maxCycles    int
	maxExchanges int
)

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)

	runCmd.Flags().StringVar(&planPath, "plan", "", "staged goal plan (default <project-dir>/"+plan.FileName+" when present)")
	runCmd.Flags().IntVar(&maxCycles, "max-cycles", 0, "cycle budget for the run (default from config)")
	runCmd.Flags().IntVar(&maxExchanges, "max-exchanges", 0, "exchange budget per cycle (default from config)")
	resumeCmd.Flags().IntVar(&maxCycles, "max-cycles", 0, "cycle budget for the run (default from config)")
	resumeCmd.Flags().IntVar(&maxExchanges, "max-exchanges", 0, "exchange budget per cycle (default from config)")
}

var runCmd = &cobra.Command{
	Use:   "run <goal>",
	Short: "Start a run toward a goal",
	Long: `Start a run toward a goal. When the project holds a goal plan, the run
works through its stages in order; otherwise the goal is pursued directly.

If an interrupted run is found, kodo offers to resume it first.

Examples:
  # Pursue a goal directly
  kodo run "add a /health endpoint with tests"

  # Work through a staged plan
  kodo run "todo app" --plan plans/todo.json --max-cycles 8`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		return a.execute(cmd, runRequest{goal: args[0], offerResume: true})
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume [run-id]",
	Short: "Resume an interrupted run",
	Long: `Resume an interrupted run from its event log. Without a run id, the
newest incomplete run is resumed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		var st *runlog.RunState
		if len(args) == 1 {
			st, err = runlog.ParseRun(runlog.LogPath(a.projectDir, args[0]))
			if err != nil {
				return fmt.Errorf("run %s: %w", args[0], err)
			}
			if st.Finished {
				return fmt.Errorf("run %s already finished", args[0])
			}
		} else {
			runs, err := runlog.FindIncompleteRuns(a.projectDir)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				return errors.New("no incomplete runs to resume")
			}
			st = runs[0]
		}
		return a.execute(cmd, runRequest{goal: st.Goal, resumeFrom: st})
	},
}

type runRequest struct {
	goal        string
	resumeFrom  *runlog.RunState
	offerResume bool
}

// execute holds the project lock for the whole run, performs startup
// recovery and drives one orchestrator run to its end.
func (a *app) execute(cmd *cobra.Command, req runRequest) error {
	defer func() { _ = a.logger.Sync() }()
	out := cmd.OutOrStdout()

	lockMgr := locks.NewManager(filepath.Join(a.kodoDir, "locks"))
	stateMgr := state.NewManager(a.kodoDir)
	recovery, err := orchestrator.Recover(a.projectDir, lockMgr, stateMgr, a.logger)
	if err != nil {
		return err
	}
	if err := lockMgr.Acquire(locks.RunLock, "kodo run"); err != nil {
		return fmt.Errorf("another kodo run is active in %s: %w", a.projectDir, err)
	}
	defer lockMgr.ReleaseAll()

	if msg := orchestrator.FormatRecoveryResult(recovery); recovery.StaleLocksCleaned > 0 || recovery.DiskWarning != "" || len(recovery.OrphanCheckpoints) > 0 {
		fmt.Fprintln(out, msg)
	}

	var prompter ui.Prompter = ui.NewTerminalPrompter()
	if decisionsFile != "" {
		prompter = ui.NewScriptedPrompterFromFile(decisionsFile)
	}

	if req.offerResume && len(recovery.IncompleteRuns) > 0 {
		prior := recovery.IncompleteRuns[0]
		if prompter.ResumePrompt(prior) == ui.ResumeRun {
			req.goal = prior.Goal
			req.resumeFrom = prior
		} else if err := stateMgr.Remove(); err != nil {
			a.logger.Warn("removing state file", zap.Error(err))
		}
	}

	goalPlan, err := a.loadPlan(req.resumeFrom)
	if err != nil {
		return err
	}

	runID := ""
	opts := orchestrator.RunOptions{Plan: goalPlan}
	if req.resumeFrom != nil {
		runID = req.resumeFrom.RunID
		opts.Resume = req.resumeFrom.ResumeState()
	}
	run, err := runlog.Start(a.projectDir, runID)
	if err != nil {
		return err
	}

	oc := a.cfg.Orchestrator
	cycles, exchanges := a.budgets(req.resumeFrom)

	workers := dispatch.EffectiveConcurrency(dispatch.PoolConfig{
		Workers:        a.cfg.Concurrency.Workers,
		Adaptive:       a.cfg.Concurrency.Adaptive,
		RAMPerWorkerMB: a.cfg.Concurrency.RAMPerWorkerMB,
	}, a.logger)
	cycler := &orchestrator.DirectiveCycle{
		Conductor: a.buildConductor(),
		Workers:   workers,
		Run:       run,
		Logger:    a.logger,
		Metrics:   a.metrics,
	}
	o := orchestrator.New(cycler, a.buildTeam(), run, orchestrator.Config{
		Name:           "kodo",
		Model:          oc.Model,
		BrowserTesting: a.cfg.Verification.BrowserTesting,
		MaxRunCostUSD:  oc.MaxRunCostUSD,
		Logger:         a.logger,
		Metrics:        a.metrics,
	}, prompter, stateMgr)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		if _, ok := <-sigCh; !ok {
			return
		}
		fmt.Fprintln(os.Stderr, "\nStopping after the current cycle. Interrupt again to abort.")
		o.Stop()
		if _, ok := <-sigCh; !ok {
			return
		}
		fmt.Fprintln(os.Stderr, "Aborting.")
		cancel()
	}()

	fmt.Fprintf(out, "kodo %s\nProject: %s\nRun: %s\nWorkers: %d\n\n", version, a.projectDir, run.ID, workers)
	result, runErr := o.Run(ctx, req.goal, a.projectDir, exchanges, cycles, opts)
	fmt.Fprint(out, o.Summary(result, goalPlan))
	a.flushMetrics()
	return runErr
}

// budgets resolves the cycle and exchange budgets: flags first, then the
// budgets recorded by a resumed run, then config.
func (a *app) budgets(resumeFrom *runlog.RunState) (cycles, exchanges int) {
	cycles, exchanges = a.cfg.Orchestrator.MaxCycles, a.cfg.Orchestrator.MaxExchanges
	if resumeFrom != nil {
		if resumeFrom.MaxCycles > 0 {
			cycles = resumeFrom.MaxCycles
		}
		if resumeFrom.MaxExchanges > 0 {
			exchanges = resumeFrom.MaxExchanges
		}
	}
	if maxCycles > 0 {
		cycles = maxCycles
	}
	if maxExchanges > 0 {
		exchanges = maxExchanges
	}
	return cycles, exchanges
}

// loadPlan resolves the goal plan: --plan when given, else the project's
// plan file. A resumed unstaged run never picks up a plan.
func (a *app) loadPlan(resumeFrom *runlog.RunState) (*plan.GoalPlan, error) {
	if resumeFrom != nil && !resumeFrom.HasStages {
		return nil, nil
	}
	if planPath == "" {
		return plan.Load(a.projectDir)
	}
	data, err := os.ReadFile(planPath)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	return plan.Parse(data)
}
