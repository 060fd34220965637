// Package main implements the kodo CLI: it runs a conductor model and a team
// of coding agents against a project until a goal is verified done.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kylegalloway/kodo/internal/agent"
	"github.com/kylegalloway/kodo/internal/config"
	"github.com/kylegalloway/kodo/internal/logging"
	"github.com/kylegalloway/kodo/internal/metrics"
	"github.com/kylegalloway/kodo/internal/orchestrator"
	"github.com/kylegalloway/kodo/internal/retry"
	"github.com/kylegalloway/kodo/internal/session"
)

var (
	configPath    string
	projectDir    string
	logLevel      string
	decisionsFile string

	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "kodo",
	Short: "Orchestrate a team of coding agents toward a verified goal",
	Long: `kodo drives a conductor model that delegates work to a team of coding
agents in bounded cycles. A goal is only done once independent reviewers
verify it. Runs are logged under .kodo and can be resumed after a crash.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to kodo.yaml (default <project-dir>/kodo.yaml)")
	rootCmd.PersistentFlags().StringVar(&projectDir, "project-dir", "", "project directory (default current directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&decisionsFile, "decisions-file", "", "scripted prompt answers, one per line (resume/fresh)")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the kodo version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "kodo %s\n", version)
	},
}

// app is the per-invocation environment shared by subcommands.
type app struct {
	cfg        *config.Config
	projectDir string
	kodoDir    string
	logger     *zap.Logger
	metrics    *metrics.Collector
}

func loadApp() (*app, error) {
	dir := projectDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		dir = wd
	}
	path := configPath
	if path == "" {
		path = filepath.Join(dir, config.FileName)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if projectDir == "" && cfg.Project.Dir != "" {
		dir = cfg.Project.Dir
	}
	dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve project dir: %w", err)
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	logger, err := logging.New(logging.Config{Level: level, Format: cfg.Logging.Format})
	if err != nil {
		return nil, err
	}

	kodoDir := filepath.Join(dir, ".kodo")
	if err := os.MkdirAll(kodoDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &app{
		cfg:        cfg,
		projectDir: dir,
		kodoDir:    kodoDir,
		logger:     logger,
		metrics:    metrics.New(),
	}, nil
}

func (a *app) retryStrategy() *retry.Strategy {
	r := a.cfg.Retry
	return &retry.Strategy{
		MaxRetries:   r.MaxRetries,
		InitialDelay: r.InitialDelay,
		Multiplier:   r.Multiplier,
		MaxDelay:     r.MaxDelay,
		Patterns:     r.Patterns,
		Logger:       a.logger,
		Metrics:      a.metrics,
	}
}

// buildTeam creates one agent per configured member, each over its own
// CLI session.
func (a *app) buildTeam() agent.Team {
	team := make(agent.Team, len(a.cfg.Agents))
	for _, ac := range a.cfg.Agents {
		args := append([]string(nil), ac.ExtraArgs...)
		if ac.SystemPrompt != "" {
			args = append(args, "--append-system-prompt", ac.SystemPrompt)
		}
		sess := session.NewCLISession(session.CLIConfig{
			Binary:    ac.Backend,
			Model:     ac.Model,
			ExtraArgs: args,
			Logger:    a.logger.With(zap.String("session", ac.Name)),
		})
		team[ac.Name] = agent.New(ac.Name, sess, agent.Config{
			Role:       ac.Role,
			MaxTurns:   ac.MaxTurns,
			Timeout:    ac.Timeout,
			Checkpoint: ac.Checkpointing(),
			Retry:      a.retryStrategy(),
			Logger:     a.logger,
			Metrics:    a.metrics,
		})
	}
	return team
}

// buildConductor creates the conductor session and, when a distinct
// fallback model is configured, its overload fallback.
func (a *app) buildConductor() *orchestrator.SessionConductor {
	oc := a.cfg.Orchestrator
	c := &orchestrator.SessionConductor{
		Primary: session.NewCLISession(session.CLIConfig{
			Binary: oc.Backend,
			Model:  oc.Model,
			Logger: a.logger.With(zap.String("session", "conductor")),
		}),
		Retry:  a.retryStrategy(),
		Logger: a.logger.With(zap.String("component", "conductor")),
	}
	if oc.FallbackModel != "" && oc.FallbackModel != oc.Model {
		c.Fallback = session.NewCLISession(session.CLIConfig{
			Binary: oc.Backend,
			Model:  oc.FallbackModel,
			Logger: a.logger.With(zap.String("session", "conductor_fallback")),
		})
	}
	return c
}

func (a *app) flushMetrics() {
	path := a.cfg.Metrics.Textfile
	if path == "" {
		return
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(a.projectDir, path)
	}
	if err := a.metrics.WriteTextfile(path); err != nil {
		a.logger.Warn("writing metrics textfile", zap.Error(err))
	}
}
