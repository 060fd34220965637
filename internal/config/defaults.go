package config

import "time"

// DefaultAgents is the team used when kodo.yaml declares none.
func DefaultAgents() []AgentConfig {
	return []AgentConfig{
		{
			Name: "worker_fast",
			Role: "A fast coding agent for straightforward implementation tasks. " +
				"Give it a short directive describing the desired behavior, one feature at a time.",
			Model:    "sonnet",
			MaxTurns: 30,
			Timeout:  20 * time.Minute,
		},
		{
			Name: "worker_smart",
			Role: "A powerful reasoning agent for debugging, complex refactors " +
				"and anything the fast worker struggled with.",
			Model:    "opus",
			MaxTurns: 30,
			Timeout:  20 * time.Minute,
		},
		{
			Name: "tester",
			Role: "A testing agent that verifies features work end-to-end. " +
				"It reports what works and what is broken and does not fix anything.",
			Model:    "sonnet",
			MaxTurns: 20,
			Timeout:  10 * time.Minute,
		},
		{
			Name: "architect",
			Role: "A code reviewer that identifies bugs and structural issues " +
				"with file and line references. It does not make changes.",
			Model:    "opus",
			MaxTurns: 10,
			Timeout:  10 * time.Minute,
		},
	}
}

func applyDefaults(cfg *Config) {
	if cfg.SchemaVersion == 0 {
		cfg.SchemaVersion = 1
	}
	if cfg.Project.Dir == "" {
		cfg.Project.Dir = "."
	}

	// Orchestrator defaults
	if cfg.Orchestrator.Backend == "" {
		cfg.Orchestrator.Backend = "claude"
	}
	if cfg.Orchestrator.Model == "" {
		cfg.Orchestrator.Model = "opus"
	}
	if cfg.Orchestrator.FallbackModel == "" {
		cfg.Orchestrator.FallbackModel = "sonnet"
	}
	if cfg.Orchestrator.MaxCycles == 0 {
		cfg.Orchestrator.MaxCycles = 5
	}
	if cfg.Orchestrator.MaxExchanges == 0 {
		cfg.Orchestrator.MaxExchanges = 30
	}

	// Retry defaults
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = 5
	}
	if cfg.Retry.InitialDelay == 0 {
		cfg.Retry.InitialDelay = time.Second
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry.Multiplier = 2
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = 32 * time.Second
	}

	// Concurrency defaults
	if cfg.Concurrency.Workers == 0 {
		cfg.Concurrency.Workers = 4
	}
	if cfg.Concurrency.RAMPerWorkerMB == 0 {
		cfg.Concurrency.RAMPerWorkerMB = 600
	}

	// Agent defaults
	if len(cfg.Agents) == 0 {
		cfg.Agents = DefaultAgents()
	}
	for i := range cfg.Agents {
		a := &cfg.Agents[i]
		if a.Backend == "" {
			a.Backend = cfg.Orchestrator.Backend
		}
		if a.MaxTurns == 0 {
			a.MaxTurns = 15
		}
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
}
