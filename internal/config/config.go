package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes environment overrides. Nested keys use a double
// underscore: KODO_ORCHESTRATOR__MAX_CYCLES -> orchestrator.max_cycles.
const EnvPrefix = "KODO_"

// FileName is the default config file inside a project.
const FileName = "kodo.yaml"

// Config represents the full kodo.yaml configuration.
type Config struct {
	SchemaVersion int                `koanf:"schema_version"`
	Project       ProjectConfig      `koanf:"project"`
	Orchestrator  OrchestratorConfig `koanf:"orchestrator"`
	Retry         RetryConfig        `koanf:"retry"`
	Concurrency   ConcurrencyConfig  `koanf:"concurrency"`
	Agents        []AgentConfig      `koanf:"agents"`
	Verification  VerificationConfig `koanf:"verification"`
	Logging       LoggingConfig      `koanf:"logging"`
	Metrics       MetricsConfig      `koanf:"metrics"`
}

type ProjectConfig struct {
	Name string `koanf:"name"`
	Dir  string `koanf:"dir"`
}

type OrchestratorConfig struct {
	// Backend is the CLI binary that runs the conductor and agents.
	Backend       string  `koanf:"backend"`
	Model         string  `koanf:"model"`
	FallbackModel string  `koanf:"fallback_model"`
	MaxCycles     int     `koanf:"max_cycles"`
	MaxExchanges  int     `koanf:"max_exchanges"`
	MaxRunCostUSD float64 `koanf:"max_run_cost_usd"`
}

type RetryConfig struct {
	MaxRetries   int           `koanf:"max_retries"`
	InitialDelay time.Duration `koanf:"initial_delay"`
	Multiplier   float64       `koanf:"multiplier"`
	MaxDelay     time.Duration `koanf:"max_delay"`
	Patterns     []string      `koanf:"patterns"`
}

type ConcurrencyConfig struct {
	Workers        int  `koanf:"workers"`
	Adaptive       bool `koanf:"adaptive"`
	RAMPerWorkerMB int  `koanf:"ram_per_worker_mb"`
}

type AgentConfig struct {
	Name         string        `koanf:"name"`
	Role         string        `koanf:"role"`
	Backend      string        `koanf:"backend"`
	Model        string        `koanf:"model"`
	SystemPrompt string        `koanf:"system_prompt"`
	MaxTurns     int           `koanf:"max_turns"`
	Timeout      time.Duration `koanf:"timeout"`
	Checkpoint   *bool         `koanf:"checkpoint"`
	ExtraArgs    []string      `koanf:"extra_args"`
}

// Checkpointing reports whether the agent saves checkpoints. It defaults to on.
func (a AgentConfig) Checkpointing() bool {
	return a.Checkpoint == nil || *a.Checkpoint
}

type VerificationConfig struct {
	BrowserTesting bool `koanf:"browser_testing"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type MetricsConfig struct {
	// Textfile, when set, receives a prometheus text dump at exit.
	Textfile string `koanf:"textfile"`
}

// Load reads and parses a kodo.yaml file, applying env overrides, defaults
// and validation. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses raw YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	return parse(data, true)
}

func parse(data []byte, withEnv bool) (*Config, error) {
	if err := Migrate(data); err != nil {
		return nil, err
	}

	k := koanf.New(".")
	if len(data) > 0 {
		if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if withEnv {
		if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
			return nil, fmt.Errorf("load environment: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.SchemaVersion = maxSupportedSchemaVersion

	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Agent returns the configuration for the named agent.
func (c *Config) Agent(name string) (AgentConfig, bool) {
	for _, a := range c.Agents {
		if a.Name == name {
			return a, true
		}
	}
	return AgentConfig{}, false
}

// Validate checks a Config for logical errors.
func Validate(cfg *Config) error {
	if cfg.Orchestrator.MaxCycles < 1 {
		return fmt.Errorf("orchestrator.max_cycles must be >= 1, got %d", cfg.Orchestrator.MaxCycles)
	}
	if cfg.Orchestrator.MaxExchanges < 1 {
		return fmt.Errorf("orchestrator.max_exchanges must be >= 1, got %d", cfg.Orchestrator.MaxExchanges)
	}
	if cfg.Orchestrator.MaxRunCostUSD < 0 {
		return fmt.Errorf("orchestrator.max_run_cost_usd must be >= 0")
	}

	if cfg.Concurrency.Workers < 1 || cfg.Concurrency.Workers > 16 {
		return fmt.Errorf("concurrency.workers must be 1-16, got %d", cfg.Concurrency.Workers)
	}

	if cfg.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0, got %d", cfg.Retry.MaxRetries)
	}
	if cfg.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be >= 1, got %g", cfg.Retry.Multiplier)
	}
	if cfg.Retry.MaxDelay < cfg.Retry.InitialDelay {
		return fmt.Errorf("retry.max_delay %v is below retry.initial_delay %v", cfg.Retry.MaxDelay, cfg.Retry.InitialDelay)
	}

	if len(cfg.Agents) == 0 {
		return fmt.Errorf("at least one agent is required")
	}
	seen := make(map[string]bool, len(cfg.Agents))
	for i, a := range cfg.Agents {
		if !validAgentName.MatchString(a.Name) {
			return fmt.Errorf("agents[%d]: invalid name %q", i, a.Name)
		}
		if seen[a.Name] {
			return fmt.Errorf("agents[%d]: duplicate name %q", i, a.Name)
		}
		seen[a.Name] = true
		if a.MaxTurns < 1 {
			return fmt.Errorf("agents.%s.max_turns must be >= 1, got %d", a.Name, a.MaxTurns)
		}
		if a.Timeout < 0 {
			return fmt.Errorf("agents.%s.timeout must be >= 0", a.Name)
		}
	}

	switch cfg.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", cfg.Logging.Format)
	}
	return nil
}

var validAgentName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
