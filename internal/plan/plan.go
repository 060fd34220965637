// Package plan loads staged goal plans.
package plan

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileName is the plan file inside the project's .kodo directory.
const FileName = "goal-plan.json"

// Stage is one step of a GoalPlan.
type Stage struct {
	// Index is 1-based.
	Index              int
	Name               string
	Description        string
	AcceptanceCriteria string
	BrowserTesting     bool
}

// GoalPlan is an ordered list of stages sharing architectural context.
type GoalPlan struct {
	Context string
	Stages  []Stage
}

// Path returns the plan file location for projectDir.
func Path(projectDir string) string {
	return filepath.Join(projectDir, ".kodo", FileName)
}

type rawStage struct {
	Index              *int    `yaml:"index"`
	Name               string  `yaml:"name"`
	Description        string  `yaml:"description"`
	AcceptanceCriteria *string `yaml:"acceptance_criteria"`
	BrowserTesting     bool    `yaml:"browser_testing"`
}

type rawPlan struct {
	Context string      `yaml:"context"`
	Stages  []yaml.Node `yaml:"stages"`
}

// Load reads the plan for projectDir. A missing file, or a plan without
// context or usable stages, returns nil with no error.
func Load(projectDir string) (*GoalPlan, error) {
	data, err := os.ReadFile(Path(projectDir))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading goal plan: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if len(p.Stages) == 0 {
		return nil, nil
	}
	return p, nil
}

// Parse decodes a plan. Malformed stages are skipped. A plan without
// context has no stages.
func Parse(data []byte) (*GoalPlan, error) {
	var raw rawPlan
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing goal plan: %w", err)
	}
	p := &GoalPlan{Context: raw.Context}
	if raw.Context == "" {
		return p, nil
	}
	for i := range raw.Stages {
		var s rawStage
		if err := raw.Stages[i].Decode(&s); err != nil {
			continue
		}
		if s.Name == "" || s.Description == "" || s.AcceptanceCriteria == nil {
			continue
		}
		idx := len(p.Stages) + 1
		if s.Index != nil && *s.Index > 0 {
			idx = *s.Index
		}
		p.Stages = append(p.Stages, Stage{
			Index:              idx,
			Name:               s.Name,
			Description:        s.Description,
			AcceptanceCriteria: *s.AcceptanceCriteria,
			BrowserTesting:     s.BrowserTesting,
		})
	}
	return p, nil
}
