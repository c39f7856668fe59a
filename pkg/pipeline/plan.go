package pipeline

import (
	"time"

	"gopkg.in/yaml.v3"

	"github.com/orbitalci/orbital/pkg/types"
)

// Plan is the YAML-authored shape of a project's validation plan: the
// step list of spec.md §4.3, decoded from the validation_config field of
// a pr-validation webhook (see pkg/api).
type Plan struct {
	Steps []PlanStep `yaml:"steps"`
}

// PlanStep is one YAML entry in a Plan. Execution order comes only from
// DependsOn, resolved by step id: a step runs after the steps it names.
// Position in the file does not order steps, and steps with no dependency
// path between them run in no defined order.
type PlanStep struct {
	ID         string            `yaml:"id"`
	Name       string            `yaml:"name"`
	Type       types.StepType    `yaml:"type"`
	Service    string            `yaml:"service"`
	Params     map[string]string `yaml:"params"`
	DependsOn  []string          `yaml:"depends_on"`
	TimeoutSec int               `yaml:"timeout_seconds"`
	Retries    int               `yaml:"retries"`
	Optional   bool              `yaml:"optional"`
}

// ParsePlan decodes a YAML-encoded validation plan.
func ParsePlan(data []byte) (*Plan, error) {
	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// StepDefinitions converts a Plan into the StepDefinition slice the step
// scheduler and pipeline executor operate on, applying defaultStepTimeout
// wherever a step's own timeout is unset.
func (p *Plan) StepDefinitions(defaultStepTimeout time.Duration) []types.StepDefinition {
	out := make([]types.StepDefinition, 0, len(p.Steps))
	for _, s := range p.Steps {
		timeout := defaultStepTimeout
		if s.TimeoutSec > 0 {
			timeout = time.Duration(s.TimeoutSec) * time.Second
		}
		out = append(out, types.StepDefinition{
			ID:        s.ID,
			Name:      s.Name,
			Type:      s.Type,
			Service:   s.Service,
			Params:    s.Params,
			DependsOn: s.DependsOn,
			Timeout:   timeout,
			Retries:   s.Retries,
			Optional:  s.Optional,
		})
	}
	return out
}

// DefaultPlan is the built-in validation plan used when a project supplies
// none of its own: clone, deploy, health-check, then cleanup.
func DefaultPlan() *Plan {
	return &Plan{
		Steps: []PlanStep{
			{ID: "clone", Name: "Clone source", Type: types.StepSourceClone},
			{ID: "deploy", Name: "Deploy", Type: types.StepDeployment, DependsOn: []string{"clone"}},
			{ID: "health", Name: "Health check", Type: types.StepHealthCheck, DependsOn: []string{"deploy"}},
			{ID: "cleanup", Name: "Cleanup", Type: types.StepCleanup, DependsOn: []string{"health"}},
		},
	}
}
