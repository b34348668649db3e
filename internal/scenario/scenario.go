package scenario

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"openeconomy/internal/domain"
	"openeconomy/internal/engine"
	"openeconomy/internal/formula"
	"openeconomy/internal/model"
)

// ErrInvalid marks documents that fail to parse or validate.
var ErrInvalid = errors.New("invalid scenario")

// Scenario models a scenario YAML file: a model catalog, the starting state
// and the ordered acts with their rule bindings.
type Scenario struct {
	Name         string         `yaml:"name"`
	Description  string         `yaml:"description"`
	Model        Catalog        `yaml:"model"`
	InitialState map[string]any `yaml:"initial_state"`
	Acts         []ActDoc       `yaml:"acts"`
}

type Catalog struct {
	Parameters  []model.Parameter `yaml:"parameters"`
	Rules       []RuleDoc         `yaml:"rules"`
	Constraints []ConstraintDoc   `yaml:"constraints"`
	Metrics     []model.Metric    `yaml:"metrics"`
	TradeOffs   []TradeOffDoc     `yaml:"tradeoffs"`
}

type RuleDoc struct {
	ID         string   `yaml:"id"`
	Label      string   `yaml:"label"`
	Formula    string   `yaml:"formula"`
	Script     string   `yaml:"script"`
	Parameters []string `yaml:"parameters"`
}

type ConstraintDoc struct {
	ID         string   `yaml:"id"`
	Label      string   `yaml:"label"`
	Formula    string   `yaml:"formula"`
	Script     string   `yaml:"script"`
	Parameters []string `yaml:"parameters"`
	Reason     string   `yaml:"reason"`
}

type TradeOffDoc struct {
	ID        string   `yaml:"id"`
	Metrics   []string `yaml:"metrics"`
	Narrative string   `yaml:"narrative"`
}

type ActDoc struct {
	ID          string         `yaml:"id"`
	Type        string         `yaml:"type"`
	Description string         `yaml:"description"`
	Payload     map[string]any `yaml:"payload"`
	Rule        string         `yaml:"rule"`
	Constraints []string       `yaml:"constraints"`
}

// Compiled is a scenario ready to run.
type Compiled struct {
	Name    string
	Spec    *model.Spec
	Acts    []domain.Act
	Initial domain.State
	Rules   engine.RuleMap
}

// Parse decodes and validates scenario YAML.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: yaml: %w", ErrInvalid, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// FromFile reads a scenario from path.
func FromFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Load parses and compiles in one step.
func Load(data []byte) (*Compiled, error) {
	s, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return s.Compile()
}

// Validate checks the act list. Catalog problems surface from Compile.
func (s *Scenario) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if len(s.Acts) == 0 {
		return fmt.Errorf("%w: acts is empty", ErrInvalid)
	}
	seen := map[string]bool{}
	for i, a := range s.Acts {
		if strings.TrimSpace(a.ID) == "" {
			return fmt.Errorf("%w: act %d has empty id", ErrInvalid, i)
		}
		if seen[a.ID] {
			return fmt.Errorf("%w: duplicate act id %s", ErrInvalid, a.ID)
		}
		seen[a.ID] = true
		if a.Rule == "" {
			return fmt.Errorf("%w: act %s has no rule", ErrInvalid, a.ID)
		}
	}
	return nil
}

// Compile builds the registry, compiling every formula, and the act list.
// Rule and constraint ids referenced by acts are resolved when the run
// executes, not here.
func (s *Scenario) Compile() (*Compiled, error) {
	spec := model.New()
	for _, p := range s.Model.Parameters {
		if err := spec.AddParameter(p); err != nil {
			return nil, err
		}
	}
	for _, r := range s.Model.Rules {
		eval, err := formula.CompileRule(r.Formula, r.Script)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.ID, err)
		}
		if err := spec.AddRule(model.Rule{
			ID:          r.ID,
			Label:       r.Label,
			FormulaText: formulaText(r.Formula, r.Script),
			Evaluate:    eval,
			Parameters:  r.Parameters,
		}); err != nil {
			return nil, err
		}
	}
	for _, c := range s.Model.Constraints {
		eval, err := formula.CompileConstraint(c.Formula, c.Script)
		if err != nil {
			return nil, fmt.Errorf("constraint %s: %w", c.ID, err)
		}
		if err := spec.AddConstraint(model.Constraint{
			ID:             c.ID,
			Label:          c.Label,
			FormulaText:    formulaText(c.Formula, c.Script),
			Evaluate:       eval,
			Parameters:     c.Parameters,
			ReasonTemplate: c.Reason,
		}); err != nil {
			return nil, err
		}
	}
	for _, m := range s.Model.Metrics {
		if err := spec.AddMetric(m); err != nil {
			return nil, err
		}
	}
	for _, t := range s.Model.TradeOffs {
		if err := spec.AddTradeOff(model.TradeOff{ID: t.ID, Metrics: t.Metrics, NarrativeTemplate: t.Narrative}); err != nil {
			return nil, err
		}
	}

	acts := make([]domain.Act, 0, len(s.Acts))
	rules := engine.RuleMap{}
	for _, a := range s.Acts {
		acts = append(acts, domain.NewAct(a.ID, a.Type, a.Description, a.Payload))
		rules[a.ID] = engine.Binding{RuleID: a.Rule, Constraints: append([]string(nil), a.Constraints...)}
	}
	return &Compiled{
		Name:    s.Name,
		Spec:    spec,
		Acts:    acts,
		Initial: domain.State(s.InitialState).Clone(),
		Rules:   rules,
	}, nil
}

// formulaText is the text that actually runs: the script when one is given,
// as in formula.CompileRule.
func formulaText(formulaSrc, script string) string {
	if strings.TrimSpace(script) != "" {
		return strings.TrimSpace(script)
	}
	return strings.TrimSpace(formulaSrc)
}
