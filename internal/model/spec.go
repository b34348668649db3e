package model

import (
	"fmt"
	"sort"
	"strings"

	"openeconomy/internal/domain"
)

const (
	metricsPlaceholder    = "{metrics}"
	constraintPlaceholder = "{constraint}"
)

// Spec is the identity-keyed catalog of a model. Ids are stable; labels may be
// replaced through the Rename methods, which swap whole values and never
// mutate an entry in place.
//
// Spec is not safe for concurrent mutation and reads. Callers sharing one
// across goroutines must serialize renames themselves.
type Spec struct {
	parameters  map[string]Parameter
	rules       map[string]Rule
	constraints map[string]Constraint
	metrics     map[string]Metric
	tradeoffs   map[string]TradeOff
	// trade-off enumeration follows insertion order
	tradeoffOrder []string
}

// New returns an empty Spec.
func New() *Spec {
	return &Spec{
		parameters:  make(map[string]Parameter),
		rules:       make(map[string]Rule),
		constraints: make(map[string]Constraint),
		metrics:     make(map[string]Metric),
		tradeoffs:   make(map[string]TradeOff),
	}
}

func (s *Spec) AddParameter(p Parameter) error {
	_, exists := s.parameters[p.ID]
	if err := checkNew("parameter", p.ID, exists); err != nil {
		return err
	}
	s.parameters[p.ID] = p
	return nil
}

func (s *Spec) AddRule(r Rule) error {
	_, exists := s.rules[r.ID]
	if err := checkNew("rule", r.ID, exists); err != nil {
		return err
	}
	if r.Evaluate == nil {
		return fmt.Errorf("rule %s has no evaluator", r.ID)
	}
	r.Parameters = append([]string(nil), r.Parameters...)
	s.rules[r.ID] = r
	return nil
}

func (s *Spec) AddConstraint(c Constraint) error {
	_, exists := s.constraints[c.ID]
	if err := checkNew("constraint", c.ID, exists); err != nil {
		return err
	}
	if c.Evaluate == nil {
		return fmt.Errorf("constraint %s has no evaluator", c.ID)
	}
	c.Parameters = append([]string(nil), c.Parameters...)
	s.constraints[c.ID] = c
	return nil
}

func (s *Spec) AddMetric(m Metric) error {
	_, exists := s.metrics[m.ID]
	if err := checkNew("metric", m.ID, exists); err != nil {
		return err
	}
	s.metrics[m.ID] = m
	return nil
}

func (s *Spec) AddTradeOff(t TradeOff) error {
	_, exists := s.tradeoffs[t.ID]
	if err := checkNew("trade-off", t.ID, exists); err != nil {
		return err
	}
	t.Metrics = append([]string(nil), t.Metrics...)
	s.tradeoffs[t.ID] = t
	s.tradeoffOrder = append(s.tradeoffOrder, t.ID)
	return nil
}

func checkNew(kind, id string, exists bool) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%s id is required", kind)
	}
	if exists {
		return fmt.Errorf("%s %s: %w", kind, id, ErrDuplicate)
	}
	return nil
}

// Rule resolves a rule for execution.
func (s *Spec) Rule(id string) (Rule, error) {
	r, ok := s.rules[id]
	if !ok {
		return Rule{}, notFound("rule", id)
	}
	return r, nil
}

// Constraint resolves a constraint for execution.
func (s *Spec) Constraint(id string) (Constraint, error) {
	c, ok := s.constraints[id]
	if !ok {
		return Constraint{}, notFound("constraint", id)
	}
	return c, nil
}

func (s *Spec) Parameter(id string) (Parameter, bool) {
	p, ok := s.parameters[id]
	return p, ok
}

func (s *Spec) Metric(id string) (Metric, bool) {
	m, ok := s.metrics[id]
	return m, ok
}

func (s *Spec) TradeOff(id string) (TradeOff, bool) {
	t, ok := s.tradeoffs[id]
	return t, ok
}

func (s *Spec) RenameParameter(id, label string) error {
	p, ok := s.parameters[id]
	if !ok {
		return notFound("parameter", id)
	}
	s.parameters[id] = Parameter{ID: p.ID, Label: label, Description: p.Description, Unit: p.Unit}
	return nil
}

func (s *Spec) RenameRule(id, label string) error {
	r, ok := s.rules[id]
	if !ok {
		return notFound("rule", id)
	}
	s.rules[id] = Rule{
		ID:          r.ID,
		Label:       label,
		FormulaText: r.FormulaText,
		Evaluate:    r.Evaluate,
		Parameters:  r.Parameters,
	}
	return nil
}

func (s *Spec) RenameConstraint(id, label string) error {
	c, ok := s.constraints[id]
	if !ok {
		return notFound("constraint", id)
	}
	s.constraints[id] = Constraint{
		ID:             c.ID,
		Label:          label,
		FormulaText:    c.FormulaText,
		Evaluate:       c.Evaluate,
		Parameters:     c.Parameters,
		ReasonTemplate: c.ReasonTemplate,
	}
	return nil
}

func (s *Spec) RenameMetric(id, label string) error {
	m, ok := s.metrics[id]
	if !ok {
		return notFound("metric", id)
	}
	s.metrics[id] = Metric{ID: m.ID, Label: label, Description: m.Description}
	return nil
}

// Rename dispatches to the rename method matching kind.
func (s *Spec) Rename(kind domain.ReferenceKind, id, label string) error {
	switch kind {
	case domain.RefParameter:
		return s.RenameParameter(id, label)
	case domain.RefRule:
		return s.RenameRule(id, label)
	case domain.RefConstraint:
		return s.RenameConstraint(id, label)
	case domain.RefMetric:
		return s.RenameMetric(id, label)
	default:
		return fmt.Errorf("cannot rename %q: unsupported reference kind", kind)
	}
}

// DescribeParameter returns "<label> [<unit>]", the bare label when the unit
// is empty, or id itself when the parameter is unknown.
func (s *Spec) DescribeParameter(id string) string {
	p, ok := s.parameters[id]
	if !ok {
		return id
	}
	if p.Unit != "" {
		return fmt.Sprintf("%s [%s]", p.Label, p.Unit)
	}
	return p.Label
}

func (s *Spec) DescribeRule(id string) string {
	if r, ok := s.rules[id]; ok {
		return r.Label
	}
	return id
}

func (s *Spec) DescribeConstraint(id string) string {
	if c, ok := s.constraints[id]; ok {
		return c.Label
	}
	return id
}

func (s *Spec) DescribeMetric(id string) string {
	if m, ok := s.metrics[id]; ok {
		return m.Label
	}
	return id
}

// DescribeReference resolves a label by kind. Unknown kinds echo the id.
func (s *Spec) DescribeReference(kind domain.ReferenceKind, id string) string {
	switch kind {
	case domain.RefRule:
		return s.DescribeRule(id)
	case domain.RefParameter:
		return s.DescribeParameter(id)
	case domain.RefConstraint:
		return s.DescribeConstraint(id)
	case domain.RefMetric:
		return s.DescribeMetric(id)
	default:
		return id
	}
}

// ParameterLabels resolves each id in order.
func (s *Spec) ParameterLabels(ids []string) []string {
	labels := make([]string, 0, len(ids))
	for _, id := range ids {
		labels = append(labels, s.DescribeParameter(id))
	}
	return labels
}

// TradeOffNarrative renders a trade-off with the current metric labels.
func (s *Spec) TradeOffNarrative(id string) string {
	t, ok := s.tradeoffs[id]
	if !ok {
		return id
	}
	labels := make([]string, 0, len(t.Metrics))
	for _, metricID := range t.Metrics {
		labels = append(labels, s.DescribeMetric(metricID))
	}
	joined := strings.Join(labels, ", ")
	if t.NarrativeTemplate == "" {
		return "Trade-off between " + joined
	}
	return strings.ReplaceAll(t.NarrativeTemplate, metricsPlaceholder, joined)
}

// ConstraintReason renders the reason template of a constraint, or "" when it
// has none.
func (s *Spec) ConstraintReason(id string) string {
	c, ok := s.constraints[id]
	if !ok || c.ReasonTemplate == "" {
		return ""
	}
	return strings.ReplaceAll(c.ReasonTemplate, constraintPlaceholder, c.Label)
}

// TradeOffIDs lists trade-offs in insertion order.
func (s *Spec) TradeOffIDs() []string {
	return append([]string(nil), s.tradeoffOrder...)
}

func (s *Spec) Parameters() []Parameter {
	out := make([]Parameter, 0, len(s.parameters))
	for _, p := range s.parameters {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Spec) Rules() []Rule {
	out := make([]Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Spec) Constraints() []Constraint {
	out := make([]Constraint, 0, len(s.constraints))
	for _, c := range s.constraints {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Spec) Metrics() []Metric {
	out := make([]Metric, 0, len(s.metrics))
	for _, m := range s.metrics {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Clone returns a snapshot whose catalogs can be renamed independently.
func (s *Spec) Clone() *Spec {
	out := New()
	for k, v := range s.parameters {
		out.parameters[k] = v
	}
	for k, v := range s.rules {
		out.rules[k] = v
	}
	for k, v := range s.constraints {
		out.constraints[k] = v
	}
	for k, v := range s.metrics {
		out.metrics[k] = v
	}
	for k, v := range s.tradeoffs {
		out.tradeoffs[k] = v
	}
	out.tradeoffOrder = append([]string(nil), s.tradeoffOrder...)
	return out
}
