package model_test

import (
	"errors"
	"testing"

	"openeconomy/internal/domain"
	"openeconomy/internal/model"
)

func noopRule(domain.State, domain.Payload) (domain.State, error) { return domain.State{}, nil }

func newSpec(t *testing.T) *model.Spec {
	t.Helper()
	spec := model.New()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("assemble spec: %v", err)
		}
	}
	must(spec.AddParameter(model.Parameter{ID: "profit", Label: "Profit", Unit: "credits"}))
	must(spec.AddParameter(model.Parameter{ID: "cost", Label: "Cost"}))
	must(spec.AddRule(model.Rule{ID: "compute_profit", Label: "Compute Profit", FormulaText: "profit = revenue - cost", Evaluate: noopRule, Parameters: []string{"profit"}}))
	must(spec.AddConstraint(model.Constraint{
		ID: "budget_guard", Label: "Budget Guard", FormulaText: "revenue >= cost",
		Evaluate:       func(domain.State, domain.Payload) (bool, error) { return true, nil },
		ReasonTemplate: "{constraint} requires revenue to cover cost",
	}))
	must(spec.AddMetric(model.Metric{ID: "equity", Label: "Equity"}))
	must(spec.AddMetric(model.Metric{ID: "growth", Label: "Growth"}))
	must(spec.AddTradeOff(model.TradeOff{ID: "t1", Metrics: []string{"growth", "equity"}, NarrativeTemplate: "Pushing {metrics} apart"}))
	must(spec.AddTradeOff(model.TradeOff{ID: "t0", Metrics: []string{"equity", "gone"}}))
	return spec
}

func TestDescribeParameterUnitSuffix(t *testing.T) {
	spec := newSpec(t)
	if got := spec.DescribeParameter("profit"); got != "Profit [credits]" {
		t.Fatalf("unexpected description %q", got)
	}
	if got := spec.DescribeParameter("cost"); got != "Cost" {
		t.Fatalf("unexpected description %q", got)
	}
}

func TestDescribeFallsBackToRawID(t *testing.T) {
	spec := newSpec(t)
	cases := map[string]string{
		"parameter":  spec.DescribeParameter("missing"),
		"rule":       spec.DescribeRule("missing"),
		"constraint": spec.DescribeConstraint("missing"),
		"metric":     spec.DescribeMetric("missing"),
		"tradeoff":   spec.TradeOffNarrative("missing"),
		"reference":  spec.DescribeReference("bogus-kind", "missing"),
	}
	for name, got := range cases {
		if got != "missing" {
			t.Fatalf("%s: expected raw id, got %q", name, got)
		}
	}
}

func TestDescribeReferenceDispatch(t *testing.T) {
	spec := newSpec(t)
	if got := spec.DescribeReference(domain.RefParameter, "profit"); got != "Profit [credits]" {
		t.Fatalf("parameter: %q", got)
	}
	if got := spec.DescribeReference(domain.RefRule, "compute_profit"); got != "Compute Profit" {
		t.Fatalf("rule: %q", got)
	}
	if got := spec.DescribeReference(domain.RefConstraint, "budget_guard"); got != "Budget Guard" {
		t.Fatalf("constraint: %q", got)
	}
	if got := spec.DescribeReference(domain.RefMetric, "growth"); got != "Growth" {
		t.Fatalf("metric: %q", got)
	}
}

func TestRenameReplacesLabelOnly(t *testing.T) {
	spec := newSpec(t)
	if err := spec.RenameParameter("profit", "Care-Debt"); err != nil {
		t.Fatal(err)
	}
	p, ok := spec.Parameter("profit")
	if !ok || p.Label != "Care-Debt" || p.Unit != "credits" {
		t.Fatalf("unexpected parameter after rename: %+v", p)
	}
	if err := spec.RenameRule("compute_profit", "Compute Care-Debt"); err != nil {
		t.Fatal(err)
	}
	r, err := spec.Rule("compute_profit")
	if err != nil {
		t.Fatal(err)
	}
	if r.Label != "Compute Care-Debt" || r.FormulaText != "profit = revenue - cost" || r.Evaluate == nil {
		t.Fatalf("unexpected rule after rename: %+v", r)
	}
	if err := spec.RenameMetric("growth", "Expansion"); err != nil {
		t.Fatal(err)
	}
	if got := spec.TradeOffNarrative("t1"); got != "Pushing Expansion, Equity apart" {
		t.Fatalf("narrative after metric rename: %q", got)
	}
}

func TestRenameUnknownIsNotFound(t *testing.T) {
	spec := newSpec(t)
	for _, err := range []error{
		spec.RenameParameter("nope", "x"),
		spec.RenameRule("nope", "x"),
		spec.RenameMetric("nope", "x"),
		spec.RenameConstraint("nope", "x"),
		spec.Rename(domain.RefParameter, "nope", "x"),
	} {
		if !errors.Is(err, model.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	}
	var nf model.NotFoundError
	if err := spec.RenameRule("nope", "x"); !errors.As(err, &nf) || nf.Kind != "rule" || nf.ID != "nope" {
		t.Fatalf("expected typed not found for rule, got %v", err)
	}
	if err := spec.Rename("widget", "profit", "x"); err == nil || errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected unsupported kind error, got %v", err)
	}
}

func TestTradeOffNarrativeDefaultsAndOrder(t *testing.T) {
	spec := newSpec(t)
	if got := spec.TradeOffNarrative("t0"); got != "Trade-off between Equity, gone" {
		t.Fatalf("unexpected default narrative %q", got)
	}
	ids := spec.TradeOffIDs()
	if len(ids) != 2 || ids[0] != "t1" || ids[1] != "t0" {
		t.Fatalf("expected insertion order, got %v", ids)
	}
}

func TestAssemblyRejectsDuplicatesAndBlankIDs(t *testing.T) {
	spec := newSpec(t)
	if err := spec.AddParameter(model.Parameter{ID: "profit", Label: "Again"}); !errors.Is(err, model.ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if err := spec.AddMetric(model.Metric{ID: " "}); err == nil {
		t.Fatalf("expected blank id error")
	}
	if err := spec.AddRule(model.Rule{ID: "no_eval"}); err == nil {
		t.Fatalf("expected missing evaluator error")
	}
}

func TestResolveForExecutionFailsHard(t *testing.T) {
	spec := newSpec(t)
	if _, err := spec.Rule("missing"); !errors.Is(err, model.ErrNotFound) || err.Error() != "unknown rule: missing" {
		t.Fatalf("unexpected rule error %v", err)
	}
	if _, err := spec.Constraint("missing"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("unexpected constraint error %v", err)
	}
}

func TestParameterLabelsAndReason(t *testing.T) {
	spec := newSpec(t)
	labels := spec.ParameterLabels([]string{"cost", "missing", "profit"})
	want := []string{"Cost", "missing", "Profit [credits]"}
	for i := range want {
		if labels[i] != want[i] {
			t.Fatalf("label %d: got %q want %q", i, labels[i], want[i])
		}
	}
	if got := spec.ConstraintReason("budget_guard"); got != "Budget Guard requires revenue to cover cost" {
		t.Fatalf("unexpected reason %q", got)
	}
	if got := spec.ConstraintReason("missing"); got != "" {
		t.Fatalf("expected empty reason, got %q", got)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	spec := newSpec(t)
	snap := spec.Clone()
	if err := spec.RenameParameter("profit", "Care-Debt"); err != nil {
		t.Fatal(err)
	}
	if got := snap.DescribeParameter("profit"); got != "Profit [credits]" {
		t.Fatalf("snapshot changed with original: %q", got)
	}
	if len(snap.Parameters()) != 2 || len(snap.Rules()) != 1 || len(snap.Constraints()) != 1 || len(snap.Metrics()) != 2 {
		t.Fatalf("snapshot lost entries")
	}
}
