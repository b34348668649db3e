package scenario

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"openeconomy/internal/domain"
	"openeconomy/internal/engine"
	"openeconomy/internal/model"
	"openeconomy/internal/reasoning"
)

func TestExampleRunsEndToEnd(t *testing.T) {
	compiled, err := Load([]byte(Example))
	require.NoError(t, err)
	require.Equal(t, "care-cooperative", compiled.Name)
	require.Len(t, compiled.Acts, 4)
	require.Equal(t, engine.Binding{RuleID: "spend", Constraints: []string{"budget_guard", "care_floor"}}, compiled.Rules["act-3"])

	rec, err := engine.New(compiled.Spec).Run(compiled.Acts, compiled.Initial, compiled.Rules)
	require.NoError(t, err)
	entries := rec.Entries()
	require.Len(t, entries, 4)

	require.Equal(t, domain.StatusApplied, entries[0].Status)
	require.Equal(t, 6.0, entries[0].StateAfter["profit"])
	require.InDelta(t, 0.6, entries[0].Intermediate["margin_intermediate"], 1e-9)

	require.Equal(t, 11.0, entries[1].StateAfter["care_hours"])
	require.Equal(t, 6.5, entries[1].StateAfter["cost"])

	require.Equal(t, domain.StatusBlocked, entries[2].Status)
	require.Equal(t, []string{"budget_guard"}, entries[2].ConstraintsBlocking)
	require.Equal(t, []string{"budget_guard", "care_floor"}, entries[2].ConstraintsEvaluated)

	require.Equal(t, domain.StatusApplied, entries[3].Status)
	require.Equal(t, 3.5, entries[3].StateAfter["profit"])

	blocked := reasoning.New(rec, compiled.Spec).BlockedActs()
	require.Len(t, blocked, 1)
	require.Equal(t, []string{"Budget Guard keeps spending within revenue"}, blocked[0].Reasons)
}

func TestFormulaTextIsKeptForPresentation(t *testing.T) {
	compiled, err := Load([]byte(Example))
	require.NoError(t, err)
	r, err := compiled.Spec.Rule("compute_profit")
	require.NoError(t, err)
	require.Equal(t, "profit = revenue - cost\nmargin_intermediate = profit / revenue", r.FormulaText)
	r, err = compiled.Spec.Rule("invest_care")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(r.FormulaText, "local hours"))
}

func TestScriptTextIsRecordedWhenBothAreGiven(t *testing.T) {
	doc := `name: x
model:
  rules:
    - id: r
      label: R
      formula: profit = 1
      script: "return { profit = 2 }"
acts: [{id: a, rule: r}]
`
	compiled, err := Load([]byte(doc))
	require.NoError(t, err)
	rec, err := engine.New(compiled.Spec).Run(compiled.Acts, compiled.Initial, compiled.Rules)
	require.NoError(t, err)
	entry := rec.Entries()[0]
	require.Equal(t, 2.0, entry.StateAfter["profit"])
	require.Equal(t, "return { profit = 2 }", entry.RuleFormula)
}

func TestUnchangedValueIsNotReportedAsChange(t *testing.T) {
	doc := `name: x
initial_state: {cost: 4}
model:
  rules:
    - {id: r, label: R, formula: "cost = cost + 0"}
acts: [{id: a, rule: r}]
`
	compiled, err := Load([]byte(doc))
	require.NoError(t, err)
	rec, err := engine.New(compiled.Spec).Run(compiled.Acts, compiled.Initial, compiled.Rules)
	require.NoError(t, err)
	entry := rec.Entries()[0]
	require.Empty(t, entry.Changes())
	require.NotContains(t, entry.HumanReadable(compiled.Spec), "cost: 4 -> 4")
}

func TestParseRejectsBadDocuments(t *testing.T) {
	cases := map[string]string{
		"no name":       "acts: [{id: a, rule: r}]",
		"no acts":       "name: x",
		"duplicate act": "name: x\nacts: [{id: a, rule: r}, {id: a, rule: r}]",
		"no rule":       "name: x\nacts: [{id: a}]",
		"bad yaml":      "name: [",
	}
	for name, doc := range cases {
		_, err := Parse([]byte(doc))
		require.ErrorIs(t, err, ErrInvalid, name)
	}
}

func TestCompileSurfacesCatalogErrors(t *testing.T) {
	dup := `name: x
model:
  parameters:
    - {id: p, label: P}
    - {id: p, label: P again}
acts: [{id: a, rule: r}]
`
	_, err := Load([]byte(dup))
	require.True(t, errors.Is(err, model.ErrDuplicate))

	bad := `name: x
model:
  rules:
    - {id: r, label: R, formula: "profit revenue"}
acts: [{id: a, rule: r}]
`
	_, err = Load([]byte(bad))
	require.ErrorContains(t, err, "rule r:")
}

func TestUnknownRuleFailsAtRunTime(t *testing.T) {
	doc := `name: x
model:
  rules:
    - {id: r, label: R, formula: "x = 1"}
acts:
  - {id: a, rule: r}
  - {id: b, rule: missing}
`
	compiled, err := Load([]byte(doc))
	require.NoError(t, err)
	rec, err := engine.New(compiled.Spec).Run(compiled.Acts, compiled.Initial, compiled.Rules)
	require.ErrorIs(t, err, model.ErrNotFound)
	require.Equal(t, 1, rec.Len())
}

func TestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yml")
	require.NoError(t, os.WriteFile(path, []byte(Example), 0o644))
	s, err := FromFile(path)
	require.NoError(t, err)
	require.Len(t, s.Model.Rules, 3)
	require.Equal(t, 10, s.InitialState["revenue"])
}
