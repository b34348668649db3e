package formula

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"openeconomy/internal/domain"
)

func TestRuleFormulaAssignments(t *testing.T) {
	eval, err := CompileRule("profit = revenue - cost\nmargin_intermediate = profit / revenue", "")
	require.NoError(t, err)

	update, err := eval(domain.State{"revenue": 10, "cost": 4}, nil)
	require.NoError(t, err)
	require.Equal(t, domain.State{"profit": 6.0, "margin_intermediate": 0.6}, update)
}

func TestRuleFormulaSeesPayloadAndStateTable(t *testing.T) {
	eval, err := CompileRule("cost = state.cost + act.amount", "")
	require.NoError(t, err)

	update, err := eval(domain.State{"cost": 1.5}, domain.Payload{"amount": 2})
	require.NoError(t, err)
	require.Equal(t, 3.5, update["cost"])
}

func TestRuleScript(t *testing.T) {
	script := `
local total = 0
for _, v in ipairs(act.items) do total = total + v end
return { spent = total, label = string.upper(act.name), tags = { "a", "b" }, flag = total > 3 }
`
	eval, err := CompileRule("", script)
	require.NoError(t, err)

	update, err := eval(domain.State{}, domain.Payload{"items": []any{1, 2, 3}, "name": "ops"})
	require.NoError(t, err)
	require.Equal(t, 6.0, update["spent"])
	require.Equal(t, "OPS", update["label"])
	require.Equal(t, []any{"a", "b"}, update["tags"])
	require.Equal(t, true, update["flag"])
}

func TestRuleCompileErrors(t *testing.T) {
	for name, text := range map[string]string{
		"empty":      "  ",
		"no target":  "revenue - cost",
		"comparison": "profit == cost",
		"reserved":   "state = 1",
		"syntax":     "profit = (revenue -",
	} {
		_, err := CompileRule(text, "")
		require.Error(t, err, name)
	}
}

func TestRuleRuntimeErrorIsReturned(t *testing.T) {
	eval, err := CompileRule("profit = revenue.amount", "")
	require.NoError(t, err)
	_, err = eval(domain.State{}, nil)
	require.Error(t, err)
	require.True(t, strings.HasPrefix(err.Error(), "evaluate formula:"))
}

func TestRuleScriptMustReturnTable(t *testing.T) {
	eval, err := CompileRule("", "return 1")
	require.NoError(t, err)
	_, err = eval(domain.State{}, nil)
	require.EqualError(t, err, "rule must return a table, got number")
}

func TestConstraintFormula(t *testing.T) {
	eval, err := CompileConstraint("revenue >= cost", "")
	require.NoError(t, err)

	ok, err := eval(domain.State{"revenue": 10, "cost": 4}, nil)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = eval(domain.State{"revenue": 2, "cost": 6}, nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestConstraintMustBeBoolean(t *testing.T) {
	eval, err := CompileConstraint("revenue", "")
	require.NoError(t, err)
	_, err = eval(domain.State{"revenue": 1}, nil)
	require.EqualError(t, err, "constraint must return a boolean, got number")

	_, err = CompileConstraint("", "")
	require.Error(t, err)
}

func TestEvaluationDoesNotTouchInputs(t *testing.T) {
	eval, err := CompileRule("", "state.cost = 99; act.x = 1; return {}")
	require.NoError(t, err)
	state := domain.State{"cost": 1}
	payload := domain.Payload{}
	_, err = eval(state, payload)
	require.NoError(t, err)
	require.Equal(t, 1, state["cost"])
	require.Empty(t, payload)
}

func TestScriptsCannotReachHostFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret.lua")
	require.NoError(t, os.WriteFile(path, []byte("return { leaked = 'top-secret' }"), 0o644))

	eval, err := CompileRule("", "return dofile('"+filepath.ToSlash(path)+"')")
	require.NoError(t, err)
	_, err = eval(domain.State{}, nil)
	require.ErrorContains(t, err, "evaluate formula")

	eval, err = CompileRule("", `return { dofile = type(dofile), loadfile = type(loadfile), load = type(load), require = type(require) }`)
	require.NoError(t, err)
	update, err := eval(domain.State{}, nil)
	require.NoError(t, err)
	for _, name := range []string{"dofile", "loadfile", "load", "require"} {
		require.Equal(t, "nil", update[name], name)
	}
}
