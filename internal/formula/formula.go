// Package formula compiles rule and constraint text into evaluators backed by
// an embedded Lua interpreter.
//
// A rule formula is one assignment per line, `target = expression`; later lines
// see the targets assigned before them. A constraint formula is a single
// boolean expression. Either may instead be given as a full Lua script: a rule
// script returns a table of updates, a constraint script returns a boolean.
//
// Every evaluation runs in a fresh interpreter that sees the state snapshot as
// globals and as the table `state`, and the act payload as the table `act`.
package formula

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Shopify/go-lua"

	"openeconomy/internal/domain"
	"openeconomy/internal/model"
)

var (
	assignment = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_]*)\s*=([^=].*)$`)
	identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// unsafeGlobals are base library functions that reach the host filesystem or
// load code outside the formula.
var unsafeGlobals = []string{"dofile", "loadfile", "load", "loadstring", "require", "collectgarbage"}

var reserved = map[string]bool{
	"and": true, "break": true, "do": true, "else": true, "elseif": true, "end": true,
	"false": true, "for": true, "function": true, "goto": true, "if": true, "in": true,
	"local": true, "nil": true, "not": true, "or": true, "repeat": true, "return": true,
	"then": true, "true": true, "until": true, "while": true,
	"state": true, "act": true,
}

// CompileRule builds a rule evaluator from either a script or formula text.
// The script wins when both are given.
func CompileRule(formulaText, script string) (model.RuleFunc, error) {
	chunk := script
	if strings.TrimSpace(chunk) == "" {
		var err error
		chunk, err = ruleChunk(formulaText)
		if err != nil {
			return nil, err
		}
	}
	if err := checkSyntax(chunk); err != nil {
		return nil, err
	}
	return func(state domain.State, payload domain.Payload) (domain.State, error) {
		l := newState(state, payload)
		if err := run(l, chunk); err != nil {
			return nil, err
		}
		if l.TypeOf(-1) != lua.TypeTable {
			return nil, fmt.Errorf("rule must return a table, got %s", lua.TypeNameOf(l, -1))
		}
		return domain.State(tableToMap(l, -1)), nil
	}, nil
}

// CompileConstraint builds a constraint evaluator from either a script or a
// boolean expression.
func CompileConstraint(formulaText, script string) (model.ConstraintFunc, error) {
	chunk := script
	if strings.TrimSpace(chunk) == "" {
		expr := strings.TrimSpace(formulaText)
		if expr == "" {
			return nil, fmt.Errorf("constraint formula is empty")
		}
		chunk = "return (" + expr + ")"
	}
	if err := checkSyntax(chunk); err != nil {
		return nil, err
	}
	return func(state domain.State, payload domain.Payload) (bool, error) {
		l := newState(state, payload)
		if err := run(l, chunk); err != nil {
			return false, err
		}
		if l.TypeOf(-1) != lua.TypeBoolean {
			return false, fmt.Errorf("constraint must return a boolean, got %s", lua.TypeNameOf(l, -1))
		}
		return l.ToBoolean(-1), nil
	}, nil
}

func ruleChunk(formulaText string) (string, error) {
	var (
		locals  []string
		targets []string
		seen    = map[string]bool{}
	)
	for _, line := range strings.Split(formulaText, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		m := assignment.FindStringSubmatch(line)
		if m == nil {
			return "", fmt.Errorf("formula line %q is not of the form target = expression", strings.TrimSpace(line))
		}
		target, expr := m[1], strings.TrimSpace(m[2])
		if reserved[target] {
			return "", fmt.Errorf("formula target %q is reserved", target)
		}
		if expr == "" {
			return "", fmt.Errorf("formula target %q has no expression", target)
		}
		locals = append(locals, fmt.Sprintf("local %s = (%s)", target, expr))
		if !seen[target] {
			seen[target] = true
			targets = append(targets, target)
		}
	}
	if len(targets) == 0 {
		return "", fmt.Errorf("rule formula is empty")
	}
	fields := make([]string, 0, len(targets))
	for _, t := range targets {
		fields = append(fields, t+" = "+t)
	}
	return strings.Join(locals, "\n") + "\nreturn { " + strings.Join(fields, ", ") + " }", nil
}

func checkSyntax(chunk string) error {
	l := lua.NewState()
	if err := lua.LoadString(l, chunk); err != nil {
		return fmt.Errorf("compile formula: %w", err)
	}
	return nil
}

func run(l *lua.State, chunk string) error {
	if err := lua.LoadString(l, chunk); err != nil {
		return fmt.Errorf("compile formula: %w", err)
	}
	if err := l.ProtectedCall(0, 1, 0); err != nil {
		return fmt.Errorf("evaluate formula: %w", err)
	}
	return nil
}

func newState(state domain.State, payload domain.Payload) *lua.State {
	l := lua.NewState()
	for _, lib := range []lua.RegistryFunction{
		{Name: "_G", Function: lua.BaseOpen},
		{Name: "math", Function: lua.MathOpen},
		{Name: "string", Function: lua.StringOpen},
		{Name: "table", Function: lua.TableOpen},
	} {
		lua.Require(l, lib.Name, lib.Function, true)
		l.Pop(1)
	}
	for _, name := range unsafeGlobals {
		l.PushNil()
		l.SetGlobal(name)
	}
	for _, key := range state.Keys() {
		if !identifier.MatchString(key) || reserved[key] {
			continue
		}
		pushValue(l, state[key])
		l.SetGlobal(key)
	}
	pushValue(l, map[string]any(state))
	l.SetGlobal("state")
	pushValue(l, map[string]any(payload))
	l.SetGlobal("act")
	return l
}

func pushValue(l *lua.State, v any) {
	switch x := v.(type) {
	case nil:
		l.PushNil()
	case bool:
		l.PushBoolean(x)
	case string:
		l.PushString(x)
	case int:
		l.PushNumber(float64(x))
	case int64:
		l.PushNumber(float64(x))
	case int32:
		l.PushNumber(float64(x))
	case uint64:
		l.PushNumber(float64(x))
	case float32:
		l.PushNumber(float64(x))
	case float64:
		l.PushNumber(x)
	case domain.State:
		pushValue(l, map[string]any(x))
	case domain.Payload:
		pushValue(l, map[string]any(x))
	case map[string]any:
		l.NewTable()
		for k, item := range x {
			pushValue(l, item)
			l.SetField(-2, k)
		}
	case []any:
		l.NewTable()
		for i, item := range x {
			l.PushInteger(i + 1)
			pushValue(l, item)
			l.SetTable(-3)
		}
	default:
		l.PushString(fmt.Sprint(x))
	}
}

func tableToMap(l *lua.State, index int) map[string]any {
	out := map[string]any{}
	index = l.AbsIndex(index)
	l.PushNil()
	for l.Next(index) {
		if l.TypeOf(-2) == lua.TypeString {
			key, _ := l.ToString(-2)
			out[key] = toGo(l, -1)
		}
		l.Pop(1)
	}
	return out
}

func toGo(l *lua.State, index int) any {
	switch l.TypeOf(index) {
	case lua.TypeString:
		v, _ := l.ToString(index)
		return v
	case lua.TypeNumber:
		v, _ := l.ToNumber(index)
		return v
	case lua.TypeBoolean:
		return l.ToBoolean(index)
	case lua.TypeTable:
		return tableToGo(l, index)
	default:
		return nil
	}
}

// tableToGo returns a []any for sequences and a map otherwise.
func tableToGo(l *lua.State, index int) any {
	index = l.AbsIndex(index)
	isArray := true
	maxIndex, count := 0, 0
	l.PushNil()
	for l.Next(index) {
		if l.TypeOf(-2) != lua.TypeNumber {
			isArray = false
		} else if i, ok := l.ToInteger(-2); ok && i > 0 {
			count++
			if i > maxIndex {
				maxIndex = i
			}
		} else {
			isArray = false
		}
		l.Pop(1)
	}
	if !isArray || count == 0 || count != maxIndex {
		return tableToMap(l, index)
	}
	out := make([]any, maxIndex)
	for i := 1; i <= maxIndex; i++ {
		l.RawGetInt(index, i)
		out[i-1] = toGo(l, -1)
		l.Pop(1)
	}
	return out
}
