package engine

import (
	"time"

	"go.uber.org/zap"

	"openeconomy/internal/domain"
	"openeconomy/internal/model"
	"openeconomy/internal/record"
)

// Observer is notified of every entry the engine produces.
type Observer interface {
	ObserveEntry(record.Entry)
}

// Binding names the rule and the ordered constraints applied to an act.
type Binding struct {
	RuleID      string   `json:"rule" yaml:"rule"`
	Constraints []string `json:"constraints,omitempty" yaml:"constraints"`
}

// RuleMap associates act ids to their bindings.
type RuleMap map[string]Binding

// Engine evaluates constraints and applies rules against one registry. The
// registry may be renamed between runs, not during one.
type Engine struct {
	Spec     *model.Spec
	Now      func() time.Time
	Logger   *zap.Logger
	Observer Observer
}

func New(spec *model.Spec) Engine {
	return Engine{
		Spec:   spec,
		Now:    time.Now,
		Logger: zap.NewNop(),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}

// ApplyRule evaluates every listed constraint, in order and without
// short-circuiting, then applies the rule only if none failed. Unknown rule or
// constraint ids fail the call and produce no entry. Evaluator errors are
// returned as-is.
func (e Engine) ApplyRule(act domain.Act, state domain.State, ruleID string, constraintIDs []string) (record.Entry, error) {
	rule, err := e.Spec.Rule(ruleID)
	if err != nil {
		return record.Entry{}, err
	}
	snapshot := state.Clone()
	evaluated := make([]string, 0, len(constraintIDs))
	var blocking []string
	for _, id := range constraintIDs {
		constraint, err := e.Spec.Constraint(id)
		if err != nil {
			return record.Entry{}, err
		}
		ok, err := constraint.Evaluate(snapshot.Clone(), act.Payload.Clone())
		if err != nil {
			return record.Entry{}, err
		}
		evaluated = append(evaluated, id)
		if !ok {
			blocking = append(blocking, id)
		}
	}

	var entry record.Entry
	if len(blocking) > 0 {
		entry = record.Blocked(act, rule, evaluated, blocking, snapshot, e.Spec, e.now())
	} else {
		update, err := rule.Evaluate(snapshot.Clone(), act.Payload.Clone())
		if err != nil {
			return record.Entry{}, err
		}
		entry = record.Applied(act, rule, evaluated, snapshot, snapshot.Merge(update), e.now())
	}
	e.logger().Debug("entry recorded",
		zap.String("entry_id", entry.ID),
		zap.String("status", string(entry.Status)),
		zap.Strings("blocking", entry.ConstraintsBlocking))
	if e.Observer != nil {
		e.Observer.ObserveEntry(entry)
	}
	return entry, nil
}

// Run folds ApplyRule over acts, threading each entry's StateAfter into the
// next act, blocked or not. On failure the record built so far is returned
// together with the error; it never contains an entry for the failing act.
func (e Engine) Run(acts []domain.Act, initial domain.State, rules RuleMap) (*record.Record, error) {
	rec := &record.Record{}
	current := initial.Clone()
	for _, act := range acts {
		binding, ok := rules[act.ID]
		if !ok {
			return rec, model.NotFoundError{Kind: "act mapping", ID: act.ID}
		}
		entry, err := e.ApplyRule(act, current, binding.RuleID, binding.Constraints)
		if err != nil {
			return rec, err
		}
		rec.Append(entry)
		current = entry.StateAfter.Clone()
	}
	e.logger().Info("run complete",
		zap.Int("entries", rec.Len()),
		zap.Int("blocked", len(rec.BlockedEntries())))
	return rec, nil
}
