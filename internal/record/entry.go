package record

import (
	"fmt"
	"strings"
	"time"

	"openeconomy/internal/domain"
	"openeconomy/internal/model"
)

const (
	appliedNote = "Rule applied successfully."
	unsetValue  = "<unset>"
)

// Entry is the audit record of one attempted act/rule application. Entries
// are built by Applied or Blocked and never modified afterwards. Anything that
// is re-rendered later is stored by id only.
type Entry struct {
	ID                   string                 `json:"entry_id"`
	Timestamp            string                 `json:"timestamp" format:"date-time"`
	ActID                string                 `json:"act_id"`
	ActType              string                 `json:"act_type"`
	Description          string                 `json:"description,omitempty"`
	RuleID               string                 `json:"rule_id"`
	RuleFormula          string                 `json:"rule_formula"`
	ConstraintsEvaluated []string               `json:"constraints_evaluated"`
	ConstraintsBlocking  []string               `json:"constraints_blocking"`
	StateBefore          domain.State           `json:"state_before"`
	StateAfter           domain.State           `json:"state_after"`
	Intermediate         domain.State           `json:"intermediate"`
	References           []domain.ReferenceLink `json:"references"`
	Status               domain.Status          `json:"status" enum:"applied,blocked"`
	Notes                string                 `json:"notes"`
}

// EntryID is the deterministic id of an act/rule application.
func EntryID(actID, ruleID string) string {
	return actID + ":" + ruleID
}

// Applied records a successful transition. The intermediate snapshot is taken
// from after at construction time.
func Applied(act domain.Act, rule model.Rule, evaluated []string, before, after domain.State, at time.Time) Entry {
	after = after.Clone()
	return Entry{
		ID:                   EntryID(act.ID, rule.ID),
		Timestamp:            formatTimestamp(at),
		ActID:                act.ID,
		ActType:              act.Type,
		Description:          act.Description,
		RuleID:               rule.ID,
		RuleFormula:          rule.FormulaText,
		ConstraintsEvaluated: copyIDs(evaluated),
		ConstraintsBlocking:  []string{},
		StateBefore:          before.Clone(),
		StateAfter:           after,
		Intermediate:         after.Intermediate(),
		References:           buildReferences(rule, evaluated),
		Status:               domain.StatusApplied,
		Notes:                appliedNote,
	}
}

// Blocked records a transition stopped by one or more constraints. State is
// left untouched. Notes name the blocking constraints by their labels in spec.
func Blocked(act domain.Act, rule model.Rule, evaluated, blocking []string, before domain.State, spec *model.Spec, at time.Time) Entry {
	labels := make([]string, 0, len(blocking))
	for _, id := range blocking {
		labels = append(labels, spec.DescribeConstraint(id))
	}
	return Entry{
		ID:                   EntryID(act.ID, rule.ID),
		Timestamp:            formatTimestamp(at),
		ActID:                act.ID,
		ActType:              act.Type,
		Description:          act.Description,
		RuleID:               rule.ID,
		RuleFormula:          rule.FormulaText,
		ConstraintsEvaluated: copyIDs(evaluated),
		ConstraintsBlocking:  copyIDs(blocking),
		StateBefore:          before.Clone(),
		StateAfter:           before.Clone(),
		Intermediate:         domain.State{},
		References:           buildReferences(rule, evaluated),
		Status:               domain.StatusBlocked,
		Notes:                "Blocked by constraints: " + strings.Join(labels, ", "),
	}
}

// HumanReadable renders the entry against spec. Labels are resolved now, so
// rendering after a rename shows the new labels; the formula text stays as
// captured.
func (e Entry) HumanReadable(spec *model.Spec) string {
	lines := []string{
		fmt.Sprintf("[%s] Act %s (%s): %s", e.Timestamp, e.ActID, e.ActType, e.Description),
		fmt.Sprintf("Rule: %s (%s)", spec.DescribeRule(e.RuleID), e.RuleID),
		"Formula: " + e.RuleFormula,
	}
	if len(e.ConstraintsEvaluated) > 0 {
		lines = append(lines, "Constraints evaluated: "+describeConstraints(spec, e.ConstraintsEvaluated))
	}
	if len(e.ConstraintsBlocking) > 0 {
		lines = append(lines, "Blocked by: "+describeConstraints(spec, e.ConstraintsBlocking))
	}
	if len(e.References) > 0 {
		refs := make([]string, 0, len(e.References))
		for _, ref := range e.References {
			refs = append(refs, fmt.Sprintf("%s:%s (%s)", ref.Kind, spec.DescribeReference(ref.Kind, ref.ID), ref.ID))
		}
		lines = append(lines, "References: "+strings.Join(refs, ", "))
	}
	lines = append(lines, "Status: "+string(e.Status))
	if len(e.Intermediate) > 0 {
		lines = append(lines, "Intermediate quantities:")
		for _, key := range e.Intermediate.Keys() {
			lines = append(lines, fmt.Sprintf("  - %s: %v", key, e.Intermediate[key]))
		}
	}
	lines = append(lines, "State changes:")
	for _, change := range e.Changes() {
		lines = append(lines, fmt.Sprintf("  - %s: %s -> %s", change.Key, formatValue(change.Before, change.HadBefore), formatValue(change.After, change.HasAfter)))
	}
	lines = append(lines, "Notes: "+e.Notes)
	return strings.Join(lines, "\n")
}

// Change is a single key that differs between StateBefore and StateAfter.
type Change struct {
	Key       string `json:"key"`
	Before    any    `json:"before"`
	After     any    `json:"after"`
	HadBefore bool   `json:"had_before"`
	HasAfter  bool   `json:"has_after"`
}

// Changes lists differing keys over the union of both snapshots, sorted by key.
func (e Entry) Changes() []Change {
	union := e.StateBefore.Merge(e.StateAfter)
	var changes []Change
	for _, key := range union.Keys() {
		before, hadBefore := e.StateBefore[key]
		after, hasAfter := e.StateAfter[key]
		if hadBefore == hasAfter && domain.ValuesEqual(before, after) {
			continue
		}
		changes = append(changes, Change{Key: key, Before: before, After: after, HadBefore: hadBefore, HasAfter: hasAfter})
	}
	return changes
}

func describeConstraints(spec *model.Spec, ids []string) string {
	labels := make([]string, 0, len(ids))
	for _, id := range ids {
		labels = append(labels, spec.DescribeConstraint(id))
	}
	return strings.Join(labels, ", ")
}

func buildReferences(rule model.Rule, evaluated []string) []domain.ReferenceLink {
	links := make([]domain.ReferenceLink, 0, 1+len(rule.Parameters)+len(evaluated))
	links = append(links, domain.ReferenceLink{Kind: domain.RefRule, ID: rule.ID})
	for _, id := range rule.Parameters {
		links = append(links, domain.ReferenceLink{Kind: domain.RefParameter, ID: id})
	}
	for _, id := range evaluated {
		links = append(links, domain.ReferenceLink{Kind: domain.RefConstraint, ID: id})
	}
	return links
}

func copyIDs(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

func formatTimestamp(at time.Time) string {
	return at.UTC().Format(time.RFC3339Nano)
}

func formatValue(v any, present bool) string {
	if !present {
		return unsetValue
	}
	return fmt.Sprintf("%v", v)
}
