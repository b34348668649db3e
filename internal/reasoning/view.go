// Package reasoning derives read-only reports from a completed record. Labels
// are resolved against the registry given at construction, which is expected
// to be the current one.
package reasoning

import (
	"openeconomy/internal/domain"
	"openeconomy/internal/model"
	"openeconomy/internal/record"
)

type View struct {
	record *record.Record
	spec   *model.Spec
}

func New(rec *record.Record, spec *model.Spec) View {
	return View{record: rec, spec: spec}
}

type IntermediateQuantity struct {
	EntryID      string       `json:"entry_id"`
	Rule         string       `json:"rule"`
	Intermediate domain.State `json:"intermediate"`
}

type BlockedAct struct {
	EntryID   string   `json:"entry_id"`
	Act       string   `json:"act"`
	Rule      string   `json:"rule"`
	BlockedBy []string `json:"blocked_by"`
	Reasons   []string `json:"reasons,omitempty"`
	Notes     string   `json:"notes"`
}

// Report is the structured form of the view, ready for serialization.
type Report struct {
	IntermediateQuantities []IntermediateQuantity `json:"intermediate_quantities"`
	BlockedActs            []BlockedAct           `json:"blocked_acts"`
	TradeOffs              []string               `json:"tradeoffs"`
}

func (v View) Report() Report {
	return Report{
		IntermediateQuantities: v.IntermediateQuantities(),
		BlockedActs:            v.BlockedActs(),
		TradeOffs:              v.TradeOffs(),
	}
}

func (v View) IntermediateQuantities() []IntermediateQuantity {
	out := []IntermediateQuantity{}
	for _, e := range v.record.Entries() {
		if len(e.Intermediate) == 0 {
			continue
		}
		out = append(out, IntermediateQuantity{
			EntryID:      e.ID,
			Rule:         v.spec.DescribeRule(e.RuleID),
			Intermediate: e.Intermediate.Clone(),
		})
	}
	return out
}

func (v View) BlockedActs() []BlockedAct {
	out := []BlockedAct{}
	for _, e := range v.record.BlockedEntries() {
		labels := make([]string, 0, len(e.ConstraintsBlocking))
		var reasons []string
		for _, id := range e.ConstraintsBlocking {
			labels = append(labels, v.spec.DescribeConstraint(id))
			if reason := v.spec.ConstraintReason(id); reason != "" {
				reasons = append(reasons, reason)
			}
		}
		out = append(out, BlockedAct{
			EntryID:   e.ID,
			Act:       e.ActType,
			Rule:      v.spec.DescribeRule(e.RuleID),
			BlockedBy: labels,
			Reasons:   reasons,
			Notes:     e.Notes,
		})
	}
	return out
}

// TradeOffs renders every trade-off currently in the registry, in registry order.
func (v View) TradeOffs() []string {
	ids := v.spec.TradeOffIDs()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, v.spec.TradeOffNarrative(id))
	}
	return out
}

// ExplainEntry renders the first entry carrying entryID.
func (v View) ExplainEntry(entryID string) (string, error) {
	e, ok := v.record.Find(entryID)
	if !ok {
		return "", model.NotFoundError{Kind: "entry", ID: entryID}
	}
	return e.HumanReadable(v.spec), nil
}
