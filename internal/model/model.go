package model

import (
	"openeconomy/internal/domain"
)

// RuleFunc computes a partial state update. It must not modify its inputs.
type RuleFunc func(state domain.State, payload domain.Payload) (domain.State, error)

// ConstraintFunc reports whether a rule may proceed.
type ConstraintFunc func(state domain.State, payload domain.Payload) (bool, error)

// Parameter is a named quantity of the model.
type Parameter struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
	Unit        string `json:"unit,omitempty"`
}

// Rule is a named transition. FormulaText is presentation only; Evaluate does the work.
type Rule struct {
	ID          string   `json:"id"`
	Label       string   `json:"label"`
	FormulaText string   `json:"formula"`
	Evaluate    RuleFunc `json:"-"`
	Parameters  []string `json:"parameters,omitempty"`
}

// Constraint gates a rule.
type Constraint struct {
	ID             string         `json:"id"`
	Label          string         `json:"label"`
	FormulaText    string         `json:"formula"`
	Evaluate       ConstraintFunc `json:"-"`
	Parameters     []string       `json:"parameters,omitempty"`
	ReasonTemplate string         `json:"reason,omitempty"`
}

// Metric is an observable dimension used in trade-off narratives.
type Metric struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// TradeOff spans an ordered list of metrics.
type TradeOff struct {
	ID                string   `json:"id"`
	Metrics           []string `json:"metrics"`
	NarrativeTemplate string   `json:"narrative,omitempty"`
}
