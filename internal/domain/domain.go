package domain

// Act is an attempted economic action. Payload is opaque to the engine.
type Act struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	Description string  `json:"description,omitempty"`
	Payload     Payload `json:"payload,omitempty"`
}

// NewAct copies payload so later changes by the caller do not leak into the act.
func NewAct(id, actType, description string, payload Payload) Act {
	return Act{
		ID:          id,
		Type:        actType,
		Description: description,
		Payload:     payload.Clone(),
	}
}

// Status of an execution record entry.
type Status string

const (
	StatusApplied Status = "applied"
	StatusBlocked Status = "blocked"
)

// ReferenceKind names the catalog a ReferenceLink points into.
type ReferenceKind string

const (
	RefRule       ReferenceKind = "rule"
	RefParameter  ReferenceKind = "parameter"
	RefConstraint ReferenceKind = "constraint"
	RefMetric     ReferenceKind = "metric"
)

// ReferenceLink is a provenance edge. Only the id is stored; labels are
// resolved at render time.
type ReferenceLink struct {
	Kind ReferenceKind `json:"kind" enum:"rule,parameter,constraint,metric"`
	ID   string        `json:"id"`
}

// Run is a persisted execution of a scenario.
type Run struct {
	ID           string `json:"id"`
	Scenario     string `json:"scenario"`
	EntryCount   int    `json:"entry_count"`
	BlockedCount int    `json:"blocked_count"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

// LabelOverride is a rename applied on top of a scenario's catalog.
type LabelOverride struct {
	Kind      ReferenceKind `json:"kind"`
	ID        string        `json:"id"`
	Label     string        `json:"label"`
	UpdatedAt string        `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
