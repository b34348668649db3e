package server

import (
	"encoding/json"

	"openeconomy/internal/domain"
	"openeconomy/internal/record"
)

// ApiError is the documented error envelope.
type ApiError struct {
	Error apiErrorBody `json:"error"`
}

type HealthResponse struct {
	Status        string `json:"status" example:"ok"`
	SchemaVersion int    `json:"schema_version"`
}

type RunList struct {
	Items []domain.Run `json:"items"`
}

type RunRecordResponse struct {
	Run     domain.Run     `json:"run"`
	Entries []record.Entry `json:"entries"`
}

type ExplainResponse struct {
	EntryID string `json:"entry_id"`
	Text    string `json:"text"`
}

type RenameRequest struct {
	Label string `json:"label" minLength:"1"`
	RunID string `json:"run_id,omitempty" doc:"Registry to validate against; defaults to the latest run"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func runRecordResponse(run domain.Run, rec *record.Record) RunRecordResponse {
	return RunRecordResponse{Run: run, Entries: rec.Entries()}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}
