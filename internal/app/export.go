package app

import (
	"context"

	"go.uber.org/zap"

	"openeconomy/internal/events"
	"openeconomy/internal/export"
)

// Export writes a stored run to sink, rendered with current labels, and logs a
// run.exported event.
func (w *Workspace) Export(ctx context.Context, runID string, sink export.Sink, actorID string) ([]string, error) {
	loaded, err := w.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	keys, err := export.Export(ctx, sink, loaded.Run.ID, loaded.Record, loaded.Spec)
	if err != nil {
		return keys, err
	}
	tx, err := w.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return keys, err
	}
	defer tx.Rollback()
	if err := w.events().Append(ctx, tx, events.RunExported, "run", loaded.Run.ID, actorOrDefault(actorID), events.EventPayload{
		"location": export.Location(sink),
		"keys":     keys,
	}); err != nil {
		return keys, err
	}
	if err := tx.Commit(); err != nil {
		return keys, err
	}
	w.Logger.Info("run exported", zap.String("run_id", loaded.Run.ID), zap.String("location", export.Location(sink)))
	return keys, nil
}
