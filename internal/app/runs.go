package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"openeconomy/internal/domain"
	"openeconomy/internal/events"
	"openeconomy/internal/model"
	"openeconomy/internal/reasoning"
	"openeconomy/internal/record"
	"openeconomy/internal/repo"
	"openeconomy/internal/scenario"
)

// timestampLayout keeps stored timestamps fixed-width so they sort as text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// LoadedRun is a stored run rendered against the current labels.
type LoadedRun struct {
	Run    domain.Run
	Record *record.Record
	Spec   *model.Spec
}

func (l LoadedRun) View() reasoning.View {
	return reasoning.New(l.Record, l.Spec)
}

// Execute compiles and runs a scenario, then stores the run, its entries and a
// run.recorded event in one transaction. A run that fails is not stored.
func (w *Workspace) Execute(ctx context.Context, scenarioYAML []byte, actorID string) (LoadedRun, error) {
	compiled, err := scenario.Load(scenarioYAML)
	if err != nil {
		return LoadedRun{}, err
	}
	overrides, err := w.Repo.LabelOverrides(ctx)
	if err != nil {
		return LoadedRun{}, err
	}
	if err := applyOverrides(compiled.Spec, overrides); err != nil {
		return LoadedRun{}, err
	}

	// Entries reach the observer only once the run is stored.
	eng := w.engine()
	eng.Spec = compiled.Spec
	eng.Observer = nil
	rec, err := eng.Run(compiled.Acts, compiled.Initial, compiled.Rules)
	if err != nil {
		w.Logger.Warn("run failed", zap.String("scenario", compiled.Name), zap.Int("entries", rec.Len()), zap.Error(err))
		return LoadedRun{}, err
	}

	run := domain.Run{
		ID:           w.NewID(),
		Scenario:     compiled.Name,
		EntryCount:   rec.Len(),
		BlockedCount: len(rec.BlockedEntries()),
		CreatedAt:    w.now().UTC().Format(timestampLayout),
	}
	actorID = actorOrDefault(actorID)
	tx, err := w.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return LoadedRun{}, err
	}
	defer tx.Rollback()
	if err := w.Repo.InsertRunTx(ctx, tx, run, string(scenarioYAML), actorID, rec); err != nil {
		return LoadedRun{}, err
	}
	if err := w.events().Append(ctx, tx, events.RunRecorded, "run", run.ID, actorID, events.EventPayload{
		"scenario": run.Scenario,
		"entries":  run.EntryCount,
		"blocked":  run.BlockedCount,
	}); err != nil {
		return LoadedRun{}, err
	}
	if err := tx.Commit(); err != nil {
		return LoadedRun{}, err
	}
	if w.Observer != nil {
		for _, e := range rec.Entries() {
			w.Observer.ObserveEntry(e)
		}
	}
	w.Logger.Info("run recorded", zap.String("run_id", run.ID), zap.String("scenario", run.Scenario),
		zap.Int("entries", run.EntryCount), zap.Int("blocked", run.BlockedCount))
	return LoadedRun{Run: run, Record: rec, Spec: compiled.Spec}, nil
}

// Load rebuilds a stored run: its record as captured and its registry from the
// stored scenario with every current label override applied.
func (w *Workspace) Load(ctx context.Context, runID string) (LoadedRun, error) {
	run, err := w.Repo.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return LoadedRun{}, model.NotFoundError{Kind: "run", ID: runID}
		}
		return LoadedRun{}, err
	}
	spec, err := w.registry(ctx, runID)
	if err != nil {
		return LoadedRun{}, err
	}
	rec, err := w.Repo.Entries(ctx, runID)
	if err != nil {
		return LoadedRun{}, err
	}
	return LoadedRun{Run: run, Record: rec, Spec: spec}, nil
}

func (w *Workspace) registry(ctx context.Context, runID string) (*model.Spec, error) {
	text, err := w.Repo.RunScenario(ctx, runID)
	if err != nil {
		return nil, err
	}
	compiled, err := scenario.Load([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("rebuild registry for run %s: %w", runID, err)
	}
	overrides, err := w.Repo.LabelOverrides(ctx)
	if err != nil {
		return nil, err
	}
	if err := applyOverrides(compiled.Spec, overrides); err != nil {
		return nil, err
	}
	return compiled.Spec, nil
}

// Latest loads the most recent run.
func (w *Workspace) Latest(ctx context.Context) (LoadedRun, error) {
	id, err := w.latestRunID(ctx)
	if err != nil {
		return LoadedRun{}, err
	}
	return w.Load(ctx, id)
}

func (w *Workspace) latestRunID(ctx context.Context) (string, error) {
	runs, err := w.Repo.ListRuns(ctx, 1)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", model.NotFoundError{Kind: "run", ID: "latest"}
	}
	return runs[0].ID, nil
}

// Rename relabels a catalog item for every stored run. The id must exist in
// the registry of runID, the latest run when empty; unknown ids fail with
// model.ErrNotFound and nothing is stored.
func (w *Workspace) Rename(ctx context.Context, runID string, kind domain.ReferenceKind, id, label, actorID string) (domain.LabelOverride, error) {
	if runID == "" {
		latest, err := w.latestRunID(ctx)
		if err != nil {
			return domain.LabelOverride{}, err
		}
		runID = latest
	}
	spec, err := w.registry(ctx, runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.LabelOverride{}, model.NotFoundError{Kind: "run", ID: runID}
		}
		return domain.LabelOverride{}, err
	}
	if err := spec.Rename(kind, id, label); err != nil {
		return domain.LabelOverride{}, err
	}
	override := domain.LabelOverride{
		Kind:      kind,
		ID:        id,
		Label:     label,
		UpdatedAt: w.now().UTC().Format(timestampLayout),
	}
	actorID = actorOrDefault(actorID)
	tx, err := w.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.LabelOverride{}, err
	}
	defer tx.Rollback()
	if err := w.Repo.UpsertLabelOverrideTx(ctx, tx, override); err != nil {
		return domain.LabelOverride{}, err
	}
	if err := w.events().Append(ctx, tx, events.LabelRenamed, string(kind), id, actorID, events.EventPayload{
		"label": label,
		"run":   runID,
	}); err != nil {
		return domain.LabelOverride{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.LabelOverride{}, err
	}
	if obs, ok := w.Observer.(renameObserver); ok {
		obs.ObserveRename()
	}
	w.Logger.Info("label renamed", zap.String("kind", string(kind)), zap.String("id", id), zap.String("label", label))
	return override, nil
}

type renameObserver interface {
	ObserveRename()
}

// applyOverrides renames every overridden item the registry knows. Overrides
// for items from other scenarios are skipped.
func applyOverrides(spec *model.Spec, overrides []domain.LabelOverride) error {
	for _, o := range overrides {
		if err := spec.Rename(o.Kind, o.ID, o.Label); err != nil && !errors.Is(err, model.ErrNotFound) {
			return err
		}
	}
	return nil
}
