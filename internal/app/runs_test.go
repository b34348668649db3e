package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"openeconomy/internal/domain"
	"openeconomy/internal/events"
	"openeconomy/internal/model"
	"openeconomy/internal/record"
	"openeconomy/internal/repo"
	"openeconomy/internal/scenario"
)

func openTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	ws, err := Open(context.Background(), t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ws.Now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return ws
}

func TestExecuteStoresRunAndEvent(t *testing.T) {
	ctx := context.Background()
	ws := openTestWorkspace(t)

	res, err := ws.Execute(ctx, []byte(scenario.Example), "")
	require.NoError(t, err)
	require.Equal(t, 4, res.Run.EntryCount)
	require.Equal(t, 1, res.Run.BlockedCount)

	runs, err := ws.Repo.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, res.Run.ID, runs[0].ID)
	require.Equal(t, "care-cooperative", runs[0].Scenario)

	evts, err := ws.Repo.LatestEvents(ctx, 10, repo.EventFilter{Type: events.RunRecorded})
	require.NoError(t, err)
	require.Len(t, evts, 1)
	require.Equal(t, res.Run.ID, evts[0].EntityID)
	require.Equal(t, DefaultActor, evts[0].ActorID)
}

func TestLoadReturnsStoredRecord(t *testing.T) {
	ctx := context.Background()
	ws := openTestWorkspace(t)
	res, err := ws.Execute(ctx, []byte(scenario.Example), "alice")
	require.NoError(t, err)

	loaded, err := ws.Load(ctx, res.Run.ID)
	require.NoError(t, err)
	require.Equal(t, res.Record.Len(), loaded.Record.Len())
	stored := loaded.Record.Entries()
	for i, e := range res.Record.Entries() {
		require.Equal(t, e.ID, stored[i].ID)
		require.Equal(t, e.Status, stored[i].Status)
		require.Equal(t, e.Timestamp, stored[i].Timestamp)
		require.Equal(t, e.HumanReadable(res.Spec), stored[i].HumanReadable(loaded.Spec))
	}

	_, err = ws.Load(ctx, "missing")
	require.True(t, errors.Is(err, model.ErrNotFound))
}

func TestRenameAppliesToPastRuns(t *testing.T) {
	ctx := context.Background()
	ws := openTestWorkspace(t)
	res, err := ws.Execute(ctx, []byte(scenario.Example), "")
	require.NoError(t, err)

	text, err := res.View().ExplainEntry("act-1:compute_profit")
	require.NoError(t, err)
	require.Contains(t, text, "Profit [credits]")

	_, err = ws.Rename(ctx, "", domain.RefParameter, "profit", "Care-Debt", "bob")
	require.NoError(t, err)

	loaded, err := ws.Latest(ctx)
	require.NoError(t, err)
	text, err = loaded.View().ExplainEntry("act-1:compute_profit")
	require.NoError(t, err)
	require.Contains(t, text, "Care-Debt [credits]")
	require.NotContains(t, text, "Profit [credits]")

	evts, err := ws.Repo.LatestEvents(ctx, 10, repo.EventFilter{Type: events.LabelRenamed})
	require.NoError(t, err)
	require.Len(t, evts, 1)
	require.Equal(t, "profit", evts[0].EntityID)
	require.Equal(t, "bob", evts[0].ActorID)
}

func TestRenameUnknownStoresNothing(t *testing.T) {
	ctx := context.Background()
	ws := openTestWorkspace(t)

	_, err := ws.Rename(ctx, "", domain.RefParameter, "profit", "x", "")
	require.True(t, errors.Is(err, model.ErrNotFound), "no runs yet")

	res, err := ws.Execute(ctx, []byte(scenario.Example), "")
	require.NoError(t, err)
	_, err = ws.Rename(ctx, res.Run.ID, domain.RefMetric, "nope", "x", "")
	require.True(t, errors.Is(err, model.ErrNotFound))
	_, err = ws.Rename(ctx, "missing-run", domain.RefParameter, "profit", "x", "")
	require.True(t, errors.Is(err, model.ErrNotFound))

	overrides, err := ws.Repo.LabelOverrides(ctx)
	require.NoError(t, err)
	require.Empty(t, overrides)
}

func TestOverridesApplyToNewRuns(t *testing.T) {
	ctx := context.Background()
	ws := openTestWorkspace(t)
	_, err := ws.Execute(ctx, []byte(scenario.Example), "")
	require.NoError(t, err)
	_, err = ws.Rename(ctx, "", domain.RefConstraint, "budget_guard", "Spending Cap", "")
	require.NoError(t, err)

	res, err := ws.Execute(ctx, []byte(scenario.Example), "")
	require.NoError(t, err)
	blocked := res.Record.BlockedEntries()
	require.Len(t, blocked, 1)
	require.Equal(t, "Blocked by constraints: Spending Cap", blocked[0].Notes)
}

func TestFailedRunIsNotStored(t *testing.T) {
	ctx := context.Background()
	ws := openTestWorkspace(t)
	broken := strings.Replace(scenario.Example, "rule: spend", "rule: missing_rule", 1)

	_, err := ws.Execute(ctx, []byte(broken), "")
	require.True(t, errors.Is(err, model.ErrNotFound))

	runs, err := ws.Repo.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, runs)
	evts, err := ws.Repo.LatestEvents(ctx, 10, repo.EventFilter{})
	require.NoError(t, err)
	require.Empty(t, evts)
}

func TestLatestFollowsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	ws := openTestWorkspace(t)
	stamps := []time.Time{
		time.Date(2025, 1, 1, 0, 0, 5, 0, time.UTC),
		time.Date(2025, 1, 1, 0, 0, 5, 500_000_000, time.UTC),
	}
	var ids []string
	for _, at := range stamps {
		ws.Now = func() time.Time { return at }
		res, err := ws.Execute(ctx, []byte(scenario.Example), "")
		require.NoError(t, err)
		ids = append(ids, res.Run.ID)
	}
	require.Equal(t, "2025-01-01T00:00:05.000000000Z", mustRun(t, ws, ids[0]).CreatedAt)

	latest, err := ws.Latest(ctx)
	require.NoError(t, err)
	require.Equal(t, ids[1], latest.Run.ID)

	runs, err := ws.Repo.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, []string{ids[1], ids[0]}, []string{runs[0].ID, runs[1].ID})
}

func mustRun(t *testing.T, ws *Workspace, id string) domain.Run {
	t.Helper()
	run, err := ws.Repo.GetRun(context.Background(), id)
	require.NoError(t, err)
	return run
}

type countingObserver struct {
	entries []string
}

func (c *countingObserver) ObserveEntry(e record.Entry) {
	c.entries = append(c.entries, e.ID)
}

func TestObserverSeesOnlyStoredRuns(t *testing.T) {
	ctx := context.Background()
	ws := openTestWorkspace(t)
	obs := &countingObserver{}
	ws.Observer = obs

	broken := strings.Replace(scenario.Example, "rule: spend", "rule: missing_rule", 1)
	_, err := ws.Execute(ctx, []byte(broken), "")
	require.Error(t, err)
	require.Empty(t, obs.entries)

	res, err := ws.Execute(ctx, []byte(scenario.Example), "")
	require.NoError(t, err)
	require.Len(t, obs.entries, res.Run.EntryCount)
}
