package repo_test

import (
	"context"
	"errors"
	"testing"

	"openeconomy/internal/db"
	"openeconomy/internal/domain"
	"openeconomy/internal/events"
	"openeconomy/internal/migrate"
	"openeconomy/internal/record"
	"openeconomy/internal/repo"
)

func openRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// Migrating twice is a no-op.
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("re-migrate: %v", err)
	}
	latest, err := migrate.Latest()
	if err != nil {
		t.Fatal(err)
	}
	if v, err := migrate.Version(ctx, conn); err != nil || v != latest {
		t.Fatalf("version = %d (%v), want %d", v, err, latest)
	}
	return repo.Repo{DB: conn}
}

func TestRunRoundTrip(t *testing.T) {
	ctx := context.Background()
	r := openRepo(t)

	if _, err := r.GetRun(ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	rec := record.FromEntries([]record.Entry{
		{ID: "a:r", ActID: "a", RuleID: "r", Status: domain.StatusApplied, StateAfter: domain.State{"x": 1}},
		{ID: "b:r", ActID: "b", RuleID: "r", Status: domain.StatusBlocked, ConstraintsBlocking: []string{"c"}},
	})
	run := domain.Run{ID: "run-1", Scenario: "demo", EntryCount: 2, BlockedCount: 1, CreatedAt: "2025-01-01T00:00:00Z"}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.InsertRunTx(ctx, tx, run, "name: demo\n", "tester", rec); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	got, err := r.GetRun(ctx, "run-1")
	if err != nil || got != run {
		t.Fatalf("get run = %+v (%v)", got, err)
	}
	text, err := r.RunScenario(ctx, "run-1")
	if err != nil || text != "name: demo\n" {
		t.Fatalf("scenario = %q (%v)", text, err)
	}
	entries, err := r.Entries(ctx, "run-1")
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if entries.Len() != 2 || entries.Entries()[1].ConstraintsBlocking[0] != "c" {
		t.Fatalf("unexpected entries %+v", entries.Entries())
	}
}

func TestLabelOverridesUpsert(t *testing.T) {
	ctx := context.Background()
	r := openRepo(t)
	write := func(o domain.LabelOverride) {
		tx, err := r.DB.BeginTx(ctx, nil)
		if err != nil {
			t.Fatal(err)
		}
		if err := r.UpsertLabelOverrideTx(ctx, tx, o); err != nil {
			t.Fatalf("upsert: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatal(err)
		}
	}
	write(domain.LabelOverride{Kind: domain.RefRule, ID: "r", Label: "First", UpdatedAt: "2025-01-01T00:00:01Z"})
	write(domain.LabelOverride{Kind: domain.RefRule, ID: "r", Label: "Second", UpdatedAt: "2025-01-01T00:00:02Z"})

	overrides, err := r.LabelOverrides(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(overrides) != 1 || overrides[0].Label != "Second" {
		t.Fatalf("unexpected overrides %+v", overrides)
	}
}

func TestEventsQueries(t *testing.T) {
	ctx := context.Background()
	r := openRepo(t)
	if id, err := r.LatestEventID(ctx); err != nil || id != 0 {
		t.Fatalf("empty log id = %d (%v)", id, err)
	}
	w := events.Writer{}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, typ := range []string{events.RunRecorded, events.LabelRenamed, events.RunRecorded} {
		if err := w.Append(ctx, tx, typ, "run", "run-1", "tester", events.EventPayload{"n": 1}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	latest, err := r.LatestEventID(ctx)
	if err != nil || latest != 3 {
		t.Fatalf("latest id = %d (%v)", latest, err)
	}
	recorded, err := r.LatestEvents(ctx, 10, repo.EventFilter{Type: events.RunRecorded})
	if err != nil || len(recorded) != 2 || recorded[0].ID != 3 {
		t.Fatalf("filtered events = %+v (%v)", recorded, err)
	}
	older, err := r.LatestEvents(ctx, 10, repo.EventFilter{Before: 3})
	if err != nil || len(older) != 2 || older[0].ID != 2 {
		t.Fatalf("paged events = %+v (%v)", older, err)
	}
	after, err := r.EventsAfter(ctx, 10, 1)
	if err != nil || len(after) != 2 || after[0].ID != 2 {
		t.Fatalf("events after = %+v (%v)", after, err)
	}
	if after[0].Payload != `{"n":1}` {
		t.Fatalf("payload = %s", after[0].Payload)
	}
}
