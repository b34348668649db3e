package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"openeconomy/internal/domain"
	"openeconomy/internal/record"
)

const runColumns = `id,scenario_name,entry_count,blocked_count,created_at`

func scanRun(row interface{ Scan(...any) error }) (domain.Run, error) {
	var run domain.Run
	err := row.Scan(&run.ID, &run.Scenario, &run.EntryCount, &run.BlockedCount, &run.CreatedAt)
	if err == sql.ErrNoRows {
		return run, ErrNotFound
	}
	return run, err
}

// InsertRunTx stores the run header and every entry of rec in order.
func (r Repo) InsertRunTx(ctx context.Context, tx *sql.Tx, run domain.Run, scenarioYAML, actorID string, rec *record.Record) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO runs(id,scenario_name,scenario_yaml,actor_id,entry_count,blocked_count,created_at) VALUES (?,?,?,?,?,?,?)`,
		run.ID, run.Scenario, scenarioYAML, actorID, run.EntryCount, run.BlockedCount, run.CreatedAt); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	for i, e := range rec.Entries() {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal entry %s: %w", e.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO entries(run_id,seq,entry_id,act_id,status,entry_json) VALUES (?,?,?,?,?,?)`,
			run.ID, i, e.ID, e.ActID, string(e.Status), string(data)); err != nil {
			return fmt.Errorf("insert entry %s: %w", e.ID, err)
		}
	}
	return nil
}

func (r Repo) GetRun(ctx context.Context, id string) (domain.Run, error) {
	return scanRun(r.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id=?`, id))
}

// ListRuns returns runs newest first, in insertion order.
func (r Repo) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

// RunScenario returns the scenario text a run was executed from.
func (r Repo) RunScenario(ctx context.Context, id string) (string, error) {
	var text string
	err := r.DB.QueryRowContext(ctx, `SELECT scenario_yaml FROM runs WHERE id=?`, id).Scan(&text)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return text, err
}

// Entries loads the record of a run.
func (r Repo) Entries(ctx context.Context, runID string) (*record.Record, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT entry_json FROM entries WHERE run_id=? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []record.Entry
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var e record.Entry
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, fmt.Errorf("decode entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return record.FromEntries(entries), nil
}
