package repo

import (
	"context"
	"database/sql"

	"openeconomy/internal/domain"
)

func (r Repo) UpsertLabelOverrideTx(ctx context.Context, tx *sql.Tx, o domain.LabelOverride) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO label_overrides(kind,id,label,updated_at) VALUES (?,?,?,?)
ON CONFLICT(kind,id) DO UPDATE SET label=excluded.label, updated_at=excluded.updated_at`,
		string(o.Kind), o.ID, o.Label, o.UpdatedAt)
	return err
}

// LabelOverrides returns every override in the order they were last written.
func (r Repo) LabelOverrides(ctx context.Context) ([]domain.LabelOverride, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT kind,id,label,updated_at FROM label_overrides ORDER BY updated_at, kind, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.LabelOverride{}
	for rows.Next() {
		var o domain.LabelOverride
		var kind string
		if err := rows.Scan(&kind, &o.ID, &o.Label, &o.UpdatedAt); err != nil {
			return nil, err
		}
		o.Kind = domain.ReferenceKind(kind)
		res = append(res, o)
	}
	return res, rows.Err()
}
