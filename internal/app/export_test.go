package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"openeconomy/internal/domain"
	"openeconomy/internal/events"
	"openeconomy/internal/export"
	"openeconomy/internal/repo"
	"openeconomy/internal/scenario"
)

func TestExportUsesCurrentLabels(t *testing.T) {
	ctx := context.Background()
	ws := openTestWorkspace(t)
	res, err := ws.Execute(ctx, []byte(scenario.Example), "")
	require.NoError(t, err)
	_, err = ws.Rename(ctx, res.Run.ID, domain.RefRule, "compute_profit", "Settle Accounts", "")
	require.NoError(t, err)

	dir := t.TempDir()
	keys, err := ws.Export(ctx, res.Run.ID, export.FSSink{Dir: dir}, "")
	require.NoError(t, err)
	require.Len(t, keys, 3)

	text, err := os.ReadFile(filepath.Join(dir, res.Run.ID, "record.txt"))
	require.NoError(t, err)
	require.Contains(t, string(text), "Rule: Settle Accounts (compute_profit)")

	evts, err := ws.Repo.LatestEvents(ctx, 1, repo.EventFilter{Type: events.RunExported})
	require.NoError(t, err)
	require.Len(t, evts, 1)
	require.Contains(t, evts[0].Payload, dir)
}
