package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"openeconomy/internal/db"
	"openeconomy/internal/engine"
	"openeconomy/internal/events"
	"openeconomy/internal/migrate"
	"openeconomy/internal/repo"
)

// DefaultActor is recorded on events when the caller is anonymous.
const DefaultActor = "local-user"

// Workspace ties the store, the audit log and the engine settings of one
// workspace directory together.
type Workspace struct {
	Dir      string
	Repo     repo.Repo
	Events   events.Writer
	Logger   *zap.Logger
	Observer engine.Observer
	Now      func() time.Time
	NewID    func() string
}

// Open opens (creating if needed) and migrates the workspace database.
func Open(ctx context.Context, dir string, logger *zap.Logger) (*Workspace, error) {
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate %s: %w", db.Path(dir), err)
	}
	return New(dir, conn, logger), nil
}

// New wraps an already migrated database.
func New(dir string, conn *sql.DB, logger *zap.Logger) *Workspace {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workspace{
		Dir:    dir,
		Repo:   repo.Repo{DB: conn},
		Events: events.Writer{},
		Logger: logger,
		Now:    time.Now,
		NewID:  uuid.NewString,
	}
}

func (w *Workspace) Close() error {
	return w.Repo.DB.Close()
}

func (w *Workspace) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w *Workspace) engine() engine.Engine {
	return engine.Engine{Now: w.Now, Logger: w.Logger, Observer: w.Observer}
}

func (w *Workspace) events() events.Writer {
	ev := w.Events
	if ev.Now == nil {
		ev.Now = w.Now
	}
	return ev
}

func actorOrDefault(actorID string) string {
	if actorID == "" {
		return DefaultActor
	}
	return actorID
}
