// Package app assembles the backend, stores, repositories and aggregate
// services from a workspace config. Both the CLI and the HTTP server build
// the same App.
package app

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"siteline/internal/cache"
	"siteline/internal/config"
	"siteline/internal/db"
	"siteline/internal/docstore"
	"siteline/internal/domain"
	"siteline/internal/engine"
	"siteline/internal/events"
	"siteline/internal/repo"
)

type App struct {
	Config *config.Config

	Projects  engine.ProjectService
	Contracts engine.ContractService
	Events    events.Writer

	ProjectStore  *docstore.Store[domain.Project]
	ContractStore *docstore.Store[domain.Contract]
	EventStore    *docstore.Store[domain.Event]

	sqldb  *sql.DB
	badger *badger.DB
}

// New opens the configured backend under workspace and wires the services.
func New(workspace string, cfg *config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{Config: cfg}

	var backend docstore.Backend
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		conn, err := db.Open(db.Config{Workspace: workspace})
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		b, err := docstore.NewSQLiteBackend(conn)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("init sqlite backend: %w", err)
		}
		a.sqldb = conn
		backend = b
	case config.BackendBadger:
		bdb, err := db.OpenBadger(db.Config{Workspace: workspace})
		if err != nil {
			return nil, fmt.Errorf("open badger: %w", err)
		}
		a.badger = bdb
		backend = docstore.NewBadgerBackend(bdb)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	a.wire(backend, log)
	return a, nil
}

// NewInMemory builds an App over a throwaway Badger instance. Tests and demo
// mode use it.
func NewInMemory(cfg *config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	bdb, err := db.OpenBadgerInMemory()
	if err != nil {
		return nil, fmt.Errorf("open in-memory badger: %w", err)
	}
	a := &App{Config: cfg, badger: bdb}
	a.wire(docstore.NewBadgerBackend(bdb), log)
	return a, nil
}

func (a *App) wire(backend docstore.Backend, log *slog.Logger) {
	a.ProjectStore = docstore.New[domain.Project](backend, "projects", log)
	a.ContractStore = docstore.New[domain.Contract](backend, "contracts", log)
	a.EventStore = docstore.New[domain.Event](backend, "events", log)

	a.Events = events.Writer{Store: a.EventStore}

	projectCache := cache.New(
		func(p domain.Project) string { return p.ID },
		func(p domain.Project, id string) domain.Project { p.ID = id; return p },
	)
	contractCache := cache.New(
		func(c domain.Contract) string { return c.ID },
		func(c domain.Contract, id string) domain.Contract { c.ID = id; return c },
	)

	optimistic := a.Config != nil && a.Config.Repos.Optimistic
	projectRepo := repo.NewCached(a.ProjectStore, projectCache, log)
	projectRepo.Optimistic = optimistic
	contractRepo := repo.NewCached(a.ContractStore, contractCache, log)
	contractRepo.Optimistic = optimistic

	a.Projects = engine.NewProjectService(projectRepo, a.Events)
	a.Contracts = engine.NewContractService(contractRepo, a.Events)
}

func (a *App) Close() error {
	var first error
	if a.sqldb != nil {
		if err := a.sqldb.Close(); err != nil {
			first = err
		}
	}
	if a.badger != nil {
		if err := a.badger.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
