// ABOUTME: Wires configuration into a store, providers, executor and review service
// ABOUTME: Shared by the daemon and the one-shot CLI commands

package app

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/nainya/revertstore/internal/config"
	"github.com/nainya/revertstore/internal/logger"
	"github.com/nainya/revertstore/internal/metrics"
	"github.com/nainya/revertstore/pkg/review"
	"github.com/nainya/revertstore/pkg/revert"
	"github.com/nainya/revertstore/pkg/schema"
	"github.com/nainya/revertstore/pkg/storage"
	"github.com/nainya/revertstore/pkg/version"
)

// App holds every long-lived component of a revertstore process
type App struct {
	Config     *config.Config
	Logger     *logger.Logger
	Metrics    *metrics.Metrics
	Store      version.Store
	Schemas    *schema.Registry
	Authorizer *revert.StaticAuthorizer
	Workflows  *revert.WorkflowRegistry
	Executor   *revert.Executor
	Review     *review.Service
}

// New builds an App from cfg. The caller owns Close.
func New(cfg *config.Config, log *logger.Logger) (*App, error) {
	if log == nil {
		log = logger.Nop()
	}

	schemas := schema.NewRegistry()
	if cfg.Schema.Path != "" {
		loaded, err := schema.LoadFile(cfg.Schema.Path)
		if err != nil {
			return nil, fmt.Errorf("load schema: %w", err)
		}
		schemas = loaded
	}

	base, err := OpenStore(cfg.Storage, *log.GetZerolog())
	if err != nil {
		return nil, err
	}

	m := metrics.NewMetrics()
	store := Instrument(base, m, log)
	auth := revert.NewStaticAuthorizer(cfg.Access.Viewers, cfg.Access.Editors)
	workflows := revert.NewWorkflowRegistry()

	exec := revert.NewExecutor(store,
		revert.WithPolicy(revert.Policy{MinVersion: cfg.Revert.MinVersion}),
		revert.WithLogger(log.RevertLogger()),
		revert.WithObserver(revertObserver{metrics: m, logger: log}),
		revert.WithAuthorizer(auth),
		revert.WithWorkflow(workflows),
	)

	return &App{
		Config:     cfg,
		Logger:     log,
		Metrics:    m,
		Store:      store,
		Schemas:    schemas,
		Authorizer: auth,
		Workflows:  workflows,
		Executor:   exec,
		Review:     review.NewService(store, schemas, review.WithAuthorizer(auth), review.WithWorkflow(workflows)),
	}, nil
}

// OpenStore opens the backend named by cfg.Backend
func OpenStore(cfg config.StorageConfig, log zerolog.Logger) (version.Store, error) {
	switch cfg.Backend {
	case "memory":
		return version.NewMemoryStore(), nil
	case "badger":
		bc := storage.DefaultBadgerConfig()
		bc.Path = cfg.Path
		bc.SyncWrites = cfg.SyncWrites
		bc.GCInterval = cfg.GCInterval
		bl := log.With().Str("component", "badger").Logger()
		bc.Logger = &bl
		db, err := storage.OpenBadger(bc)
		if err != nil {
			return nil, fmt.Errorf("open badger store: %w", err)
		}
		return storage.NewBadgerStore(db, log), nil
	case "sqlite":
		s, err := storage.OpenSQLite(cfg.Path, log)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// SetWorkflow marks or clears a record's workflow and refreshes the gauge
func (a *App) SetWorkflow(key version.Key, active bool) {
	a.Workflows.Set(key, active)
	a.Metrics.SetWorkflowsActive(len(a.Workflows.Active()))
}

// Close releases the store
func (a *App) Close() error {
	return a.Store.Close()
}
