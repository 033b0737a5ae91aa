// Package daemon assembles the affnet process from its configuration.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/affnet-network/affnet/internal/api"
	"github.com/affnet-network/affnet/internal/app/engine"
	"github.com/affnet-network/affnet/internal/infra/inactivity"
	"github.com/affnet-network/affnet/internal/infra/observability"
	"github.com/affnet-network/affnet/internal/infra/snapshot"
	"github.com/affnet-network/affnet/internal/infra/sqlite"
	"github.com/affnet-network/affnet/internal/logging"
	"github.com/affnet-network/affnet/internal/version"
)

// Daemon owns the database, the engine service and, when serving, the HTTP
// server and daily runner.
type Daemon struct {
	Config  Config
	Log     *zap.Logger
	DB      *sqlite.DB
	Service *engine.Service
}

// New opens the database, restores the latest configuration snapshot and
// builds the service.
func New(ctx context.Context, cfg Config) (*Daemon, error) {
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	db, err := sqlite.Open(cfg.Database.Dir)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := snapshot.NewStore(db, inactivity.Config{Workers: cfg.Inactivity.Workers, Location: loc})
	if err := store.Load(ctx); err != nil {
		db.Close()
		return nil, err
	}

	svc := engine.New(engine.Deps{
		Snapshots:  store,
		Affiliates: db,
		Ledger:     db,
		Passes:     db,
		Tracer: observability.NewTracer(observability.TracerConfig{
			Enabled:  cfg.Tracing.Enabled,
			MaxSpans: cfg.Tracing.MaxSpans,
		}),
		Logger: log,
	})

	if cur, err := svc.CurrentConfig(); err == nil {
		observability.SnapshotVersion.Set(float64(cur.Version))
		log.Info("configuration loaded", zap.Int64("snapshot_version", cur.Version))
	} else {
		log.Warn("no configuration saved yet; run `affnet config apply`")
	}

	return &Daemon{Config: cfg, Log: log, DB: db, Service: svc}, nil
}

// Close releases the database and flushes the logger.
func (d *Daemon) Close() error {
	err := d.DB.Close()
	_ = d.Log.Sync()
	return err
}

// Serve runs the HTTP API and, when scheduled, the daily runner until ctx is
// cancelled.
func (d *Daemon) Serve(ctx context.Context) error {
	srv := api.NewServer(d.Service, d.Log, version.Version)
	if d.Config.Metrics.Enabled {
		srv.EnableMetrics()
	}

	if d.Config.Inactivity.Schedule {
		loc, err := d.Config.Location()
		if err != nil {
			return err
		}
		runner, err := engine.NewRunner(d.Service, engine.RunnerConfig{
			RunAt:    d.Config.Inactivity.RunAt,
			Location: loc,
		}, d.Log)
		if err != nil {
			return err
		}
		runner.Start(ctx)
		defer runner.Stop()
		srv.SetRunner(runner)
	}

	httpSrv := &http.Server{
		Addr:              d.Config.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		d.Log.Info("api listening", zap.String("addr", httpSrv.Addr))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		d.Log.Info("shutting down")
		return httpSrv.Shutdown(shutdownCtx)
	}
}
