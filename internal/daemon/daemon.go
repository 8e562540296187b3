package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"conveyor/internal/api"
	"conveyor/internal/broadcast"
	"conveyor/internal/config"
	"conveyor/internal/gate"
	"conveyor/internal/jobstore"
	"conveyor/internal/logging"
	"conveyor/internal/pipeline"
	"conveyor/internal/recovery"
	"conveyor/internal/stage"
	"conveyor/internal/staging"
)

const maintenanceInterval = time.Hour

// Daemon runs the pipeline coordinator, the HTTP API and the periodic
// maintenance sweep, and enforces single-instance execution via a file
// lock.
type Daemon struct {
	cfg         *config.Config
	logger      *slog.Logger
	store       *jobstore.Store
	stager      *staging.Stager
	registry    *stage.Registry
	limiter     *gate.Limiter
	hub         *broadcast.Hub
	coordinator *pipeline.Coordinator
	recovery    *recovery.Service

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New wires a daemon from a validated config and an open store. The
// registry is expected to hold a processor for every configured stage.
func New(cfg *config.Config, store *jobstore.Store, registry *stage.Registry, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || registry == nil {
		return nil, errors.New("daemon requires config, store and registry")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	limiter, err := gate.New(cfg.Workflow.MaxConcurrentJobs)
	if err != nil {
		return nil, fmt.Errorf("configure concurrency limit: %w", err)
	}
	hub := broadcast.NewHub(cfg.Workflow.EventBuffer, logger)
	stager := staging.NewStager(cfg, logger)

	d := &Daemon{
		cfg:         cfg,
		logger:      logger.With(logging.String(logging.FieldComponent, "daemon")),
		store:       store,
		stager:      stager,
		registry:    registry,
		limiter:     limiter,
		hub:         hub,
		coordinator: pipeline.NewCoordinator(store, stager, registry, limiter, hub, logger),
		recovery:    recovery.New(store, registry, hub, logger),
		lockPath:    filepath.Join(cfg.Paths.LogDir, "conveyord.lock"),
	}
	d.lock = flock.New(d.lockPath)
	d.api, err = newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Start acquires the instance lock, reconciles orphaned jobs, then
// brings up the API and maintenance loop.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another conveyor daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	report, err := d.recovery.Recover(d.ctx)
	if err != nil {
		d.releaseLock()
		d.cancel()
		return fmt.Errorf("startup recovery: %w", err)
	}
	if report.Failed > 0 {
		d.logger.Warn("recovered orphaned jobs", logging.Int("failed", report.Failed))
	}

	if d.api != nil {
		if err := d.api.start(d.ctx); err != nil {
			d.releaseLock()
			d.cancel()
			return err
		}
	}
	go d.maintenanceLoop(d.ctx)

	d.running.Store(true)
	d.logger.Info("conveyor daemon started",
		logging.String("lock", d.lockPath),
		logging.Int("max_concurrent_jobs", d.limiter.Capacity()))
	return nil
}

// Stop drains running jobs and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.drainJobs()
	d.hub.Close()
	d.releaseLock()
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("conveyor daemon stopped")
}

// drainJobs waits up to the configured grace period for in-flight jobs.
func (d *Daemon) drainJobs() {
	grace := time.Duration(d.cfg.Workflow.ShutdownGraceSecond) * time.Second
	done := make(chan struct{})
	go func() {
		d.coordinator.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		d.logger.Warn("shutdown grace period elapsed with jobs still running",
			logging.Int("in_flight", d.limiter.InFlight()))
	}
}

// Close stops the daemon and releases the store.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

func (d *Daemon) releaseLock() {
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
}

// maintenanceLoop periodically removes stale per-job temp trees.
func (d *Daemon) maintenanceLoop(ctx context.Context) {
	maxAge := time.Duration(d.cfg.Workflow.StaleTempMaxAgeHrs) * time.Hour
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := d.stager.CleanStale(ctx, maxAge)
			if err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Warn("stale temp sweep failed", logging.Error(err))
				continue
			}
			if removed > 0 {
				d.logger.Info("stale temp sweep", logging.Int("removed", removed))
			}
		}
	}
}

// Status assembles the runtime snapshot served by /api/status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	status := api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		JobDBPath:    d.store.Path(),
		LockFilePath: d.lockPath,
	}
	if counts, err := d.store.Stats(ctx); err == nil {
		status.Stats = api.FromStats(counts)
	}
	status.Stats.InFlight = d.limiter.InFlight()
	status.Stats.Capacity = d.limiter.Capacity()

	healths := make([]stage.Health, 0, len(d.registry.IDs()))
	for _, id := range d.registry.IDs() {
		processor, err := d.registry.Resolve(id)
		if err != nil {
			continue
		}
		healths = append(healths, processor.HealthCheck(ctx))
	}
	status.StageHealth = api.FromStageHealth(healths)
	return status
}
