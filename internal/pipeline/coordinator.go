package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"conveyor/internal/broadcast"
	"conveyor/internal/gate"
	"conveyor/internal/jobstore"
	"conveyor/internal/logging"
	"conveyor/internal/stage"
	"conveyor/internal/staging"
)

// Coordinator admits batches of artifacts into the pipeline and runs
// each admitted job on its own goroutine behind the limiter.
type Coordinator struct {
	store    *jobstore.Store
	stager   *staging.Stager
	registry *stage.Registry
	limiter  *gate.Limiter
	executor *Executor
	events   *publisher
	logger   *slog.Logger

	runCtx    context.Context
	cancelRun context.CancelFunc
	wg        sync.WaitGroup
}

// NewCoordinator wires the submission path. Jobs spawned by a submit
// outlive the submitting request; they stop only when Close is called.
func NewCoordinator(store *jobstore.Store, stager *staging.Stager, registry *stage.Registry, limiter *gate.Limiter, hub *broadcast.Hub, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = logging.NewNop()
	}
	runCtx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		store:     store,
		stager:    stager,
		registry:  registry,
		limiter:   limiter,
		executor:  NewExecutor(store, stager, registry, hub, logger),
		events:    newPublisher(store, hub, logger),
		logger:    logger.With(logging.String(logging.FieldComponent, "coordinator")),
		runCtx:    runCtx,
		cancelRun: cancel,
	}
}

// SubmitBatch creates one job per artifact path and dispatches the ones
// that queue successfully. The job ids of every created job are
// returned in submission order; a job whose staging fails is marked
// failed on its own row without affecting the rest of the batch.
func (c *Coordinator) SubmitBatch(ctx context.Context, artifactPaths []string, stagePlan []string) ([]int64, error) {
	if len(artifactPaths) == 0 {
		return nil, fmt.Errorf("batch contains no artifacts")
	}
	if err := c.registry.Validate(stagePlan); err != nil {
		return nil, fmt.Errorf("invalid stage plan: %w", err)
	}

	ids := make([]int64, 0, len(artifactPaths))
	for _, path := range artifactPaths {
		id, err := c.submitOne(ctx, path, stagePlan)
		if err != nil {
			c.logger.ErrorContext(ctx, "batch member rejected",
				logging.String("artifact", path), logging.Error(err))
			if id == 0 {
				continue
			}
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no jobs admitted from batch of %d", len(artifactPaths))
	}
	return ids, nil
}

// SubmitDirectory enumerates the regular files of dir (sorted by name)
// and submits them as one batch.
func (c *Coordinator) SubmitDirectory(ctx context.Context, dir string, stagePlan []string) ([]int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read batch directory: %w", err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return nil, fmt.Errorf("directory %s contains no files", dir)
	}
	return c.SubmitBatch(ctx, paths, stagePlan)
}

// submitOne creates, stages and queues a single job, then hands it to a
// worker goroutine. The returned id is non-zero once the row exists,
// even when a later step fails the job.
func (c *Coordinator) submitOne(ctx context.Context, artifactPath string, stagePlan []string) (int64, error) {
	job, err := c.store.Create(ctx, filepath.Base(artifactPath), artifactPath, stagePlan)
	if err != nil {
		return 0, err
	}
	ctx = logging.WithJobID(ctx, job.ID)

	archived, err := c.stager.ImportSource(ctx, job.ID, artifactPath)
	if err != nil {
		c.failSubmission(ctx, job.ID, err)
		return job.ID, err
	}

	won, err := c.store.Advance(ctx, job.ID, jobstore.Transition{
		From:               jobstore.Uploaded(),
		To:                 jobstore.Queued(),
		SetCurrentArtifact: true,
		CurrentArtifact:    archived,
	})
	if err != nil {
		return job.ID, err
	}
	if !won {
		return job.ID, fmt.Errorf("job %d left uploaded state unexpectedly", job.ID)
	}
	c.logger.InfoContext(ctx, "job queued",
		logging.String("artifact", archived),
		logging.Any("stage_plan", stagePlan))
	c.events.jobUpdate(ctx, job.ID)
	c.events.statsUpdate(ctx)

	c.dispatch(job.ID)
	return job.ID, nil
}

func (c *Coordinator) dispatch(jobID int64) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		token, err := c.limiter.Acquire(c.runCtx)
		if err != nil {
			c.logger.Warn("job not started, coordinator shutting down",
				logging.Int64(logging.FieldJobID, jobID), logging.Error(err))
			return
		}
		defer token.Release()
		if err := c.executor.Run(c.runCtx, jobID); err != nil {
			c.logger.Error("executor error",
				logging.Int64(logging.FieldJobID, jobID), logging.Error(err))
		}
	}()
}

// failSubmission records a staging failure on a job that never queued.
func (c *Coordinator) failSubmission(ctx context.Context, jobID int64, cause error) {
	won, err := c.store.Advance(ctx, jobID, jobstore.Transition{
		From:         jobstore.Uploaded(),
		To:           jobstore.Failed(),
		ErrorMessage: cause.Error(),
	})
	if err != nil || !won {
		c.logger.ErrorContext(ctx, "could not record submission failure",
			logging.Error(err), logging.String("cause", cause.Error()))
		return
	}
	c.events.jobUpdate(ctx, jobID)
	c.events.statsUpdate(ctx)
}

// InFlight reports how many jobs currently hold execution slots.
func (c *Coordinator) InFlight() int {
	return c.limiter.InFlight()
}

// Wait blocks until every dispatched job has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Close stops admitting work to waiting jobs and drains the running ones.
func (c *Coordinator) Close() {
	c.cancelRun()
	c.wg.Wait()
}
