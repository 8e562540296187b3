package pipeline

import (
	"context"
	"log/slog"

	"conveyor/internal/api"
	"conveyor/internal/broadcast"
	"conveyor/internal/jobstore"
	"conveyor/internal/logging"
)

// publisher turns store state into broadcast frames. Every method is
// best effort: a failed lookup or encode is logged and swallowed so
// pipeline progress never depends on observers.
type publisher struct {
	store  *jobstore.Store
	hub    *broadcast.Hub
	logger *slog.Logger
}

func newPublisher(store *jobstore.Store, hub *broadcast.Hub, logger *slog.Logger) *publisher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &publisher{store: store, hub: hub, logger: logger}
}

func (p *publisher) jobUpdate(ctx context.Context, jobID int64) {
	if p.hub == nil {
		return
	}
	job, err := p.store.GetByID(ctx, jobID)
	if err != nil || job == nil {
		p.logger.DebugContext(ctx, "skipping job update event", logging.Error(err))
		return
	}
	event, err := broadcast.JobUpdate(api.FromJob(job))
	if err != nil {
		p.logger.DebugContext(ctx, "failed to encode job update", logging.Error(err))
		return
	}
	p.hub.Publish(event)
}

func (p *publisher) statsUpdate(ctx context.Context) {
	if p.hub == nil {
		return
	}
	counts, err := p.store.Stats(ctx)
	if err != nil {
		p.logger.DebugContext(ctx, "skipping stats update event", logging.Error(err))
		return
	}
	event, err := broadcast.StatsUpdate(api.FromStats(counts))
	if err != nil {
		p.logger.DebugContext(ctx, "failed to encode stats update", logging.Error(err))
		return
	}
	p.hub.Publish(event)
}
