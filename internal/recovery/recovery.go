// Package recovery reconciles the durable job ledger with reality after
// a process restart. In-flight state does not survive a crash, so every
// job that was queued or executing is failed with an explanatory
// message; resubmission is the recovery path.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"conveyor/internal/api"
	"conveyor/internal/broadcast"
	"conveyor/internal/jobstore"
	"conveyor/internal/logging"
	"conveyor/internal/stage"
)

// Report summarizes one recovery pass.
type Report struct {
	Failed   int
	Requeued int
}

// Service scans for orphaned jobs at daemon startup.
type Service struct {
	store    *jobstore.Store
	registry *stage.Registry
	hub      *broadcast.Hub
	logger   *slog.Logger
}

// New builds a recovery service.
func New(store *jobstore.Store, registry *stage.Registry, hub *broadcast.Hub, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		store:    store,
		registry: registry,
		hub:      hub,
		logger:   logger.With(logging.String(logging.FieldComponent, "recovery")),
	}
}

// Recover runs synchronously before the coordinator accepts work. Jobs
// found queued or mid-execution are failed as orphans; uploaded jobs
// are failed only when their source artifact is gone. Inconsistencies
// fail the affected job, never the process, and a second pass over a
// recovered database is a no-op.
func (s *Service) Recover(ctx context.Context) (Report, error) {
	jobs, err := s.store.ListNonTerminal(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list non-terminal jobs: %w", err)
	}

	var report Report
	for _, job := range jobs {
		message, shouldFail := s.classify(job)
		if !shouldFail {
			continue
		}
		won, err := s.store.Advance(ctx, job.ID, jobstore.Transition{
			From:         job.Status,
			To:           jobstore.Failed(),
			ErrorMessage: message,
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to mark orphaned job",
				logging.Int64(logging.FieldJobID, job.ID), logging.Error(err))
			continue
		}
		if !won {
			continue
		}
		report.Failed++
		s.logger.WarnContext(ctx, "failed orphaned job",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.String("previous_status", job.Status.String()),
			logging.String("reason", message))
		s.publish(ctx, job.ID)
	}

	if report.Failed > 0 {
		s.publishStats(ctx)
	}
	s.logger.InfoContext(ctx, "recovery pass complete",
		logging.Int("orphans_failed", report.Failed),
		logging.Int("jobs_inspected", len(jobs)))
	return report, nil
}

// classify decides whether a non-terminal job must be failed and with
// what message.
func (s *Service) classify(job *jobstore.Job) (string, bool) {
	if s.registry != nil {
		if err := s.registry.Validate(job.StagePlan); err != nil {
			return fmt.Sprintf("stage plan no longer valid: %v", err), true
		}
	}

	switch job.Status.Phase {
	case jobstore.PhaseUploaded:
		if _, err := os.Stat(job.SourceArtifactPath); err != nil {
			return fmt.Sprintf("source artifact missing: %s", job.SourceArtifactPath), true
		}
		return "", false
	case jobstore.PhaseQueued:
		// A vanished source is the more precise failure than the
		// generic orphan message.
		if _, err := os.Stat(job.SourceArtifactPath); err != nil {
			return fmt.Sprintf("source artifact missing: %s", job.SourceArtifactPath), true
		}
		return fmt.Sprintf("orphaned by process restart while in state %s", job.Status), true
	case jobstore.PhaseRunning, jobstore.PhaseStageCompleted:
		return fmt.Sprintf("orphaned by process restart while in state %s", job.Status), true
	default:
		return "", false
	}
}

func (s *Service) publish(ctx context.Context, jobID int64) {
	if s.hub == nil {
		return
	}
	job, err := s.store.GetByID(ctx, jobID)
	if err != nil || job == nil {
		return
	}
	if event, err := broadcast.JobUpdate(api.FromJob(job)); err == nil {
		s.hub.Publish(event)
	}
}

func (s *Service) publishStats(ctx context.Context) {
	if s.hub == nil {
		return
	}
	counts, err := s.store.Stats(ctx)
	if err != nil {
		return
	}
	if event, err := broadcast.StatsUpdate(api.FromStats(counts)); err == nil {
		s.hub.Publish(event)
	}
}
