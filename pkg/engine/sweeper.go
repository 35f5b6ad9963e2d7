package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/ispworks/sagaflow/pkg/eventbus"
	"github.com/ispworks/sagaflow/pkg/events"
	"github.com/ispworks/sagaflow/pkg/persistence"
)

// Sweeper re-queues running workflows whose worker died mid-execution. A
// crashed worker stops updating its instance; once the last update is older
// than the configured threshold, the sweeper publishes a fresh execution
// request and any live worker resumes from the first non-completed step.
type Sweeper struct {
	logger     *slog.Logger
	repo       persistence.WorkflowRepository
	bus        eventbus.EventPublisher
	cron       *cron.Cron
	staleAfter time.Duration
	workerID   string
}

func NewSweeper(logger *slog.Logger, repo persistence.WorkflowRepository, bus eventbus.EventPublisher, staleAfter time.Duration, workerID string) *Sweeper {
	return &Sweeper{
		logger:     logger.With("module", "sweeper"),
		repo:       repo,
		bus:        bus,
		cron:       cron.New(),
		staleAfter: staleAfter,
		workerID:   workerID,
	}
}

func (s *Sweeper) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc("@every 1m", func() { s.sweep(ctx) }); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("Recovery sweeper started", "stale_after", s.staleAfter)

	return nil
}

func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) sweep(ctx context.Context) {
	stale, err := s.repo.StaleRunning(ctx, time.Now().UTC().Add(-s.staleAfter))
	if err != nil {
		s.logger.Error("Failed to list stale workflows", "error", err)

		return
	}

	for _, workflow := range stale {
		event := events.WorkflowRequested{
			BaseEvent: events.BaseEvent{
				ID:         uuid.NewString(),
				Type:       events.WorkflowRequestedEvent,
				Timestamp:  time.Now().UTC(),
				WorkflowID: workflow.ID,
				WorkerID:   s.workerID,
			},
			WorkflowType: workflow.Type,
			TenantID:     workflow.TenantID,
		}

		if err := s.bus.Publish(ctx, workflow.ID, event); err != nil {
			s.logger.Error("Failed to re-queue stale workflow", "workflow_id", workflow.ID, "error", err)

			continue
		}

		s.logger.Info("Re-queued stale workflow",
			"workflow_id", workflow.ID,
			"workflow_type", workflow.Type,
			"updated_at", workflow.UpdatedAt)
	}
}
