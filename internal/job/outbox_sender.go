package job

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"timebank/internal/config"
	"timebank/internal/infrastructure/metrics"
	"timebank/internal/infrastructure/mq"
	"timebank/internal/model"
	"timebank/internal/repository"
)

// OutboxSender publishes PENDING outbox messages. A message that keeps
// failing is marked FAILED after MaxRetryCount attempts.
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  mq.Publisher
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
	maxRetry   int
	log        zerolog.Logger
}

func NewOutboxSender(db *gorm.DB, publisher mq.Publisher, cfg *config.Config) *OutboxSender {
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		stopCh:     make(chan struct{}),
		interval:   cfg.Business.OutboxInterval,
		batchSize:  cfg.Business.BatchSize,
		maxRetry:   cfg.Business.MaxRetryCount,
		log:        log.With().Str("job", "outbox_sender").Logger(),
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.log.Info().Dur("interval", s.interval).Msg("started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("context done, exiting")
			return
		case <-s.stopCh:
			s.log.Info().Msg("stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// RunOnce sends one batch and returns how many messages went out.
func (s *OutboxSender) RunOnce(ctx context.Context) int {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.log.Error().Err(err).Msg("load pending messages")
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.sendMessage(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	err := s.publisher.Publish(msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		metrics.OutboxPublished.WithLabelValues(metrics.OutcomeOK).Inc()
		if updateErr := s.outboxRepo.MarkAsSent(ctx, msg.ID); updateErr != nil {
			// published but still PENDING: it will go out again, consumers dedupe on key
			s.log.Error().Err(updateErr).Int64("id", msg.ID).Msg("mark message sent")
		} else {
			s.log.Debug().Int64("id", msg.ID).Str("topic", msg.Topic).Str("key", msg.MessageKey).Msg("message sent")
		}
		return true
	}

	metrics.OutboxPublished.WithLabelValues(metrics.OutcomeError).Inc()
	s.log.Warn().Err(err).Int64("id", msg.ID).Int("retry", msg.RetryCount+1).Msg("publish failed")

	if msg.RetryCount+1 >= s.maxRetry {
		if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
			s.log.Error().Err(err).Int64("id", msg.ID).Msg("mark message failed")
		} else {
			s.log.Error().Int64("id", msg.ID).Msg("message exceeded max retries, marked FAILED")
		}
		return false
	}

	if err := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); err != nil {
		s.log.Error().Err(err).Int64("id", msg.ID).Msg("increment retry count")
	}
	return false
}
