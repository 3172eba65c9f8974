package job

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"timebank/internal/config"
	"timebank/internal/infrastructure/metrics"
	"timebank/internal/model"
	"timebank/internal/repository"
	"timebank/internal/service"
)

// SessionSweepJob expires pending sessions whose start time has passed and
// auto-completes confirmed sessions once end time plus the grace period has
// passed. Every move goes through the ledger engine, so a manual transition
// that lands first simply wins and the sweep skips that session.
type SessionSweepJob struct {
	engine      *service.LedgerEngine
	sessionRepo *repository.SessionRepository
	stopCh      chan struct{}
	interval    time.Duration
	grace       time.Duration
	batchSize   int
	now         func() time.Time
	log         zerolog.Logger
}

func NewSessionSweepJob(db *gorm.DB, engine *service.LedgerEngine, cfg *config.Config) *SessionSweepJob {
	return &SessionSweepJob{
		engine:      engine,
		sessionRepo: repository.NewSessionRepository(db),
		stopCh:      make(chan struct{}),
		interval:    cfg.Business.SweepInterval,
		grace:       cfg.Business.AutoCompleteGrace,
		batchSize:   cfg.Business.BatchSize,
		now:         time.Now,
		log:         log.With().Str("job", "session_sweep").Logger(),
	}
}

// SetClock replaces the time source.
func (j *SessionSweepJob) SetClock(now func() time.Time) {
	j.now = now
}

func (j *SessionSweepJob) Start(ctx context.Context) {
	j.log.Info().Dur("interval", j.interval).Msg("started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info().Msg("context done, exiting")
			return
		case <-j.stopCh:
			j.log.Info().Msg("stopped")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

func (j *SessionSweepJob) Stop() {
	close(j.stopCh)
}

// SweepResult counts what one pass did.
type SweepResult struct {
	Expired   int
	Completed int
	Skipped   int
	Failed    int
}

// RunOnce performs a single sweep pass.
func (j *SessionSweepJob) RunOnce(ctx context.Context) SweepResult {
	var res SweepResult
	now := j.now().UTC()

	j.expirePending(ctx, now, &res)
	j.completeOverdue(ctx, now.Add(-j.grace), &res)

	if res != (SweepResult{}) {
		j.log.Info().
			Int("expired", res.Expired).
			Int("completed", res.Completed).
			Int("skipped", res.Skipped).
			Int("failed", res.Failed).
			Msg("sweep pass finished")
	}
	return res
}

func (j *SessionSweepJob) expirePending(ctx context.Context, now time.Time, res *SweepResult) {
	sessions, err := j.sessionRepo.ListExpiredPending(ctx, now, j.batchSize)
	if err != nil {
		j.log.Error().Err(err).Msg("list expired pending sessions")
		return
	}

	for _, s := range sessions {
		_, err := j.engine.Release(ctx, s.ID, model.CancelReasonExpired, service.SystemActor)
		j.record("expire", s, err, res, &res.Expired)
	}
}

func (j *SessionSweepJob) completeOverdue(ctx context.Context, cutoff time.Time, res *SweepResult) {
	sessions, err := j.sessionRepo.ListOverdueConfirmed(ctx, cutoff, j.batchSize)
	if err != nil {
		j.log.Error().Err(err).Msg("list overdue confirmed sessions")
		return
	}

	for _, s := range sessions {
		_, settled, err := j.engine.Settle(ctx, s.ID, service.SystemActor)
		if err == nil && !settled {
			err = errAlreadySettled
		}
		j.record("complete", s, err, res, &res.Completed)
	}
}

var errAlreadySettled = errors.New("already settled")

func (j *SessionSweepJob) record(action string, s *model.SessionRecord, err error, res *SweepResult, done *int) {
	switch {
	case err == nil:
		*done++
		metrics.SweepProcessed.WithLabelValues(action, metrics.OutcomeOK).Inc()
	case errors.Is(err, model.ErrInvalidState) || errors.Is(err, errAlreadySettled):
		// someone else moved the session first
		res.Skipped++
		metrics.SweepProcessed.WithLabelValues(action, metrics.OutcomeRejected).Inc()
		j.log.Debug().Str("session_id", s.ID).Err(err).Msg(action + " skipped")
	default:
		res.Failed++
		metrics.SweepProcessed.WithLabelValues(action, metrics.OutcomeError).Inc()
		j.log.Error().Str("session_id", s.ID).Err(err).Msg(action + " failed")
	}
}
