package job

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"timebank/internal/config"
	"timebank/internal/infrastructure/metrics"
	"timebank/internal/service"
)

// LedgerAuditJob periodically rebuilds balances from the transaction log and
// reports any drift. It only reads.
type LedgerAuditJob struct {
	engine   *service.LedgerEngine
	stopCh   chan struct{}
	interval time.Duration
	log      zerolog.Logger
}

func NewLedgerAuditJob(engine *service.LedgerEngine, cfg *config.Config) *LedgerAuditJob {
	return &LedgerAuditJob{
		engine:   engine,
		stopCh:   make(chan struct{}),
		interval: cfg.Business.AuditInterval,
		log:      log.With().Str("job", "ledger_audit").Logger(),
	}
}

func (j *LedgerAuditJob) Start(ctx context.Context) {
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

func (j *LedgerAuditJob) Stop() {
	close(j.stopCh)
}

// RunOnce audits the ledger once and publishes the discrepancy count.
func (j *LedgerAuditJob) RunOnce(ctx context.Context) (*service.AuditReport, error) {
	report, err := j.engine.Audit(ctx)
	if err != nil {
		j.log.Error().Err(err).Msg("audit failed")
		return nil, err
	}

	metrics.AuditDiscrepancies.Set(float64(len(report.Discrepancies)))

	if report.OK() {
		j.log.Info().
			Int("accounts", report.Accounts).
			Int("completed_sessions", report.CompletedSessions).
			Msg("ledger consistent")
		return report, nil
	}

	for _, d := range report.Discrepancies {
		j.log.Warn().
			Str("kind", d.Kind).
			Str("subject", d.Subject).
			Msg(d.Detail)
	}
	j.log.Error().Int("discrepancies", len(report.Discrepancies)).Msg("ledger audit found discrepancies")
	return report, nil
}
