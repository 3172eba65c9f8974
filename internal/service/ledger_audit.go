package service

import (
	"context"
	"fmt"
	"sort"

	"gorm.io/gorm"

	"timebank/internal/model"
	"timebank/internal/repository"
)

// Discrepancy kinds reported by Audit.
const (
	DiscrepancyBalance      = "balance_mismatch"
	DiscrepancyNegative     = "negative_balance"
	DiscrepancyConservation = "conservation"
	DiscrepancySettlement   = "settlement_entries"
	DiscrepancyOrphanSettle = "settlement_without_completion"
)

type Discrepancy struct {
	Kind    string `json:"kind"`
	Subject string `json:"subject"` // user id or session id
	Detail  string `json:"detail"`
}

// AuditReport is the result of rebuilding the ledger from the transaction log.
type AuditReport struct {
	Accounts          int           `json:"accounts"`
	CompletedSessions int           `json:"completed_sessions"`
	TotalAvailable    int64         `json:"total_available"`
	TotalReserved     int64         `json:"total_reserved"`
	TotalGranted      int64         `json:"total_granted"`
	Discrepancies     []Discrepancy `json:"discrepancies"`
}

func (r *AuditReport) OK() bool {
	return len(r.Discrepancies) == 0
}

func (r *AuditReport) add(kind, subject, format string, args ...interface{}) {
	r.Discrepancies = append(r.Discrepancies, Discrepancy{Kind: kind, Subject: subject, Detail: fmt.Sprintf(format, args...)})
}

const auditPageSize = 500

// Audit checks, inside one read transaction:
//   - every account equals its reconstruction from the log and is non-negative
//   - credits in all accounts equal credits ever granted
//   - every completed session has exactly one settle-spend and one
//     settle-earn entry, each for the session duration
//   - no other session has settle entries
//
// It never writes.
func (e *LedgerEngine) Audit(ctx context.Context) (*AuditReport, error) {
	report := &AuditReport{}

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := e.auditAccounts(ctx, tx, report); err != nil {
			return err
		}
		return e.auditSettlements(ctx, tx, report)
	})
	if err != nil {
		return nil, fmt.Errorf("audit ledger: %w", err)
	}
	return report, nil
}

type rebuilt struct {
	available int64
	reserved  int64
}

func (e *LedgerEngine) auditAccounts(ctx context.Context, tx *gorm.DB, report *AuditReport) error {
	accounts, err := e.accountRepo.ListAll(ctx, tx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	totals, err := e.transactionRepo.TotalsByUser(ctx, tx)
	if err != nil {
		return fmt.Errorf("sum transaction log: %w", err)
	}

	expected := make(map[string]*rebuilt)
	for _, t := range totals {
		b, ok := expected[t.UserID]
		if !ok {
			b = &rebuilt{}
			expected[t.UserID] = b
		}
		switch t.Kind {
		case model.TransactionKindGrant, model.TransactionKindSettleEarn:
			b.available += t.Total
		case model.TransactionKindRelease:
			b.available += t.Total
			b.reserved -= t.Total
		case model.TransactionKindReserve:
			b.available -= t.Total
			b.reserved += t.Total
		case model.TransactionKindSettleSpend:
			b.reserved -= t.Total
		}
		if t.Kind == model.TransactionKindGrant {
			report.TotalGranted += t.Total
		}
	}

	seen := make(map[string]bool, len(accounts))
	for _, a := range accounts {
		seen[a.UserID] = true
		report.Accounts++
		report.TotalAvailable += a.Available
		report.TotalReserved += a.Reserved

		if a.Available < 0 || a.Reserved < 0 {
			report.add(DiscrepancyNegative, a.UserID, "available=%d reserved=%d", a.Available, a.Reserved)
		}
		want := expected[a.UserID]
		if want == nil {
			want = &rebuilt{}
		}
		if want.available != a.Available || want.reserved != a.Reserved {
			report.add(DiscrepancyBalance, a.UserID, "stored available=%d reserved=%d, log gives available=%d reserved=%d",
				a.Available, a.Reserved, want.available, want.reserved)
		}
	}

	// log entries for users that have no account row
	missing := make([]string, 0)
	for userID, b := range expected {
		if !seen[userID] && (b.available != 0 || b.reserved != 0) {
			missing = append(missing, userID)
		}
	}
	sort.Strings(missing)
	for _, userID := range missing {
		b := expected[userID]
		report.add(DiscrepancyBalance, userID, "no account, log gives available=%d reserved=%d", b.available, b.reserved)
	}

	if held := report.TotalAvailable + report.TotalReserved; held != report.TotalGranted {
		report.add(DiscrepancyConservation, "*", "accounts hold %d credits, %d were granted", held, report.TotalGranted)
	}
	return nil
}

func (e *LedgerEngine) auditSettlements(ctx context.Context, tx *gorm.DB, report *AuditReport) error {
	stats, err := e.transactionRepo.SettlementStats(ctx, tx)
	if err != nil {
		return fmt.Errorf("count settlement entries: %w", err)
	}

	bySession := make(map[string]map[model.TransactionKind]repository.SettlementStat)
	for _, s := range stats {
		if bySession[s.SessionID] == nil {
			bySession[s.SessionID] = make(map[model.TransactionKind]repository.SettlementStat)
		}
		bySession[s.SessionID][s.Kind] = s
	}

	afterID := ""
	for {
		sessions, err := e.sessionRepo.ListByStatus(ctx, tx, model.SessionStatusCompleted, afterID, auditPageSize)
		if err != nil {
			return fmt.Errorf("list completed sessions: %w", err)
		}
		for _, s := range sessions {
			report.CompletedSessions++
			kinds := bySession[s.ID]
			delete(bySession, s.ID)

			for _, kind := range []model.TransactionKind{model.TransactionKindSettleSpend, model.TransactionKindSettleEarn} {
				st := kinds[kind]
				if st.Entries != 1 || st.Total != s.Duration {
					report.add(DiscrepancySettlement, s.ID, "%s: %d entries totalling %d, want 1 of %d",
						kind, st.Entries, st.Total, s.Duration)
				}
			}
		}
		if len(sessions) < auditPageSize {
			break
		}
		afterID = sessions[len(sessions)-1].ID
	}

	orphans := make([]string, 0, len(bySession))
	for id := range bySession {
		orphans = append(orphans, id)
	}
	sort.Strings(orphans)
	for _, id := range orphans {
		report.add(DiscrepancyOrphanSettle, id, "settle entries exist but session is not completed")
	}
	return nil
}
