package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"

	"timebank/internal/config"
	"timebank/internal/infrastructure/lock"
	"timebank/internal/infrastructure/metrics"
	"timebank/internal/model"
	"timebank/internal/repository"
	"timebank/pkg/idgen"
	"timebank/pkg/logger"
)

// ============================================================================
// LedgerEngine
// ============================================================================
//
// The only code that mutates credit accounts or appends to the transaction
// log. Every operation follows the same shape:
//
//   1. take the account locks it needs, in lexicographic key order
//   2. open one DB transaction
//   3. compare-and-set the session status, move credits through the
//      CreditAccount methods, save with a version check, append log entries,
//      enqueue the outbox event
//   4. commit, or roll all of it back on the first error
//
// Callers therefore see "done" or "failed, nothing changed".
//
// ============================================================================

type LedgerEngine struct {
	db              *gorm.DB
	locker          lock.Locker
	cfg             *config.Config
	accountRepo     *repository.AccountRepository
	sessionRepo     *repository.SessionRepository
	transactionRepo *repository.TransactionRepository
	outboxRepo      *repository.OutboxRepository
	now             func() time.Time
}

func NewLedgerEngine(db *gorm.DB, locker lock.Locker, cfg *config.Config) *LedgerEngine {
	return &LedgerEngine{
		db:              db,
		locker:          locker,
		cfg:             cfg,
		accountRepo:     repository.NewAccountRepository(db),
		sessionRepo:     repository.NewSessionRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
		now:             time.Now,
	}
}

// SetClock replaces the time source.
func (e *LedgerEngine) SetClock(now func() time.Time) {
	e.now = now
}

func (e *LedgerEngine) clock() time.Time {
	return e.now().UTC()
}

// Open stores a new pending session and reserves its duration on the
// learner's account. If the reservation fails no session is stored.
//
// A session whose RequestID was already used by the same learner is returned
// instead of booking again.
func (e *LedgerEngine) Open(ctx context.Context, session *model.SessionRecord) (*model.SessionRecord, error) {
	release, err := lock.AcquireAll(ctx, e.locker, lock.AccountKey(session.LearnerID))
	if err != nil {
		return nil, busy("learner account", err)
	}
	defer release()

	if session.RequestID != nil {
		existing, err := e.sessionRepo.GetByRequestID(ctx, nil, *session.RequestID)
		if err != nil {
			return nil, fmt.Errorf("lookup request id: %w", err)
		}
		if existing != nil {
			return e.replay(existing, session.LearnerID)
		}
	}

	now := e.clock()
	session.Status = model.SessionStatusPending
	session.CreatedAt = now

	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := e.accountRepo.GetForUpdate(ctx, tx, session.LearnerID)
		if err != nil {
			return fmt.Errorf("load learner account: %w", err)
		}
		if err := account.Reserve(session.Duration); err != nil {
			return err
		}
		if err := e.accountRepo.Save(ctx, tx, account); err != nil {
			return err
		}

		if err := e.sessionRepo.Create(ctx, tx, session); err != nil {
			return fmt.Errorf("create session: %w", err)
		}

		entry := &model.CreditTransaction{
			ID:         idgen.GenerateTransactionID(),
			SessionID:  session.ID,
			FromUserID: session.LearnerID,
			Amount:     session.Duration,
			Kind:       model.TransactionKindReserve,
			CreatedAt:  now,
		}
		if err := e.transactionRepo.Create(ctx, tx, entry); err != nil {
			return fmt.Errorf("append reserve entry: %w", err)
		}

		return e.enqueueSession(ctx, tx, model.EventSessionBooked, session, session.LearnerID, now)
	})
	if err != nil {
		// Another learner raced us to the same request id.
		if session.RequestID != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
			existing, getErr := e.sessionRepo.GetByRequestID(ctx, nil, *session.RequestID)
			if getErr == nil && existing != nil {
				return e.replay(existing, session.LearnerID)
			}
		}
		return nil, err
	}

	metrics.CreditsMoved.WithLabelValues(string(model.TransactionKindReserve)).Add(float64(session.Duration))
	logger.FromContext(ctx).Info().
		Str("session_id", session.ID).
		Str("user_id", session.LearnerID).
		Int64("amount", session.Duration).
		Msg("credits reserved")
	return session, nil
}

// Replay returns the session an earlier booking with requestID created, or
// nil if there was none. The id of another learner's booking is rejected.
func (e *LedgerEngine) Replay(ctx context.Context, learnerID, requestID string) (*model.SessionRecord, error) {
	existing, err := e.sessionRepo.GetByRequestID(ctx, nil, requestID)
	if err != nil {
		return nil, fmt.Errorf("lookup request id: %w", err)
	}
	if existing == nil {
		return nil, nil
	}
	return e.replay(existing, learnerID)
}

func (e *LedgerEngine) replay(existing *model.SessionRecord, learnerID string) (*model.SessionRecord, error) {
	if existing.LearnerID != learnerID {
		return nil, model.NewValidationError("request_id", "is already used")
	}
	return existing, nil
}

// Confirm moves a pending session to confirmed. Credits are untouched.
func (e *LedgerEngine) Confirm(ctx context.Context, session *model.SessionRecord, actorID string) (*model.SessionRecord, error) {
	now := e.clock()
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := e.sessionRepo.UpdateStatus(ctx, tx, session.ID, repository.Transition{
			From: model.SessionStatusPending,
			To:   model.SessionStatusConfirmed,
			At:   now,
		})
		if err != nil {
			return e.rejected(ctx, tx, session.ID, model.SessionStatusConfirmed, err)
		}
		session.Status = model.SessionStatusConfirmed
		session.ConfirmedAt = &now
		return e.enqueueSession(ctx, tx, model.EventSessionConfirmed, session, actorID, now)
	})
	if err != nil {
		return nil, err
	}
	return e.sessionRepo.GetByID(ctx, nil, session.ID)
}

// Release cancels a pending or confirmed session and returns its reservation
// to the learner. reason expired is used by the sweep.
func (e *LedgerEngine) Release(ctx context.Context, sessionID string, reason model.CancelReason, actorID string) (*model.SessionRecord, error) {
	session, err := e.sessionRepo.GetByID(ctx, nil, sessionID)
	if err != nil {
		return nil, err
	}

	unlock, err := lock.AcquireAll(ctx, e.locker, lock.AccountKey(session.LearnerID))
	if err != nil {
		return nil, busy("learner account", err)
	}
	defer unlock()

	now := e.clock()
	event := model.EventSessionCancelled
	if reason == model.CancelReasonExpired {
		event = model.EventSessionExpired
	}

	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := e.sessionRepo.GetByID(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if !current.Status.HoldsReservation() {
			return &model.InvalidStateError{SessionID: sessionID, From: current.Status, To: model.SessionStatusCancelled}
		}
		// only unconfirmed sessions expire; a confirm that won the race stands
		if reason == model.CancelReasonExpired && current.Status != model.SessionStatusPending {
			return &model.InvalidStateError{SessionID: sessionID, From: current.Status, To: model.SessionStatusCancelled}
		}

		err = e.sessionRepo.UpdateStatus(ctx, tx, sessionID, repository.Transition{
			From:   current.Status,
			To:     model.SessionStatusCancelled,
			At:     now,
			Reason: reason,
		})
		if err != nil {
			return e.rejected(ctx, tx, sessionID, model.SessionStatusCancelled, err)
		}

		account, err := e.accountRepo.GetForUpdate(ctx, tx, current.LearnerID)
		if err != nil {
			return fmt.Errorf("load learner account: %w", err)
		}
		if err := account.Release(current.Duration); err != nil {
			return err
		}
		if err := e.accountRepo.Save(ctx, tx, account); err != nil {
			return err
		}

		entry := &model.CreditTransaction{
			ID:        idgen.GenerateTransactionID(),
			SessionID: sessionID,
			ToUserID:  current.LearnerID,
			Amount:    current.Duration,
			Kind:      model.TransactionKindRelease,
			CreatedAt: now,
		}
		if err := e.transactionRepo.Create(ctx, tx, entry); err != nil {
			return fmt.Errorf("append release entry: %w", err)
		}

		current.Status = model.SessionStatusCancelled
		current.CancelReason = reason
		current.CancelledAt = &now
		session = current
		return e.enqueueSession(ctx, tx, event, current, actorID, now)
	})
	if err != nil {
		return nil, err
	}

	metrics.CreditsMoved.WithLabelValues(string(model.TransactionKindRelease)).Add(float64(session.Duration))
	logger.FromContext(ctx).Info().
		Str("session_id", sessionID).
		Str("user_id", session.LearnerID).
		Int64("amount", session.Duration).
		Str("reason", string(reason)).
		Msg("reservation released")
	return session, nil
}

// Settle completes a confirmed session: the learner's reservation is consumed,
// the teacher is credited and one settle-spend plus one settle-earn entry are
// appended with the same timestamp.
//
// settled is false when the session was already completed; the stored record
// is returned and nothing is written.
func (e *LedgerEngine) Settle(ctx context.Context, sessionID, actorID string) (session *model.SessionRecord, settled bool, err error) {
	session, err = e.sessionRepo.GetByID(ctx, nil, sessionID)
	if err != nil {
		return nil, false, err
	}
	if session.Status == model.SessionStatusCompleted {
		return session, false, nil
	}
	if session.Status != model.SessionStatusConfirmed {
		return nil, false, &model.InvalidStateError{SessionID: sessionID, From: session.Status, To: model.SessionStatusCompleted}
	}

	unlock, err := lock.AcquireAll(ctx, e.locker,
		lock.AccountKey(session.LearnerID),
		lock.AccountKey(session.TeacherID),
	)
	if err != nil {
		return nil, false, busy("participant accounts", err)
	}
	defer unlock()

	now := e.clock()
	alreadyDone := false

	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := e.sessionRepo.UpdateStatus(ctx, tx, sessionID, repository.Transition{
			From: model.SessionStatusConfirmed,
			To:   model.SessionStatusCompleted,
			At:   now,
		})
		if err != nil {
			if !errors.Is(err, repository.ErrStatusChanged) {
				return err
			}
			current, getErr := e.sessionRepo.GetByID(ctx, tx, sessionID)
			if getErr != nil {
				return getErr
			}
			if current.Status == model.SessionStatusCompleted {
				// lost the race to another completion
				alreadyDone = true
				session = current
				return nil
			}
			return &model.InvalidStateError{SessionID: sessionID, From: current.Status, To: model.SessionStatusCompleted}
		}

		accounts, err := e.lockAccounts(ctx, tx, session.LearnerID, session.TeacherID)
		if err != nil {
			return err
		}
		learner, teacher := accounts[session.LearnerID], accounts[session.TeacherID]

		if err := learner.SettleSpend(session.Duration); err != nil {
			return err
		}
		if err := teacher.SettleEarn(session.Duration); err != nil {
			return err
		}
		if err := e.accountRepo.Save(ctx, tx, learner); err != nil {
			return err
		}
		if err := e.accountRepo.Save(ctx, tx, teacher); err != nil {
			return err
		}

		entries := []*model.CreditTransaction{
			{
				ID:         idgen.GenerateTransactionID(),
				SessionID:  sessionID,
				FromUserID: session.LearnerID,
				ToUserID:   session.TeacherID,
				Amount:     session.Duration,
				Kind:       model.TransactionKindSettleSpend,
				CreatedAt:  now,
			},
			{
				ID:         idgen.GenerateTransactionID(),
				SessionID:  sessionID,
				FromUserID: session.LearnerID,
				ToUserID:   session.TeacherID,
				Amount:     session.Duration,
				Kind:       model.TransactionKindSettleEarn,
				CreatedAt:  now,
			},
		}
		if err := e.transactionRepo.Create(ctx, tx, entries...); err != nil {
			return fmt.Errorf("append settlement entries: %w", err)
		}

		session.Status = model.SessionStatusCompleted
		session.CompletedAt = &now
		return e.enqueueSession(ctx, tx, model.EventSessionCompleted, session, actorID, now)
	})
	if err != nil {
		return nil, false, err
	}
	if alreadyDone {
		return session, false, nil
	}

	metrics.CreditsMoved.WithLabelValues(string(model.TransactionKindSettleSpend)).Add(float64(session.Duration))
	metrics.CreditsMoved.WithLabelValues(string(model.TransactionKindSettleEarn)).Add(float64(session.Duration))
	logger.FromContext(ctx).Info().
		Str("session_id", sessionID).
		Str("learner_id", session.LearnerID).
		Str("teacher_id", session.TeacherID).
		Int64("amount", session.Duration).
		Msg("session settled")
	return session, true, nil
}

// Grant adds amount to userID's available balance. It is the only way credits
// enter circulation.
func (e *LedgerEngine) Grant(ctx context.Context, userID string, amount int64, actorID string) (*model.CreditAccount, error) {
	if userID == "" {
		return nil, model.NewValidationError("user_id", "is required")
	}

	unlock, err := lock.AcquireAll(ctx, e.locker, lock.AccountKey(userID))
	if err != nil {
		return nil, busy("account", err)
	}
	defer unlock()

	now := e.clock()
	var account *model.CreditAccount

	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err = e.accountRepo.GetForUpdate(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("load account: %w", err)
		}
		if err := account.Grant(amount); err != nil {
			return err
		}
		if err := e.accountRepo.Save(ctx, tx, account); err != nil {
			return err
		}

		entry := &model.CreditTransaction{
			ID:        idgen.GenerateTransactionID(),
			ToUserID:  userID,
			Amount:    amount,
			Kind:      model.TransactionKindGrant,
			CreatedAt: now,
		}
		if err := e.transactionRepo.Create(ctx, tx, entry); err != nil {
			return fmt.Errorf("append grant entry: %w", err)
		}

		return e.outboxRepo.Enqueue(ctx, tx, e.cfg.Kafka.Topic.AccountEvents, userID, model.AccountEvent{
			Event:      model.EventAccountGranted,
			UserID:     userID,
			Amount:     amount,
			ActorID:    actorID,
			OccurredAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.CreditsMoved.WithLabelValues(string(model.TransactionKindGrant)).Add(float64(amount))
	logger.FromContext(ctx).Info().
		Str("user_id", userID).
		Str("actor_id", actorID).
		Int64("amount", amount).
		Msg("credits granted")
	return account, nil
}

// rejected turns a failed status CAS into an InvalidStateError carrying the
// status the session actually has now.
// lockAccounts row-locks the accounts of userIDs in user id order, the order
// lock.AcquireAll takes the account locks in.
func (e *LedgerEngine) lockAccounts(ctx context.Context, tx *gorm.DB, userIDs ...string) (map[string]*model.CreditAccount, error) {
	ids := append([]string(nil), userIDs...)
	sort.Strings(ids)

	accounts := make(map[string]*model.CreditAccount, len(ids))
	for _, id := range ids {
		if _, ok := accounts[id]; ok {
			continue
		}
		account, err := e.accountRepo.GetForUpdate(ctx, tx, id)
		if err != nil {
			return nil, fmt.Errorf("load account %s: %w", id, err)
		}
		accounts[id] = account
	}
	return accounts, nil
}

// busy wraps a failed lock acquisition as retryable contention.
func busy(what string, err error) error {
	return fmt.Errorf("%w: lock %s: %w", model.ErrBusy, what, err)
}

func (e *LedgerEngine) rejected(ctx context.Context, tx *gorm.DB, sessionID string, to model.SessionStatus, err error) error {
	if !errors.Is(err, repository.ErrStatusChanged) {
		return err
	}
	current, getErr := e.sessionRepo.GetByID(ctx, tx, sessionID)
	if getErr != nil {
		return getErr
	}
	return &model.InvalidStateError{SessionID: sessionID, From: current.Status, To: to}
}

func (e *LedgerEngine) enqueueSession(ctx context.Context, tx *gorm.DB, event string, s *model.SessionRecord, actorID string, at time.Time) error {
	return e.outboxRepo.Enqueue(ctx, tx, e.cfg.Kafka.Topic.SessionEvents, s.ID, model.SessionEvent{
		Event:      event,
		SessionID:  s.ID,
		TeacherID:  s.TeacherID,
		LearnerID:  s.LearnerID,
		Amount:     s.Duration,
		Status:     s.Status,
		ActorID:    actorID,
		OccurredAt: at,
	})
}
