package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"timebank/internal/infrastructure/metrics"
	"timebank/internal/model"
	"timebank/internal/repository"
	"timebank/pkg/idgen"
	"timebank/pkg/validator"
)

// SystemActor is the actor id recorded for transitions made by background jobs.
const SystemActor = "system"

type SessionService struct {
	engine          *LedgerEngine
	sessionRepo     *repository.SessionRepository
	skillRepo       *repository.SkillRepository
	transactionRepo *repository.TransactionRepository
	outboxRepo      *repository.OutboxRepository
	now             func() time.Time
}

func NewSessionService(db *gorm.DB, engine *LedgerEngine) *SessionService {
	return &SessionService{
		engine:          engine,
		sessionRepo:     repository.NewSessionRepository(db),
		skillRepo:       repository.NewSkillRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
		now:             time.Now,
	}
}

// SetClock replaces the time source used for the start-time check.
func (s *SessionService) SetClock(now func() time.Time) {
	s.now = now
}

// BookRequest asks for a session of a teacher's skill. TeacherID may be left
// empty; it is then taken from the skill catalog.
type BookRequest struct {
	RequestID       string             `json:"request_id" validate:"max=64"`
	LearnerID       string             `json:"learner_id" validate:"required,max=64"`
	TeacherID       string             `json:"teacher_id" validate:"max=64"`
	SkillID         string             `json:"skill_id" validate:"required,max=64"`
	StartTime       time.Time          `json:"start_time" validate:"required"`
	EndTime         time.Time          `json:"end_time" validate:"required,gtfield=StartTime"`
	Duration        int64              `json:"duration" validate:"gt=0"`
	LocationType    model.LocationType `json:"location_type" validate:"required,location_type"`
	LocationDetails string             `json:"location_details" validate:"max=512"`
}

// Book validates req, resolves the teacher, and opens a pending session with
// its credits reserved on the learner.
func (s *SessionService) Book(ctx context.Context, req *BookRequest) (*model.SessionRecord, error) {
	session, err := s.book(ctx, req)
	metrics.ObserveTransition("book", err, isRejection)
	return session, err
}

func (s *SessionService) book(ctx context.Context, req *BookRequest) (*model.SessionRecord, error) {
	if err := validator.Struct(req); err != nil {
		return nil, err
	}
	// a retry may arrive after the start time or a catalog change
	if req.RequestID != "" {
		existing, err := s.engine.Replay(ctx, req.LearnerID, req.RequestID)
		if err != nil || existing != nil {
			return existing, err
		}
	}
	if req.LocationType == model.LocationOnCampus && strings.TrimSpace(req.LocationDetails) == "" {
		return nil, model.NewValidationError("location_details", "is required for on_campus sessions")
	}
	if req.StartTime.Before(s.now()) {
		return nil, model.NewValidationError("start_time", "must not be in the past")
	}

	teacherID, err := s.skillRepo.TeacherOf(ctx, req.SkillID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, model.NewValidationError("skill_id", "does not exist")
		}
		return nil, fmt.Errorf("lookup skill: %w", err)
	}
	if req.TeacherID != "" && req.TeacherID != teacherID {
		return nil, model.NewValidationError("teacher_id", "does not offer this skill")
	}
	if teacherID == req.LearnerID {
		return nil, model.NewValidationError("learner_id", "cannot book your own skill")
	}

	session := &model.SessionRecord{
		ID:              idgen.GenerateSessionID(),
		TeacherID:       teacherID,
		LearnerID:       req.LearnerID,
		SkillID:         req.SkillID,
		StartTime:       req.StartTime.UTC(),
		EndTime:         req.EndTime.UTC(),
		Duration:        req.Duration,
		LocationType:    req.LocationType,
		LocationDetails: strings.TrimSpace(req.LocationDetails),
	}
	if req.RequestID != "" {
		requestID := req.RequestID
		session.RequestID = &requestID
	}

	return s.engine.Open(ctx, session)
}

// Confirm accepts a pending booking. Only the teacher may confirm.
func (s *SessionService) Confirm(ctx context.Context, sessionID, actorID string) (*model.SessionRecord, error) {
	session, err := s.confirm(ctx, sessionID, actorID)
	metrics.ObserveTransition("confirm", err, isRejection)
	return session, err
}

func (s *SessionService) confirm(ctx context.Context, sessionID, actorID string) (*model.SessionRecord, error) {
	session, err := s.sessionRepo.GetByID(ctx, nil, sessionID)
	if err != nil {
		return nil, err
	}
	if actorID != session.TeacherID {
		return nil, fmt.Errorf("%w: only the teacher can confirm session %s", model.ErrForbidden, sessionID)
	}
	if session.Status != model.SessionStatusPending {
		return nil, &model.InvalidStateError{SessionID: sessionID, From: session.Status, To: model.SessionStatusConfirmed}
	}
	return s.engine.Confirm(ctx, session, actorID)
}

// Cancel withdraws a pending or confirmed session and releases the learner's
// reservation. Either participant may cancel.
func (s *SessionService) Cancel(ctx context.Context, sessionID, actorID string) (*model.SessionRecord, error) {
	session, err := s.cancel(ctx, sessionID, actorID)
	metrics.ObserveTransition("cancel", err, isRejection)
	return session, err
}

func (s *SessionService) cancel(ctx context.Context, sessionID, actorID string) (*model.SessionRecord, error) {
	session, err := s.sessionRepo.GetByID(ctx, nil, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsParticipant(actorID) {
		return nil, fmt.Errorf("%w: %s is not a participant of session %s", model.ErrForbidden, actorID, sessionID)
	}
	if session.Status.Terminal() {
		return nil, &model.InvalidStateError{SessionID: sessionID, From: session.Status, To: model.SessionStatusCancelled}
	}

	reason := model.CancelReasonLearner
	if actorID == session.TeacherID {
		reason = model.CancelReasonTeacher
	}
	return s.engine.Release(ctx, sessionID, reason, actorID)
}

// Complete settles a confirmed session. Completing an already completed
// session returns it unchanged.
func (s *SessionService) Complete(ctx context.Context, sessionID, actorID string) (*model.SessionRecord, error) {
	session, err := s.complete(ctx, sessionID, actorID)
	metrics.ObserveTransition("complete", err, isRejection)
	return session, err
}

func (s *SessionService) complete(ctx context.Context, sessionID, actorID string) (*model.SessionRecord, error) {
	session, err := s.sessionRepo.GetByID(ctx, nil, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsParticipant(actorID) {
		return nil, fmt.Errorf("%w: %s is not a participant of session %s", model.ErrForbidden, actorID, sessionID)
	}
	session, _, err = s.engine.Settle(ctx, sessionID, actorID)
	return session, err
}

func (s *SessionService) Get(ctx context.Context, sessionID string) (*model.SessionRecord, error) {
	return s.sessionRepo.GetByID(ctx, nil, sessionID)
}

// SessionHistory is everything recorded about one session: its ledger entries
// and the lifecycle events queued for it, both oldest first.
type SessionHistory struct {
	Session      *model.SessionRecord       `json:"session"`
	Transactions []*model.CreditTransaction `json:"transactions"`
	Events       []*model.OutboxMessage     `json:"events"`
}

// History is visible to the two participants only.
func (s *SessionService) History(ctx context.Context, sessionID, actorID string) (*SessionHistory, error) {
	session, err := s.sessionRepo.GetByID(ctx, nil, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsParticipant(actorID) {
		return nil, fmt.Errorf("%w: %s is not a participant of session %s", model.ErrForbidden, actorID, sessionID)
	}

	entries, err := s.transactionRepo.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session entries: %w", err)
	}
	events, err := s.outboxRepo.ListByKey(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session events: %w", err)
	}
	return &SessionHistory{Session: session, Transactions: entries, Events: events}, nil
}

// ListFilter narrows ListForUser. Zero values mean "any" and the default page.
type ListFilter struct {
	Role     string
	Status   model.SessionStatus
	Page     int
	PageSize int
}

type SessionPage struct {
	List     []*model.SessionRecord `json:"list"`
	Total    int64                  `json:"total"`
	Page     int                    `json:"page"`
	PageSize int                    `json:"page_size"`
}

func (s *SessionService) ListForUser(ctx context.Context, userID string, f ListFilter) (*SessionPage, error) {
	if f.Role != "" && f.Role != repository.RoleTeacher && f.Role != repository.RoleLearner {
		return nil, model.NewValidationError("role", "must be teacher or learner")
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, model.NewValidationError("status", "is not a session status")
	}
	page, pageSize := normalizePage(f.Page, f.PageSize)

	sessions, total, err := s.sessionRepo.ListByUser(ctx, repository.SessionFilter{
		UserID:   userID,
		Role:     f.Role,
		Status:   f.Status,
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		return nil, err
	}
	return &SessionPage{List: sessions, Total: total, Page: page, PageSize: pageSize}, nil
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

// isRejection reports whether err is a business rejection rather than a fault.
func isRejection(err error) bool {
	for _, target := range []error{
		model.ErrValidation,
		model.ErrInsufficientFunds,
		model.ErrInvalidState,
		model.ErrForbidden,
		model.ErrInvalidCounterparty,
		model.ErrDuplicateRating,
		model.ErrNotFound,
		model.ErrBusy,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
