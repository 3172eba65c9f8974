package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"timebank/internal/model"
)

// ErrStatusChanged means the compare-and-set on status matched no row: the
// session moved on since it was read.
var ErrStatusChanged = fmt.Errorf("%w: session status changed concurrently", model.ErrInvalidState)

type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *SessionRepository) Create(ctx context.Context, tx *gorm.DB, session *model.SessionRecord) error {
	return r.conn(tx).WithContext(ctx).Create(session).Error
}

func (r *SessionRepository) GetByID(ctx context.Context, tx *gorm.DB, id string) (*model.SessionRecord, error) {
	var session model.SessionRecord
	err := r.conn(tx).WithContext(ctx).Where("id = ?", id).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("session %s: %w", id, model.ErrNotFound)
		}
		return nil, err
	}
	return &session, nil
}

// GetByRequestID returns nil, nil when no session carries requestID.
func (r *SessionRepository) GetByRequestID(ctx context.Context, tx *gorm.DB, requestID string) (*model.SessionRecord, error) {
	var session model.SessionRecord
	err := r.conn(tx).WithContext(ctx).Where("request_id = ?", requestID).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

// Transition describes one status change.
type Transition struct {
	From   model.SessionStatus
	To     model.SessionStatus
	At     time.Time
	Reason model.CancelReason // cancellations only
}

// UpdateStatus moves the session from t.From to t.To with
// UPDATE ... WHERE id = ? AND status = ?. Moves outside the transition table
// fail with *model.InvalidStateError before touching the store; a lost race
// fails with ErrStatusChanged.
func (r *SessionRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id string, t Transition) error {
	if !model.CanTransitionTo(t.From, t.To) {
		return &model.InvalidStateError{SessionID: id, From: t.From, To: t.To}
	}

	updates := map[string]interface{}{
		"status": t.To,
	}
	switch t.To {
	case model.SessionStatusConfirmed:
		updates["confirmed_at"] = t.At
	case model.SessionStatusCompleted:
		updates["completed_at"] = t.At
	case model.SessionStatusCancelled:
		updates["cancelled_at"] = t.At
		updates["cancel_reason"] = t.Reason
	}

	result := r.conn(tx).WithContext(ctx).
		Model(&model.SessionRecord{}).
		Where("id = ? AND status = ?", id, t.From).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusChanged
	}
	return nil
}

// ListExpiredPending returns pending sessions whose start time is before now.
func (r *SessionRepository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*model.SessionRecord, error) {
	var sessions []*model.SessionRecord
	err := r.db.WithContext(ctx).
		Where("status = ? AND start_time < ?", model.SessionStatusPending, now).
		Order("start_time ASC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

// ListOverdueConfirmed returns confirmed sessions that ended before cutoff.
func (r *SessionRepository) ListOverdueConfirmed(ctx context.Context, cutoff time.Time, limit int) ([]*model.SessionRecord, error) {
	var sessions []*model.SessionRecord
	err := r.db.WithContext(ctx).
		Where("status = ? AND end_time < ?", model.SessionStatusConfirmed, cutoff).
		Order("end_time ASC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

// ListByStatus pages through sessions in status by id, starting after afterID.
func (r *SessionRepository) ListByStatus(ctx context.Context, tx *gorm.DB, status model.SessionStatus, afterID string, limit int) ([]*model.SessionRecord, error) {
	var sessions []*model.SessionRecord
	err := r.conn(tx).WithContext(ctx).
		Where("status = ? AND id > ?", status, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

// Session roles for SessionFilter.
const (
	RoleTeacher = "teacher"
	RoleLearner = "learner"
)

type SessionFilter struct {
	UserID   string
	Role     string // RoleTeacher, RoleLearner or empty for both
	Status   model.SessionStatus
	Page     int
	PageSize int
}

func (r *SessionRepository) ListByUser(ctx context.Context, f SessionFilter) ([]*model.SessionRecord, int64, error) {
	var sessions []*model.SessionRecord
	var total int64

	query := r.db.WithContext(ctx).Model(&model.SessionRecord{})
	switch f.Role {
	case RoleTeacher:
		query = query.Where("teacher_id = ?", f.UserID)
	case RoleLearner:
		query = query.Where("learner_id = ?", f.UserID)
	default:
		query = query.Where("teacher_id = ? OR learner_id = ?", f.UserID, f.UserID)
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("start_time DESC").
		Offset((f.Page - 1) * f.PageSize).
		Limit(f.PageSize).
		Find(&sessions).Error

	return sessions, total, err
}
