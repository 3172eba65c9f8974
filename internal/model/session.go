package model

import (
	"time"
)

// SessionStatus is the closed set of states a booking can be in.
type SessionStatus string

const (
	SessionStatusPending   SessionStatus = "pending"
	SessionStatusConfirmed SessionStatus = "confirmed"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusCancelled SessionStatus = "cancelled"
)

// sessionTransitions lists every legal move. Anything absent is rejected;
// completed and cancelled are terminal.
var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionStatusPending:   {SessionStatusConfirmed, SessionStatusCancelled},
	SessionStatusConfirmed: {SessionStatusCompleted, SessionStatusCancelled},
}

// Valid reports whether s is one of the known states.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusPending, SessionStatusConfirmed, SessionStatusCompleted, SessionStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusCancelled
}

// HoldsReservation reports whether a session in s still has credits reserved on the learner.
func (s SessionStatus) HoldsReservation() bool {
	return s == SessionStatusPending || s == SessionStatusConfirmed
}

// CanTransitionTo reports whether from -> to is in the transition table.
func CanTransitionTo(from, to SessionStatus) bool {
	for _, s := range sessionTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// LocationType says where a session takes place.
type LocationType string

const (
	LocationOnline   LocationType = "online"
	LocationOnCampus LocationType = "on_campus"
)

func (l LocationType) Valid() bool {
	return l == LocationOnline || l == LocationOnCampus
}

// CancelReason records who or what cancelled a session.
type CancelReason string

const (
	CancelReasonLearner CancelReason = "learner"
	CancelReasonTeacher CancelReason = "teacher"
	CancelReasonExpired CancelReason = "expired"
)

// SessionRecord is one booking of a teacher's time by a learner.
// Duration is in minutes and equals the credits at stake.
// Records are never deleted; terminal records stay for audit.
type SessionRecord struct {
	ID              string        `gorm:"type:varchar(64);primaryKey" json:"id"`
	RequestID       *string       `gorm:"type:varchar(64);uniqueIndex" json:"request_id,omitempty"`
	TeacherID       string        `gorm:"type:varchar(64);index;not null" json:"teacher_id"`
	LearnerID       string        `gorm:"type:varchar(64);index;not null" json:"learner_id"`
	SkillID         string        `gorm:"type:varchar(64);not null" json:"skill_id"`
	StartTime       time.Time     `gorm:"not null;index" json:"start_time"`
	EndTime         time.Time     `gorm:"not null;index" json:"end_time"`
	Duration        int64         `gorm:"not null" json:"duration"`
	LocationType    LocationType  `gorm:"type:varchar(16);not null" json:"location_type"`
	LocationDetails string        `gorm:"type:varchar(512)" json:"location_details,omitempty"`
	Status          SessionStatus `gorm:"type:varchar(16);index;not null" json:"status"`
	CancelReason    CancelReason  `gorm:"type:varchar(16)" json:"cancel_reason,omitempty"`
	ConfirmedAt     *time.Time    `json:"confirmed_at,omitempty"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	CancelledAt     *time.Time    `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SessionRecord) TableName() string {
	return "session_record"
}

// IsParticipant reports whether userID is the teacher or the learner.
func (s *SessionRecord) IsParticipant(userID string) bool {
	return userID != "" && (userID == s.TeacherID || userID == s.LearnerID)
}

// Counterparty returns the other participant relative to userID, or "" if userID is not a participant.
func (s *SessionRecord) Counterparty(userID string) string {
	switch userID {
	case s.TeacherID:
		return s.LearnerID
	case s.LearnerID:
		return s.TeacherID
	}
	return ""
}

// Skill is the read-only slice of the skill catalog this service needs.
// The catalog service owns the table.
type Skill struct {
	ID        string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	TeacherID string    `gorm:"type:varchar(64);index;not null" json:"teacher_id"`
	Title     string    `gorm:"type:varchar(128)" json:"title"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Skill) TableName() string {
	return "skill"
}
