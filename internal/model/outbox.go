package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// Event types carried in outbox payloads.
const (
	EventSessionBooked    = "session.booked"
	EventSessionConfirmed = "session.confirmed"
	EventSessionCancelled = "session.cancelled"
	EventSessionExpired   = "session.expired"
	EventSessionCompleted = "session.completed"
	EventAccountGranted   = "account.granted"
)

// OutboxMessage is written in the same DB transaction as the change it announces
// and published to Kafka afterwards by job.OutboxSender.
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

// SessionEvent is the payload of every session.* message.
type SessionEvent struct {
	Event      string        `json:"event"`
	SessionID  string        `json:"session_id"`
	TeacherID  string        `json:"teacher_id"`
	LearnerID  string        `json:"learner_id"`
	Amount     int64         `json:"amount"`
	Status     SessionStatus `json:"status"`
	ActorID    string        `json:"actor_id,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// AccountEvent is the payload of account.* messages.
type AccountEvent struct {
	Event      string    `json:"event"`
	UserID     string    `json:"user_id"`
	Amount     int64     `json:"amount"`
	ActorID    string    `json:"actor_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
