package model

import (
	"time"
)

// Rating is post-completion feedback from one participant about the other.
// At most one per (session, rater).
type Rating struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID string    `gorm:"type:varchar(64);not null;uniqueIndex:uk_rating_session_rater" json:"session_id"`
	RaterID   string    `gorm:"type:varchar(64);not null;uniqueIndex:uk_rating_session_rater" json:"rater_id"`
	RatedID   string    `gorm:"type:varchar(64);not null;index" json:"rated_id"`
	Score     int       `gorm:"not null" json:"score"`
	Feedback  string    `gorm:"type:text" json:"feedback,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Rating) TableName() string {
	return "rating"
}

// RatingSummary aggregates the ratings a user has received.
type RatingSummary struct {
	UserID  string  `json:"user_id"`
	Count   int64   `json:"count"`
	Average float64 `json:"average"`
}
