package models

import (
	"time"

	"gorm.io/gorm"
)

// WarmupSchedule drives the gradual account-warming subsystem. Schedules are
// suspended while a campaign for the same user is running so warm-up traffic
// does not compete with campaign traffic on the session.
type WarmupSchedule struct {
	gorm.Model
	UserID    uint `gorm:"not null;index" json:"user_id"`
	SessionID uint `gorm:"not null;index" json:"session_id"`

	// No column default: a schedule created as inactive must stay inactive.
	IsActive     bool   `json:"is_active"`
	PausedReason string `json:"paused_reason"`

	MessagesPerDay int        `gorm:"default:20" json:"messages_per_day"`
	SentToday      int        `gorm:"default:0" json:"sent_today"`
	StartedAt      *time.Time `json:"started_at"`
}
