package models

import (
	"time"

	"gorm.io/gorm"
)

// User owns sessions, contacts and campaigns. Message credits and the daily
// send limit back the quota checks performed before every dispatch.
type User struct {
	gorm.Model
	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Name     string `json:"name"`
	IsActive bool   `gorm:"default:true" json:"is_active"`

	// Bumped on password change / forced logout; tokens carry a copy.
	TokenVersion int `gorm:"default:1" json:"-"`

	// Credit-based plan information
	PlanName        string     `gorm:"default:'free'" json:"plan_name"` // free, starter, grow, enterprise
	MessageCredits  int        `gorm:"default:1000" json:"message_credits"`
	CreditsConsumed int        `gorm:"default:0" json:"credits_consumed"`
	DailySendLimit  int        `gorm:"default:500" json:"daily_send_limit"`
	SentToday       int        `gorm:"default:0" json:"sent_today"`
	LastCreditReset *time.Time `json:"last_credit_reset"`

	// Relations
	Sessions  []WASession `gorm:"foreignKey:UserID" json:"sessions,omitempty"`
	Campaigns []Campaign  `gorm:"foreignKey:UserID" json:"campaigns,omitempty"`
	Contacts  []Contact   `gorm:"foreignKey:UserID" json:"contacts,omitempty"`
}

// RemainingCredits returns how many messages the user may still send against
// the purchased credit pool.
func (u *User) RemainingCredits() int {
	return u.MessageCredits - u.CreditsConsumed
}
