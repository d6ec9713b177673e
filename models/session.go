package models

import (
	"time"

	"gorm.io/gorm"
)

// Gateway session states as reported by the WhatsApp HTTP gateway.
const (
	SessionStarting = "STARTING"
	SessionScanQR   = "SCAN_QR_CODE"
	SessionWorking  = "WORKING"
	SessionFailed   = "FAILED"
	SessionStopped  = "STOPPED"
)

// WASession is a user-owned WhatsApp gateway session. Name is the
// transport-specific session identifier; DisplayName is what the UI shows.
type WASession struct {
	gorm.Model
	UserID      uint   `gorm:"not null;index" json:"user_id"`
	Name        string `gorm:"uniqueIndex;not null" json:"name"`
	DisplayName string `json:"display_name"`

	// Gateway API key, encrypted at rest (utils.Encrypt).
	APIKey string `json:"-"`

	// Last status seen during a pre-flight check, for display only. The
	// executor always asks the gateway directly.
	LastStatus    string     `gorm:"default:'STOPPED'" json:"last_status"`
	LastCheckedAt *time.Time `json:"last_checked_at"`
}
