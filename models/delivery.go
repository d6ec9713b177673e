package models

import (
	"time"

	"gorm.io/gorm"
)

// Delivery statuses.
const (
	DeliveryPending   = "pending"
	DeliverySending   = "sending"
	DeliverySent      = "sent"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
)

// Delivery records one send attempt for one source row, including rows that
// were skipped or failed validation (recorded as failed with a reason).
type Delivery struct {
	gorm.Model
	CampaignID uint `gorm:"not null;index" json:"campaign_id"`
	RowNumber  int  `gorm:"not null" json:"row_number"`

	PhoneNumber   string `json:"phone_number"`
	RecipientName string `json:"recipient_name"`

	// SampleIndex is -1 when the sample came from a source-row column.
	SampleIndex  int               `gorm:"default:0" json:"sample_index"`
	SampleText   string            `json:"sample_text"`
	FinalMessage string            `json:"final_message"`
	Variables    map[string]string `gorm:"type:jsonb;serializer:json" json:"variables"`

	Status       string     `gorm:"default:'pending';index" json:"status"`
	MessageID    string     `json:"message_id"`
	ErrorMessage string     `json:"error_message"`
	RetryCount   int        `gorm:"default:0" json:"retry_count"`
	SentAt       *time.Time `json:"sent_at"`
	DeliveredAt  *time.Time `json:"delivered_at"`
}

// Contact is a user-owned saved contact, consulted by the skip-saved-contacts
// exclusion filter and written by save-contact-before-send.
type Contact struct {
	gorm.Model
	UserID uint   `gorm:"not null;uniqueIndex:idx_user_phone" json:"user_id"`
	Phone  string `gorm:"not null;uniqueIndex:idx_user_phone" json:"phone"`
	Name   string `json:"name"`
}
