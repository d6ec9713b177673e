package models

import (
	"time"

	"gorm.io/gorm"
)

// Campaign statuses. scheduled and queued are transient scheduling states;
// completed, failed and cancelled are terminal.
const (
	StatusCreated   = "created"
	StatusScheduled = "scheduled"
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Message selection modes.
const (
	MessageModeSingle   = "single"
	MessageModeMultiple = "multiple"
)

// MessageSample is one candidate template among several configured for a
// campaign, used for A/B comparison via CampaignAnalytics.
type MessageSample struct {
	Text string `json:"text"`
}

// Campaign represents one bulk-messaging job over a recipient spreadsheet.
type Campaign struct {
	gorm.Model
	UserID    uint `gorm:"not null;index" json:"user_id"`
	SessionID uint `gorm:"not null;index" json:"session_id"`

	Name string `gorm:"not null" json:"name"`

	// Source config
	SourceFile    string            `json:"source_file"`
	ColumnMapping map[string]string `gorm:"type:jsonb;serializer:json" json:"column_mapping"`
	StartRow      int               `gorm:"default:1" json:"start_row"`
	EndRow        int               `gorm:"default:0" json:"end_row"` // 0 = until exhausted

	// Message config
	MessageMode     string          `gorm:"default:'single'" json:"message_mode"`
	Samples         []MessageSample `gorm:"type:jsonb;serializer:json" json:"samples"`
	UseSampleColumn bool            `gorm:"default:false" json:"use_sample_column"`

	// Execution config. No column default on delay_seconds: zero is a
	// legal value (no delay) and must round-trip as written.
	DelaySeconds      int  `json:"delay_seconds"`
	RetryAttempts     int  `gorm:"default:0" json:"retry_attempts"` // reserved for per-row retry
	MaxDailyMessages  int  `gorm:"default:0" json:"max_daily_messages"`
	SkipSavedContacts bool `gorm:"default:false" json:"skip_saved_contacts"`
	SkipPriorChats    bool `gorm:"default:false" json:"skip_prior_chats"`
	SaveContactFirst  bool `gorm:"default:false" json:"save_contact_first"`

	// Scheduling
	IsScheduled        bool       `gorm:"default:false" json:"is_scheduled"`
	ScheduledStartTime *time.Time `json:"scheduled_start_time"`
	QueuePosition      *int       `json:"queue_position"` // set iff status == queued

	// Progress counters (denormalized, monotonically non-decreasing per run)
	TotalRows     int `gorm:"default:0" json:"total_rows"`
	ProcessedRows int `gorm:"default:0" json:"processed_rows"`
	SuccessCount  int `gorm:"default:0" json:"success_count"`
	ErrorCount    int `gorm:"default:0" json:"error_count"`

	Status       string `gorm:"default:'created';index" json:"status"`
	ErrorDetails string `json:"error_details"`

	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`

	// Relations
	Session    WASession           `json:"session,omitempty"`
	Deliveries []Delivery          `gorm:"foreignKey:CampaignID;constraint:OnDelete:CASCADE" json:"deliveries,omitempty"`
	Analytics  []CampaignAnalytics `gorm:"foreignKey:CampaignID;constraint:OnDelete:CASCADE" json:"analytics,omitempty"`
}

// allowedTransitions encodes the campaign state machine. Terminal states are
// sinks; paused may only resume or be cancelled.
var allowedTransitions = map[string][]string{
	StatusCreated:   {StatusScheduled, StatusQueued, StatusRunning},
	StatusScheduled: {StatusQueued, StatusRunning},
	StatusQueued:    {StatusRunning, StatusCreated},
	StatusRunning:   {StatusPaused, StatusCompleted, StatusFailed, StatusCancelled},
	StatusPaused:    {StatusRunning, StatusCancelled},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// CanTransition reports whether the state machine permits from -> to.
func CanTransition(from, to string) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether status is a sink state.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CampaignAnalytics aggregates outcomes per message sample, one row per
// sample index, seeded when a multi-sample campaign is created.
type CampaignAnalytics struct {
	gorm.Model
	CampaignID  uint `gorm:"not null;uniqueIndex:idx_campaign_sample" json:"campaign_id"`
	SampleIndex int  `gorm:"not null;uniqueIndex:idx_campaign_sample" json:"sample_index"`

	UsageCount   int `gorm:"default:0" json:"usage_count"`
	SuccessCount int `gorm:"default:0" json:"success_count"`
	ErrorCount   int `gorm:"default:0" json:"error_count"`
}
