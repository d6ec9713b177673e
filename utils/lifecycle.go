package utils

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"wablast/apperrors"
	"wablast/models"

	"gorm.io/gorm"
)

// CampaignManager owns campaign CRUD and guarded status transitions. Every
// status write is a compare-and-set on the expected current status so a
// concurrently-running executor and the health monitor can never silently
// overwrite each other. slotMu serializes the running-slot check against
// the promotion that follows it; the engine runs as a single process and
// all promotions go through this manager.
type CampaignManager struct {
	DB        *gorm.DB
	Logger    *log.Logger
	UploadDir string

	slotMu sync.Mutex
}

func NewCampaignManager(db *gorm.DB, logger *log.Logger, uploadDir string) *CampaignManager {
	return &CampaignManager{DB: db, Logger: logger, UploadDir: uploadDir}
}

// CreateCampaignInput is the validated campaign spec.
type CreateCampaignInput struct {
	Name      string `json:"name" validate:"required,min=1,max=200"`
	SessionID uint   `json:"session_id" validate:"required"`

	SourceFile    string            `json:"source_file" validate:"required"`
	ColumnMapping map[string]string `json:"column_mapping"`
	StartRow      int               `json:"start_row" validate:"gte=0"`
	EndRow        int               `json:"end_row" validate:"gte=0"`

	MessageMode     string                 `json:"message_mode" validate:"omitempty,oneof=single multiple"`
	Samples         []models.MessageSample `json:"samples"`
	UseSampleColumn bool                   `json:"use_sample_column"`

	DelaySeconds      int  `json:"delay_seconds" validate:"gte=0"`
	RetryAttempts     int  `json:"retry_attempts" validate:"gte=0"`
	MaxDailyMessages  int  `json:"max_daily_messages" validate:"gte=0"`
	SkipSavedContacts bool `json:"skip_saved_contacts"`
	SkipPriorChats    bool `json:"skip_prior_chats"`
	SaveContactFirst  bool `json:"save_contact_first"`

	IsScheduled        bool       `json:"is_scheduled"`
	ScheduledStartTime *time.Time `json:"scheduled_start_time"`
}

// Create validates the spec and persists the campaign as created (or
// scheduled when a start time is configured). Multi-sample campaigns get one
// analytics row per sample so A/B stats start from zero.
func (m *CampaignManager) Create(userID uint, in *CreateCampaignInput) (*models.Campaign, error) {
	if err := ValidateStruct(in); err != nil {
		return nil, apperrors.NewValidation("%v", err)
	}
	if !in.UseSampleColumn && len(in.Samples) == 0 {
		return nil, apperrors.NewValidation("at least one message sample is required")
	}

	var session models.WASession
	if err := m.DB.Where("id = ? AND user_id = ?", in.SessionID, userID).First(&session).Error; err != nil {
		return nil, apperrors.NewValidation("session not found")
	}

	mode := in.MessageMode
	if mode == "" {
		if len(in.Samples) > 1 {
			mode = models.MessageModeMultiple
		} else {
			mode = models.MessageModeSingle
		}
	}

	status := models.StatusCreated
	if in.IsScheduled && in.ScheduledStartTime != nil {
		status = models.StatusScheduled
	}

	campaign := &models.Campaign{
		UserID:             userID,
		SessionID:          in.SessionID,
		Name:               in.Name,
		SourceFile:         in.SourceFile,
		ColumnMapping:      in.ColumnMapping,
		StartRow:           in.StartRow,
		EndRow:             in.EndRow,
		MessageMode:        mode,
		Samples:            in.Samples,
		UseSampleColumn:    in.UseSampleColumn,
		DelaySeconds:       in.DelaySeconds,
		RetryAttempts:      in.RetryAttempts,
		MaxDailyMessages:   in.MaxDailyMessages,
		SkipSavedContacts:  in.SkipSavedContacts,
		SkipPriorChats:     in.SkipPriorChats,
		SaveContactFirst:   in.SaveContactFirst,
		IsScheduled:        in.IsScheduled,
		ScheduledStartTime: in.ScheduledStartTime,
		Status:             status,
	}

	err := m.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(campaign).Error; err != nil {
			return err
		}
		if mode == models.MessageModeMultiple {
			for i := range in.Samples {
				row := models.CampaignAnalytics{CampaignID: campaign.ID, SampleIndex: i}
				if err := tx.Create(&row).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return campaign, nil
}

// transition performs a CAS status update: the write only lands when the
// current status is one of from. On a miss the caller gets an
// InvalidTransitionError naming the actual current status.
func (m *CampaignManager) transition(id uint, from []string, to string, extra map[string]interface{}) error {
	updates := map[string]interface{}{"status": to}
	for k, v := range extra {
		updates[k] = v
	}

	res := m.DB.Model(&models.Campaign{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var current models.Campaign
		if err := m.DB.Select("status").First(&current, id).Error; err != nil {
			return err
		}
		return apperrors.NewInvalidTransition(id, current.Status, to)
	}
	return nil
}

// Start moves a campaign from created/scheduled/paused into execution. When
// another campaign already holds the single running slot, created/scheduled
// campaigns are appended to the queue instead; a paused campaign cannot wait
// in the queue and the call is rejected.
func (m *CampaignManager) Start(id uint) (*models.Campaign, error) {
	var campaign models.Campaign
	if err := m.DB.First(&campaign, id).Error; err != nil {
		return nil, err
	}

	switch campaign.Status {
	case models.StatusCreated, models.StatusScheduled, models.StatusPaused:
	default:
		return nil, apperrors.NewInvalidTransition(id, campaign.Status, models.StatusRunning)
	}

	m.slotMu.Lock()
	busy, err := m.HasRunning()
	if err == nil {
		if busy {
			if campaign.Status == models.StatusPaused {
				err = fmt.Errorf("cannot resume campaign %d: another campaign is running", id)
			} else {
				err = m.enqueue(&campaign)
			}
		} else {
			err = m.MarkRunning(&campaign)
		}
	}
	m.slotMu.Unlock()
	if err != nil {
		return nil, err
	}

	if err := m.DB.First(&campaign, id).Error; err != nil {
		return nil, err
	}
	return &campaign, nil
}

// ClaimRunningSlot promotes the campaign to running only when no campaign
// holds the slot. The check and the promotion happen under slotMu, so two
// concurrent claims can never both observe a free slot.
func (m *CampaignManager) ClaimRunningSlot(c *models.Campaign) (bool, error) {
	m.slotMu.Lock()
	defer m.slotMu.Unlock()

	busy, err := m.HasRunning()
	if err != nil {
		return false, err
	}
	if busy {
		return false, nil
	}
	if err := m.MarkRunning(c); err != nil {
		return false, err
	}
	return true, nil
}

// MarkRunning promotes a campaign into the running state, clearing its
// scheduling fields and stamping started_at on first entry.
func (m *CampaignManager) MarkRunning(c *models.Campaign) error {
	extra := map[string]interface{}{
		"is_scheduled":         false,
		"scheduled_start_time": nil,
		"queue_position":       nil,
		"error_details":        "",
	}
	if c.StartedAt == nil {
		extra["started_at"] = time.Now()
	}
	return m.transition(c.ID, []string{models.StatusCreated, models.StatusScheduled, models.StatusQueued, models.StatusPaused},
		models.StatusRunning, extra)
}

// Enqueue appends a campaign to the wait queue with the next dense position.
func (m *CampaignManager) Enqueue(c *models.Campaign) error {
	m.slotMu.Lock()
	defer m.slotMu.Unlock()
	return m.enqueue(c)
}

func (m *CampaignManager) enqueue(c *models.Campaign) error {
	return m.DB.Transaction(func(tx *gorm.DB) error {
		var maxPos int
		if err := tx.Model(&models.Campaign{}).
			Where("status = ?", models.StatusQueued).
			Select("COALESCE(MAX(queue_position), 0)").
			Scan(&maxPos).Error; err != nil {
			return err
		}

		res := tx.Model(&models.Campaign{}).
			Where("id = ? AND status IN ?", c.ID, []string{models.StatusCreated, models.StatusScheduled}).
			Updates(map[string]interface{}{
				"status":         models.StatusQueued,
				"queue_position": maxPos + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperrors.NewInvalidTransition(c.ID, c.Status, models.StatusQueued)
		}
		return nil
	})
}

// NextQueued returns the queued campaign with the lowest position, or nil.
func (m *CampaignManager) NextQueued() (*models.Campaign, error) {
	var campaign models.Campaign
	err := m.DB.Where("status = ?", models.StatusQueued).
		Order("queue_position ASC, id ASC").
		First(&campaign).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &campaign, nil
}

// RenumberQueue compacts queue positions to a dense 1..N ranking.
func (m *CampaignManager) RenumberQueue() error {
	var queued []models.Campaign
	if err := m.DB.Where("status = ?", models.StatusQueued).
		Order("queue_position ASC, id ASC").
		Find(&queued).Error; err != nil {
		return err
	}

	for i, c := range queued {
		want := i + 1
		if c.QueuePosition != nil && *c.QueuePosition == want {
			continue
		}
		if err := m.DB.Model(&models.Campaign{}).
			Where("id = ?", c.ID).
			Update("queue_position", want).Error; err != nil {
			return err
		}
	}
	return nil
}

// HasRunning reports whether any campaign currently holds the running slot.
func (m *CampaignManager) HasRunning() (bool, error) {
	var count int64
	err := m.DB.Model(&models.Campaign{}).
		Where("status = ?", models.StatusRunning).
		Count(&count).Error
	return count > 0, err
}

// Pause suspends a running campaign. Pausing anything else (including an
// already-paused campaign) is an InvalidTransitionError, not a silent no-op.
func (m *CampaignManager) Pause(id uint) error {
	return m.transition(id, []string{models.StatusRunning}, models.StatusPaused, nil)
}

// PauseWithReason is Pause with error_details, used by the health monitor
// and the quota guard.
func (m *CampaignManager) PauseWithReason(id uint, reason string) error {
	return m.transition(id, []string{models.StatusRunning}, models.StatusPaused,
		map[string]interface{}{"error_details": reason})
}

// Stop dequeues a queued campaign back to created, or cancels a running or
// paused one. Other source statuses are rejected.
func (m *CampaignManager) Stop(id uint) error {
	var campaign models.Campaign
	if err := m.DB.First(&campaign, id).Error; err != nil {
		return err
	}

	switch campaign.Status {
	case models.StatusQueued:
		if err := m.transition(id, []string{models.StatusQueued}, models.StatusCreated,
			map[string]interface{}{"queue_position": nil}); err != nil {
			return err
		}
		return m.RenumberQueue()
	case models.StatusRunning, models.StatusPaused:
		return m.transition(id, []string{models.StatusRunning, models.StatusPaused}, models.StatusCancelled,
			map[string]interface{}{"completed_at": time.Now()})
	default:
		return apperrors.NewInvalidTransition(id, campaign.Status, models.StatusCancelled)
	}
}

// Complete marks a natural finish. Only valid from running, so a campaign
// paused mid-run by the monitor keeps its paused status.
func (m *CampaignManager) Complete(id uint) error {
	return m.transition(id, []string{models.StatusRunning}, models.StatusCompleted,
		map[string]interface{}{"completed_at": time.Now()})
}

// Fail marks a terminal failure with a human-readable reason.
func (m *CampaignManager) Fail(id uint, reason string) error {
	return m.transition(id, []string{models.StatusRunning, models.StatusQueued}, models.StatusFailed,
		map[string]interface{}{
			"completed_at":  time.Now(),
			"error_details": reason,
		})
}

// Delete removes a campaign, its deliveries and analytics, and the uploaded
// source file. Rejected while the campaign is running.
func (m *CampaignManager) Delete(id uint) error {
	var campaign models.Campaign
	if err := m.DB.First(&campaign, id).Error; err != nil {
		return err
	}
	if campaign.Status == models.StatusRunning {
		return apperrors.NewInvalidTransition(id, campaign.Status, "deleted")
	}

	err := m.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("campaign_id = ?", id).Delete(&models.Delivery{}).Error; err != nil {
			return err
		}
		if err := tx.Where("campaign_id = ?", id).Delete(&models.CampaignAnalytics{}).Error; err != nil {
			return err
		}
		return tx.Delete(&campaign).Error
	})
	if err != nil {
		return err
	}

	if campaign.SourceFile != "" {
		if err := os.Remove(campaign.SourceFile); err != nil && !os.IsNotExist(err) {
			m.Logger.Printf("Failed to remove source file %s: %v", campaign.SourceFile, err)
		}
	}
	return nil
}
