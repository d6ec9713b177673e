package utils

import (
	"log"

	"wablast/models"

	"gorm.io/gorm"
)

// WarmupPauser suspends a user's account-warming schedules while one of
// their campaigns is running, and resumes them afterwards. Injected so
// deployments without the warming subsystem can use the no-op.
type WarmupPauser interface {
	PauseFor(userID uint, reason string) ([]uint, error)
	Resume(handleIDs []uint) error
}

// NoopWarmupPauser is the default when no warming subsystem is wired in.
type NoopWarmupPauser struct{}

func (NoopWarmupPauser) PauseFor(userID uint, reason string) ([]uint, error) { return nil, nil }
func (NoopWarmupPauser) Resume(handleIDs []uint) error                       { return nil }

// GormWarmupPauser pauses WarmupSchedule rows in the store.
type GormWarmupPauser struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewGormWarmupPauser(db *gorm.DB, logger *log.Logger) *GormWarmupPauser {
	return &GormWarmupPauser{DB: db, Logger: logger}
}

func (p *GormWarmupPauser) PauseFor(userID uint, reason string) ([]uint, error) {
	var schedules []models.WarmupSchedule
	if err := p.DB.Where("user_id = ? AND is_active = ?", userID, true).Find(&schedules).Error; err != nil {
		return nil, err
	}
	if len(schedules) == 0 {
		return nil, nil
	}

	ids := make([]uint, 0, len(schedules))
	for _, s := range schedules {
		ids = append(ids, s.ID)
	}

	if err := p.DB.Model(&models.WarmupSchedule{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"is_active":     false,
			"paused_reason": reason,
		}).Error; err != nil {
		return nil, err
	}

	p.Logger.Printf("Paused %d warmup schedule(s) for user %d: %s", len(ids), userID, reason)
	return ids, nil
}

func (p *GormWarmupPauser) Resume(handleIDs []uint) error {
	if len(handleIDs) == 0 {
		return nil
	}
	err := p.DB.Model(&models.WarmupSchedule{}).
		Where("id IN ?", handleIDs).
		Updates(map[string]interface{}{
			"is_active":     true,
			"paused_reason": "",
		}).Error
	if err == nil {
		p.Logger.Printf("Resumed %d warmup schedule(s)", len(handleIDs))
	}
	return err
}
