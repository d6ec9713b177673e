package utils

import (
	"context"
	"log"
	"time"

	"wablast/apperrors"
	"wablast/models"

	"gorm.io/gorm"
)

// QuotaService enforces per-user message quotas: the purchased credit pool
// and the plan's daily send limit.
type QuotaService struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewQuotaService(db *gorm.DB, logger *log.Logger) *QuotaService {
	return &QuotaService{DB: db, Logger: logger}
}

// WithinLimit returns a QuotaExceededError when the user has no credits left
// or has hit the daily limit. The executor re-checks this before every send.
func (q *QuotaService) WithinLimit(userID uint) error {
	var user models.User
	if err := q.DB.First(&user, userID).Error; err != nil {
		return err
	}

	remaining := user.RemainingCredits()
	if remaining <= 0 {
		return &apperrors.QuotaExceededError{UserID: userID, Remaining: remaining}
	}
	if user.DailySendLimit > 0 && user.SentToday >= user.DailySendLimit {
		return &apperrors.QuotaExceededError{UserID: userID, Remaining: remaining}
	}
	return nil
}

// Increment records n sent messages against the user's counters atomically.
func (q *QuotaService) Increment(userID uint, n int) error {
	return q.DB.Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"credits_consumed": gorm.Expr("credits_consumed + ?", n),
			"sent_today":       gorm.Expr("sent_today + ?", n),
		}).Error
}

// ResetDailyCounters resets sent_today for all users at midnight.
func (q *QuotaService) ResetDailyCounters(ctx context.Context) {
	for {
		now := time.Now()
		nextMidnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(nextMidnight)):
		}

		if err := q.DB.Model(&models.User{}).
			Where("sent_today > 0").
			Update("sent_today", 0).
			Error; err != nil {
			q.Logger.Printf("Failed to reset daily counters: %v", err)
		} else {
			q.Logger.Println("Successfully reset user daily counters")
		}
	}
}
