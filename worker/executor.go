package worker

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"wablast/apperrors"
	"wablast/models"
	"wablast/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Executor drives the per-campaign dispatch loop. One instance serves the
// whole process; each submitted campaign runs in its own goroutine with an
// isolated messenger client and a registry handle for cooperative stop.
type Executor struct {
	DB           *gorm.DB
	Registry     *Registry
	Manager      *utils.CampaignManager
	Quota        *utils.QuotaService
	NewMessenger utils.MessengerFactory
	Logger       *log.Logger
}

func NewExecutor(db *gorm.DB, registry *Registry, manager *utils.CampaignManager,
	quota *utils.QuotaService, factory utils.MessengerFactory, logger *log.Logger) *Executor {
	return &Executor{
		DB:           db,
		Registry:     registry,
		Manager:      manager,
		Quota:        quota,
		NewMessenger: factory,
		Logger:       logger,
	}
}

// Submit starts an executor for the campaign. Rejected when one is already
// live for the same id.
func (e *Executor) Submit(campaignID uint) (*ExecutorHandle, error) {
	h, err := e.Registry.Add(campaignID)
	if err != nil {
		return nil, err
	}
	go e.run(campaignID, h)
	return h, nil
}

func (e *Executor) run(campaignID uint, h *ExecutorHandle) {
	defer h.markDone()
	defer e.Registry.Remove(campaignID)

	// Cancel in-flight gateway I/O promptly on stop.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-h.Stopped():
			cancel()
		case <-ctx.Done():
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			e.Logger.Printf("Panic in executor for campaign %d: %v", campaignID, r)
			logrus.WithFields(logrus.Fields{
				"campaign_id": campaignID,
				"stack":       string(debug.Stack()),
			}).Errorf("executor panic: %v", r)
			if err := e.Manager.Fail(campaignID, fmt.Sprintf("internal error: %v", r)); err != nil {
				e.Logger.Printf("Failed to mark campaign %d failed: %v", campaignID, err)
			}
		}
	}()

	client := e.NewMessenger()
	defer client.Close()

	if err := e.process(ctx, campaignID, h, client); err != nil {
		e.Logger.Printf("Campaign %d failed: %v", campaignID, err)
		if ferr := e.Manager.Fail(campaignID, err.Error()); ferr != nil && !apperrors.IsInvalidTransition(ferr) {
			e.Logger.Printf("Failed to mark campaign %d failed: %v", campaignID, ferr)
		}
	}
}

// process runs the dispatch loop. A nil return means the loop ended cleanly:
// completed, stopped, or paused by an inner guard. A non-nil return is a
// campaign-level failure the caller records.
func (e *Executor) process(ctx context.Context, campaignID uint, h *ExecutorHandle, client utils.Messenger) error {
	var campaign models.Campaign
	if err := e.DB.Preload("Session").First(&campaign, campaignID).Error; err != nil {
		return err
	}

	if !campaign.UseSampleColumn && len(campaign.Samples) == 0 {
		return apperrors.NewValidation("no message samples configured")
	}

	source, err := utils.OpenRowSource(campaign.SourceFile)
	if err != nil {
		return err
	}
	rows, err := source.Read(campaign.StartRow, campaign.EndRow)
	if err != nil {
		return fmt.Errorf("failed to read row source: %w", err)
	}
	if len(rows) == 0 {
		return apperrors.NewValidation("row source is empty")
	}

	if campaign.TotalRows != len(rows) {
		if err := e.DB.Model(&models.Campaign{}).
			Where("id = ?", campaignID).
			Update("total_rows", len(rows)).Error; err != nil {
			return err
		}
	}

	// Pre-flight: the session must be ready before any row is attempted.
	status, err := client.SessionStatus(ctx, campaign.Session.Name)
	if err != nil {
		return err
	}
	e.DB.Model(&models.WASession{}).Where("id = ?", campaign.SessionID).
		Updates(map[string]interface{}{"last_status": status, "last_checked_at": time.Now()})
	if !utils.SessionReady(status) {
		return apperrors.NewValidation("session %q is not ready (status %s)", campaign.Session.Name, status)
	}

	dailySent, err := e.sentToday(campaignID)
	if err != nil {
		return err
	}

	// Rows with a recorded delivery were handled by a previous run. A
	// resumed or recovered campaign continues from persisted state instead
	// of re-messaging earlier recipients.
	dispatched, err := e.dispatchedRows(campaignID)
	if err != nil {
		return err
	}

	e.Logger.Printf("Campaign %d: dispatching %d row(s) via session %s", campaignID, len(rows), campaign.Session.Name)

	for _, row := range rows {
		if h.stopRequested() {
			e.Logger.Printf("Campaign %d: stop requested, exiting at row %d", campaignID, row.Number)
			return nil
		}

		if dispatched[row.Number] {
			continue
		}

		// Re-read live status: the health monitor or an operator may have
		// paused or cancelled the campaign since the last row.
		var cur struct{ Status string }
		if err := e.DB.Model(&models.Campaign{}).Select("status").
			Where("id = ?", campaignID).Take(&cur).Error; err != nil {
			return err
		}
		if cur.Status != models.StatusRunning {
			e.Logger.Printf("Campaign %d: status changed to %s, exiting", campaignID, cur.Status)
			return nil
		}

		vars := utils.ApplyColumnMapping(campaign.ColumnMapping, row.Values)
		phone := vars["phone"]
		name := vars["name"]

		if skipReason := e.exclusionReason(&campaign, phone); skipReason != "" {
			e.recordSkip(&campaign, row, phone, name, vars, skipReason)
			continue
		}

		if phone == "" {
			e.recordSkip(&campaign, row, phone, name, vars, "missing destination phone number")
			continue
		}

		sampleColumn := ""
		if campaign.UseSampleColumn {
			sampleColumn = vars["message"]
		}
		sampleIdx, sampleText, err := utils.SelectSample(campaign.Samples, sampleColumn)
		if err != nil {
			e.recordSkip(&campaign, row, phone, name, vars, err.Error())
			continue
		}
		finalText := utils.RenderTemplate(sampleText, vars)

		// Quota is re-checked per row so a concurrent spend elsewhere
		// cannot push the user past their limit.
		if err := e.Quota.WithinLimit(campaign.UserID); err != nil {
			if apperrors.IsQuotaExceeded(err) {
				e.Logger.Printf("Campaign %d: %v", campaignID, err)
				if perr := e.Manager.PauseWithReason(campaignID, err.Error()); perr != nil && !apperrors.IsInvalidTransition(perr) {
					return perr
				}
				return nil
			}
			return err
		}

		if campaign.MaxDailyMessages > 0 && dailySent >= campaign.MaxDailyMessages {
			reason := fmt.Sprintf("daily message limit reached (%d)", campaign.MaxDailyMessages)
			e.Logger.Printf("Campaign %d: %s", campaignID, reason)
			if perr := e.Manager.PauseWithReason(campaignID, reason); perr != nil && !apperrors.IsInvalidTransition(perr) {
				return perr
			}
			return nil
		}

		if campaign.SaveContactFirst {
			contact := models.Contact{UserID: campaign.UserID, Phone: phone, Name: name}
			e.DB.Where("user_id = ? AND phone = ?", campaign.UserID, phone).FirstOrCreate(&contact)
		}

		// The delivery row is written before the send is issued so a stop or
		// crash mid-row can never lose an attempted send.
		delivery := models.Delivery{
			CampaignID:    campaignID,
			RowNumber:     row.Number,
			PhoneNumber:   phone,
			RecipientName: name,
			SampleIndex:   sampleIdx,
			SampleText:    sampleText,
			FinalMessage:  finalText,
			Variables:     vars,
			Status:        models.DeliverySending,
		}
		if err := e.DB.Create(&delivery).Error; err != nil {
			return err
		}

		msgID, sendErr := client.SendText(ctx, campaign.Session.Name, phone, finalText)
		if sendErr != nil {
			if uerr := e.DB.Model(&delivery).Updates(map[string]interface{}{
				"status":        models.DeliveryFailed,
				"error_message": sendErr.Error(),
			}).Error; uerr != nil {
				e.Logger.Printf("Campaign %d: failed to update delivery %d: %v", campaignID, delivery.ID, uerr)
			}
			e.bumpAnalytics(campaignID, sampleIdx, false)
			e.bumpProgress(campaignID, false)
		} else {
			if uerr := e.DB.Model(&delivery).Updates(map[string]interface{}{
				"status":     models.DeliverySent,
				"message_id": msgID,
				"sent_at":    time.Now(),
			}).Error; uerr != nil {
				e.Logger.Printf("Campaign %d: failed to update delivery %d: %v", campaignID, delivery.ID, uerr)
			}
			e.bumpAnalytics(campaignID, sampleIdx, true)
			e.bumpProgress(campaignID, true)
			if err := e.Quota.Increment(campaign.UserID, 1); err != nil {
				e.Logger.Printf("Campaign %d: failed to increment quota: %v", campaignID, err)
			}
			dailySent++
		}

		if campaign.DelaySeconds > 0 {
			sleepWithStop(time.Duration(campaign.DelaySeconds)*time.Second, h.Stopped())
		}
	}

	// Natural exit. The CAS keeps a monitor-paused or cancelled campaign in
	// its state instead of overwriting it with completed.
	if err := e.Manager.Complete(campaignID); err != nil {
		if apperrors.IsInvalidTransition(err) {
			e.Logger.Printf("Campaign %d: finished in non-running state, leaving as-is", campaignID)
			return nil
		}
		return err
	}
	e.Logger.Printf("Campaign %d: completed", campaignID)
	return nil
}

// exclusionReason applies the configured skip filters.
func (e *Executor) exclusionReason(c *models.Campaign, phone string) string {
	if phone == "" {
		return ""
	}
	if c.SkipSavedContacts {
		var count int64
		e.DB.Model(&models.Contact{}).
			Where("user_id = ? AND phone = ?", c.UserID, phone).
			Count(&count)
		if count > 0 {
			return "skipped: saved contact"
		}
	}
	if c.SkipPriorChats {
		var count int64
		e.DB.Model(&models.Delivery{}).
			Joins("JOIN campaigns ON campaigns.id = deliveries.campaign_id").
			Where("campaigns.user_id = ? AND deliveries.phone_number = ? AND deliveries.status = ?",
				c.UserID, phone, models.DeliverySent).
			Count(&count)
		if count > 0 {
			return "skipped: prior conversation exists"
		}
	}
	return ""
}

// recordSkip writes a failed delivery for a row that was never sent and
// advances the progress counters.
func (e *Executor) recordSkip(c *models.Campaign, row utils.Row, phone, name string, vars map[string]string, reason string) {
	delivery := models.Delivery{
		CampaignID:    c.ID,
		RowNumber:     row.Number,
		PhoneNumber:   phone,
		RecipientName: name,
		Variables:     vars,
		Status:        models.DeliveryFailed,
		ErrorMessage:  reason,
	}
	if err := e.DB.Create(&delivery).Error; err != nil {
		e.Logger.Printf("Campaign %d: failed to record skipped row %d: %v", c.ID, row.Number, err)
		return
	}
	e.bumpProgress(c.ID, false)
}

// bumpProgress atomically advances the campaign's progress counters.
func (e *Executor) bumpProgress(campaignID uint, success bool) {
	counter := "error_count"
	if success {
		counter = "success_count"
	}
	if err := e.DB.Model(&models.Campaign{}).
		Where("id = ?", campaignID).
		Updates(map[string]interface{}{
			"processed_rows": gorm.Expr("processed_rows + ?", 1),
			counter:          gorm.Expr(counter+" + ?", 1),
		}).Error; err != nil {
		e.Logger.Printf("Campaign %d: failed to update progress: %v", campaignID, err)
	}
}

// bumpAnalytics advances the per-sample counters. Column-sourced samples
// (index -1) have no analytics row.
func (e *Executor) bumpAnalytics(campaignID uint, sampleIdx int, success bool) {
	if sampleIdx < 0 {
		return
	}
	counter := "error_count"
	if success {
		counter = "success_count"
	}
	if err := e.DB.Model(&models.CampaignAnalytics{}).
		Where("campaign_id = ? AND sample_index = ?", campaignID, sampleIdx).
		Updates(map[string]interface{}{
			"usage_count": gorm.Expr("usage_count + ?", 1),
			counter:       gorm.Expr(counter+" + ?", 1),
		}).Error; err != nil {
		e.Logger.Printf("Campaign %d: failed to update analytics: %v", campaignID, err)
	}
}

// dispatchedRows returns the row numbers that already have a delivery for
// this campaign. Includes rows stuck in "sending" from an interrupted run;
// a possibly-issued send is never issued twice.
func (e *Executor) dispatchedRows(campaignID uint) (map[int]bool, error) {
	var numbers []int
	if err := e.DB.Model(&models.Delivery{}).
		Where("campaign_id = ?", campaignID).
		Pluck("row_number", &numbers).Error; err != nil {
		return nil, err
	}
	dispatched := make(map[int]bool, len(numbers))
	for _, n := range numbers {
		dispatched[n] = true
	}
	return dispatched, nil
}

// sentToday counts deliveries already sent today, so max_daily_messages
// holds across a pause/resume within the same day.
func (e *Executor) sentToday(campaignID uint) (int, error) {
	now := time.Now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var count int64
	err := e.DB.Model(&models.Delivery{}).
		Where("campaign_id = ? AND status = ? AND sent_at >= ?", campaignID, models.DeliverySent, startOfDay).
		Count(&count).Error
	return int(count), err
}

// sleepWithStop sleeps for d but wakes immediately when stop is signalled,
// so cancellation is never delayed by the rate-limit delay.
func sleepWithStop(d time.Duration, stop <-chan struct{}) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-stop:
	}
}
