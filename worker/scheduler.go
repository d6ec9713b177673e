package worker

import (
	"context"
	"log"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"wablast/models"
	"wablast/utils"

	"gorm.io/gorm"
)

// Scheduler is the singleton control loop. Each tick it promotes due
// scheduled campaigns, advances the wait queue, recovers orphaned running
// campaigns, health-checks live ones, and prunes old deliveries. It is the
// sole enforcer of the global at-most-one-running invariant.
type Scheduler struct {
	DB       *gorm.DB
	Manager  *utils.CampaignManager
	Executor *Executor
	Registry *Registry
	Warmup   utils.WarmupPauser
	Logger   *log.Logger

	Interval  time.Duration
	Retention time.Duration

	running atomic.Bool

	mu            sync.Mutex
	warmupHandles map[uint][]uint // campaign id -> paused warmup schedule ids
}

// Health-monitor thresholds.
const (
	errorRateMinProcessed = 10
	errorRateThreshold    = 0.5
	stallTimeout          = time.Hour
)

func NewScheduler(db *gorm.DB, manager *utils.CampaignManager, executor *Executor,
	registry *Registry, warmup utils.WarmupPauser, logger *log.Logger,
	interval, retention time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &Scheduler{
		DB:            db,
		Manager:       manager,
		Executor:      executor,
		Registry:      registry,
		Warmup:        warmup,
		Logger:        logger,
		Interval:      interval,
		Retention:     retention,
		warmupHandles: make(map[uint][]uint),
	}
}

// Start runs the control loop until ctx is cancelled. The loop always sleeps
// the full interval between ticks regardless of tick duration.
func (s *Scheduler) Start(ctx context.Context) {
	s.running.Store(true)
	defer s.running.Store(false)

	s.Logger.Printf("Scheduler started (interval %s)", s.Interval)

	// A reset timer instead of a ticker: the loop sleeps the full interval
	// after each tick regardless of how long the tick took.
	timer := time.NewTimer(s.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Logger.Println("Scheduler shutting down...")
			return
		case <-timer.C:
			s.Tick()
			timer.Reset(s.Interval)
		}
	}
}

// Tick runs one pass of all control steps. A failure in one step is logged
// and never aborts the remaining steps or the loop.
func (s *Scheduler) Tick() {
	s.step("promote scheduled", s.promoteScheduled)
	s.step("advance queue", s.advanceQueue)
	s.step("recover orphans", s.recoverOrphans)
	s.step("health monitor", s.monitorHealth)
	s.step("release warmups", s.releaseWarmups)
	s.step("cleanup deliveries", s.cleanupDeliveries)
	s.step("liveness", s.checkLiveness)
}

func (s *Scheduler) step(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			s.Logger.Printf("Panic in scheduler step %q: %v\n%s", name, r, debug.Stack())
		}
	}()
	if err := fn(); err != nil {
		s.Logger.Printf("Scheduler step %q failed: %v", name, err)
	}
}

// promoteScheduled starts due scheduled campaigns. The first due campaign
// takes the running slot when it is free; the rest are appended to the queue
// with dense positions.
func (s *Scheduler) promoteScheduled() error {
	var due []models.Campaign
	err := s.DB.Where("is_scheduled = ? AND scheduled_start_time <= ? AND status IN ?",
		true, time.Now(), []string{models.StatusCreated, models.StatusScheduled}).
		Order("scheduled_start_time ASC, id ASC").
		Find(&due).Error
	if err != nil {
		return err
	}

	for i := range due {
		c := &due[i]
		claimed, err := s.launch(c)
		if err != nil {
			s.Logger.Printf("Failed to launch campaign %d: %v", c.ID, err)
			continue
		}
		if !claimed {
			if err := s.Manager.Enqueue(c); err != nil {
				s.Logger.Printf("Failed to enqueue campaign %d: %v", c.ID, err)
			} else {
				s.Logger.Printf("Campaign %d queued (running slot busy)", c.ID)
			}
		}
	}
	return nil
}

// advanceQueue promotes the head of the wait queue when nothing is running.
func (s *Scheduler) advanceQueue() error {
	next, err := s.Manager.NextQueued()
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}

	claimed, err := s.launch(next)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	return s.Manager.RenumberQueue()
}

// launch claims the running slot for a campaign, hands it to the executor
// pool and pauses the owner's warmup schedules. Returns false when another
// campaign holds the slot. A failed hand-off fails the campaign.
func (s *Scheduler) launch(c *models.Campaign) (bool, error) {
	claimed, err := s.Manager.ClaimRunningSlot(c)
	if err != nil || !claimed {
		return claimed, err
	}
	if err := s.HandOff(c); err != nil {
		return true, err
	}
	s.Logger.Printf("Campaign %d promoted to running", c.ID)
	return true, nil
}

// HandOff submits an already-running campaign to the executor pool and
// notifies the warmup collaborator. Also used by the manual start endpoint.
func (s *Scheduler) HandOff(c *models.Campaign) error {
	if _, err := s.Executor.Submit(c.ID); err != nil {
		if ferr := s.Manager.Fail(c.ID, "failed to start executor: "+err.Error()); ferr != nil {
			s.Logger.Printf("Failed to mark campaign %d failed: %v", c.ID, ferr)
		}
		return err
	}

	handles, err := s.Warmup.PauseFor(c.UserID, "campaign running")
	if err != nil {
		s.Logger.Printf("Failed to pause warmup for user %d: %v", c.UserID, err)
		return nil
	}
	if len(handles) > 0 {
		s.mu.Lock()
		s.warmupHandles[c.ID] = handles
		s.mu.Unlock()
	}
	return nil
}

// recoverOrphans resubmits running campaigns that have no live executor,
// e.g. after a process restart. Progress resumes from persisted state.
func (s *Scheduler) recoverOrphans() error {
	var running []models.Campaign
	if err := s.DB.Where("status = ?", models.StatusRunning).Find(&running).Error; err != nil {
		return err
	}

	for i := range running {
		c := &running[i]
		if s.Registry.Has(c.ID) {
			continue
		}
		s.Logger.Printf("Campaign %d is running without an executor, resubmitting", c.ID)
		if _, err := s.Executor.Submit(c.ID); err != nil {
			s.Logger.Printf("Failed to resubmit campaign %d: %v", c.ID, err)
			if ferr := s.Manager.Fail(c.ID, "failed to restart executor: "+err.Error()); ferr != nil {
				s.Logger.Printf("Failed to mark campaign %d failed: %v", c.ID, ferr)
			}
		}
	}
	return nil
}

// monitorHealth applies the error-rate and stall guards to every running
// campaign.
func (s *Scheduler) monitorHealth() error {
	var running []models.Campaign
	if err := s.DB.Where("status = ?", models.StatusRunning).Find(&running).Error; err != nil {
		return err
	}

	now := time.Now()
	for i := range running {
		c := &running[i]

		if c.ProcessedRows > errorRateMinProcessed {
			rate := float64(c.ErrorCount) / float64(c.ProcessedRows)
			if rate > errorRateThreshold {
				reason := "error rate exceeded 50%, campaign paused"
				s.Logger.Printf("Campaign %d: %s (%d/%d failed)", c.ID, reason, c.ErrorCount, c.ProcessedRows)
				if err := s.Manager.PauseWithReason(c.ID, reason); err != nil {
					s.Logger.Printf("Failed to pause campaign %d: %v", c.ID, err)
					continue
				}
				s.Registry.Signal(c.ID)
				continue
			}
		}

		if c.StartedAt != nil && now.Sub(*c.StartedAt) > stallTimeout && c.ProcessedRows == 0 {
			reason := "campaign stalled: no rows processed within 1h"
			s.Logger.Printf("Campaign %d: %s", c.ID, reason)
			if err := s.Manager.Fail(c.ID, reason); err != nil {
				s.Logger.Printf("Failed to fail campaign %d: %v", c.ID, err)
				continue
			}
			s.Registry.Signal(c.ID)
		}
	}
	return nil
}

// releaseWarmups resumes warmup schedules for campaigns that have left the
// running state.
func (s *Scheduler) releaseWarmups() error {
	s.mu.Lock()
	pending := make(map[uint][]uint, len(s.warmupHandles))
	for id, handles := range s.warmupHandles {
		pending[id] = handles
	}
	s.mu.Unlock()

	for campaignID, handles := range pending {
		var c models.Campaign
		if err := s.DB.Select("status").First(&c, campaignID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				s.forgetWarmup(campaignID)
			}
			continue
		}
		if c.Status == models.StatusRunning {
			continue
		}
		if err := s.Warmup.Resume(handles); err != nil {
			s.Logger.Printf("Failed to resume warmup for campaign %d: %v", campaignID, err)
			continue
		}
		s.forgetWarmup(campaignID)
	}
	return nil
}

func (s *Scheduler) forgetWarmup(campaignID uint) {
	s.mu.Lock()
	delete(s.warmupHandles, campaignID)
	s.mu.Unlock()
}

// cleanupDeliveries prunes delivery rows past the retention window for
// campaigns in terminal states. Campaigns themselves are kept for stats.
func (s *Scheduler) cleanupDeliveries() error {
	cutoff := time.Now().Add(-s.Retention)
	res := s.DB.Where("created_at < ? AND campaign_id IN (?)",
		cutoff,
		s.DB.Model(&models.Campaign{}).Select("id").
			Where("status IN ?", []string{models.StatusCompleted, models.StatusFailed, models.StatusCancelled}),
	).Delete(&models.Delivery{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		s.Logger.Printf("Pruned %d delivery record(s) older than %s", res.RowsAffected, s.Retention)
	}
	return nil
}

// checkLiveness verifies store reachability and reports pool size. Purely
// observability; never fatal.
func (s *Scheduler) checkLiveness() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.Ping(); err != nil {
		return err
	}
	s.Logger.Printf("Liveness OK, %d active executor(s)", s.Registry.Len())
	return nil
}

// Status is the observability snapshot for the admin surface.
type Status struct {
	Running              bool   `json:"running"`
	CheckIntervalSeconds int    `json:"check_interval_seconds"`
	ActiveCampaignIDs    []uint `json:"active_campaign_ids"`
}

// Status reports whether the loop is live, its interval and the campaigns
// with an active executor.
func (s *Scheduler) Status() Status {
	return Status{
		Running:              s.running.Load(),
		CheckIntervalSeconds: int(s.Interval / time.Second),
		ActiveCampaignIDs:    s.Registry.ActiveIDs(),
	}
}
