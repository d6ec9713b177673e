package worker

import (
	"context"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"wablast/models"
	"wablast/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWarmup struct {
	mu      sync.Mutex
	handles []uint
	resumed [][]uint
}

func (w *recordingWarmup) PauseFor(userID uint, reason string) ([]uint, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.handles, nil
}

func (w *recordingWarmup) Resume(ids []uint) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resumed = append(w.resumed, ids)
	return nil
}

func (w *recordingWarmup) resumedCalls() [][]uint {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.resumed
}

func newTestScheduler(env *workerEnv, warmup utils.WarmupPauser) *Scheduler {
	if warmup == nil {
		warmup = utils.NoopWarmupPauser{}
	}
	lg := log.New(os.Stdout, "TEST: ", log.LstdFlags)
	return NewScheduler(env.db, env.manager, env.executor, env.registry, warmup, lg,
		time.Second, 7*24*time.Hour)
}

func TestPromoteScheduledOrdersByStartTime(t *testing.T) {
	env := newWorkerEnv(t)
	env.msgr.gate = make(chan struct{})
	s := newTestScheduler(env, nil)

	a := env.createRunningCampaign(t, csvRows(3), func(c *models.Campaign) {
		c.Status = models.StatusScheduled
		c.IsScheduled = true
		c.ScheduledStartTime = utils.Pointer(time.Now().Add(-2 * time.Hour))
		c.StartedAt = nil
	})
	b := env.createRunningCampaign(t, csvRows(3), func(c *models.Campaign) {
		c.Status = models.StatusScheduled
		c.IsScheduled = true
		c.ScheduledStartTime = utils.Pointer(time.Now().Add(-time.Hour))
		c.StartedAt = nil
	})
	notDue := env.createRunningCampaign(t, csvRows(3), func(c *models.Campaign) {
		c.Status = models.StatusScheduled
		c.IsScheduled = true
		c.ScheduledStartTime = utils.Pointer(time.Now().Add(time.Hour))
		c.StartedAt = nil
	})

	require.NoError(t, s.promoteScheduled())

	// the earliest due campaign takes the slot, the other due one queues
	got := env.reload(t, a.ID)
	assert.Equal(t, models.StatusRunning, got.Status)
	assert.False(t, got.IsScheduled)

	queued := env.reload(t, b.ID)
	assert.Equal(t, models.StatusQueued, queued.Status)
	require.NotNil(t, queued.QueuePosition)
	assert.Equal(t, 1, *queued.QueuePosition)

	assert.Equal(t, models.StatusScheduled, env.reload(t, notDue.ID).Status)

	h, ok := env.registry.Get(a.ID)
	require.True(t, ok)
	env.registry.Signal(a.ID)
	close(env.msgr.gate)
	waitDone(t, h)
}

func TestAdvanceQueuePromotesHead(t *testing.T) {
	env := newWorkerEnv(t)
	s := newTestScheduler(env, nil)

	b := env.createRunningCampaign(t, csvRows(2), func(c *models.Campaign) {
		c.Status = models.StatusQueued
		c.QueuePosition = utils.Pointer(1)
		c.StartedAt = nil
	})
	c := env.createRunningCampaign(t, csvRows(2), func(c *models.Campaign) {
		c.Status = models.StatusQueued
		c.QueuePosition = utils.Pointer(2)
		c.StartedAt = nil
	})

	require.NoError(t, s.advanceQueue())

	// head promoted and runs to completion
	require.Eventually(t, func() bool {
		return env.reload(t, b.ID).Status == models.StatusCompleted
	}, 10*time.Second, 50*time.Millisecond)

	// remaining queue renumbered from 1
	rest := env.reload(t, c.ID)
	assert.Equal(t, models.StatusQueued, rest.Status)
	require.NotNil(t, rest.QueuePosition)
	assert.Equal(t, 1, *rest.QueuePosition)
}

func TestAdvanceQueueRespectsRunningSlot(t *testing.T) {
	env := newWorkerEnv(t)
	s := newTestScheduler(env, nil)

	env.createRunningCampaign(t, csvRows(2), nil)
	queued := env.createRunningCampaign(t, csvRows(2), func(c *models.Campaign) {
		c.Status = models.StatusQueued
		c.QueuePosition = utils.Pointer(1)
	})

	require.NoError(t, s.advanceQueue())

	got := env.reload(t, queued.ID)
	assert.Equal(t, models.StatusQueued, got.Status)
	require.NotNil(t, got.QueuePosition)
	assert.Equal(t, 1, *got.QueuePosition)
}

func TestMonitorHealthPausesHighErrorRate(t *testing.T) {
	env := newWorkerEnv(t)
	s := newTestScheduler(env, nil)

	c := env.createRunningCampaign(t, csvRows(2), func(c *models.Campaign) {
		c.ProcessedRows = 11
		c.ErrorCount = 6
		c.SuccessCount = 5
	})
	h, err := env.registry.Add(c.ID)
	require.NoError(t, err)

	require.NoError(t, s.monitorHealth())

	got := env.reload(t, c.ID)
	assert.Equal(t, models.StatusPaused, got.Status)
	assert.Contains(t, got.ErrorDetails, "error rate")
	assert.True(t, h.stopRequested())

	env.registry.Remove(c.ID)
}

func TestMonitorHealthBelowThreshold(t *testing.T) {
	env := newWorkerEnv(t)
	s := newTestScheduler(env, nil)

	ok := env.createRunningCampaign(t, csvRows(2), func(c *models.Campaign) {
		c.ProcessedRows = 11
		c.ErrorCount = 5
		c.SuccessCount = 6
	})

	// too few rows processed for the rate to be meaningful yet
	small := env.createRunningCampaign(t, csvRows(2), func(c *models.Campaign) {
		c.ProcessedRows = 10
		c.ErrorCount = 10
	})

	require.NoError(t, s.monitorHealth())

	assert.Equal(t, models.StatusRunning, env.reload(t, ok.ID).Status)
	assert.Equal(t, models.StatusRunning, env.reload(t, small.ID).Status)
}

func TestMonitorHealthStallGuard(t *testing.T) {
	env := newWorkerEnv(t)
	s := newTestScheduler(env, nil)

	stalled := env.createRunningCampaign(t, csvRows(2), func(c *models.Campaign) {
		c.StartedAt = utils.Pointer(time.Now().Add(-2 * time.Hour))
	})
	fresh := env.createRunningCampaign(t, csvRows(2), func(c *models.Campaign) {
		c.StartedAt = utils.Pointer(time.Now().Add(-10 * time.Minute))
	})
	slowButAlive := env.createRunningCampaign(t, csvRows(2), func(c *models.Campaign) {
		c.StartedAt = utils.Pointer(time.Now().Add(-2 * time.Hour))
		c.ProcessedRows = 1
		c.SuccessCount = 1
	})

	require.NoError(t, s.monitorHealth())

	got := env.reload(t, stalled.ID)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorDetails, "stalled")

	assert.Equal(t, models.StatusRunning, env.reload(t, fresh.ID).Status)
	assert.Equal(t, models.StatusRunning, env.reload(t, slowButAlive.ID).Status)
}

func TestRecoverOrphans(t *testing.T) {
	env := newWorkerEnv(t)
	s := newTestScheduler(env, nil)

	orphan := env.createRunningCampaign(t, csvRows(2), nil)

	require.NoError(t, s.recoverOrphans())

	require.Eventually(t, func() bool {
		return env.reload(t, orphan.ID).Status == models.StatusCompleted
	}, 10*time.Second, 50*time.Millisecond)

	var count int64
	env.db.Model(&models.Delivery{}).Where("campaign_id = ?", orphan.ID).Count(&count)
	assert.EqualValues(t, 2, count)
}

func TestCleanupDeliveries(t *testing.T) {
	env := newWorkerEnv(t)
	s := newTestScheduler(env, nil)

	done := env.createRunningCampaign(t, csvRows(1), func(c *models.Campaign) {
		c.Status = models.StatusCompleted
	})
	live := env.createRunningCampaign(t, csvRows(1), nil)

	oldDone := &models.Delivery{CampaignID: done.ID, RowNumber: 1, Status: models.DeliverySent}
	newDone := &models.Delivery{CampaignID: done.ID, RowNumber: 2, Status: models.DeliverySent}
	oldLive := &models.Delivery{CampaignID: live.ID, RowNumber: 1, Status: models.DeliverySent}
	for _, d := range []*models.Delivery{oldDone, newDone, oldLive} {
		require.NoError(t, env.db.Create(d).Error)
	}
	ancient := time.Now().Add(-8 * 24 * time.Hour)
	for _, d := range []*models.Delivery{oldDone, oldLive} {
		require.NoError(t, env.db.Model(d).Update("created_at", ancient).Error)
	}

	require.NoError(t, s.cleanupDeliveries())

	var count int64
	env.db.Model(&models.Delivery{}).Where("id = ?", oldDone.ID).Count(&count)
	assert.Zero(t, count, "old delivery of terminal campaign should be pruned")

	env.db.Model(&models.Delivery{}).Where("id = ?", newDone.ID).Count(&count)
	assert.EqualValues(t, 1, count, "recent delivery should survive")

	env.db.Model(&models.Delivery{}).Where("id = ?", oldLive.ID).Count(&count)
	assert.EqualValues(t, 1, count, "deliveries of a live campaign should survive")
}

func TestWarmupPausedWhileCampaignRuns(t *testing.T) {
	env := newWorkerEnv(t)
	env.msgr.gate = make(chan struct{})
	warmup := &recordingWarmup{handles: []uint{7, 9}}
	s := newTestScheduler(env, warmup)

	c := env.createRunningCampaign(t, csvRows(2), func(c *models.Campaign) {
		c.Status = models.StatusCreated
		c.StartedAt = nil
	})

	claimed, err := s.launch(c)
	require.NoError(t, err)
	require.True(t, claimed)
	assert.Equal(t, models.StatusRunning, env.reload(t, c.ID).Status)

	s.mu.Lock()
	assert.Equal(t, []uint{7, 9}, s.warmupHandles[c.ID])
	s.mu.Unlock()

	// still running: nothing released yet
	require.NoError(t, s.releaseWarmups())
	assert.Empty(t, warmup.resumedCalls())

	h, ok := env.registry.Get(c.ID)
	require.True(t, ok)
	require.NoError(t, env.manager.Stop(c.ID))
	env.registry.Signal(c.ID)
	close(env.msgr.gate)
	waitDone(t, h)

	require.NoError(t, s.releaseWarmups())
	calls := warmup.resumedCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, []uint{7, 9}, calls[0])

	s.mu.Lock()
	assert.Empty(t, s.warmupHandles)
	s.mu.Unlock()
}

func TestSchedulerTickEndToEnd(t *testing.T) {
	env := newWorkerEnv(t)
	s := newTestScheduler(env, nil)

	c := env.createRunningCampaign(t, csvRows(3), func(c *models.Campaign) {
		c.Status = models.StatusScheduled
		c.IsScheduled = true
		c.ScheduledStartTime = utils.Pointer(time.Now().Add(-time.Minute))
		c.StartedAt = nil
	})

	s.Tick()

	require.Eventually(t, func() bool {
		return env.reload(t, c.ID).Status == models.StatusCompleted
	}, 10*time.Second, 50*time.Millisecond)

	got := env.reload(t, c.ID)
	assert.Equal(t, 3, got.SuccessCount)
	assert.Equal(t, 3, env.msgr.sentCount())
}

func TestSchedulerStartLoop(t *testing.T) {
	env := newWorkerEnv(t)
	warmup := utils.NoopWarmupPauser{}
	lg := log.New(os.Stdout, "TEST: ", log.LstdFlags)
	s := NewScheduler(env.db, env.manager, env.executor, env.registry, warmup, lg,
		30*time.Millisecond, 7*24*time.Hour)

	c := env.createRunningCampaign(t, csvRows(2), func(c *models.Campaign) {
		c.Status = models.StatusScheduled
		c.IsScheduled = true
		c.ScheduledStartTime = utils.Pointer(time.Now().Add(-time.Minute))
		c.StartedAt = nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go s.Start(ctx)

	// the loop picks the campaign up on its own and drives it to completion
	require.Eventually(t, func() bool {
		return env.reload(t, c.ID).Status == models.StatusCompleted
	}, 10*time.Second, 50*time.Millisecond)
	assert.True(t, s.Status().Running)

	cancel()
	require.Eventually(t, func() bool {
		return !s.Status().Running
	}, 5*time.Second, 20*time.Millisecond)
}

func TestSchedulerStatus(t *testing.T) {
	env := newWorkerEnv(t)
	s := newTestScheduler(env, nil)

	_, err := env.registry.Add(3)
	require.NoError(t, err)
	_, err = env.registry.Add(1)
	require.NoError(t, err)

	status := s.Status()
	assert.False(t, status.Running)
	assert.Equal(t, 1, status.CheckIntervalSeconds)
	assert.Equal(t, []uint{1, 3}, status.ActiveCampaignIDs)
}
