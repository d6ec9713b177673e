package utils

import (
	"testing"

	"wablast/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormWarmupPauser(t *testing.T) {
	db := newTestDB(t)
	user, session := seedUserAndSession(t, db)
	p := NewGormWarmupPauser(db, testLogger())

	active1 := &models.WarmupSchedule{UserID: user.ID, SessionID: session.ID, IsActive: true}
	active2 := &models.WarmupSchedule{UserID: user.ID, SessionID: session.ID, IsActive: true}
	inactive := &models.WarmupSchedule{UserID: user.ID, SessionID: session.ID, IsActive: false, PausedReason: "manual"}
	require.NoError(t, db.Create(active1).Error)
	require.NoError(t, db.Create(active2).Error)
	require.NoError(t, db.Create(inactive).Error)

	ids, err := p.PauseFor(user.ID, "campaign running")
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{active1.ID, active2.ID}, ids)

	var check models.WarmupSchedule
	require.NoError(t, db.First(&check, active1.ID).Error)
	assert.False(t, check.IsActive)
	assert.Equal(t, "campaign running", check.PausedReason)

	// a manually paused schedule is left alone
	require.NoError(t, db.First(&check, inactive.ID).Error)
	assert.Equal(t, "manual", check.PausedReason)

	require.NoError(t, p.Resume(ids))
	require.NoError(t, db.First(&check, active1.ID).Error)
	assert.True(t, check.IsActive)
	assert.Empty(t, check.PausedReason)

	// resuming releases only what was paused by the campaign
	require.NoError(t, db.First(&check, inactive.ID).Error)
	assert.False(t, check.IsActive)
}

func TestGormWarmupPauserNoSchedules(t *testing.T) {
	db := newTestDB(t)
	user, _ := seedUserAndSession(t, db)
	p := NewGormWarmupPauser(db, testLogger())

	ids, err := p.PauseFor(user.ID, "campaign running")
	require.NoError(t, err)
	assert.Empty(t, ids)

	assert.NoError(t, p.Resume(nil))
}
