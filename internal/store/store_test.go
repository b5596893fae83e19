package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/affiliatebot/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(st.Close)
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func intPtr(n int) *int { return &n }

func TestUpdateBotConfigSeedsDefaults(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.GetBotConfig(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	cfg, err := st.UpdateBotConfig(ctx, ConfigUpdate{DailyLimit: intPtr(100)})
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.MinFollowers)
	assert.Equal(t, 1000000, cfg.MaxFollowers)
	assert.Equal(t, 100, cfg.DailyLimit)
	assert.Equal(t, 45000, cfg.ActionDelayMs)

	got, err := st.GetBotConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100, got.DailyLimit)
}

func TestUpdateBotConfigRejectsInvertedRange(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.UpdateBotConfig(ctx, ConfigUpdate{
		MinFollowers: intPtr(2000),
		MaxFollowers: intPtr(1000),
	})
	require.ErrorIs(t, err, ErrInvalidFollowerRange)

	// Nothing should have been written.
	_, err = st.GetBotConfig(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateBotConfigChecksMergedRange(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.UpdateBotConfig(ctx, ConfigUpdate{
		MinFollowers: intPtr(5000),
		MaxFollowers: intPtr(100000),
	})
	require.NoError(t, err)

	// A partial update cannot invert the band against the stored min.
	_, err = st.UpdateBotConfig(ctx, ConfigUpdate{MaxFollowers: intPtr(4000)})
	require.ErrorIs(t, err, ErrInvalidFollowerRange)

	cfg, err := st.GetBotConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100000, cfg.MaxFollowers)
}

func TestUpdateBotConfigPartialUpdate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.UpdateBotConfig(ctx, ConfigUpdate{
		MinFollowers: intPtr(5000),
		Categories:   []string{"Beauty", "Fashion"},
	})
	require.NoError(t, err)

	cfg, err := st.UpdateBotConfig(ctx, ConfigUpdate{DailyLimit: intPtr(50)})
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.MinFollowers)
	assert.Equal(t, 50, cfg.DailyLimit)
	assert.Equal(t, []string{"Beauty", "Fashion"}, cfg.Categories)
}

func TestSessionLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	sess, err := st.CreateSession(ctx, &models.Session{
		Status:    models.SessionInitializing,
		StartTime: time.Now(),
	})
	require.NoError(t, err)
	require.NotZero(t, sess.ID)

	require.NoError(t, st.UpdateSessionStatus(ctx, sess.ID, models.SessionRunning, nil))
	got, err := st.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionRunning, got.Status)
	assert.Nil(t, got.EndTime)

	require.NoError(t, st.UpdateSessionStatus(ctx, sess.ID, models.SessionStopped,
		map[string]any{"stopReason": "test"}))
	got, err = st.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStopped, got.Status)
	require.NotNil(t, got.EndTime)
	assert.Equal(t, "test", got.Metadata["stopReason"])
}

func TestTerminalSessionIsImmutable(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	sess, err := st.CreateSession(ctx, &models.Session{
		Status:    models.SessionRunning,
		StartTime: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, st.UpdateSessionStatus(ctx, sess.ID, models.SessionStopped, nil))

	stopped, err := st.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	endTime := *stopped.EndTime

	// Attempts to revive or mutate a terminal session are dropped.
	require.NoError(t, st.UpdateSessionStatus(ctx, sess.ID, models.SessionRunning,
		map[string]any{"revived": true}))
	require.NoError(t, st.UpdateSessionCounters(ctx, sess.ID, 99, 99, 99))

	got, err := st.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStopped, got.Status)
	assert.True(t, got.EndTime.Equal(endTime))
	assert.Zero(t, got.InvitesSent)
	assert.NotContains(t, got.Metadata, "revived")
}

func TestUpdateSessionCounters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	sess, err := st.CreateSession(ctx, &models.Session{
		Status:    models.SessionRunning,
		StartTime: time.Now(),
	})
	require.NoError(t, err)

	require.NoError(t, st.UpdateSessionCounters(ctx, sess.ID, 5, 4, 1))
	got, err := st.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.InvitesSent)
	assert.Equal(t, 4, got.SuccessfulInvites)
	assert.Equal(t, 1, got.ErrorCount)
}

func TestListCreatorsEligible(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	recent := time.Now().Add(-2 * time.Hour)
	stale := time.Now().Add(-48 * time.Hour)
	oldRejection := time.Now().Add(-8 * 24 * time.Hour)
	freshRejection := time.Now().Add(-2 * 24 * time.Hour)

	seed := []models.Creator{
		{Username: "fresh", Followers: 50000},
		{Username: "too_small", Followers: 500},
		{Username: "too_big", Followers: 5000000},
		{Username: "accepted", Followers: 50000, Status: models.InviteAccepted, LastInvited: &stale},
		{Username: "invited_recently", Followers: 50000, Status: models.InviteSent, LastInvited: &recent},
		{Username: "invited_long_ago", Followers: 50000, Status: models.InviteSent, LastInvited: &stale},
		{Username: "rejected_recently", Followers: 50000, Status: models.InviteRejected, LastInvited: &freshRejection},
		{Username: "rejected_long_ago", Followers: 50000, Status: models.InviteRejected, LastInvited: &oldRejection},
	}
	for i := range seed {
		_, err := st.CreateCreator(ctx, &seed[i])
		require.NoError(t, err)
	}

	cfg := &models.BotConfig{MinFollowers: 1000, MaxFollowers: 1000000}
	eligible, err := st.ListCreatorsEligible(ctx, cfg, 50)
	require.NoError(t, err)

	var names []string
	for _, c := range eligible {
		names = append(names, c.Username)
	}
	assert.ElementsMatch(t, []string{"fresh", "invited_long_ago", "rejected_long_ago"}, names)
}

func TestMarkCreatorInvited(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	c, err := st.CreateCreator(ctx, &models.Creator{Username: "target", Followers: 10000})
	require.NoError(t, err)
	assert.Equal(t, models.InvitePending, c.Status)

	require.NoError(t, st.MarkCreatorInvited(ctx, c.ID, models.InviteSent,
		map[string]any{"sessionId": float64(1)}))

	got, err := st.GetCreatorByUsername(ctx, "target")
	require.NoError(t, err)
	assert.Equal(t, models.InviteSent, got.Status)
	require.NotNil(t, got.LastInvited)
	assert.WithinDuration(t, time.Now(), *got.LastInvited, 5*time.Second)
	assert.Equal(t, float64(1), got.Metadata["sessionId"])
}

func TestCreatorStats(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seed := []models.Creator{
		{Username: "a", Followers: 1000, Status: models.InviteAccepted},
		{Username: "b", Followers: 1000, Status: models.InvitePending},
		{Username: "c", Followers: 1000, Status: models.InviteSent},
		{Username: "d", Followers: 1000, Status: models.InviteRejected},
	}
	for i := range seed {
		_, err := st.CreateCreator(ctx, &seed[i])
		require.NoError(t, err)
	}

	stats, err := st.CreatorStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, 2, stats.Pending)
}

func TestActivitiesAppendOnly(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	first, err := st.LogActivity(ctx, &models.Activity{
		Type:        models.ActivityInfo,
		Description: "first",
	})
	require.NoError(t, err)
	second, err := st.LogActivity(ctx, &models.Activity{
		Type:        models.ActivityInviteSent,
		Description: "second",
		Metadata:    map[string]any{"username": "someone"},
	})
	require.NoError(t, err)
	assert.Greater(t, second.ID, first.ID)

	list, err := st.ListRecentActivities(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "second", list[0].Description)
	assert.Equal(t, "first", list[1].Description)
	assert.Equal(t, "someone", list[0].Metadata["username"])
}

func TestTimestampsAreSQLiteDateCompatible(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.LogActivity(ctx, &models.Activity{
		Type:        models.ActivityInviteSent,
		Description: "sent",
	})
	require.NoError(t, err)

	// DATE() returns NULL for formats it cannot parse, which would make
	// every daily count come back zero.
	var day sql.NullString
	require.NoError(t, st.db.QueryRowContext(ctx,
		`SELECT DATE(created_at) FROM activities LIMIT 1`).Scan(&day))
	require.True(t, day.Valid)
	assert.Equal(t, time.Now().UTC().Format("2006-01-02"), day.String)

	var raw string
	require.NoError(t, st.db.QueryRowContext(ctx,
		`SELECT created_at FROM activities LIMIT 1`).Scan(&raw))
	_, err = time.Parse(timeLayout, raw)
	assert.NoError(t, err)
}

func TestCountActivitiesToday(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := st.LogActivity(ctx, &models.Activity{
			Type:        models.ActivityInviteSent,
			Description: "sent",
		})
		require.NoError(t, err)
	}
	_, err := st.LogActivity(ctx, &models.Activity{
		Type:        models.ActivityError,
		Description: "oops",
	})
	require.NoError(t, err)

	n, err := st.CountInvitesToday(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = st.CountActivitiesToday(ctx, models.ActivityError)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
