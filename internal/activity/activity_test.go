package activity

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/affiliatebot/internal/models"
	"github.com/example/affiliatebot/internal/store"
)

func newTestLogger(t *testing.T) (*Logger, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(st.Close)
	require.NoError(t, st.Migrate(context.Background()))
	return NewLogger(st, "error"), st
}

func TestLogPersists(t *testing.T) {
	l, st := newTestLogger(t)
	ctx := context.Background()

	sessionID := int64(7)
	l.Log(ctx, &models.Activity{
		Type:        models.ActivityInviteSent,
		Description: "Invitation sent to someone",
		SessionID:   &sessionID,
		Metadata:    map[string]any{"username": "someone"},
	})

	list, err := st.ListRecentActivities(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.ActivityInviteSent, list[0].Type)
	require.NotNil(t, list[0].SessionID)
	assert.Equal(t, int64(7), *list[0].SessionID)
	assert.Equal(t, "someone", list[0].Metadata["username"])
}

func TestLogErrorShape(t *testing.T) {
	l, st := newTestLogger(t)
	ctx := context.Background()

	cause := errors.New("portal timed out")
	l.LogError(ctx, cause, "Creator discovery failed", nil, nil,
		map[string]any{"attempt": 2})

	list, err := st.ListRecentActivities(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.ActivityError, list[0].Type)
	assert.Equal(t, "Creator discovery failed: portal timed out", list[0].Description)
	assert.Equal(t, "portal timed out", list[0].Metadata["error"])
	assert.Equal(t, float64(2), list[0].Metadata["attempt"])
}

func TestSummarize(t *testing.T) {
	l, st := newTestLogger(t)
	ctx := context.Background()

	seed := []string{
		models.ActivityInviteSent,
		models.ActivityInviteSent,
		models.ActivityInviteAccepted,
		models.ActivityError,
		models.ActivityInfo,
	}
	for _, typ := range seed {
		_, err := st.LogActivity(ctx, &models.Activity{Type: typ, Description: typ})
		require.NoError(t, err)
	}

	s, err := l.Summarize(ctx, 24)
	require.NoError(t, err)
	assert.Equal(t, 5, s.Total)
	assert.Equal(t, 2, s.InvitesSent)
	assert.Equal(t, 1, s.InvitesAccepted)
	assert.Equal(t, 1, s.Errors)
	assert.Equal(t, 2, s.ByType[models.ActivityInviteSent])

	// 24 buckets, oldest first; everything just logged lands in the last one.
	require.Len(t, s.Timeline, 24)
	last := s.Timeline[len(s.Timeline)-1]
	assert.Equal(t, 5, last.Count)
	assert.Equal(t, 2, last.Invites)
	assert.Equal(t, 1, last.Errors)
	for _, b := range s.Timeline[:len(s.Timeline)-1] {
		assert.Zero(t, b.Count)
	}
}

func TestSummarizeWindowDefaults(t *testing.T) {
	l, _ := newTestLogger(t)

	s, err := l.Summarize(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, s.Timeline, 24)

	s, err = l.Summarize(context.Background(), 6)
	require.NoError(t, err)
	assert.Len(t, s.Timeline, 6)
}

func TestMetadataShapes(t *testing.T) {
	m := SessionStopMetadata(time.Now().Add(-time.Minute), "Daily limit reached", SessionStats{
		InvitesSent: 10, SuccessfulInvites: 9, ErrorCount: 1,
	})
	assert.Equal(t, "Daily limit reached", m["stopReason"])
	assert.GreaterOrEqual(t, m["sessionDuration"].(int64), int64(60000))

	c := &models.Creator{Username: "someone", Followers: 50000, Category: "Beauty"}
	im := InviteMetadata(c, 5*time.Second)
	assert.Equal(t, "someone", im["username"])
	timing, ok := im["timing"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, int64(5000), timing["timeSinceLastAction"])
}
