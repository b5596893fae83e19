package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/affiliatebot/internal/activity"
	"github.com/example/affiliatebot/internal/driver"
	"github.com/example/affiliatebot/internal/models"
	"github.com/example/affiliatebot/internal/session"
	"github.com/example/affiliatebot/internal/store"
)

type fakeController struct {
	startErr error
	pauseErr error
	status   session.Status
	loggedIn bool
	stopped  []string
}

func (c *fakeController) Start(ctx context.Context) (*models.Session, error) {
	if c.startErr != nil {
		return nil, c.startErr
	}
	return &models.Session{ID: 1, Status: models.SessionRunning, StartTime: time.Now()}, nil
}

func (c *fakeController) Pause(ctx context.Context) error  { return c.pauseErr }
func (c *fakeController) Resume(ctx context.Context) error { return nil }

func (c *fakeController) Stop(ctx context.Context, reason string) error {
	c.stopped = append(c.stopped, reason)
	return nil
}

func (c *fakeController) EmergencyStop(ctx context.Context) error {
	return c.Stop(ctx, "Emergency stop activated")
}

func (c *fakeController) Status(ctx context.Context) session.Status { return c.status }
func (c *fakeController) IsLoggedIn() bool                          { return c.loggedIn }

func newTestServer(t *testing.T, ctrl *fakeController) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(st.Close)
	require.NoError(t, st.Migrate(context.Background()))
	al := activity.NewLogger(st, "error")
	return NewServer(st, al, ctrl, "error"), st
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, &fakeController{})
	rec := doRequest(t, srv, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStartConflict(t *testing.T) {
	srv, _ := newTestServer(t, &fakeController{startErr: session.ErrSessionRunning})
	rec := doRequest(t, srv, http.MethodPost, "/api/bot/start", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStartWithoutConfig(t *testing.T) {
	srv, _ := newTestServer(t, &fakeController{startErr: session.ErrNoConfig})
	rec := doRequest(t, srv, http.MethodPost, "/api/bot/start", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartCreated(t *testing.T) {
	srv, _ := newTestServer(t, &fakeController{})
	rec := doRequest(t, srv, http.MethodPost, "/api/bot/start", "")
	assert.Equal(t, http.StatusCreated, rec.Code)

	var sess models.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	assert.Equal(t, models.SessionRunning, sess.Status)
}

func TestStopPassesReason(t *testing.T) {
	ctrl := &fakeController{}
	srv, _ := newTestServer(t, ctrl)
	rec := doRequest(t, srv, http.MethodPost, "/api/bot/stop", `{"reason":"done for today"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, ctrl.stopped, 1)
	assert.Equal(t, "done for today", ctrl.stopped[0])
}

func TestStatus(t *testing.T) {
	ctrl := &fakeController{status: session.Status{
		IsRunning: true,
		Driver:    driver.Status{Initialized: true, LoggedIn: true},
	}}
	srv, _ := newTestServer(t, ctrl)
	rec := doRequest(t, srv, http.MethodGet, "/api/bot/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var got session.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.IsRunning)
	assert.True(t, got.Driver.LoggedIn)
}

func TestConfigRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t, &fakeController{})

	rec := doRequest(t, srv, http.MethodGet, "/api/bot/config", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, srv, http.MethodPut, "/api/bot/config",
		`{"minFollowers":5000,"maxFollowers":200000,"dailyLimit":50,"categories":["Beauty"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/bot/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var cfg models.BotConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	assert.Equal(t, 5000, cfg.MinFollowers)
	assert.Equal(t, 50, cfg.DailyLimit)
	assert.Equal(t, []string{"Beauty"}, cfg.Categories)
}

func TestConfigRejectsInvertedRange(t *testing.T) {
	srv, _ := newTestServer(t, &fakeController{})
	rec := doRequest(t, srv, http.MethodPut, "/api/bot/config",
		`{"minFollowers":2000,"maxFollowers":1000}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestActivitiesEmptyIsArray(t *testing.T) {
	srv, _ := newTestServer(t, &fakeController{})
	rec := doRequest(t, srv, http.MethodGet, "/api/activities", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestDashboardMetrics(t *testing.T) {
	srv, st := newTestServer(t, &fakeController{})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := st.LogActivity(ctx, &models.Activity{
			Type:        models.ActivityInviteSent,
			Description: "sent",
		})
		require.NoError(t, err)
	}
	_, err := st.LogActivity(ctx, &models.Activity{
		Type:        models.ActivityInviteAccepted,
		Description: "accepted",
	})
	require.NoError(t, err)
	_, err = st.UpdateBotConfig(ctx, store.ConfigUpdate{})
	require.NoError(t, err)

	rec := doRequest(t, srv, http.MethodGet, "/api/dashboard/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var m DashboardMetrics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, 4, m.InvitesSent)
	assert.Equal(t, 25, m.AcceptanceRate)
	assert.Equal(t, 4, m.DailyProgress.Current)
	assert.Equal(t, 500, m.DailyProgress.Target)
}

func TestCheckLogin(t *testing.T) {
	srv, _ := newTestServer(t, &fakeController{loggedIn: true})
	rec := doRequest(t, srv, http.MethodPost, "/api/bot/check-login", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"loggedIn":true}`, rec.Body.String())
}
