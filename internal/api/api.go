package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/example/affiliatebot/internal/activity"
	"github.com/example/affiliatebot/internal/logging"
	"github.com/example/affiliatebot/internal/models"
	"github.com/example/affiliatebot/internal/session"
	"github.com/example/affiliatebot/internal/store"
)

// Controller is the operator-facing control surface of the orchestrator.
type Controller interface {
	Start(ctx context.Context) (*models.Session, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context, reason string) error
	EmergencyStop(ctx context.Context) error
	Status(ctx context.Context) session.Status
	IsLoggedIn() bool
}

// Server exposes the dashboard's REST surface. Handlers are thin request/
// response plumbing; all behavior lives in the packages they call.
type Server struct {
	st   *store.Store
	al   *activity.Logger
	ctrl Controller
	log  *logging.Logger
}

func NewServer(st *store.Store, al *activity.Logger, ctrl Controller, logLevel string) *Server {
	return &Server{st: st, al: al, ctrl: ctrl, log: logging.New(logLevel).With("module", "api")}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/bot/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/bot/start", s.handleStart).Methods(http.MethodPost)
	r.HandleFunc("/api/bot/pause", s.handlePause).Methods(http.MethodPost)
	r.HandleFunc("/api/bot/resume", s.handleResume).Methods(http.MethodPost)
	r.HandleFunc("/api/bot/stop", s.handleStop).Methods(http.MethodPost)
	r.HandleFunc("/api/bot/emergency-stop", s.handleEmergencyStop).Methods(http.MethodPost)
	r.HandleFunc("/api/bot/check-login", s.handleCheckLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/bot/config", s.handleGetConfig).Methods(http.MethodGet)
	r.HandleFunc("/api/bot/config", s.handlePutConfig).Methods(http.MethodPut)
	r.HandleFunc("/api/activities", s.handleActivities).Methods(http.MethodGet)
	r.HandleFunc("/api/activities/summary", s.handleActivitySummary).Methods(http.MethodGet)
	r.HandleFunc("/api/creators", s.handleCreators).Methods(http.MethodGet)
	r.HandleFunc("/api/creators/stats", s.handleCreatorStats).Methods(http.MethodGet)
	r.HandleFunc("/api/dashboard/metrics", s.handleDashboardMetrics).Methods(http.MethodGet)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status(r.Context()))
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	sess, err := s.ctrl.Start(r.Context())
	switch {
	case errors.Is(err, session.ErrSessionRunning):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrNoConfig):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		s.log.Error("start failed", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusCreated, sess)
	}
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Pause(r.Context()); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Resume(r.Context()); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if err := s.ctrl.Stop(r.Context(), body.Reason); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.EmergencyStop(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped", "emergency": "true"})
}

func (s *Server) handleCheckLogin(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"loggedIn": s.ctrl.IsLoggedIn()})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.st.GetBotConfig(r.Context())
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "bot configuration not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var upd store.ConfigUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid config payload")
		return
	}
	cfg, err := s.st.UpdateBotConfig(r.Context(), upd)
	if errors.Is(err, store.ErrInvalidFollowerRange) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleActivities(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	activities, err := s.st.ListRecentActivities(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if activities == nil {
		activities = []models.Activity{}
	}
	writeJSON(w, http.StatusOK, activities)
}

func (s *Server) handleActivitySummary(w http.ResponseWriter, r *http.Request) {
	hours := queryInt(r, "hours", 24)
	summary, err := s.al.Summarize(r.Context(), hours)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleCreators(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	creators, err := s.st.ListCreators(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if creators == nil {
		creators = []models.Creator{}
	}
	writeJSON(w, http.StatusOK, creators)
}

func (s *Server) handleCreatorStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.st.CreatorStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// DashboardMetrics is the shape behind the dashboard's headline cards.
type DashboardMetrics struct {
	InvitesSent    int `json:"invitesSent"`
	AcceptanceRate int `json:"acceptanceRate"`
	ActiveCreators int `json:"activeCreators"`
	DailyProgress  struct {
		Current int `json:"current"`
		Target  int `json:"target"`
	} `json:"dailyProgress"`
}

func (s *Server) handleDashboardMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sent, err := s.st.CountActivitiesToday(ctx, models.ActivityInviteSent)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	accepted, err := s.st.CountActivitiesToday(ctx, models.ActivityInviteAccepted)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	stats, err := s.st.CreatorStats(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var m DashboardMetrics
	m.InvitesSent = sent
	if sent > 0 {
		m.AcceptanceRate = accepted * 100 / sent
	}
	m.ActiveCreators = stats.Active
	m.DailyProgress.Current = sent
	if cfg, err := s.st.GetBotConfig(ctx); err == nil {
		m.DailyProgress.Target = cfg.DailyLimit
	}
	writeJSON(w, http.StatusOK, m)
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
