package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/example/affiliatebot/internal/activity"
	"github.com/example/affiliatebot/internal/config"
	"github.com/example/affiliatebot/internal/driver"
	"github.com/example/affiliatebot/internal/filter"
	"github.com/example/affiliatebot/internal/logging"
	"github.com/example/affiliatebot/internal/models"
	"github.com/example/affiliatebot/internal/stealth"
	"github.com/example/affiliatebot/internal/store"
)

var (
	// ErrSessionRunning rejects a start while a session is active.
	ErrSessionRunning = errors.New("session is already running")
	// ErrNoConfig means no operator policy has been configured.
	ErrNoConfig = errors.New("bot configuration not found")
	// ErrNoActiveSession rejects pause without a running session.
	ErrNoActiveSession = errors.New("no active session to pause")
	// ErrCannotResume rejects resume unless a session is paused.
	ErrCannotResume = errors.New("cannot resume session")
	// ErrLoginFailed is the fatal startup condition when authentication
	// does not verify.
	ErrLoginFailed = errors.New("login failed")
)

// BrowserDriver is the orchestrator's view of the browser-session driver.
// The production implementation is internal/driver; tests substitute an
// explicit fake.
type BrowserDriver interface {
	Initialize(ctx context.Context) error
	Login(ctx context.Context) (bool, error)
	FindCreators(ctx context.Context, limit int) ([]models.DiscoveredCreator, error)
	SendInvite(ctx context.Context, username string) (bool, error)
	Status() driver.Status
	Close()
}

// Pacing holds the delay bands and batch sizing for the invitation loop.
// Bands are randomized per wait; see the stealth package for why nothing
// here is a fixed interval.
type Pacing struct {
	ActionMin, ActionMax                 time.Duration // between individual sends
	IdleMin, IdleMax                     time.Duration // after an empty batch
	CreatorBackoffMin, CreatorBackoffMax time.Duration // after a per-creator error
	LoopBackoffMin, LoopBackoffMax       time.Duration // after a loop-level error
	BatchSize                            int
	DiscoveryLimit                       int
}

func DefaultPacing() Pacing {
	return Pacing{
		ActionMin:         45 * time.Second,
		ActionMax:         90 * time.Second,
		IdleMin:           120 * time.Second,
		IdleMax:           180 * time.Second,
		CreatorBackoffMin: 60 * time.Second,
		CreatorBackoffMax: 120 * time.Second,
		LoopBackoffMin:    180 * time.Second,
		LoopBackoffMax:    300 * time.Second,
		BatchSize:         5,
		DiscoveryLimit:    20,
	}
}

// Status is the dashboard-facing composite read.
type Status struct {
	IsRunning      bool            `json:"isRunning"`
	CurrentSession *models.Session `json:"currentSession,omitempty"`
	Driver         driver.Status   `json:"driver"`
}

// loopHandle is the control token for one invitation-loop goroutine. Each
// launch gets a fresh handle, so a stale loop can never be revived by a
// later resume clearing a shared flag.
type loopHandle struct {
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newLoopHandle() *loopHandle {
	return &loopHandle{stop: make(chan struct{}), done: make(chan struct{})}
}

func (h *loopHandle) requestStop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

func (h *loopHandle) stopped() bool {
	select {
	case <-h.stop:
		return true
	default:
		return false
	}
}

// Manager is the state machine coordinating driver, filter, and logger.
// It exclusively owns the current session record and is the only writer
// of its counters; counter fields on the shared session are only touched
// under mu. Construct one at process startup and share it by reference;
// there is no ambient global.
type Manager struct {
	appCfg *config.Config
	st     *store.Store
	drv    BrowserDriver
	fl     *filter.Filter
	al     *activity.Logger
	log    *logging.Logger
	pacing Pacing

	mu      sync.Mutex
	running bool
	current *models.Session
	loop    *loopHandle

	lastActionMu sync.Mutex
	lastAction   time.Time
}

func NewManager(appCfg *config.Config, st *store.Store, drv BrowserDriver, fl *filter.Filter, al *activity.Logger, pacing Pacing) *Manager {
	return &Manager{
		appCfg: appCfg,
		st:     st,
		drv:    drv,
		fl:     fl,
		al:     al,
		log:    logging.New(appCfg.Logging.Level).With("module", "session"),
		pacing: pacing,
	}
}

// Start creates a session, brings up the browser, logs in, and launches
// the invitation loop in the background. It returns once the session is
// confirmed running. Browser and login failures are fatal here: the
// session is marked error and the failure surfaces to the caller.
func (m *Manager) Start(ctx context.Context) (*models.Session, error) {
	m.mu.Lock()
	if m.running || (m.current != nil && !m.current.Status.Terminal()) {
		m.mu.Unlock()
		return nil, ErrSessionRunning
	}
	m.running = true
	prev := m.loop
	m.mu.Unlock()

	// Any previous loop must be fully drained before the driver is
	// reinitialized under it.
	if prev != nil {
		<-prev.done
	}

	sess, err := m.startSession(ctx)
	if err != nil {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		return nil, err
	}
	return sess, nil
}

func (m *Manager) startSession(ctx context.Context) (*models.Session, error) {
	cfg, err := m.st.GetBotConfig(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoConfig
	}
	if err != nil {
		return nil, fmt.Errorf("load bot config: %w", err)
	}

	sess, err := m.st.CreateSession(ctx, &models.Session{
		Status:    models.SessionInitializing,
		StartTime: time.Now(),
		Settings:  cfg,
		Metadata:  activity.InitialSessionMetadata(m.appCfg.Stealth.UserAgent, "randomized"),
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	m.al.Log(ctx, &models.Activity{
		Type:        models.ActivitySessionStart,
		Description: "Bot session started with human-like behavior",
		SessionID:   &sess.ID,
		Metadata:    map[string]any{"config": cfg},
	})

	if err := m.drv.Initialize(ctx); err != nil {
		m.failSession(ctx, sess, err)
		return nil, err
	}

	ok, err := m.drv.Login(ctx)
	if err == nil && !ok {
		err = ErrLoginFailed
	}
	if err != nil {
		m.al.Log(ctx, &models.Activity{
			Type:        models.ActivityLoginError,
			Description: "Login failed: " + err.Error(),
			SessionID:   &sess.ID,
			Metadata:    activity.ErrorMetadata(err),
		})
		m.failSession(ctx, sess, err)
		return nil, err
	}

	m.al.Log(ctx, &models.Activity{
		Type:        models.ActivityLoginSuccess,
		Description: "Successfully logged into seller portal",
		SessionID:   &sess.ID,
	})

	if err := m.st.UpdateSessionStatus(ctx, sess.ID, models.SessionRunning, nil); err != nil {
		m.failSession(ctx, sess, err)
		return nil, err
	}
	sess.Status = models.SessionRunning

	if !stealth.InActiveWindow(m.appCfg.Stealth.ActiveStart, m.appCfg.Stealth.ActiveEnd) {
		m.log.Warn("starting outside configured active window",
			"active_hours", m.appCfg.Stealth.ActiveStart+"-"+m.appCfg.Stealth.ActiveEnd)
	}

	h := newLoopHandle()
	m.mu.Lock()
	m.current = sess
	m.loop = h
	m.mu.Unlock()
	m.touchLastAction()

	go m.runLoop(context.WithoutCancel(ctx), cfg, h)

	return sess, nil
}

func (m *Manager) failSession(ctx context.Context, sess *models.Session, cause error) {
	if err := m.st.UpdateSessionStatus(ctx, sess.ID, models.SessionError, activity.ErrorMetadata(cause)); err != nil {
		m.log.Error("failed to mark session errored", "session_id", sess.ID, "err", err)
	}
	m.drv.Close()
}

// Pause signals the loop to exit at its next boundary and waits for it to
// drain. In-flight single operations finish first; this is cooperative,
// not preemptive.
func (m *Manager) Pause(ctx context.Context) error {
	m.mu.Lock()
	if !m.running || m.current == nil {
		m.mu.Unlock()
		return ErrNoActiveSession
	}
	sess := m.current
	h := m.loop
	m.running = false
	m.mu.Unlock()

	if h != nil {
		h.requestStop()
		<-h.done
	}

	if err := m.st.UpdateSessionStatus(ctx, sess.ID, models.SessionPaused, activity.SessionPauseMetadata(sess.StartTime)); err != nil {
		return err
	}
	sess.Status = models.SessionPaused

	m.al.Log(ctx, &models.Activity{
		Type:        models.ActivitySessionPause,
		Description: "Bot session paused",
		SessionID:   &sess.ID,
		Metadata: map[string]any{
			"sessionDuration": activity.SessionDuration(sess.StartTime).Milliseconds(),
		},
	})
	return nil
}

// Resume reloads config and relaunches the loop for a paused session.
func (m *Manager) Resume(ctx context.Context) error {
	m.mu.Lock()
	if m.running || m.current == nil || m.current.Status != models.SessionPaused {
		m.mu.Unlock()
		return ErrCannotResume
	}
	sess := m.current
	prev := m.loop
	m.mu.Unlock()

	// Pause already joined the loop; this is a safety net against a
	// straggler from an unexpected path.
	if prev != nil {
		<-prev.done
	}

	cfg, err := m.st.GetBotConfig(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNoConfig
	}
	if err != nil {
		return fmt.Errorf("load bot config: %w", err)
	}

	if err := m.st.UpdateSessionStatus(ctx, sess.ID, models.SessionRunning, activity.SessionResumeMetadata()); err != nil {
		return err
	}
	sess.Status = models.SessionRunning

	m.al.Log(ctx, &models.Activity{
		Type:        models.ActivitySessionResume,
		Description: "Bot session resumed",
		SessionID:   &sess.ID,
	})

	h := newLoopHandle()
	m.mu.Lock()
	m.running = true
	m.loop = h
	m.mu.Unlock()
	m.touchLastAction()

	go m.runLoop(context.WithoutCancel(ctx), cfg, h)
	return nil
}

// Stop unconditionally halts the loop, finalizes the session record,
// releases the browser, and waits for the loop goroutine to drain. Safe to
// call with no active session; calling it twice is a no-op after the first.
func (m *Manager) Stop(ctx context.Context, reason string) error {
	return m.shutdown(ctx, reason, true)
}

// shutdown is the single teardown path. The loop itself calls it with
// wait=false when the daily cap trips; waiting there would deadlock on the
// loop's own done channel.
func (m *Manager) shutdown(ctx context.Context, reason string, wait bool) error {
	m.mu.Lock()
	h := m.loop
	m.running = false
	sess := m.current
	m.current = nil
	m.mu.Unlock()

	if h != nil {
		h.requestStop()
		if wait {
			<-h.done
		}
	}

	if sess != nil {
		if reason == "" {
			reason = "Bot session stopped"
		}
		stats := m.finalStats(ctx, sess)
		if err := m.st.UpdateSessionStatus(ctx, sess.ID, models.SessionStopped,
			activity.SessionStopMetadata(sess.StartTime, reason, stats)); err != nil {
			m.log.Error("failed to finalize session", "session_id", sess.ID, "err", err)
		}
		m.al.Log(ctx, &models.Activity{
			Type:        models.ActivitySessionStop,
			Description: reason,
			SessionID:   &sess.ID,
			Metadata: map[string]any{
				"reason":          reason,
				"stats":           stats,
				"sessionDuration": activity.SessionDuration(sess.StartTime).Milliseconds(),
			},
		})
	}

	m.drv.Close()
	return nil
}

// finalStats prefers the persisted row; the store is the authority once
// the loop has been drained.
func (m *Manager) finalStats(ctx context.Context, sess *models.Session) activity.SessionStats {
	if fresh, err := m.st.GetSession(ctx, sess.ID); err == nil {
		return activity.SessionStats{
			InvitesSent:       fresh.InvitesSent,
			SuccessfulInvites: fresh.SuccessfulInvites,
			ErrorCount:        fresh.ErrorCount,
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return activity.SessionStats{
		InvitesSent:       sess.InvitesSent,
		SuccessfulInvites: sess.SuccessfulInvites,
		ErrorCount:        sess.ErrorCount,
	}
}

// EmergencyStop stops with a fixed reason, bypassing normal confirmation.
func (m *Manager) EmergencyStop(ctx context.Context) error {
	return m.Stop(ctx, "Emergency stop activated")
}

// Status composes the running flag, the live session snapshot, and the
// driver's readiness. Pure read.
func (m *Manager) Status(ctx context.Context) Status {
	m.mu.Lock()
	running := m.running
	var sess *models.Session
	if m.current != nil {
		snapshot := *m.current
		sess = &snapshot
	}
	m.mu.Unlock()

	if sess != nil {
		if fresh, err := m.st.GetSession(ctx, sess.ID); err == nil {
			sess = fresh
		}
	}
	return Status{IsRunning: running, CurrentSession: sess, Driver: m.drv.Status()}
}

// IsLoggedIn is the login-verification probe behind the check-login command.
func (m *Manager) IsLoggedIn() bool {
	return m.drv.Status().LoggedIn
}

// The invitation loop. Exits when its handle is stopped, the session is
// cleared, or the daily cap stops the session from inside.
func (m *Manager) runLoop(ctx context.Context, cfg *models.BotConfig, h *loopHandle) {
	defer close(h.done)

	for m.loopActive(h) {
		reached, err := m.dailyLimitReached(ctx, cfg)
		if err != nil {
			m.handleLoopError(ctx, h, err)
			continue
		}
		if reached {
			_ = m.shutdown(ctx, "Daily limit reached", false)
			return
		}

		m.enforcePacing(h, m.pacing.ActionMin, m.pacing.ActionMax)
		if !m.loopActive(h) {
			return
		}

		if err := m.processBatch(ctx, cfg, h); err != nil {
			m.handleLoopError(ctx, h, err)
		}
	}
}

func (m *Manager) loopActive(h *loopHandle) bool {
	if h.stopped() {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running && m.current != nil
}

func (m *Manager) currentSession() *models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *Manager) dailyLimitReached(ctx context.Context, cfg *models.BotConfig) (bool, error) {
	if cfg.DailyLimit <= 0 {
		return false, nil
	}
	count, err := m.st.CountInvitesToday(ctx)
	if err != nil {
		return false, fmt.Errorf("count invites today: %w", err)
	}
	return count >= cfg.DailyLimit, nil
}

func (m *Manager) processBatch(ctx context.Context, cfg *models.BotConfig, h *loopHandle) error {
	sess := m.currentSession()
	if sess == nil {
		return nil
	}

	creators, err := m.fl.Recommend(ctx, m.pacing.BatchSize)
	if err != nil {
		return fmt.Errorf("recommend creators: %w", err)
	}

	if len(creators) == 0 {
		m.al.Log(ctx, &models.Activity{
			Type:        models.ActivityInfo,
			Description: "No eligible creators found for invitation",
			SessionID:   &sess.ID,
		})
		m.discover(ctx, sess, cfg)
		m.enforcePacing(h, m.pacing.IdleMin, m.pacing.IdleMax)
		return nil
	}

	for i := range creators {
		if h.stopped() {
			break
		}
		creator := creators[i]
		m.enforcePacing(h, m.pacing.ActionMin, m.pacing.ActionMax)
		if h.stopped() {
			break
		}
		if err := m.processCreator(ctx, sess, &creator); err != nil {
			m.handleCreatorError(ctx, h, sess, &creator, err)
		}
	}
	return nil
}

// discover runs one discovery pass so an empty store does not starve the
// loop forever.
func (m *Manager) discover(ctx context.Context, sess *models.Session, cfg *models.BotConfig) {
	raw, err := m.drv.FindCreators(ctx, m.pacing.DiscoveryLimit)
	if err != nil {
		m.al.LogError(ctx, err, "Creator discovery failed", &sess.ID, nil, nil)
		return
	}
	if len(raw) == 0 {
		return
	}
	ingested, err := m.fl.IngestAndFilter(ctx, raw, cfg)
	if err != nil {
		m.al.LogError(ctx, err, "Creator ingestion failed", &sess.ID, nil, nil)
		return
	}
	m.al.Log(ctx, &models.Activity{
		Type:        models.ActivityCreatorDiscovery,
		Description: fmt.Sprintf("Discovered %d creators, %d eligible", len(raw), len(ingested)),
		SessionID:   &sess.ID,
		Metadata:    map[string]any{"count": len(raw), "eligible": len(ingested)},
	})
}

func (m *Manager) processCreator(ctx context.Context, sess *models.Session, creator *models.Creator) error {
	ok, err := m.drv.SendInvite(ctx, creator.Username)
	if err != nil {
		return err
	}

	invites, successes, errCount := m.bumpCounters(sess, 1, boolToInt(ok), boolToInt(!ok))
	if ok {
		if err := m.st.MarkCreatorInvited(ctx, creator.ID, models.InviteSent,
			activity.CreatorInviteMetadata(sess.ID)); err != nil {
			m.log.Warn("failed to mark creator invited", "username", creator.Username, "err", err)
		}
		m.al.Log(ctx, &models.Activity{
			Type:        models.ActivityInviteSent,
			Description: "Invitation sent to " + creator.Username,
			SessionID:   &sess.ID,
			CreatorID:   &creator.ID,
			Metadata:    activity.InviteMetadata(creator, m.sinceLastAction()),
		})
	} else {
		m.al.Log(ctx, &models.Activity{
			Type:        models.ActivityError,
			Description: "Invite control not found for " + creator.Username,
			SessionID:   &sess.ID,
			CreatorID:   &creator.ID,
		})
	}

	if err := m.st.UpdateSessionCounters(ctx, sess.ID, invites, successes, errCount); err != nil {
		m.log.Warn("failed to update session counters", "session_id", sess.ID, "err", err)
	}
	return nil
}

// bumpCounters mutates the shared session's counters under the manager
// lock and returns a consistent snapshot for persistence.
func (m *Manager) bumpCounters(sess *models.Session, dInvites, dSuccesses, dErrors int) (int, int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess.InvitesSent += dInvites
	sess.SuccessfulInvites += dSuccesses
	sess.ErrorCount += dErrors
	return sess.InvitesSent, sess.SuccessfulInvites, sess.ErrorCount
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// A single creator's failure never aborts the batch or the session; it is
// counted, logged, and followed by an elevated backoff.
func (m *Manager) handleCreatorError(ctx context.Context, h *loopHandle, sess *models.Session, creator *models.Creator, err error) {
	m.al.LogError(ctx, err, "Error processing creator "+creator.Username, &sess.ID, &creator.ID, nil)

	invites, successes, errCount := m.bumpCounters(sess, 0, 0, 1)
	if uerr := m.st.UpdateSessionCounters(ctx, sess.ID, invites, successes, errCount); uerr != nil {
		m.log.Warn("failed to update session counters", "session_id", sess.ID, "err", uerr)
	}

	m.enforcePacing(h, m.pacing.CreatorBackoffMin, m.pacing.CreatorBackoffMax)
}

// Loop-level errors get a long backoff: if the portal UI changed under us,
// hammering it helps nobody.
func (m *Manager) handleLoopError(ctx context.Context, h *loopHandle, err error) {
	sess := m.currentSession()
	var sessionID *int64
	if sess != nil {
		sessionID = &sess.ID
	}
	m.al.LogError(ctx, err, "Session loop error", sessionID, nil, nil)
	m.enforcePacing(h, m.pacing.LoopBackoffMin, m.pacing.LoopBackoffMax)
}

// enforcePacing guarantees a minimum spacing between any two actions,
// sleeping a randomized amount within the band when the last action was
// too recent. The wait aborts early when the loop is stopped so teardown
// never blocks on a pacing band.
func (m *Manager) enforcePacing(h *loopHandle, min, max time.Duration) {
	m.lastActionMu.Lock()
	sinceLast := time.Since(m.lastAction)
	m.lastActionMu.Unlock()

	if sinceLast < min {
		span := max - min
		if span <= 0 {
			span = 1
		}
		delay := min + time.Duration(rand.Int63n(int64(span)))
		timer := time.NewTimer(delay)
		select {
		case <-h.stop:
			timer.Stop()
		case <-timer.C:
		}
	}
	m.touchLastAction()
}

func (m *Manager) touchLastAction() {
	m.lastActionMu.Lock()
	m.lastAction = time.Now()
	m.lastActionMu.Unlock()
}

func (m *Manager) sinceLastAction() time.Duration {
	m.lastActionMu.Lock()
	defer m.lastActionMu.Unlock()
	return time.Since(m.lastAction)
}
