package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/example/affiliatebot/internal/models"
)

var (
	// ErrInvalidFollowerRange rejects config writes where the band is inverted.
	ErrInvalidFollowerRange = errors.New("maxFollowers must be greater than minFollowers")
	// ErrNotFound signals a missing record.
	ErrNotFound = errors.New("record not found")
)

type Store struct{ db *sql.DB }

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() { _ = s.db.Close() }

func (s *Store) Migrate(ctx context.Context) error {
	stmt := `
CREATE TABLE IF NOT EXISTS bot_sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	status TEXT NOT NULL DEFAULT 'idle',
	start_time DATETIME,
	end_time DATETIME,
	invites_sent INTEGER DEFAULT 0,
	successful_invites INTEGER DEFAULT 0,
	error_count INTEGER DEFAULT 0,
	settings TEXT,
	metadata TEXT,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS creators (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	followers INTEGER DEFAULT 0,
	category TEXT,
	last_invited DATETIME,
	invite_status TEXT DEFAULT 'pending',
	metadata TEXT,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS activities (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	type TEXT NOT NULL,
	description TEXT NOT NULL,
	metadata TEXT,
	session_id INTEGER REFERENCES bot_sessions(id),
	creator_id INTEGER REFERENCES creators(id),
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS bot_config (
	id INTEGER PRIMARY KEY,
	min_followers INTEGER DEFAULT 1000,
	max_followers INTEGER DEFAULT 1000000,
	daily_limit INTEGER DEFAULT 500,
	action_delay INTEGER DEFAULT 45000,
	categories TEXT,
	sub_categories TEXT,
	is_active INTEGER DEFAULT 0,
	updated_at DATETIME NOT NULL
);
`
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

// timeLayout is the canonical storage form for timestamps. SQLite's date
// functions only understand a handful of textual formats; binding a
// time.Time directly would store Go's String() form, which DATE() and
// friends cannot parse. Values are normalized to UTC so lexicographic TEXT
// comparison matches chronological order.
const timeLayout = "2006-01-02 15:04:05.999999999"

func bindTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func bindTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return bindTime(*t)
}

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalMeta(raw sql.NullString) map[string]any {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw.String), &m); err != nil {
		return nil
	}
	return m
}

// Session methods

func (s *Store) CreateSession(ctx context.Context, sess *models.Session) (*models.Session, error) {
	now := time.Now()
	sess.CreatedAt = now
	settings, err := marshalJSON(sess.Settings)
	if err != nil {
		return nil, err
	}
	meta, err := marshalJSON(sess.Metadata)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO bot_sessions
		(status, start_time, invites_sent, successful_invites, error_count, settings, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(sess.Status), bindTime(sess.StartTime), sess.InvitesSent, sess.SuccessfulInvites, sess.ErrorCount, settings, meta, bindTime(now))
	if err != nil {
		return nil, err
	}
	sess.ID, _ = res.LastInsertId()
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id int64) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, status, start_time, end_time, invites_sent,
		successful_invites, error_count, settings, metadata, created_at
		FROM bot_sessions WHERE id = ?`, id)
	return scanSession(row)
}

type rowScanner interface{ Scan(dest ...any) error }

func scanSession(row rowScanner) (*models.Session, error) {
	var sess models.Session
	var status string
	var endTime sql.NullTime
	var settings, meta sql.NullString
	err := row.Scan(&sess.ID, &status, &sess.StartTime, &endTime,
		&sess.InvitesSent, &sess.SuccessfulInvites, &sess.ErrorCount,
		&settings, &meta, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.Status = models.SessionStatus(status)
	if endTime.Valid {
		t := endTime.Time
		sess.EndTime = &t
	}
	if settings.Valid && settings.String != "" {
		var cfg models.BotConfig
		if err := json.Unmarshal([]byte(settings.String), &cfg); err == nil {
			sess.Settings = &cfg
		}
	}
	sess.Metadata = unmarshalMeta(meta)
	return &sess, nil
}

// UpdateSessionStatus transitions a session and, on entering a terminal
// state, stamps its end time. Terminal sessions are immutable: updates
// against them are silently dropped.
func (s *Store) UpdateSessionStatus(ctx context.Context, id int64, status models.SessionStatus, metadata map[string]any) error {
	existing, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if existing.Status.Terminal() {
		return nil
	}
	meta, err := marshalJSON(mergeMeta(existing.Metadata, metadata))
	if err != nil {
		return err
	}
	if status.Terminal() {
		_, err = s.db.ExecContext(ctx, `UPDATE bot_sessions SET status = ?, end_time = ?, metadata = ? WHERE id = ?`,
			string(status), bindTime(time.Now()), meta, id)
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE bot_sessions SET status = ?, metadata = ? WHERE id = ?`,
		string(status), meta, id)
	return err
}

func mergeMeta(existing, updates map[string]any) map[string]any {
	if len(updates) == 0 {
		return existing
	}
	merged := map[string]any{}
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range updates {
		merged[k] = v
	}
	return merged
}

// UpdateSessionCounters overwrites the cumulative counters. Counters only
// grow within a session; the orchestrator is the sole writer.
func (s *Store) UpdateSessionCounters(ctx context.Context, id int64, invitesSent, successfulInvites, errorCount int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE bot_sessions
		SET invites_sent = ?, successful_invites = ?, error_count = ?
		WHERE id = ? AND status NOT IN ('stopped', 'error')`,
		invitesSent, successfulInvites, errorCount, id)
	return err
}

// Creator methods

func (s *Store) GetCreatorByUsername(ctx context.Context, username string) (*models.Creator, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, username, followers, category, last_invited,
		invite_status, metadata, created_at FROM creators WHERE username = ?`, username)
	return scanCreator(row)
}

func scanCreator(row rowScanner) (*models.Creator, error) {
	var c models.Creator
	var category sql.NullString
	var lastInvited sql.NullTime
	var status sql.NullString
	var meta sql.NullString
	err := row.Scan(&c.ID, &c.Username, &c.Followers, &category, &lastInvited, &status, &meta, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Category = category.String
	if lastInvited.Valid {
		t := lastInvited.Time
		c.LastInvited = &t
	}
	if status.Valid {
		c.Status = models.InviteStatus(status.String)
	} else {
		c.Status = models.InvitePending
	}
	c.Metadata = unmarshalMeta(meta)
	return &c, nil
}

func (s *Store) CreateCreator(ctx context.Context, c *models.Creator) (*models.Creator, error) {
	if c.Status == "" {
		c.Status = models.InvitePending
	}
	c.CreatedAt = time.Now()
	meta, err := marshalJSON(c.Metadata)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO creators
		(username, followers, category, last_invited, invite_status, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.Username, c.Followers, c.Category, bindTimePtr(c.LastInvited), string(c.Status), meta, bindTime(c.CreatedAt))
	if err != nil {
		return nil, err
	}
	c.ID, _ = res.LastInsertId()
	return c, nil
}

// UpdateCreatorInfo refreshes the discovery-derived fields on re-sighting.
func (s *Store) UpdateCreatorInfo(ctx context.Context, id int64, followers int, category string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE creators SET followers = ?, category = ? WHERE id = ?`,
		followers, category, id)
	return err
}

// MarkCreatorInvited records an invitation attempt outcome.
func (s *Store) MarkCreatorInvited(ctx context.Context, id int64, status models.InviteStatus, metadata map[string]any) error {
	existing, err := s.getCreatorByID(ctx, id)
	if err != nil {
		return err
	}
	meta, err := marshalJSON(mergeMeta(existing.Metadata, metadata))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE creators SET invite_status = ?, last_invited = ?, metadata = ? WHERE id = ?`,
		string(status), bindTime(time.Now()), meta, id)
	return err
}

// UpdateCreatorStatus applies an externally observed status change
// (acceptance or rejection seen on the portal).
func (s *Store) UpdateCreatorStatus(ctx context.Context, id int64, status models.InviteStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE creators SET invite_status = ? WHERE id = ?`, string(status), id)
	return err
}

func (s *Store) getCreatorByID(ctx context.Context, id int64) (*models.Creator, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, username, followers, category, last_invited,
		invite_status, metadata, created_at FROM creators WHERE id = ?`, id)
	return scanCreator(row)
}

// ListCreatorsEligible returns creators that currently qualify for an
// invitation under the given policy: follower count in band, not accepted,
// not contacted within 24 hours, not rejected within the last 7 days.
func (s *Store) ListCreatorsEligible(ctx context.Context, cfg *models.BotConfig, limit int) ([]models.Creator, error) {
	oneDayAgo := time.Now().Add(-24 * time.Hour)
	sevenDaysAgo := time.Now().Add(-7 * 24 * time.Hour)
	rows, err := s.db.QueryContext(ctx, `SELECT id, username, followers, category, last_invited,
		invite_status, metadata, created_at FROM creators
		WHERE followers >= ? AND followers <= ?
		AND invite_status != 'accepted'
		AND (last_invited IS NULL OR last_invited < ?)
		AND NOT (invite_status = 'rejected' AND last_invited IS NOT NULL AND last_invited >= ?)
		ORDER BY id LIMIT ?`,
		cfg.MinFollowers, cfg.MaxFollowers, bindTime(oneDayAgo), bindTime(sevenDaysAgo), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCreators(rows)
}

func (s *Store) ListCreators(ctx context.Context, limit int) ([]models.Creator, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, username, followers, category, last_invited,
		invite_status, metadata, created_at FROM creators ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCreators(rows)
}

func collectCreators(rows *sql.Rows) ([]models.Creator, error) {
	var out []models.Creator
	for rows.Next() {
		c, err := scanCreator(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *Store) CreatorStats(ctx context.Context) (models.CreatorStats, error) {
	var st models.CreatorStats
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN invite_status = 'accepted' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN invite_status IN ('pending', 'sent') THEN 1 ELSE 0 END), 0)
		FROM creators`)
	if err := row.Scan(&st.Total, &st.Active, &st.Pending); err != nil {
		return st, err
	}
	return st, nil
}

// Activity methods

func (s *Store) LogActivity(ctx context.Context, a *models.Activity) (*models.Activity, error) {
	a.CreatedAt = time.Now()
	meta, err := marshalJSON(a.Metadata)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO activities
		(type, description, metadata, session_id, creator_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.Type, a.Description, meta, a.SessionID, a.CreatorID, bindTime(a.CreatedAt))
	if err != nil {
		return nil, err
	}
	a.ID, _ = res.LastInsertId()
	return a, nil
}

func (s *Store) ListRecentActivities(ctx context.Context, limit int) ([]models.Activity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, type, description, metadata, session_id, creator_id, created_at
		FROM activities ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Activity
	for rows.Next() {
		var a models.Activity
		var meta sql.NullString
		var sessionID, creatorID sql.NullInt64
		if err := rows.Scan(&a.ID, &a.Type, &a.Description, &meta, &sessionID, &creatorID, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Metadata = unmarshalMeta(meta)
		if sessionID.Valid {
			v := sessionID.Int64
			a.SessionID = &v
		}
		if creatorID.Valid {
			v := creatorID.Int64
			a.CreatorID = &v
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountInvitesToday counts today's successful sends for daily-cap checks.
func (s *Store) CountInvitesToday(ctx context.Context) (int, error) {
	return s.CountActivitiesToday(ctx, models.ActivityInviteSent)
}

// CountActivitiesToday counts events in the current UTC calendar day.
// Stored timestamps are UTC, so DATE('now') compares in the same zone.
func (s *Store) CountActivitiesToday(ctx context.Context, activityType string) (int, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activities
		WHERE type = ? AND DATE(created_at) = DATE('now')`, activityType)
	var c int
	if err := row.Scan(&c); err != nil {
		return 0, err
	}
	return c, nil
}

// Bot config methods

// ConfigUpdate is a partial update; nil fields keep the stored value.
type ConfigUpdate struct {
	MinFollowers  *int     `json:"minFollowers,omitempty"`
	MaxFollowers  *int     `json:"maxFollowers,omitempty"`
	DailyLimit    *int     `json:"dailyLimit,omitempty"`
	ActionDelayMs *int     `json:"actionDelay,omitempty"`
	Categories    []string `json:"categories,omitempty"`
	SubCategories []string `json:"subCategories,omitempty"`
	IsActive      *bool    `json:"isActive,omitempty"`
}

// GetBotConfig returns the operator policy, or ErrNotFound if none has been
// configured yet. Absence is meaningful: the orchestrator refuses to start
// without an explicit policy.
func (s *Store) GetBotConfig(ctx context.Context) (*models.BotConfig, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, min_followers, max_followers, daily_limit,
		action_delay, categories, sub_categories, is_active, updated_at FROM bot_config WHERE id = 1`)
	var cfg models.BotConfig
	var categories, subCategories sql.NullString
	err := row.Scan(&cfg.ID, &cfg.MinFollowers, &cfg.MaxFollowers, &cfg.DailyLimit,
		&cfg.ActionDelayMs, &categories, &subCategories, &cfg.IsActive, &cfg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	cfg.Categories = splitList(categories.String)
	cfg.SubCategories = splitList(subCategories.String)
	return &cfg, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// UpdateBotConfig applies a partial update, creating the policy row on
// first write. The follower band invariant is checked against the merged
// result so a partial update cannot sneak an inverted range in.
func (s *Store) UpdateBotConfig(ctx context.Context, upd ConfigUpdate) (*models.BotConfig, error) {
	cfg, err := s.GetBotConfig(ctx)
	if errors.Is(err, ErrNotFound) {
		cfg = &models.BotConfig{
			ID:            1,
			MinFollowers:  1000,
			MaxFollowers:  1000000,
			DailyLimit:    500,
			ActionDelayMs: 45000,
		}
	} else if err != nil {
		return nil, err
	}
	if upd.MinFollowers != nil {
		cfg.MinFollowers = *upd.MinFollowers
	}
	if upd.MaxFollowers != nil {
		cfg.MaxFollowers = *upd.MaxFollowers
	}
	if upd.DailyLimit != nil {
		cfg.DailyLimit = *upd.DailyLimit
	}
	if upd.ActionDelayMs != nil {
		cfg.ActionDelayMs = *upd.ActionDelayMs
	}
	if upd.Categories != nil {
		cfg.Categories = upd.Categories
	}
	if upd.SubCategories != nil {
		cfg.SubCategories = upd.SubCategories
	}
	if upd.IsActive != nil {
		cfg.IsActive = *upd.IsActive
	}
	if cfg.MaxFollowers <= cfg.MinFollowers {
		return nil, fmt.Errorf("%w: min=%d max=%d", ErrInvalidFollowerRange, cfg.MinFollowers, cfg.MaxFollowers)
	}
	cfg.UpdatedAt = time.Now()
	_, err = s.db.ExecContext(ctx, `INSERT INTO bot_config
		(id, min_followers, max_followers, daily_limit, action_delay, categories, sub_categories, is_active, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		min_followers=excluded.min_followers,
		max_followers=excluded.max_followers,
		daily_limit=excluded.daily_limit,
		action_delay=excluded.action_delay,
		categories=excluded.categories,
		sub_categories=excluded.sub_categories,
		is_active=excluded.is_active,
		updated_at=excluded.updated_at`,
		cfg.MinFollowers, cfg.MaxFollowers, cfg.DailyLimit, cfg.ActionDelayMs,
		strings.Join(cfg.Categories, ","), strings.Join(cfg.SubCategories, ","), cfg.IsActive, bindTime(cfg.UpdatedAt))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
