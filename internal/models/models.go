package models

import "time"

// SessionStatus is the lifecycle state of a bot session.
type SessionStatus string

const (
	SessionIdle         SessionStatus = "idle"
	SessionInitializing SessionStatus = "initializing"
	SessionRunning      SessionStatus = "running"
	SessionPaused       SessionStatus = "paused"
	SessionStopped      SessionStatus = "stopped"
	SessionError        SessionStatus = "error"
)

// Terminal reports whether a session in this state may no longer change.
func (s SessionStatus) Terminal() bool {
	return s == SessionStopped || s == SessionError
}

// Session is one continuous run of the invitation loop.
type Session struct {
	ID                int64          `json:"id"`
	Status            SessionStatus  `json:"status"`
	StartTime         time.Time      `json:"startTime"`
	EndTime           *time.Time     `json:"endTime,omitempty"`
	InvitesSent       int            `json:"invitesSent"`
	SuccessfulInvites int            `json:"successfulInvites"`
	ErrorCount        int            `json:"errorCount"`
	Settings          *BotConfig     `json:"settings,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
}

// InviteStatus tracks where a creator sits in the invitation funnel.
type InviteStatus string

const (
	InvitePending  InviteStatus = "pending"
	InviteSent     InviteStatus = "sent"
	InviteAccepted InviteStatus = "accepted"
	InviteRejected InviteStatus = "rejected"
)

// Creator is a discovered or known target account. Records are never
// deleted; recency checks depend on the full history.
type Creator struct {
	ID          int64          `json:"id"`
	Username    string         `json:"username"`
	Followers   int            `json:"followers"`
	Category    string         `json:"category"`
	LastInvited *time.Time     `json:"lastInvited,omitempty"`
	Status      InviteStatus   `json:"inviteStatus"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// DiscoveredCreator is a raw extraction from the portal's discovery list,
// before follower parsing and eligibility checks.
type DiscoveredCreator struct {
	Username  string `json:"username"`
	Followers string `json:"followers"`
	Category  string `json:"category"`
}

// BotConfig is the operator-tunable invitation policy.
type BotConfig struct {
	ID            int64     `json:"id"`
	MinFollowers  int       `json:"minFollowers"`
	MaxFollowers  int       `json:"maxFollowers"`
	DailyLimit    int       `json:"dailyLimit"`
	ActionDelayMs int       `json:"actionDelay"`
	Categories    []string  `json:"categories"`
	SubCategories []string  `json:"subCategories"`
	IsActive      bool      `json:"isActive"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Activity event types.
const (
	ActivitySessionStart     = "session_start"
	ActivitySessionPause     = "session_pause"
	ActivitySessionResume    = "session_resume"
	ActivitySessionStop      = "session_stop"
	ActivityInviteSent       = "invite_sent"
	ActivityInviteAccepted   = "invite_accepted"
	ActivityCreatorDiscovery = "creator_discovery"
	ActivityLoginSuccess     = "login_success"
	ActivityLoginError       = "login_error"
	ActivityNavigation       = "navigation"
	ActivityInfo             = "info"
	ActivityError            = "error"
	ActivitySystem           = "system"
)

// Activity is an immutable, append-only event record.
type Activity struct {
	ID          int64          `json:"id"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	SessionID   *int64         `json:"sessionId,omitempty"`
	CreatorID   *int64         `json:"creatorId,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// CreatorStats is the aggregate shape backing the dashboard's creators card.
type CreatorStats struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Pending int `json:"pending"`
}
