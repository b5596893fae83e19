package activity

import (
	"time"

	"github.com/example/affiliatebot/internal/models"
)

// Metadata builders. Every event of a given kind carries the same key set
// so downstream aggregation can rely on the shape.

func timestamp() string { return time.Now().Format(time.RFC3339) }

// SessionStats is the counter snapshot embedded in stop events.
type SessionStats struct {
	InvitesSent       int `json:"invitesSent"`
	SuccessfulInvites int `json:"successfulInvites"`
	ErrorCount        int `json:"errorCount"`
}

func InitialSessionMetadata(userAgent, viewport string) map[string]any {
	return map[string]any{
		"userAgent":   userAgent,
		"viewport":    viewport,
		"sessionType": "humanlike",
		"timestamp":   timestamp(),
	}
}

func SessionPauseMetadata(startTime time.Time) map[string]any {
	return map[string]any{
		"pauseTime":      timestamp(),
		"timeSinceStart": SessionDuration(startTime).Milliseconds(),
		"timestamp":      timestamp(),
	}
}

func SessionResumeMetadata() map[string]any {
	return map[string]any{
		"resumeTime": timestamp(),
		"timestamp":  timestamp(),
	}
}

func SessionStopMetadata(startTime time.Time, reason string, stats SessionStats) map[string]any {
	return map[string]any{
		"stopReason":      reason,
		"sessionDuration": SessionDuration(startTime).Milliseconds(),
		"finalStats":      stats,
		"timestamp":       timestamp(),
	}
}

func ErrorMetadata(err error) map[string]any {
	return map[string]any{
		"error":     err.Error(),
		"timestamp": timestamp(),
	}
}

func InviteMetadata(c *models.Creator, sinceLastAction time.Duration) map[string]any {
	return map[string]any{
		"username":  c.Username,
		"followers": c.Followers,
		"category":  c.Category,
		"timing": map[string]any{
			"inviteTime":          timestamp(),
			"timeSinceLastAction": sinceLastAction.Milliseconds(),
		},
	}
}

func CreatorInviteMetadata(sessionID int64) map[string]any {
	return map[string]any{
		"inviteTime":      timestamp(),
		"sessionId":       sessionID,
		"lastInteraction": timestamp(),
	}
}

func SessionDuration(startTime time.Time) time.Duration {
	return time.Since(startTime)
}
