package activity

import (
	"context"
	"time"

	"github.com/example/affiliatebot/internal/logging"
	"github.com/example/affiliatebot/internal/models"
	"github.com/example/affiliatebot/internal/store"
)

// Logger persists structured activity events. Persistence failures are
// reported and swallowed: by the time an event is logged the workflow step
// it describes has already happened, so a storage error must not undo it.
type Logger struct {
	st  *store.Store
	log *logging.Logger
}

func NewLogger(st *store.Store, logLevel string) *Logger {
	return &Logger{st: st, log: logging.New(logLevel).With("module", "activity")}
}

func (l *Logger) Log(ctx context.Context, a *models.Activity) {
	if _, err := l.st.LogActivity(ctx, a); err != nil {
		l.log.Error("failed to persist activity", "type", a.Type, "err", err)
		return
	}
	l.log.Debug("activity logged", "type", a.Type, "description", a.Description)
}

// LogError wraps an error into the standard error-event shape.
func (l *Logger) LogError(ctx context.Context, err error, context_ string, sessionID, creatorID *int64, metadata map[string]any) {
	meta := ErrorMetadata(err)
	for k, v := range metadata {
		meta[k] = v
	}
	l.Log(ctx, &models.Activity{
		Type:        models.ActivityError,
		Description: context_ + ": " + err.Error(),
		SessionID:   sessionID,
		CreatorID:   creatorID,
		Metadata:    meta,
	})
}

// Summary is the aggregation feeding the dashboard's time-series view.
type Summary struct {
	Total           int              `json:"total"`
	ByType          map[string]int   `json:"byType"`
	Errors          int              `json:"errors"`
	InvitesSent     int              `json:"invitesSent"`
	InvitesAccepted int              `json:"invitesAccepted"`
	Timeline        []TimelineBucket `json:"timeline"`
}

// TimelineBucket is one equal-width slice of the summary window.
type TimelineBucket struct {
	Timestamp time.Time `json:"timestamp"`
	Count     int       `json:"count"`
	Invites   int       `json:"invites"`
	Errors    int       `json:"errors"`
}

// Summarize aggregates events in the trailing window into per-type counts
// and up to 24 equal-width time buckets, oldest bucket first.
func (l *Logger) Summarize(ctx context.Context, windowHours int) (*Summary, error) {
	if windowHours <= 0 {
		windowHours = 24
	}
	activities, err := l.st.ListRecentActivities(ctx, 1000)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	since := now.Add(-time.Duration(windowHours) * time.Hour)
	var recent []models.Activity
	for _, a := range activities {
		if !a.CreatedAt.Before(since) {
			recent = append(recent, a)
		}
	}

	summary := &Summary{
		Total:  len(recent),
		ByType: map[string]int{},
	}
	for _, a := range recent {
		summary.ByType[a.Type]++
		switch a.Type {
		case models.ActivityError:
			summary.Errors++
		case models.ActivityInviteSent:
			summary.InvitesSent++
		case models.ActivityInviteAccepted:
			summary.InvitesAccepted++
		}
	}
	summary.Timeline = buildTimeline(recent, windowHours, now)
	return summary, nil
}

func buildTimeline(activities []models.Activity, windowHours int, now time.Time) []TimelineBucket {
	buckets := windowHours
	if buckets > 24 {
		buckets = 24
	}
	bucketWidth := time.Duration(windowHours) * time.Hour / time.Duration(buckets)

	timeline := make([]TimelineBucket, 0, buckets)
	for i := buckets - 1; i >= 0; i-- {
		bucketStart := now.Add(-time.Duration(i+1) * bucketWidth)
		bucketEnd := now.Add(-time.Duration(i) * bucketWidth)

		b := TimelineBucket{Timestamp: bucketEnd}
		for _, a := range activities {
			if a.CreatedAt.Before(bucketStart) || !a.CreatedAt.Before(bucketEnd) {
				continue
			}
			b.Count++
			switch a.Type {
			case models.ActivityInviteSent:
				b.Invites++
			case models.ActivityError:
				b.Errors++
			}
		}
		timeline = append(timeline, b)
	}
	return timeline
}
