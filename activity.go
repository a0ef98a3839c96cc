package auth

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventLoginSuccess   ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure   ActivityEventType = "auth.login.failure"
	ActivityEventLogout         ActivityEventType = "auth.logout"
	ActivityEventTokenRefreshed ActivityEventType = "auth.token.refreshed"
	ActivityEventUserRegistered ActivityEventType = "user.registered"
	ActivityEventUserConfirmed  ActivityEventType = "user.confirmed"
	ActivityEventUserDeleted    ActivityEventType = "user.deleted"
)

// ActivityEvent captures audit-friendly information about an action.
// It never carries secrets or raw tokens.
type ActivityEvent struct {
	EventType  ActivityEventType
	UserID     string
	TokenID    string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// LoggerActivitySink writes every event as an info line
type LoggerActivitySink struct {
	Logger Logger
}

// Record implements ActivitySink.
func (s LoggerActivitySink) Record(_ context.Context, event ActivityEvent) error {
	if s.Logger == nil {
		return nil
	}
	args := []any{"event", string(event.EventType)}
	if event.UserID != "" {
		args = append(args, "user_id", event.UserID)
	}
	if event.TokenID != "" {
		args = append(args, "jti", event.TokenID)
	}
	for k, v := range event.Metadata {
		args = append(args, k, v)
	}
	s.Logger.Info("activity", args...)
	return nil
}

func recordActivity(ctx context.Context, sink ActivitySink, logger Logger, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := sink.Record(ctx, event); err != nil && logger != nil {
		logger.Warn("activity sink failed", "event", string(event.EventType), "error", err)
	}
}
