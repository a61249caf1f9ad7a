package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-print"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventLoginSuccess     ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure     ActivityEventType = "auth.login.failure"
	ActivityEventRegister         ActivityEventType = "auth.register"
	ActivityEventTokenRefreshed   ActivityEventType = "auth.token.refreshed"
	ActivityEventLogout           ActivityEventType = "auth.logout"
	ActivityEventSessionsCleared  ActivityEventType = "auth.sessions.cleared"
	ActivityEventMemberDowngraded ActivityEventType = "member.downgraded"
	ActivityEventRoleChanged      ActivityEventType = "user.role.changed"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	ActorID    string
	UserID     string
	FromRole   Role
	ToRole     Role
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

// LoggerActivitySink writes events to a Logger
type LoggerActivitySink struct {
	Logger Logger
}

// Record implements ActivitySink.
func (s LoggerActivitySink) Record(_ context.Context, event ActivityEvent) error {
	logger := s.Logger
	if logger == nil {
		logger = defLogger()
	}
	logger.Info("activity",
		"event", string(event.EventType),
		"actor_id", event.ActorID,
		"user_id", event.UserID,
		"from_role", string(event.FromRole),
		"to_role", string(event.ToRole),
		"occurred_at", event.OccurredAt,
		"metadata", print.MaybePrettyJSON(event.Metadata),
	)
	return nil
}

// recordActivity sends event to sink. Failures are logged and dropped.
func recordActivity(ctx context.Context, sink ActivitySink, logger Logger, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := sink.Record(ctx, event); err != nil {
		logger.Warn("activity sink failed",
			"event", string(event.EventType),
			"user_id", event.UserID,
			"error", err,
		)
	}
}
