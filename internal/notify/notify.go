package notify

import (
	"context"
	"time"

	"github.com/segmentio/ksuid"

	"comic-studio/backend/pkg/logger"
)

// Severity classifies a notification
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

const DefaultDuration = 3 * time.Second

// Notification is a transient, user-facing message
type Notification struct {
	ID        string        `json:"id"`
	Severity  Severity      `json:"severity"`
	Message   string        `json:"message"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}

// Notifier delivers notifications to the user
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Func adapts a function to a Notifier
type Func func(ctx context.Context, n Notification)

func (f Func) Notify(ctx context.Context, n Notification) { f(ctx, n) }

// New builds a notification. A zero duration means the default; a negative
// one means it stays until dismissed.
func New(severity Severity, message string, duration time.Duration) Notification {
	if duration == 0 {
		duration = DefaultDuration
	}
	if duration < 0 {
		duration = 0
	}
	return Notification{
		ID:        ksuid.New().String(),
		Severity:  severity,
		Message:   message,
		Duration:  duration,
		CreatedAt: time.Now().UTC(),
	}
}

// Log returns a Notifier that writes notifications to log
func Log(log *logger.Logger) Notifier {
	return Func(func(ctx context.Context, n Notification) {
		args := []any{"notification_id", n.ID, "severity", string(n.Severity), "message", n.Message}
		if n.Severity == SeverityError || n.Severity == SeverityWarning {
			log.WarnContext(ctx, "user notification", args...)
			return
		}
		log.InfoContext(ctx, "user notification", args...)
	})
}

// Multi fans a notification out to several notifiers
func Multi(notifiers ...Notifier) Notifier {
	return Func(func(ctx context.Context, n Notification) {
		for _, nt := range notifiers {
			if nt != nil {
				nt.Notify(ctx, n)
			}
		}
	})
}
