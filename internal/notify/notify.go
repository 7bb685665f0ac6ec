// Package notify defines the outbound port for user-facing notifications.
// The core fires and forgets; presentation is somebody else's problem.
package notify

import (
	"context"
	"log/slog"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

type Notification struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
}

// Sink receives notifications. Implementations must not block the caller
// for long and have no return value the core consumes.
type Sink interface {
	Notify(ctx context.Context, n Notification)
}

// SlogSink logs notifications. It is the fallback when no message broker is
// configured.
type SlogSink struct{}

func (SlogSink) Notify(ctx context.Context, n Notification) {
	level := slog.LevelInfo
	switch n.Severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityError:
		level = slog.LevelError
	}
	slog.Log(ctx, level, "User notification",
		"title", n.Title,
		"description", n.Description,
		"severity", string(n.Severity))
}

// Multi fans a notification out to several sinks.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, n Notification) {
	for _, s := range m {
		s.Notify(ctx, n)
	}
}
