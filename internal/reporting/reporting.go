// Package reporting receives failures raised by the history engine so that
// they reach operators without interrupting the editing session.
package reporting

import (
	"context"
	"log/slog"
	"time"
)

// Event is one reported failure.
type Event struct {
	At        time.Time `json:"at"`
	RoomID    string    `json:"roomId"`
	VersionID string    `json:"versionId,omitempty"`
	Op        string    `json:"op"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
}

// Reporter is the error-reporting collaborator. Implementations must not
// block for long and must not panic; Report has no error return because
// there is nobody left to tell.
type Reporter interface {
	Report(ctx context.Context, event Event)
}

// LogReporter writes events to a slog logger.
type LogReporter struct {
	logger *slog.Logger
}

func NewLogReporter(logger *slog.Logger) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReporter{logger: logger}
}

func (r *LogReporter) Report(ctx context.Context, event Event) {
	level := slog.LevelError
	if event.Kind == "PruneFailure" {
		level = slog.LevelWarn
	}
	r.logger.Log(ctx, level, "history failure",
		"room", event.RoomID,
		"version", event.VersionID,
		"op", event.Op,
		"kind", event.Kind,
		"error", event.Message,
	)
}

// Multi fans an event out to several reporters in order.
type Multi []Reporter

func (m Multi) Report(ctx context.Context, event Event) {
	for _, r := range m {
		if r != nil {
			r.Report(ctx, event)
		}
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) Report(context.Context, Event) {}
