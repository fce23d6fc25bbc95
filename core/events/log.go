package events

import (
	"log/slog"

	"escrowd/core/types"
)

// payloadEvent is implemented by events that expose their full attribute set.
type payloadEvent interface {
	Event() *types.Event
}

// LogEmitter writes every event to a structured logger. The daemon uses it so
// escrow activity shows up in the service logs alongside request handling.
type LogEmitter struct {
	logger *slog.Logger
}

func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

// Emit implements the Emitter interface.
func (l *LogEmitter) Emit(evt Event) {
	if l == nil || l.logger == nil || evt == nil {
		return
	}
	attrs := []any{slog.String("event", evt.EventType())}
	if pe, ok := evt.(payloadEvent); ok {
		if payload := pe.Event(); payload != nil {
			for k, v := range payload.Attributes {
				attrs = append(attrs, slog.String(k, v))
			}
		}
	}
	l.logger.Info("escrow event", attrs...)
}
