package runctx

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"fleet-route-service/internal/ports"
)

// ZapEventHandler writes pipeline events to the process logger.
type ZapEventHandler struct {
	Logger *zap.Logger
}

func NewZapEventHandler(logger *zap.Logger) *ZapEventHandler {
	return &ZapEventHandler{Logger: logger}
}

func (h *ZapEventHandler) Handle(_ context.Context, event ports.Event) {
	fields := make([]zap.Field, 0, 3+len(event.Fields))
	fields = append(fields,
		zap.String("run_id", event.RunID),
		zap.String("event", event.Name))
	for k, v := range event.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	switch event.Level {
	case ports.LevelWarning:
		h.Logger.Warn(event.Message, fields...)
	case ports.LevelError:
		h.Logger.Error(event.Message, fields...)
	default:
		h.Logger.Info(event.Message, fields...)
	}
}

// RecordingEventHandler collects events for tests.
type RecordingEventHandler struct {
	mu     sync.Mutex
	events []ports.Event
}

func NewRecordingEventHandler() *RecordingEventHandler {
	return &RecordingEventHandler{}
}

func (h *RecordingEventHandler) Handle(_ context.Context, event ports.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

// Events returns a snapshot of everything handled so far.
func (h *RecordingEventHandler) Events() []ports.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ports.Event(nil), h.events...)
}

// Named returns events with the given name.
func (h *RecordingEventHandler) Named(name string) []ports.Event {
	var out []ports.Event
	for _, e := range h.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}
