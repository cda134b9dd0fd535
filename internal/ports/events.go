package ports

import "context"

// EventLevel classifies optimisation progress events.
type EventLevel string

const (
	LevelInfo    EventLevel = "info"
	LevelWarning EventLevel = "warning"
	LevelError   EventLevel = "error"
)

// Event is one structured progress/log record emitted by the pipeline.
type Event struct {
	RunID   string
	Level   EventLevel
	Name    string
	Message string
	Fields  map[string]any
}

// Port: the surrounding service's event/progress sink.
type EventHandler interface {
	Handle(ctx context.Context, event Event)
}
