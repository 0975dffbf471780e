package camtrigger

import (
	"context"
	"log/slog"
	"time"
)

// EventKind names a step of the trigger loop.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventTimeout   EventKind = "timeout"
	EventTriggered EventKind = "triggered"
	EventCapture   EventKind = "capture"
	EventFault     EventKind = "fault"
	EventStopped   EventKind = "stopped"
)

// Event reports one step of the trigger loop to observers.
type Event struct {
	Run          string    `json:"run"`
	Kind         EventKind `json:"kind"`
	Time         time.Time `json:"time"`
	SetNum       int       `json:"set_num"`
	TimeoutCount int       `json:"timeout_count"`
	Stem         string    `json:"stem,omitempty"`
	Outcome      string    `json:"outcome,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// Publisher receives loop events. Implementations must not block the loop
// for long and must never fail it.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// SlogPublisher writes events to a structured logger at debug level.
type SlogPublisher struct {
	Logger *slog.Logger
}

func (p SlogPublisher) Publish(ctx context.Context, ev Event) {
	attrs := []any{
		"kind", ev.Kind,
		"set_num", ev.SetNum,
		"timeout_count", ev.TimeoutCount,
	}
	if ev.Stem != "" {
		attrs = append(attrs, "stem", ev.Stem)
	}
	if ev.Outcome != "" {
		attrs = append(attrs, "outcome", ev.Outcome)
	}
	if ev.Error != "" {
		attrs = append(attrs, "error", ev.Error)
	}
	logger(p.Logger).DebugContext(ctx, "camtrigger: event", attrs...)
}

// Publishers fans an event out to every publisher in order.
type Publishers []Publisher

func (ps Publishers) Publish(ctx context.Context, ev Event) {
	for _, p := range ps {
		p.Publish(ctx, ev)
	}
}
