package camtrigger

import (
	"context"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// waitStep is one scripted result of WaitForEdge.
type waitStep struct {
	edge bool
	err  error
	hook func()
}

// scriptedTrigger replays steps in order, then reports timeouts forever.
type scriptedTrigger struct {
	mu    sync.Mutex
	steps []waitStep
	calls int
}

func (t *scriptedTrigger) WaitForEdge(ctx context.Context, timeout time.Duration) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	if t.calls > len(t.steps) {
		return false, nil
	}
	s := t.steps[t.calls-1]
	if s.hook != nil {
		s.hook()
	}
	return s.edge, s.err
}

func (t *scriptedTrigger) Close() error { return nil }

func (t *scriptedTrigger) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

type levelChange struct {
	level gpio.Level
	at    time.Time
}

// recordingOutput remembers every level written to it.
type recordingOutput struct {
	mu      sync.Mutex
	changes []levelChange
	err     error
}

func (o *recordingOutput) Out(l gpio.Level) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.changes = append(o.changes, levelChange{level: l, at: time.Now()})
	return o.err
}

func (o *recordingOutput) Levels() []gpio.Level {
	o.mu.Lock()
	defer o.mu.Unlock()
	var ls []gpio.Level
	for _, c := range o.changes {
		ls = append(ls, c.level)
	}
	return ls
}

// recordingDispatcher returns a fixed outcome and remembers requests.
type recordingDispatcher struct {
	mu      sync.Mutex
	reqs    []CaptureRequest
	outcome Outcome
	err     error
	hook    func(CaptureRequest)
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, req CaptureRequest) (Outcome, error) {
	d.mu.Lock()
	d.reqs = append(d.reqs, req)
	hook := d.hook
	d.mu.Unlock()
	if hook != nil {
		hook(req)
	}
	return d.outcome, d.err
}

func (d *recordingDispatcher) SetNums() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	var ns []int
	for _, r := range d.reqs {
		ns = append(ns, r.SetNum)
	}
	return ns
}

// eventRecorder collects published events.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Publish(ctx context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) Kinds(kind EventKind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func instantStrobe(out StrobeOutput) *Strobe {
	s := NewStrobe(out, DefaultStrobeHold)
	s.sleep = func(time.Duration) {}
	return s
}
