package camtrigger

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
)

func newTestLoop(t *testing.T, trig TriggerInput, d Dispatcher, out StrobeOutput, budget int) (*Loop, *eventRecorder) {
	t.Helper()
	rec := &eventRecorder{}
	l, err := NewLoop(Options{
		Config: RunConfig{
			Mode:          ModeSocket,
			NamePrefix:    "set",
			WaitTimeoutMs: 10,
			ExposureUs:    10000,
			SnapCount:     10,
			Gain:          6,
			TimeoutBudget: budget,
		},
		Dir:        "/data/20220408/101010",
		RunID:      "run-1",
		Trigger:    trig,
		Strobe:     instantStrobe(out),
		Dispatcher: d,
		Events:     rec,
	})
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	return l, rec
}

func TestNewLoop(t *testing.T) {
	out := &recordingOutput{}
	tests := []struct {
		name string
		opts Options
		want string
	}{
		{"no trigger", Options{Strobe: NewStrobe(out, 0), Dispatcher: &recordingDispatcher{}, Config: RunConfig{TimeoutBudget: 1}}, "trigger input must be provided"},
		{"no strobe", Options{Trigger: &scriptedTrigger{}, Dispatcher: &recordingDispatcher{}, Config: RunConfig{TimeoutBudget: 1}}, "strobe must be provided"},
		{"no dispatcher", Options{Trigger: &scriptedTrigger{}, Strobe: NewStrobe(out, 0), Config: RunConfig{TimeoutBudget: 1}}, "dispatcher must be provided"},
		{"no budget", Options{Trigger: &scriptedTrigger{}, Strobe: NewStrobe(out, 0), Dispatcher: &recordingDispatcher{}}, "timeout budget must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoop(tt.opts)
			if err == nil || err.Error() != tt.want {
				t.Errorf("NewLoop() error = %v; want %q", err, tt.want)
			}
		})
	}
}

func TestLoopCountsSetsAndTimeouts(t *testing.T) {
	trig := &scriptedTrigger{steps: []waitStep{
		{edge: true},
		{},
		{edge: true},
		{edge: true},
		{},
		{},
	}}
	d := &recordingDispatcher{outcome: OutcomeDone}
	out := &recordingOutput{}
	l, rec := newTestLoop(t, trig, d, out, 2)

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run() = %v; want nil", err)
	}
	if got := trig.Calls(); got != 6 {
		t.Errorf("WaitForEdge called %d times; want 6", got)
	}
	if got, want := d.SetNums(), []int{0, 1, 2}; !reflect.DeepEqual(got, want) {
		t.Errorf("dispatched set numbers = %v; want %v", got, want)
	}

	var counts []int
	for _, ev := range rec.Kinds(EventTimeout) {
		counts = append(counts, ev.TimeoutCount)
	}
	if want := []int{1, 1, 2}; !reflect.DeepEqual(counts, want) {
		t.Errorf("timeout counts = %v; want %v", counts, want)
	}

	want := []gpio.Level{gpio.High, gpio.Low, gpio.High, gpio.Low, gpio.High, gpio.Low}
	if got := out.Levels(); !reflect.DeepEqual(got, want) {
		t.Errorf("strobe levels = %v; want %v", got, want)
	}

	stems := rec.Kinds(EventCapture)
	if len(stems) != 3 || stems[2].Stem != "/data/20220408/101010/set_2" {
		t.Errorf("capture events = %+v", stems)
	}
	if got := rec.Kinds(EventStopped); len(got) != 1 {
		t.Errorf("got %d stopped events; want 1", len(got))
	}
}

func TestLoopTimeoutBudget(t *testing.T) {
	for _, budget := range []int{DefaultTimeoutBudgetSocket, DefaultTimeoutBudgetExec} {
		trig := &scriptedTrigger{}
		d := &recordingDispatcher{}
		l, _ := newTestLoop(t, trig, d, &recordingOutput{}, budget)
		if err := l.Run(context.Background()); err != nil {
			t.Fatalf("Run() = %v; want nil", err)
		}
		if got := trig.Calls(); got != budget {
			t.Errorf("budget %d: WaitForEdge called %d times", budget, got)
		}
		if len(d.SetNums()) != 0 {
			t.Errorf("budget %d: unexpected dispatch", budget)
		}
	}
}

func TestLoopTriggerResetsTimeouts(t *testing.T) {
	// The trigger after two timeouts resets the count, so three more are needed.
	trig := &scriptedTrigger{steps: []waitStep{{}, {}, {edge: true}, {}, {}}}
	d := &recordingDispatcher{}
	l, _ := newTestLoop(t, trig, d, &recordingOutput{}, 3)
	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if got := trig.Calls(); got != 6 {
		t.Errorf("WaitForEdge called %d times; want 6", got)
	}
}

func TestLoopDriverFault(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"coded", &FaultError{Code: -5, Err: errors.New("irq")}, -5},
		{"plain", errors.New("line gone"), DefaultFaultCode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trig := &scriptedTrigger{steps: []waitStep{{}, {err: tt.err}}}
			d := &recordingDispatcher{}
			out := &recordingOutput{}
			l, rec := newTestLoop(t, trig, d, out, 10)

			err := l.Run(context.Background())
			var fault *FaultError
			if !errors.As(err, &fault) {
				t.Fatalf("Run() = %v; want *FaultError", err)
			}
			if fault.Code != tt.wantCode {
				t.Errorf("fault code = %d; want %d", fault.Code, tt.wantCode)
			}
			if trig.Calls() != 2 {
				t.Errorf("WaitForEdge called %d times; want 2", trig.Calls())
			}
			if len(d.SetNums()) != 0 || len(out.Levels()) != 0 {
				t.Error("fault must not dispatch or strobe")
			}
			if len(rec.Kinds(EventFault)) != 1 {
				t.Error("missing fault event")
			}
		})
	}
}

func TestLoopShutdownBeforeRun(t *testing.T) {
	trig := &scriptedTrigger{steps: []waitStep{{edge: true}}}
	l, _ := newTestLoop(t, trig, &recordingDispatcher{}, &recordingOutput{}, 10)
	l.State().RequestShutdown()
	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if trig.Calls() != 0 {
		t.Errorf("WaitForEdge called %d times after shutdown", trig.Calls())
	}
}

func TestLoopShutdownDuringDispatch(t *testing.T) {
	trig := &scriptedTrigger{steps: []waitStep{{edge: true}, {edge: true}}}
	out := &recordingOutput{}
	d := &recordingDispatcher{outcome: OutcomeAborted, err: ErrAborted}
	l, _ := newTestLoop(t, trig, d, out, 10)
	d.hook = func(CaptureRequest) { l.State().RequestShutdown() }

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if trig.Calls() != 1 {
		t.Errorf("WaitForEdge called %d times; want 1", trig.Calls())
	}
	// The cycle still completes with a strobe.
	if got := out.Levels(); !reflect.DeepEqual(got, []gpio.Level{gpio.High, gpio.Low}) {
		t.Errorf("strobe levels = %v", got)
	}
}

func TestLoopShutdownDuringWaitIsNotATimeout(t *testing.T) {
	trig := &scriptedTrigger{}
	l, rec := newTestLoop(t, trig, &recordingDispatcher{}, &recordingOutput{}, 10)
	trig.steps = []waitStep{{}, {hook: l.State().RequestShutdown}}

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if got := len(rec.Kinds(EventTimeout)); got != 1 {
		t.Errorf("got %d timeout events; want 1", got)
	}
	stopped := rec.Kinds(EventStopped)
	if len(stopped) != 1 || stopped[0].TimeoutCount != 1 {
		t.Errorf("stopped events = %+v", stopped)
	}
}

func TestLoopCaptureEventFollowsStrobe(t *testing.T) {
	trig := &scriptedTrigger{steps: []waitStep{{edge: true}}}
	out := &recordingOutput{}
	l, _ := newTestLoop(t, trig, &recordingDispatcher{}, out, 1)
	var levelsAtCapture int
	l.events = publisherFunc(func(_ context.Context, ev Event) {
		if ev.Kind == EventCapture {
			levelsAtCapture = len(out.Levels())
		}
	})
	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if levelsAtCapture != 2 {
		t.Errorf("capture event published after %d strobe writes; want 2", levelsAtCapture)
	}
}

type publisherFunc func(context.Context, Event)

func (f publisherFunc) Publish(ctx context.Context, ev Event) { f(ctx, ev) }

func TestLoopContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	trig := &scriptedTrigger{steps: []waitStep{{edge: true}}}
	d := &recordingDispatcher{}
	l, _ := newTestLoop(t, trig, d, &recordingOutput{}, 10)
	d.hook = func(CaptureRequest) { cancel() }

	if err := l.Run(ctx); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for !l.State().ShutdownRequested() {
		if time.Now().After(deadline) {
			t.Fatal("cancelling the parent context should request shutdown")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestLoopStrobesOnDispatchFailure(t *testing.T) {
	for _, o := range []Outcome{OutcomeSkipped, OutcomeFailed, OutcomeUnknown} {
		trig := &scriptedTrigger{steps: []waitStep{{edge: true}}}
		out := &recordingOutput{}
		d := &recordingDispatcher{outcome: o, err: errors.New("boom")}
		l, rec := newTestLoop(t, trig, d, out, 1)
		if err := l.Run(context.Background()); err != nil {
			t.Fatalf("%v: Run() = %v", o, err)
		}
		if got := out.Levels(); !reflect.DeepEqual(got, []gpio.Level{gpio.High, gpio.Low}) {
			t.Errorf("%v: strobe levels = %v", o, got)
		}
		caps := rec.Kinds(EventCapture)
		if len(caps) != 1 || caps[0].Outcome != o.String() || caps[0].Error != "boom" {
			t.Errorf("%v: capture events = %+v", o, caps)
		}
	}
}

func TestLoopStrobeErrorIsNotFatal(t *testing.T) {
	trig := &scriptedTrigger{steps: []waitStep{{edge: true}, {edge: true}}}
	out := &recordingOutput{err: errors.New("write failed")}
	d := &recordingDispatcher{}
	l, _ := newTestLoop(t, trig, d, out, 1)
	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if got := d.SetNums(); !reflect.DeepEqual(got, []int{0, 1}) {
		t.Errorf("set numbers = %v", got)
	}
}
