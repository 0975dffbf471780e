// Package camtrigger provides a hardware-triggered camera capture controller
// for the Raspberry Pi. It waits for a rising edge on a GPIO input, issues a
// capture request through a Dispatcher, and then pulses a GPIO output to
// acknowledge that the request cycle is complete.
package camtrigger

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Loop runs the wait, dispatch and acknowledge cycle.
type Loop struct {
	cfg        RunConfig
	dir        string
	run        string
	trigger    TriggerInput
	strobe     *Strobe
	dispatcher Dispatcher
	state      *State
	events     Publisher
	logger     *slog.Logger
	now        func() time.Time

	setNum       int
	timeoutCount int
}

// Options holds the collaborators of a Loop.
type Options struct {
	Config     RunConfig
	Dir        string // output directory every capture stem is rooted at
	RunID      string
	Trigger    TriggerInput
	Strobe     *Strobe
	Dispatcher Dispatcher
	State      *State    // optional; a fresh State is used if nil
	Events     Publisher // optional
	Logger     *slog.Logger
}

// NewLoop validates opts and returns a Loop ready to Run.
func NewLoop(opts Options) (*Loop, error) {
	if opts.Trigger == nil {
		return nil, errors.New("trigger input must be provided")
	}
	if opts.Strobe == nil {
		return nil, errors.New("strobe must be provided")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("dispatcher must be provided")
	}
	if opts.Config.TimeoutBudget <= 0 {
		return nil, errors.New("timeout budget must be positive")
	}
	if opts.State == nil {
		opts.State = NewState()
	}
	if opts.Events == nil {
		opts.Events = Publishers(nil)
	}
	return &Loop{
		cfg:        opts.Config,
		dir:        opts.Dir,
		run:        opts.RunID,
		trigger:    opts.Trigger,
		strobe:     opts.Strobe,
		dispatcher: opts.Dispatcher,
		state:      opts.State,
		events:     opts.Events,
		logger:     logger(opts.Logger),
		now:        time.Now,
	}, nil
}

// State returns the flags shared with signal handlers and the dispatcher.
func (l *Loop) State() *State { return l.state }

// Run loops until shutdown is requested, ctx is cancelled, or the timeout
// budget is exhausted, all of which return nil. A driver fault from the
// trigger wait ends the loop immediately with a *FaultError.
func (l *Loop) Run(ctx context.Context) error {
	ctx, cancel := l.state.Context(ctx)
	defer cancel()
	// Final events go out even after cancellation.
	evCtx := context.WithoutCancel(ctx)

	l.publish(evCtx, Event{Kind: EventStarted})
loop:
	for !l.state.ShutdownRequested() {
		// Wait for the trigger line to go high or for the wait to time out.
		l.logger.Debug("camtrigger: waiting")
		triggered, err := l.trigger.WaitForEdge(ctx, l.cfg.WaitTimeout())
		switch {
		case err != nil:
			fault := asFault(err)
			l.logger.Error("camtrigger: encountered an error when waiting for an interrupt", "code", fault.Code, "err", fault.Err)
			l.publish(evCtx, Event{Kind: EventFault, Error: fault.Error()})
			return fault
		case triggered:
			l.timeoutCount = 0
			l.cycle(ctx, evCtx)
		case ctx.Err() != nil || l.state.ShutdownRequested():
			// The wait was cut short, not timed out.
			break loop
		default:
			l.timeoutCount++
			l.logger.Debug("camtrigger: timed out, looping to wait again", "timeouts", l.timeoutCount)
			l.publish(evCtx, Event{Kind: EventTimeout})
		}
		// Give up once the line has been quiet for too long.
		if l.timeoutCount >= l.cfg.TimeoutBudget {
			l.logger.Info("camtrigger: timeout budget exhausted", "timeouts", l.timeoutCount)
			break
		}
	}
	l.publish(evCtx, Event{Kind: EventStopped})
	return nil
}

// cycle dispatches one capture and strobes the acknowledge line regardless
// of how the dispatch went.
func (l *Loop) cycle(ctx, evCtx context.Context) {
	req := CaptureRequest{
		Dir:        l.dir,
		Prefix:     l.cfg.NamePrefix,
		SetNum:     l.setNum,
		ExposureUs: l.cfg.ExposureUs,
		SnapCount:  l.cfg.SnapCount,
		Gain:       l.cfg.Gain,
	}
	l.setNum++
	l.publish(evCtx, Event{Kind: EventTriggered, Stem: req.Stem()})

	// Request the capture and wait for it to complete.
	l.logger.Info("camtrigger: starting image capture", "stem", req.Stem())
	outcome, err := l.dispatcher.Dispatch(ctx, req)
	ev := Event{Kind: EventCapture, Stem: req.Stem(), Outcome: outcome.String()}
	if err != nil {
		ev.Error = err.Error()
		l.logger.Warn("camtrigger: capture request did not complete", "stem", req.Stem(), "outcome", outcome, "err", err)
	}

	// Acknowledge the cycle before reporting it.
	l.logger.Debug("camtrigger: pulsing")
	if err := l.strobe.Pulse(); err != nil {
		l.logger.Warn("camtrigger: strobe failed", "err", err)
	}
	l.publish(evCtx, ev)
}

func (l *Loop) publish(ctx context.Context, ev Event) {
	ev.Run = l.run
	ev.Time = l.now()
	ev.SetNum = l.setNum
	ev.TimeoutCount = l.timeoutCount
	l.events.Publish(ctx, ev)
}
