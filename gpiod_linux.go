//go:build linux

package camtrigger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/warthog618/gpiod"
	"periph.io/x/conn/v3/gpio"
)

var errLineClosed = errors.New("trigger line closed")

func openGPIOD(cfg PinConfig) (*Lines, error) {
	trigOff, err := lineOffset(cfg.Trigger)
	if err != nil {
		return nil, err
	}
	strobeOff, err := lineOffset(cfg.Strobe)
	if err != nil {
		return nil, err
	}

	chip, err := gpiod.NewChip(cfg.Chip, gpiod.WithConsumer("camtrigger"))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Chip, err)
	}

	trig := &lineTrigger{
		events: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	in, err := chip.RequestLine(trigOff, gpiod.WithPullDown, gpiod.WithRisingEdge, gpiod.WithEventHandler(trig.handle))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("failed to configure trigger line %d: %w", trigOff, err)
	}
	trig.line = in

	out, err := chip.RequestLine(strobeOff, gpiod.AsOutput(0))
	if err != nil {
		trig.Close()
		chip.Close()
		return nil, fmt.Errorf("failed to configure strobe line %d: %w", strobeOff, err)
	}

	return &Lines{
		Trigger: trig,
		Strobe:  lineOutput{out},
		closers: []func() error{chip.Close, trig.Close, out.Close},
	}, nil
}

// lineTrigger turns gpiod's edge callbacks into a blocking wait.
type lineTrigger struct {
	line   *gpiod.Line
	events chan struct{}

	once   sync.Once
	closed chan struct{}
}

func (t *lineTrigger) handle(evt gpiod.LineEvent) {
	if evt.Type != gpiod.LineEventRisingEdge {
		return
	}
	select {
	case t.events <- struct{}{}:
	default:
	}
}

// WaitForEdge waits for a rising edge that arrives after the call. An edge
// seen while no one was waiting, e.g. during a capture, is discarded.
func (t *lineTrigger) WaitForEdge(ctx context.Context, timeout time.Duration) (bool, error) {
	select {
	case <-t.events:
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.events:
		return true, nil
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return false, nil
	case <-t.closed:
		return false, &FaultError{Code: DefaultFaultCode, Err: errLineClosed}
	}
}

func (t *lineTrigger) Close() error {
	var err error
	t.once.Do(func() {
		close(t.closed)
		if t.line != nil {
			err = t.line.Close()
		}
	})
	return err
}

type lineOutput struct {
	line *gpiod.Line
}

func (o lineOutput) Out(l gpio.Level) error {
	v := 0
	if l == gpio.High {
		v = 1
	}
	return o.line.SetValue(v)
}
