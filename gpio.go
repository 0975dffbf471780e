package camtrigger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Default lines: header pin 11 is the trigger input, header pin 13 the strobe.
const (
	DefaultTriggerPin = "GPIO17"
	DefaultStrobePin  = "GPIO27"
	DefaultChip       = "gpiochip0"
)

// DefaultFaultCode is reported for driver faults that carry no code of their own.
const DefaultFaultCode = -2

// Backend names a GPIO driver.
type Backend string

const (
	BackendPeriph Backend = "periph"
	BackendGPIOD  Backend = "gpiod"
)

// TriggerInput is an input line configured for rising edges with pull-down.
type TriggerInput interface {
	// WaitForEdge blocks until a rising edge (true), the timeout or ctx
	// cancellation (false). A non-nil error is a driver fault.
	WaitForEdge(ctx context.Context, timeout time.Duration) (bool, error)
	Close() error
}

// StrobeOutput is a digital output line.
type StrobeOutput interface {
	Out(l gpio.Level) error
}

// FaultError is a driver-level failure of the interrupt wait. Code is used
// as the process exit status.
type FaultError struct {
	Code int
	Err  error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("error (%d) when waiting for an interrupt: %v", e.Code, e.Err)
}

func (e *FaultError) Unwrap() error { return e.Err }

// asFault wraps err as a FaultError unless it already is one.
func asFault(err error) *FaultError {
	var f *FaultError
	if errors.As(err, &f) {
		return f
	}
	return &FaultError{Code: DefaultFaultCode, Err: err}
}

// PinConfig selects the driver and lines used by the controller.
type PinConfig struct {
	Backend Backend
	Chip    string // gpiod only
	Trigger string
	Strobe  string
}

// Lines holds an opened trigger input and strobe output.
type Lines struct {
	Trigger TriggerInput
	Strobe  StrobeOutput
	closers []func() error
}

// Close releases both lines. The strobe line is left low.
func (l *Lines) Close() error {
	var errs []error
	if l.Strobe != nil {
		errs = append(errs, l.Strobe.Out(gpio.Low))
	}
	for i := len(l.closers) - 1; i >= 0; i-- {
		errs = append(errs, l.closers[i]())
	}
	return errors.Join(errs...)
}

// OpenLines configures the trigger and strobe lines on the selected backend.
func OpenLines(cfg PinConfig) (*Lines, error) {
	if cfg.Trigger == "" || cfg.Strobe == "" {
		return nil, errors.New("trigger and strobe pins must be specified")
	}
	switch cfg.Backend {
	case BackendPeriph, "":
		return openPeriph(cfg)
	case BackendGPIOD:
		if cfg.Chip == "" {
			cfg.Chip = DefaultChip
		}
		return openGPIOD(cfg)
	}
	return nil, fmt.Errorf("unknown GPIO backend %q", cfg.Backend)
}

func openPeriph(cfg PinConfig) (*Lines, error) {
	// Initialize the periph host
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}
	// Look up both pins before touching either
	in := gpioreg.ByName(cfg.Trigger)
	out := gpioreg.ByName(cfg.Strobe)
	if in == nil || out == nil {
		return nil, fmt.Errorf("invalid GPIO pins: trigger=%s, strobe=%s", cfg.Trigger, cfg.Strobe)
	}
	// Trigger input: pulled down, rising edge
	trig, err := NewPinTrigger(in)
	if err != nil {
		return nil, err
	}
	// Strobe output starts low
	if err := out.Out(gpio.Low); err != nil {
		trig.Close()
		return nil, fmt.Errorf("failed to configure strobe pin %s: %w", cfg.Strobe, err)
	}
	return &Lines{Trigger: trig, Strobe: out, closers: []func() error{trig.Close}}, nil
}

// PinTrigger adapts a periph pin to TriggerInput.
type PinTrigger struct {
	pin gpio.PinIO
}

// NewPinTrigger configures pin as a pulled-down rising-edge input.
func NewPinTrigger(pin gpio.PinIO) (*PinTrigger, error) {
	if err := pin.In(gpio.PullDown, gpio.RisingEdge); err != nil {
		return nil, fmt.Errorf("failed to configure trigger pin %s: %w", pin, err)
	}
	return &PinTrigger{pin: pin}, nil
}

// WaitForEdge waits for a rising edge. Cancelling ctx halts the wait.
func (t *PinTrigger) WaitForEdge(ctx context.Context, timeout time.Duration) (bool, error) {
	if ctx.Err() != nil {
		return false, nil
	}
	stop := context.AfterFunc(ctx, func() { _ = t.pin.Halt() })
	defer stop()
	return t.pin.WaitForEdge(timeout), nil
}

// Close disables edge detection on the pin.
func (t *PinTrigger) Close() error {
	return t.pin.In(gpio.PullNoChange, gpio.NoEdge)
}

// lineOffset maps "GPIO17" or "17" to a chip line offset.
func lineOffset(name string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.ToUpper(name), "GPIO"))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid GPIO line %q", name)
	}
	return n, nil
}
