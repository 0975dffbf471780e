package camtrigger

import (
	"errors"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// DefaultStrobeHold is how long the acknowledge line is held high.
const DefaultStrobeHold = 10 * time.Millisecond

// Strobe pulses an output line high then low to acknowledge a request cycle.
type Strobe struct {
	out   StrobeOutput
	hold  time.Duration
	sleep func(time.Duration)
}

// NewStrobe returns a Strobe driving out. A non-positive hold selects
// DefaultStrobeHold.
func NewStrobe(out StrobeOutput, hold time.Duration) *Strobe {
	if hold <= 0 {
		hold = DefaultStrobeHold
	}
	return &Strobe{out: out, hold: hold, sleep: time.Sleep}
}

// Pulse drives the line high, holds, then drives it low. The low write is
// attempted even if the high write failed.
func (s *Strobe) Pulse() error {
	errHigh := s.out.Out(gpio.High)
	if errHigh == nil {
		s.sleep(s.hold)
	}
	errLow := s.out.Out(gpio.Low)
	return errors.Join(errHigh, errLow)
}
