package camtrigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/pin"
	"periph.io/x/host/v3"
)

// reservedPins are Raspberry Pi header lines normally claimed by HAT EEPROM,
// I2C, SPI or UART.
var reservedPins = map[string]struct{}{
	"GPIO0":  {}, // ID_SD (HAT EEPROM)
	"GPIO1":  {}, // ID_SC (HAT EEPROM)
	"GPIO2":  {}, // I2C1_SDA
	"GPIO3":  {}, // I2C1_SCL
	"GPIO7":  {}, // SPI0_CE1_N
	"GPIO8":  {}, // SPI0_CE0_N
	"GPIO9":  {}, // SPI0_MISO
	"GPIO10": {}, // SPI0_MOSI
	"GPIO11": {}, // SPI0_SCLK
	"GPIO14": {}, // UART0_TXD
	"GPIO15": {}, // UART0_RXD
}

// ProbePins resolves names to pins. With no names it returns every free GPIO
// line, skipping reserved pins, power/ground and alternate functions.
func ProbePins(names []string, lg *slog.Logger) ([]gpio.PinIO, error) {
	log := logger(lg)
	var pins []gpio.PinIO

	// No names means every free GPIO line
	if len(names) == 0 {
		for _, p := range gpioreg.All() {
			if _, reserved := reservedPins[p.Name()]; reserved || isPowerPin(p.Name()) {
				log.Debug("probe: skipping reserved or non-GPIO pin", "pin", p.Name(), "function", pinFunc(p))
				continue
			}
			if fn := pinFunc(p); isAltFunc(fn) {
				log.Debug("probe: skipping pin with alternate function", "pin", p.Name(), "function", fn)
				continue
			}
			pins = append(pins, p)
		}
		if len(pins) == 0 {
			return nil, errors.New("no free GPIO pins available")
		}
		return pins, nil
	}

	// Otherwise resolve each requested pin, skipping unknown names
	for _, name := range names {
		p := gpioreg.ByName(name)
		if p == nil {
			log.Warn("probe: invalid GPIO pin", "pin", name)
			continue
		}
		log.Info("probe: selected pin", "pin", p.Name(), "function", pinFunc(p))
		pins = append(pins, p)
	}
	if len(pins) == 0 {
		return nil, errors.New("no valid GPIO pins to monitor")
	}
	return pins, nil
}

// Probe watches pins for edges in both directions and logs every transition
// until ctx is cancelled. It is meant for checking trigger wiring on the bench.
func Probe(ctx context.Context, names []string, lg *slog.Logger) error {
	// Initialize the periph host
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph host: %w", err)
	}
	// Determine which pins to monitor
	pins, err := ProbePins(names, lg)
	if err != nil {
		return err
	}
	var monitored []string
	for _, p := range pins {
		monitored = append(monitored, p.Name())
	}
	logger(lg).Info("probe: monitoring pins", "pins", strings.Join(monitored, ", "))

	// Watch each pin in its own goroutine
	var wg sync.WaitGroup
	for _, p := range pins {
		wg.Add(1)
		go func(p gpio.PinIO) {
			defer wg.Done()
			monitorPin(ctx, p, 100*time.Millisecond, lg)
		}(p)
	}
	wg.Wait()
	return nil
}

// monitorPin configures p as a pulled-down input, logs its initial level and
// then every edge until ctx is cancelled.
func monitorPin(ctx context.Context, p gpio.PinIO, poll time.Duration, lg *slog.Logger) {
	log := logger(lg)
	if err := p.In(gpio.PullDown, gpio.BothEdges); err != nil {
		log.Warn("probe: failed to configure pin", "pin", p.Name(), "err", err)
		return
	}
	log.Info("probe: initial state", "pin", p.Name(), "level", p.Read())

	for ctx.Err() == nil {
		// Short waits so cancellation is noticed promptly.
		if p.WaitForEdge(poll) {
			log.Info("probe: edge detected", "pin", p.Name(), "level", p.Read())
		}
	}
}

// PulseTest strobes the named output pin count times, spaced by interval, to
// check the acknowledge wiring.
func PulseTest(ctx context.Context, name string, hold, interval time.Duration, count int, lg *slog.Logger) error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph host: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return fmt.Errorf("invalid GPIO pin: %s", name)
	}
	return pulseN(ctx, NewStrobe(p, hold), interval, count, lg)
}

func pulseN(ctx context.Context, s *Strobe, interval time.Duration, count int, lg *slog.Logger) error {
	for i := 0; i < count; i++ {
		if err := s.Pulse(); err != nil {
			return fmt.Errorf("pulse %d: %w", i, err)
		}
		logger(lg).Info("probe: pulsed", "n", i+1)
		if i == count-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
	return nil
}

func pinFunc(p gpio.PinIO) string {
	if pf, ok := p.(pin.PinFunc); ok {
		return string(pf.Func())
	}
	return "unknown"
}

func isPowerPin(name string) bool {
	return strings.HasPrefix(name, "3.3V") || strings.HasPrefix(name, "5V") || strings.HasPrefix(name, "GND")
}

func isAltFunc(fn string) bool {
	for _, f := range []string{"I2C", "SPI", "UART", "SDIO"} {
		if strings.Contains(fn, f) {
			return true
		}
	}
	return false
}

