package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	arg "github.com/alexflint/go-arg"
	"github.com/google/uuid"

	"github.com/asjoyner/camtrigger"
)

type args struct {
	Prefix   string `arg:"positional,required" help:"set name, at most 10 characters (random if empty or longer)"`
	WaitMs   int    `arg:"positional,required" help:"scan wait time in ms"`
	Exposure int    `arg:"positional,required" help:"exposure time in us"`
	Count    int    `arg:"positional" help:"number of snaps"`
	Gain     int    `arg:"positional" help:"sensor gain, socket dispatch only"`

	Dispatch      string        `arg:"--dispatch,env:CAMTRIGGER_DISPATCH" default:"exec" help:"capture dispatch: exec or socket"`
	DataRoot      string        `arg:"--data-root,env:CAMTRIGGER_DATA_ROOT" default:"/home/pi/CamTrigger/data" help:"root of the per-run output directories"`
	Python        string        `arg:"--python,env:CAMTRIGGER_PYTHON" default:"python3" help:"interpreter for the capture script"`
	Script        string        `arg:"--script,env:CAMTRIGGER_SCRIPT" default:"/home/pi/CamTrigger/src/capture_image.py" help:"capture script run in exec mode"`
	Server        string        `arg:"--server,env:CAMTRIGGER_SERVER" default:"127.0.0.1:65432" help:"capture server address in socket mode"`
	IOTimeout     time.Duration `arg:"--io-timeout,env:CAMTRIGGER_IO_TIMEOUT" help:"bound on one capture server exchange, 0 for none"`
	GPIO          string        `arg:"--gpio,env:CAMTRIGGER_GPIO" default:"periph" help:"GPIO backend: periph or gpiod"`
	Chip          string        `arg:"--chip,env:CAMTRIGGER_CHIP" default:"gpiochip0" help:"GPIO chip for the gpiod backend"`
	TriggerPin    string        `arg:"--trigger-pin,env:CAMTRIGGER_TRIGGER_PIN" default:"GPIO17" help:"trigger input line"`
	StrobePin     string        `arg:"--strobe-pin,env:CAMTRIGGER_STROBE_PIN" default:"GPIO27" help:"acknowledge output line"`
	TimeoutBudget int           `arg:"--timeout-budget,env:CAMTRIGGER_TIMEOUT_BUDGET" help:"consecutive timeouts before exiting (default 10 exec, 2 socket)"`
	LogLevel      string        `arg:"--log-level,env:LOG_LEVEL" default:"INFO" help:"DEBUG, INFO, WARNING or ERROR"`
	MQTTBroker    string        `arg:"--mqtt-broker,env:CAMTRIGGER_MQTT_BROKER" help:"publish loop events to this broker, e.g. tcp://host:1883"`
	MQTTTopic     string        `arg:"--mqtt-topic,env:CAMTRIGGER_MQTT_TOPIC" default:"camtrigger/events" help:"topic for loop events"`
}

func (args) Description() string {
	return "Waits for a rising edge on the trigger line, requests a capture, then pulses the strobe line.\n\n" +
		"Note: Exposure is taken every second, or 1.1 * exposure time, whichever is greater.\n"
}

func main() {
	os.Exit(run())
}

// parseArgs parses argv into a. When ok is false the process should exit
// with code; usage errors exit 0 after printing usage.
func parseArgs(argv []string, a *args, stdout, stderr io.Writer) (p *arg.Parser, code int, ok bool) {
	p, err := arg.NewParser(arg.Config{Program: "camtrigger"}, a)
	if err != nil {
		fmt.Fprintf(stderr, "camtrigger: %v\n", err)
		return nil, 1, false
	}
	switch err := p.Parse(argv); {
	case errors.Is(err, arg.ErrHelp):
		p.WriteHelp(stdout)
		return p, 0, false
	case err != nil:
		fmt.Fprintf(stderr, "error: %v\n", err)
		p.WriteUsage(stdout)
		return p, 0, false
	}
	return p, 0, true
}

// exitCode maps the result of the trigger loop to a process exit status.
// Driver faults exit with their own code.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var fault *camtrigger.FaultError
	if errors.As(err, &fault) {
		return fault.Code
	}
	return 1
}

func run() int {
	var a args
	p, code, ok := parseArgs(os.Args[1:], &a, os.Stdout, os.Stderr)
	if !ok {
		return code
	}

	runID := uuid.NewString()
	log := camtrigger.NewLogger(os.Stderr, a.LogLevel, runID)

	cfg, err := camtrigger.Normalize(camtrigger.Input{
		Mode:          camtrigger.Mode(a.Dispatch),
		Prefix:        a.Prefix,
		WaitMs:        a.WaitMs,
		ExposureUs:    a.Exposure,
		Count:         a.Count,
		Gain:          a.Gain,
		TimeoutBudget: a.TimeoutBudget,
	}, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		p.WriteUsage(os.Stdout)
		return 0
	}
	if cfg.Mode == camtrigger.ModeExec && a.Gain != 0 {
		log.Warn("gain is only sent in socket mode, ignoring", "gain", a.Gain)
	}
	log.Info("camtrigger: starting", "mode", cfg.Mode, "prefix", cfg.NamePrefix, "wait_ms", cfg.WaitTimeoutMs,
		"exposure_us", cfg.ExposureUs, "count", cfg.SnapCount, "gain", cfg.Gain, "timeout_budget", cfg.TimeoutBudget)

	dir, err := camtrigger.Provision(a.DataRoot, time.Now())
	if err != nil {
		log.Warn("camtrigger: could not provision output directory", "err", err)
	}

	state := camtrigger.NewState()
	stopSignals := state.HandleSignals()
	defer stopSignals()

	lines, err := camtrigger.OpenLines(camtrigger.PinConfig{
		Backend: camtrigger.Backend(a.GPIO),
		Chip:    a.Chip,
		Trigger: a.TriggerPin,
		Strobe:  a.StrobePin,
	})
	if err != nil {
		log.Error("camtrigger: failed to open GPIO lines", "err", err)
		return 1
	}
	defer lines.Close()

	var dispatcher camtrigger.Dispatcher
	switch cfg.Mode {
	case camtrigger.ModeSocket:
		dispatcher = &camtrigger.SocketDispatcher{
			Addr:      a.Server,
			State:     state,
			IOTimeout: a.IOTimeout,
			Logger:    log,
		}
	default:
		dispatcher = &camtrigger.ExecDispatcher{
			Command: []string{a.Python, a.Script},
			Logger:  log,
		}
	}

	events := camtrigger.Publishers{camtrigger.SlogPublisher{Logger: log}}
	if a.MQTTBroker != "" {
		mp, err := camtrigger.NewMQTTPublisher(camtrigger.MQTTConfig{
			Broker:   a.MQTTBroker,
			ClientID: "camtrigger-" + runID,
			Topic:    a.MQTTTopic,
		}, log)
		if err != nil {
			log.Warn("camtrigger: event publishing disabled", "err", err)
		} else {
			defer mp.Close()
			events = append(events, mp)
		}
	}

	loop, err := camtrigger.NewLoop(camtrigger.Options{
		Config:     cfg,
		Dir:        dir,
		RunID:      runID,
		Trigger:    lines.Trigger,
		Strobe:     camtrigger.NewStrobe(lines.Strobe, camtrigger.DefaultStrobeHold),
		Dispatcher: dispatcher,
		State:      state,
		Events:     events,
		Logger:     log,
	})
	if err != nil {
		log.Error("camtrigger: invalid configuration", "err", err)
		return 1
	}

	err = loop.Run(context.Background())
	var fault *camtrigger.FaultError
	switch {
	case err == nil:
		log.Info("camtrigger: shutting down")
	case !errors.As(err, &fault):
		log.Error("camtrigger: stopped", "err", err)
	}
	return exitCode(err)
}
