package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	arg "github.com/alexflint/go-arg"

	"github.com/asjoyner/camtrigger"
)

type args struct {
	Pins     string        `arg:"--pins" default:"GPIO17" help:"comma-separated list of GPIO pins to watch (e.g. GPIO17,GPIO27); empty watches every free pin"`
	Pulse    string        `arg:"--pulse" help:"pulse this output pin instead of watching inputs"`
	Count    int           `arg:"--count" default:"5" help:"number of pulses"`
	Hold     time.Duration `arg:"--hold" default:"10ms" help:"how long each pulse is held high"`
	Interval time.Duration `arg:"--interval" default:"1s" help:"time between pulses"`
	LogLevel string        `arg:"--log-level,env:LOG_LEVEL" default:"INFO"`
}

func main() {
	var a args
	arg.MustParse(&a)
	log := camtrigger.NewLogger(os.Stderr, a.LogLevel, "")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if a.Pulse != "" {
		if err := camtrigger.PulseTest(ctx, a.Pulse, a.Hold, a.Interval, a.Count, log); err != nil {
			log.Error("pinprobe: pulse test failed", "err", err)
			os.Exit(1)
		}
		return
	}

	var pinNames []string
	if a.Pins != "" {
		pinNames = strings.Split(a.Pins, ",")
		for i, name := range pinNames {
			pinNames[i] = strings.TrimSpace(name)
		}
	}
	if err := camtrigger.Probe(ctx, pinNames, log); err != nil {
		log.Error("pinprobe: probe failed", "err", err)
		os.Exit(1)
	}
	log.Info("pinprobe: shutting down")
}
