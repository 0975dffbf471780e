// Command capsim is a stand-in capture server for bench testing the socket
// dispatch mode without a camera attached.
package main

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	arg "github.com/alexflint/go-arg"

	"github.com/asjoyner/camtrigger"
)

type args struct {
	Listen   string        `arg:"--listen,env:CAPSIM_LISTEN" default:"127.0.0.1:65432" help:"address to accept capture commands on"`
	Interval time.Duration `arg:"--interval" help:"fixed time per frame; 0 derives it from the exposure"`
	Fail     bool          `arg:"--fail" help:"answer every valid command with ERROR"`
	LogLevel string        `arg:"--log-level,env:LOG_LEVEL" default:"INFO"`
}

func main() {
	var a args
	arg.MustParse(&a)
	log := camtrigger.NewLogger(os.Stderr, a.LogLevel, "")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ln, err := net.Listen("tcp", a.Listen)
	if err != nil {
		log.Error("capsim: listen failed", "addr", a.Listen, "err", err)
		os.Exit(1)
	}
	log.Info("capsim: listening", "addr", ln.Addr().String())

	sim := camtrigger.SimulatedCapturer{Logger: log}
	if a.Interval > 0 {
		sim.Interval = func(int) time.Duration { return a.Interval }
	}
	var capturer camtrigger.Capturer = sim
	if a.Fail {
		capturer = camtrigger.CapturerFunc(func(context.Context, camtrigger.Command) error {
			return errors.New("simulated capture failure")
		})
	}

	srv := &camtrigger.CaptureServer{Capturer: capturer, Logger: log}
	if err := srv.Serve(ctx, ln); err != nil {
		log.Error("capsim: serve failed", "err", err)
		os.Exit(1)
	}
}
