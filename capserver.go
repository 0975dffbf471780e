package camtrigger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"
)

// Capturer performs the capture named by a command.
type Capturer interface {
	Capture(ctx context.Context, cmd Command) error
}

// CapturerFunc adapts a function to Capturer.
type CapturerFunc func(ctx context.Context, cmd Command) error

func (f CapturerFunc) Capture(ctx context.Context, cmd Command) error { return f(ctx, cmd) }

// CaptureServer answers framed capture commands one connection at a time.
type CaptureServer struct {
	Capturer Capturer
	Logger   *slog.Logger
}

// Serve accepts connections on ln until ctx is cancelled. Each connection
// carries exactly one command and is closed after the reply.
func (s *CaptureServer) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.handle(ctx, conn)
	}
}

func (s *CaptureServer) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	log := logger(s.Logger)

	cmd, err := readCommand(conn)
	if err != nil {
		log.Warn("capsim: rejecting command", "err", err)
		s.reply(conn, ReplyError)
		return
	}
	log.Info("capsim: received command", "stem", cmd.Stem, "exposure_us", cmd.ExposureUs, "frames", cmd.SnapCount, "gain", cmd.Gain)

	if err := s.Capturer.Capture(ctx, cmd); err != nil {
		log.Warn("capsim: capture failed", "stem", cmd.Stem, "err", err)
		s.reply(conn, ReplyError)
		return
	}
	s.reply(conn, ReplyDone)
}

func (s *CaptureServer) reply(conn net.Conn, msg string) {
	if _, err := io.WriteString(conn, msg); err != nil {
		logger(s.Logger).Warn("capsim: reply failed", "err", err)
	}
}

func readCommand(r io.Reader) (Command, error) {
	var prefix [LengthPrefixLen]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return Command{}, fmt.Errorf("read length: %w", err)
	}
	n, err := ParseLength(prefix[:])
	if err != nil {
		return Command{}, err
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Command{}, fmt.Errorf("read payload: %w", err)
	}
	return ParseCommand(string(payload))
}

// FrameInterval is the spacing between software triggers for an exposure:
// one second, or 1.1 times the exposure when the exposure exceeds ~1.1s.
func FrameInterval(exposureUs int) time.Duration {
	exposure := time.Duration(exposureUs) * time.Microsecond
	if exposure*9/10 > time.Second {
		return exposure * 11 / 10
	}
	return time.Second
}

// SimulatedCapturer stands in for a camera: it spaces SnapCount frames by
// Interval and stops early if ctx is cancelled.
type SimulatedCapturer struct {
	Interval func(exposureUs int) time.Duration // defaults to FrameInterval
	Logger   *slog.Logger
}

func (c SimulatedCapturer) Capture(ctx context.Context, cmd Command) error {
	interval := c.Interval
	if interval == nil {
		interval = FrameInterval
	}
	if cmd.SnapCount <= 0 {
		return errors.New("no frames requested")
	}
	d := interval(cmd.ExposureUs)
	for i := 0; i < cmd.SnapCount; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
		logger(c.Logger).Debug("capsim: frame acquired", "stem", cmd.Stem, "frame", i)
	}
	return nil
}
