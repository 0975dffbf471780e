package camtrigger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"syscall"
	"time"
)

var (
	// ErrAborted is returned when a transfer stops because shutdown was
	// requested or a broken pipe was observed.
	ErrAborted = errors.New("transfer aborted")
	// ErrShortReply is returned when the server closes before a full reply.
	ErrShortReply = errors.New("short reply from capture server")
)

// SocketDispatcher forwards capture requests to the capture server. Every
// request opens its own connection.
type SocketDispatcher struct {
	Addr  string // defaults to DefaultServerAddr
	State *State
	// IOTimeout bounds each whole exchange once connected. Zero leaves the
	// exchange unbounded, so only shutdown or a broken pipe can end a stalled
	// peer.
	IOTimeout time.Duration
	Dialer    net.Dialer
	Logger    *slog.Logger

	dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// Dispatch sends one framed command and waits for the 5-byte reply. The
// connection is always closed before returning.
func (d *SocketDispatcher) Dispatch(ctx context.Context, req CaptureRequest) (Outcome, error) {
	log := logger(d.Logger)
	state := d.State
	if state == nil {
		state = NewState()
	}
	state.resetBrokenPipe()

	// Build the framed command
	frame, err := req.Command().Frame()
	if err != nil {
		return OutcomeSkipped, err
	}

	addr := d.Addr
	if addr == "" {
		addr = DefaultServerAddr
	}
	// One connection per request
	dial := d.dial
	if dial == nil {
		dial = d.Dialer.DialContext
	}
	conn, err := dial(ctx, "tcp", addr)
	if err != nil {
		log.Warn("camtrigger: could not connect to capture server", "addr", addr, "err", err)
		return OutcomeSkipped, fmt.Errorf("connect to %s: %w", addr, err)
	}
	defer conn.Close()

	if d.IOTimeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(d.IOTimeout)); err != nil {
			log.Warn("camtrigger: could not bound capture server exchange", "timeout", d.IOTimeout, "err", err)
		}
	}
	// Unblock a pending read or write as soon as shutdown is requested.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	// Send the command, then wait for the status reply
	log.Debug("camtrigger: sending capture command", "cmd", string(frame))
	if err := sendAll(ctx, conn, frame, state); err != nil {
		log.Warn("camtrigger: send failed", "err", err)
		return abortedOr(err, OutcomeSkipped), err
	}

	reply, err := recvFull(ctx, conn, ReplyLen, state)
	if err != nil {
		log.Warn("camtrigger: receive failed", "partial", string(reply), "err", err)
		return abortedOr(err, OutcomeUnknown), err
	}
	return interpretReply(log, reply), nil
}

// sendAll writes buf in full, polling the abort flags before and after each
// write attempt.
func sendAll(ctx context.Context, conn net.Conn, buf []byte, state *State) error {
	for sent := 0; sent < len(buf); {
		if stopped(ctx, state) {
			return fmt.Errorf("send after %d of %d bytes: %w", sent, len(buf), ErrAborted)
		}
		n, err := conn.Write(buf[sent:])
		sent += n
		if err != nil {
			noteBrokenPipe(err, state)
			if stopped(ctx, state) {
				return fmt.Errorf("send after %d of %d bytes: %w", sent, len(buf), ErrAborted)
			}
			return fmt.Errorf("send: %w", err)
		}
	}
	return nil
}

// recvFull reads exactly n bytes, returning whatever arrived on failure.
func recvFull(ctx context.Context, conn net.Conn, n int, state *State) ([]byte, error) {
	buf := make([]byte, n)
	got := 0
	for got < n {
		if stopped(ctx, state) {
			return buf[:got], fmt.Errorf("receive after %d of %d bytes: %w", got, n, ErrAborted)
		}
		m, err := conn.Read(buf[got:])
		got += m
		if err != nil {
			if got == n {
				break
			}
			noteBrokenPipe(err, state)
			if stopped(ctx, state) {
				return buf[:got], fmt.Errorf("receive after %d of %d bytes: %w", got, n, ErrAborted)
			}
			if errors.Is(err, io.EOF) {
				return buf[:got], fmt.Errorf("%w: %d of %d bytes", ErrShortReply, got, n)
			}
			return buf[:got], fmt.Errorf("receive: %w", err)
		}
	}
	return buf, nil
}

func noteBrokenPipe(err error, state *State) {
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		state.MarkBrokenPipe()
	}
}

func stopped(ctx context.Context, state *State) bool {
	return state.aborted() || ctx.Err() != nil
}

func abortedOr(err error, o Outcome) Outcome {
	if errors.Is(err, ErrAborted) {
		return OutcomeAborted
	}
	return o
}

func interpretReply(log *slog.Logger, reply []byte) Outcome {
	switch string(reply) {
	case ReplyDone:
		log.Info("camtrigger: capture complete")
		return OutcomeDone
	case ReplyError:
		log.Warn("camtrigger: capture server reported an error")
		return OutcomeFailed
	}
	log.Info("camtrigger: unexpected reply from capture server", "reply", fmt.Sprintf("%q", reply))
	return OutcomeUnknown
}
