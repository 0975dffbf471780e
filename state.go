package camtrigger

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
)

// State carries the process-wide flags that are set asynchronously and polled
// by the trigger loop and the socket dispatcher.
type State struct {
	shutdown   atomic.Bool
	brokenPipe atomic.Bool

	once sync.Once
	done chan struct{}
}

// NewState returns a State with no flags raised.
func NewState() *State {
	return &State{done: make(chan struct{})}
}

// RequestShutdown raises the shutdown flag. It is safe to call from any
// goroutine and more than once.
func (s *State) RequestShutdown() {
	s.shutdown.Store(true)
	s.once.Do(func() { close(s.done) })
}

// ShutdownRequested reports whether RequestShutdown has been called.
func (s *State) ShutdownRequested() bool { return s.shutdown.Load() }

// MarkBrokenPipe raises the broken-pipe flag.
func (s *State) MarkBrokenPipe() { s.brokenPipe.Store(true) }

// BrokenPipe reports whether a broken pipe was observed since the last reset.
func (s *State) BrokenPipe() bool { return s.brokenPipe.Load() }

func (s *State) resetBrokenPipe() { s.brokenPipe.Store(false) }

// aborted reports whether an in-flight transfer must stop.
func (s *State) aborted() bool {
	return s.ShutdownRequested() || s.BrokenPipe()
}

// Context returns a child of parent that is cancelled once shutdown is
// requested. Cancelling parent also requests shutdown.
func (s *State) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stopParent := context.AfterFunc(parent, s.RequestShutdown)
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		stopParent()
		cancel()
	}
}

// HandleSignals routes SIGINT and SIGTERM to RequestShutdown and SIGPIPE to
// MarkBrokenPipe. The returned function unregisters the handlers.
func (s *State) HandleSignals() (stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGPIPE)
	quit := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-sigCh:
				if sig == syscall.SIGPIPE {
					s.MarkBrokenPipe()
				} else {
					s.RequestShutdown()
				}
			case <-quit:
				return
			}
		}
	}()
	return func() {
		signal.Stop(sigCh)
		close(quit)
	}
}
