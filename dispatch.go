package camtrigger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
)

// DefaultCaptureScript is the external capture routine run in ModeExec.
var DefaultCaptureScript = []string{"python3", "/home/pi/CamTrigger/src/capture_image.py"}

// CaptureRequest describes one capture issued for one trigger.
type CaptureRequest struct {
	Dir        string
	Prefix     string
	SetNum     int
	ExposureUs int
	SnapCount  int
	Gain       int
}

// Stem is the output path stem handed to the capture routine.
func (r CaptureRequest) Stem() string {
	return fmt.Sprintf("%s/%s_%d", r.Dir, r.Prefix, r.SetNum)
}

// Command converts the request to its wire form.
func (r CaptureRequest) Command() Command {
	return Command{Stem: r.Stem(), ExposureUs: r.ExposureUs, SnapCount: r.SnapCount, Gain: r.Gain}
}

// Outcome is the best-effort result of a dispatch. The trigger loop never
// branches on it.
type Outcome int

const (
	OutcomeSkipped Outcome = iota // no request reached the capture routine
	OutcomeDone
	OutcomeFailed
	OutcomeUnknown // the server replied with something unexpected
	OutcomeAborted // shutdown or broken pipe cut the transfer short
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeDone:
		return "done"
	case OutcomeFailed:
		return "failed"
	case OutcomeUnknown:
		return "unknown"
	case OutcomeAborted:
		return "aborted"
	}
	return "outcome(" + strconv.Itoa(int(o)) + ")"
}

// Dispatcher issues a capture request and blocks until it is complete.
type Dispatcher interface {
	Dispatch(ctx context.Context, req CaptureRequest) (Outcome, error)
}

// ExecDispatcher runs an external capture routine with the stem, exposure
// and snap count appended as positional arguments.
type ExecDispatcher struct {
	Command []string // program followed by its fixed leading arguments
	Stdout  io.Writer
	Stderr  io.Writer
	Logger  *slog.Logger
}

// Dispatch runs the routine to completion. A non-zero exit is reported as
// OutcomeFailed but is otherwise treated like success.
func (d *ExecDispatcher) Dispatch(ctx context.Context, req CaptureRequest) (Outcome, error) {
	if len(d.Command) == 0 {
		return OutcomeSkipped, errors.New("no capture command configured")
	}
	args := make([]string, 0, len(d.Command)+2)
	args = append(args, d.Command[1:]...)
	args = append(args, req.Stem(), strconv.Itoa(req.ExposureUs), strconv.Itoa(req.SnapCount))

	// Not bound to ctx: an interrupt reaches the child through the process
	// group and the capture is allowed to finish writing.
	cmd := exec.Command(d.Command[0], args...)
	cmd.Stdout = d.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = d.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	logger(d.Logger).Debug("camtrigger: running capture routine", "cmd", cmd.String())
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return OutcomeFailed, fmt.Errorf("capture routine exited with status %d", exitErr.ExitCode())
		}
		return OutcomeSkipped, fmt.Errorf("failed to run capture routine: %w", err)
	}
	return OutcomeDone, nil
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
