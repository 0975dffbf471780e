package camtrigger

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// DefaultDataRoot is the directory under which each run's output is created.
const DefaultDataRoot = "/home/pi/CamTrigger/data"

// MaxDirLen is the capacity, terminator included, of the buffer Provision
// copies the output directory into.
const MaxDirLen = 256

// ErrBufferTooSmall is returned when a path does not fit the caller's buffer.
var ErrBufferTooSmall = errors.New("not enough memory to copy output directory")

// DateString formats t as YYYYMMDD.
func DateString(t time.Time) string { return t.Format("20060102") }

// TimeString formats t as HHMMSS.
func TimeString(t time.Time) string { return t.Format("150405") }

// OutputDir composes <root>/<YYYYMMDD>/<HHMMSS> for the local wall clock time t.
func OutputDir(root string, t time.Time) string {
	t = t.Local()
	return fmt.Sprintf("%s/%s/%s", root, DateString(t), TimeString(t))
}

// ProvisionInto creates the output directory for t, parents included, and
// copies its path and a trailing NUL into buf. If buf is too small it is
// left untouched and ErrBufferTooSmall is returned. The returned count
// includes the NUL.
func ProvisionInto(root string, t time.Time, buf []byte) (int, error) {
	dir := OutputDir(root, t)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create output directory: %w", err)
	}
	if len(buf) < len(dir)+1 {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrBufferTooSmall, len(dir)+1, len(buf))
	}
	n := copy(buf, dir)
	buf[n] = 0
	return n + 1, nil
}

// Provision creates the output directory for t and returns its path.
func Provision(root string, t time.Time) (string, error) {
	var buf [MaxDirLen]byte
	n, err := ProvisionInto(root, t, buf[:])
	if err != nil {
		return "", err
	}
	return string(buf[:n-1]), nil
}
