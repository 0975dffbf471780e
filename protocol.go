package camtrigger

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DefaultServerAddr is where the capture server listens.
const DefaultServerAddr = "127.0.0.1:65432"

const (
	// LengthPrefixLen is the width of the zero-padded decimal length that
	// precedes every command payload.
	LengthPrefixLen = 4
	// MaxPayloadLen is the largest payload the length prefix can describe.
	MaxPayloadLen = 9999
	// ReplyLen is the fixed size of every server reply.
	ReplyLen = 5
)

// Server replies.
const (
	ReplyDone  = "DONE!"
	ReplyError = "ERROR"
)

// DefaultServerGain is what the capture server substitutes for an unparsable gain.
const DefaultServerGain = 10

var (
	// ErrPayloadTooLong is returned when a payload does not fit the length prefix.
	ErrPayloadTooLong = errors.New("payload too long for length prefix")
	// ErrBadCommand is returned for a payload the server cannot act on.
	ErrBadCommand = errors.New("malformed capture command")
)

// Command is one capture request as carried on the wire.
type Command struct {
	Stem       string // <dir>/<prefix>_<setNum>
	ExposureUs int
	SnapCount  int
	Gain       int
}

// Payload renders the command body: a leading space followed by the
// space-separated stem, exposure, count and gain.
func (c Command) Payload() string {
	return fmt.Sprintf(" %s %d %d %d", c.Stem, c.ExposureUs, c.SnapCount, c.Gain)
}

// Frame prefixes the payload with its length as exactly four decimal digits.
func (c Command) Frame() ([]byte, error) {
	p := c.Payload()
	if len(p) > MaxPayloadLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLong, len(p))
	}
	return []byte(fmt.Sprintf("%04d%s", len(p), p)), nil
}

// ParseLength decodes the four-byte length prefix.
func ParseLength(prefix []byte) (int, error) {
	n, err := strconv.Atoi(string(prefix))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q is not an acceptable size", ErrBadCommand, prefix)
	}
	return n, nil
}

// ParseCommand decodes a payload. Leading spaces are ignored; exactly four
// words are required. A gain that does not parse falls back to
// DefaultServerGain rather than failing the command.
func ParseCommand(payload string) (Command, error) {
	words := strings.Split(strings.TrimLeft(payload, " "), " ")
	if len(words) != 4 {
		return Command{}, fmt.Errorf("%w: got %d command words", ErrBadCommand, len(words))
	}
	cmd := Command{Stem: words[0]}
	var err error
	if cmd.ExposureUs, err = strconv.Atoi(words[1]); err != nil {
		return Command{}, fmt.Errorf("%w: %s not valid exposure", ErrBadCommand, words[1])
	}
	if cmd.SnapCount, err = strconv.Atoi(words[2]); err != nil {
		return Command{}, fmt.Errorf("%w: %s not valid count", ErrBadCommand, words[2])
	}
	if cmd.Gain, err = strconv.Atoi(words[3]); err != nil {
		cmd.Gain = DefaultServerGain
	}
	return cmd, nil
}
