package camtrigger

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// Mode selects how a capture request is dispatched on trigger.
type Mode string

const (
	// ModeExec runs an external capture routine and waits for it to exit.
	ModeExec Mode = "exec"
	// ModeSocket sends a framed command to the local capture server.
	ModeSocket Mode = "socket"
)

// Bounds applied to the numeric run parameters.
const (
	MaxPrefixLen = 10

	MinWaitMs = 0
	MaxWaitMs = 10 * 60 * 1000

	MinExposureUs = 0
	MaxExposureUs = 2000000

	MinSnapCountExec   = 10
	MinSnapCountSocket = 5
	MaxSnapCount       = 100

	MinGain = 6
	MaxGain = 1023
)

// Default number of consecutive wait timeouts tolerated before the loop exits.
const (
	DefaultTimeoutBudgetExec   = 10
	DefaultTimeoutBudgetSocket = 2
)

// Input holds the raw, unvalidated run parameters as given on the command line.
type Input struct {
	Mode          Mode
	Prefix        string
	WaitMs        int
	ExposureUs    int
	Count         int
	Gain          int
	TimeoutBudget int // 0 selects the mode default
}

// RunConfig is the validated, immutable configuration of a trigger loop run.
type RunConfig struct {
	Mode          Mode
	NamePrefix    string
	WaitTimeoutMs int
	ExposureUs    int
	SnapCount     int
	Gain          int // only sent in ModeSocket
	TimeoutBudget int
}

// WaitTimeout returns the bounded interrupt wait as a duration.
func (c RunConfig) WaitTimeout() time.Duration {
	return time.Duration(c.WaitTimeoutMs) * time.Millisecond
}

// Normalize clamps every field of in to its documented bounds. An empty or
// oversized prefix is replaced with MaxPrefixLen random letters drawn from rng.
func Normalize(in Input, rng *rand.Rand) (RunConfig, error) {
	cfg := RunConfig{Mode: in.Mode}

	minCount := MinSnapCountExec
	budget := DefaultTimeoutBudgetExec
	switch in.Mode {
	case ModeExec:
	case ModeSocket:
		minCount = MinSnapCountSocket
		budget = DefaultTimeoutBudgetSocket
	default:
		return RunConfig{}, fmt.Errorf("unknown dispatch mode %q", in.Mode)
	}

	cfg.NamePrefix = in.Prefix
	if len(in.Prefix) == 0 || len(in.Prefix) > MaxPrefixLen {
		cfg.NamePrefix = RandomPrefix(rng)
	}
	cfg.WaitTimeoutMs = clamp(in.WaitMs, MinWaitMs, MaxWaitMs)
	cfg.ExposureUs = clamp(in.ExposureUs, MinExposureUs, MaxExposureUs)
	cfg.SnapCount = clamp(in.Count, minCount, MaxSnapCount)
	cfg.Gain = clamp(in.Gain, MinGain, MaxGain)

	cfg.TimeoutBudget = budget
	if in.TimeoutBudget > 0 {
		cfg.TimeoutBudget = in.TimeoutBudget
	}
	return cfg, nil
}

// RandomPrefix returns MaxPrefixLen pseudo-random letters of mixed case.
func RandomPrefix(rng *rand.Rand) string {
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}
	b := make([]byte, MaxPrefixLen)
	for i := range b {
		base := byte('a')
		if rng.IntN(2) == 1 {
			base = 'A'
		}
		b[i] = base + byte(rng.IntN(26))
	}
	return string(b)
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
