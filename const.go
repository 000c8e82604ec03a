package irc

import (
	"errors"
	"strconv"
	"time"
)

// Timing constants fixed by spec.md §5.
const (
	// WaitTimeout is how long wait_for blocks before failing with a
	// timeout error.
	WaitTimeout = 20 * time.Second

	// PingTimeout is the read-idle threshold that triggers a self-PING;
	// a second idle interval without any read disconnects the session.
	PingTimeout = 60 * time.Second

	// RegisteredRateLimit/RegisteredRatePeriod are the steady-state
	// throttle applied once registration (001) completes.
	RegisteredRateLimit  = 4
	RegisteredRatePeriod = 2 * time.Second

	// PreregisterRateLimit/PreregisterRatePeriod are effectively
	// unthrottled, applied before 001.
	PreregisterRateLimit  = 100
	PreregisterRatePeriod = 2 * time.Second

	// AuthenticateChunkSize is the maximum payload size of one
	// AUTHENTICATE line's base64 chunk.
	AuthenticateChunkSize = 400
)

func nowUnix() int64 { return time.Now().Unix() }

var errNotPositive = errors.New("value is not a non-negative integer")

func parsePositiveInt(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, errNotPositive
	}
	return v, nil
}

func parsePositiveInt64(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, errNotPositive
	}
	return v, nil
}
