package jetstream

import (
	"errors"
	"fmt"
)

var (
	// ErrRetriesExhausted ends a stream once reconnect.max_retries consecutive
	// attempts failed.
	ErrRetriesExhausted = errors.New("jetstream: reconnect retries exhausted")
	// ErrStopped is returned by calls made on a stream that already stopped.
	ErrStopped = errors.New("jetstream: stream stopped")
)

// FatalConfigError is an invalid filter, cursor or configuration. It is
// reported to the caller right away and never retried.
type FatalConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *FatalConfigError) Error() string {
	msg := fmt.Sprintf("jetstream: invalid %s: %s", e.Field, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FatalConfigError) Unwrap() error { return e.Err }

func fatalf(field, format string, args ...any) *FatalConfigError {
	return &FatalConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ConnectionError means a session could not be established.
type ConnectionError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *ConnectionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("jetstream: connect %s: http status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("jetstream: connect %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

type DisconnectReason string

const (
	ReasonClosed        DisconnectReason = "closed"
	ReasonReset         DisconnectReason = "reset"
	ReasonTimeout       DisconnectReason = "timeout"
	ReasonProtocol      DisconnectReason = "protocol"
	ReasonFrame         DisconnectReason = "frame"
	ReasonStopRequested DisconnectReason = "stop"
)

// DisconnectError ends an established session.
type DisconnectError struct {
	Reason DisconnectReason
	Err    error
}

func (e *DisconnectError) Error() string {
	if e.Err == nil {
		return "jetstream: disconnected: " + string(e.Reason)
	}
	return fmt.Sprintf("jetstream: disconnected (%s): %v", e.Reason, e.Err)
}

func (e *DisconnectError) Unwrap() error { return e.Err }

// FrameError is a frame that failed to decompress. The decompression context
// cannot be trusted afterwards, so the session ends.
type FrameError struct {
	Size int
	Err  error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("jetstream: frame of %d bytes: %v", e.Size, e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }

// BackpressureError is an event dropped by a bounded dispatch queue.
type BackpressureError struct {
	Policy   Policy
	Capacity int
	TimeUS   int64
}

func (e *BackpressureError) Error() string {
	return fmt.Sprintf("jetstream: dispatch queue full (%s, capacity %d): dropped event time_us=%d",
		e.Policy, e.Capacity, e.TimeUS)
}

// RejectedError wraps an error returned by the consumer handler.
type RejectedError struct {
	TimeUS int64
	Err    error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("jetstream: consumer rejected event time_us=%d: %v", e.TimeUS, e.Err)
}

func (e *RejectedError) Unwrap() error { return e.Err }

// sessionLevel reports whether err is one of the typed errors that end only
// the current session. Anything else from a transport is treated as a reset.
func sessionLevel(err error) bool {
	var (
		ce *ConnectionError
		de *DisconnectError
		fe *FrameError
	)
	return errors.As(err, &ce) || errors.As(err, &de) || errors.As(err, &fe)
}
