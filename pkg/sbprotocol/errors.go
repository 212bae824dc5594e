package sbprotocol

import (
	"errors"
	"fmt"
)

var (
	ErrRequestRejected = errors.New("device rejected the request")
	ErrLinkBusy        = errors.New("another link transaction is in flight")
	ErrNotConnected    = errors.New("link is not connected")
)

// LinkError is a radio or connection failure.
type LinkError struct {
	Op  string
	Err error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("link error during %s: %v", e.Op, e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

// AuthError means the device refused the handshake (wrong pin or busy).
type AuthError struct {
	Pin    uint16
	Reason string
}

func (e *AuthError) Error() string {
	if e.Pin == 0 {
		return fmt.Sprintf("authentication rejected: %s", e.Reason)
	}
	return fmt.Sprintf("authentication with pin %04d rejected: %s", e.Pin, e.Reason)
}

type TimeoutError struct {
	Op      string
	Missing []Packet
}

func (e *TimeoutError) Error() string {
	if len(e.Missing) == 0 {
		return fmt.Sprintf("timeout during %s", e.Op)
	}
	return fmt.Sprintf("timeout during %s, no answer for %v", e.Op, e.Missing)
}

type DecodeError struct {
	Packet Packet
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode %s: %s", e.Packet, e.Reason)
}

// IsRetryable reports whether err should lead to a reconnect with backoff.
func IsRetryable(err error) bool {
	var linkErr *LinkError
	var timeoutErr *TimeoutError
	return errors.As(err, &linkErr) || errors.As(err, &timeoutErr)
}
