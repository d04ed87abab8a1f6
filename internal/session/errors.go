// ABOUTME: Session error taxonomy
// ABOUTME: Kinded errors surfaced to the session owner
package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNotIdle is returned by Connect unless the controller is idle
	ErrNotIdle = errors.New("session already in progress")

	// ErrClosed is returned after Close
	ErrClosed = errors.New("controller closed")
)

// Kind classifies session errors
type Kind int

const (
	// KindDevice covers capture and output device failures
	KindDevice Kind = iota
	// KindTransport covers connection and backend failures
	KindTransport
	// KindDecode covers undecodable inbound audio; the session continues
	KindDecode
)

func (k Kind) String() string {
	switch k {
	case KindDevice:
		return "device"
	case KindTransport:
		return "transport"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// Error is reported through Config.OnError
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsFatal reports whether the error ended the session
func (e *Error) IsFatal() bool {
	return e.Kind != KindDecode
}
