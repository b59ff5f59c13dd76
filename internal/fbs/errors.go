package fbs

import (
	"errors"
	"fmt"
)

// ErrOffline is matched by the offline queue; its text is part of the bus
// contract and must stay "FBS is off-line".
var ErrOffline = errors.New("FBS is off-line")

// ErrInvalidLogin is returned by Login when the ILS does not accept the
// patron id or password.
var ErrInvalidLogin = errors.New("fbs: invalid patron id or password")

// OfflineError is returned when the pre-flight probe fails. No HTTP request
// was made.
type OfflineError struct {
	Cause error
}

func (e *OfflineError) Error() string {
	return ErrOffline.Error()
}

func (e *OfflineError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrOffline}
	}
	return []error{ErrOffline, e.Cause}
}

// TransportError is a network failure or non-200 answer during the HTTP call.
type TransportError struct {
	Op         string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fbs: %s: http status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("fbs: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError is an error envelope returned by the ILS. Message is the
// ILS text verbatim.
type ProtocolError struct {
	Op      string
	Message string
}

func (e *ProtocolError) Error() string {
	return e.Message
}

// IsOffline reports whether err means the ILS could not be reached before
// the call.
func IsOffline(err error) bool {
	return errors.Is(err, ErrOffline)
}

// IsProtocol reports whether err is an ILS error envelope.
func IsProtocol(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
