package dbusutil

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned when a call is attempted without a bus connection.
var ErrNotConnected = errors.New("not connected to the system bus")

// ConnectionError reports that the system bus could not be reached or
// refused authentication.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to open connection to message bus: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ProtocolMismatchError reports a subscribed signal whose arguments do not
// have the expected shape.
type ProtocolMismatchError struct {
	Signal string
	Reason string
}

func (e *ProtocolMismatchError) Error() string {
	return fmt.Sprintf("%s: %s", e.Signal, e.Reason)
}

// RequestSubmissionError reports a method call that could not be built or sent.
type RequestSubmissionError struct {
	Interface string
	Method    string
	Err       error
}

func (e *RequestSubmissionError) Error() string {
	return fmt.Sprintf("%s.%s: failed to initiate query: %v", e.Interface, e.Method, e.Err)
}

func (e *RequestSubmissionError) Unwrap() error {
	return e.Err
}
