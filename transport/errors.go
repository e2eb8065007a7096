package transport

import (
	"errors"
	"fmt"
)

// Decode and lifecycle errors.
var (
	// ErrUnknownCommand indicates a command tag outside the protocol's four commands
	ErrUnknownCommand = errors.New("unknown command")

	// ErrMalformedCommand indicates a truncated or badly framed command
	ErrMalformedCommand = errors.New("malformed command")

	// ErrNoPortAvailable indicates every port of the range failed to bind
	ErrNoPortAvailable = errors.New("unable to start: no port available in range")

	// ErrUnreachable indicates no (address, port) pair accepted a connection
	ErrUnreachable = errors.New("unable to send/receive: no reachable listener")

	// ErrListenerClosed indicates the listener has been stopped
	ErrListenerClosed = errors.New("listener closed")

	// ErrListenerStarted indicates Start was called more than once
	ErrListenerStarted = errors.New("listener already started")

	// ErrUnknownStatus indicates a response status byte outside the protocol table
	ErrUnknownStatus = errors.New("unknown response status")
)

// Outcome errors shared by both peers. The listener classifies its failures
// with these and the initiator gets them back from the response status.
var (
	// ErrNotFound indicates the target file or path does not exist
	ErrNotFound = errors.New("file not found")

	// ErrForbidden indicates a path resolves outside the server root
	ErrForbidden = errors.New("path outside server root")

	// ErrBadRequest indicates the listener could not decode the request
	ErrBadRequest = errors.New("bad request")

	// ErrRemoteIO indicates the listener hit an I/O error performing the command
	ErrRemoteIO = errors.New("remote I/O error")

	// ErrNoSpace indicates the listener refused a store for lack of free space
	ErrNoSpace = errors.New("insufficient storage")
)

// OpError represents a network error with operation and address context.
type OpError struct {
	Op   string // operation that caused the error
	Addr string // address if relevant
	Err  error  // underlying error
}

func (e *OpError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("filepeer %s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("filepeer %s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// newOpError creates a new OpError
func newOpError(op, addr string, err error) *OpError {
	return &OpError{
		Op:   op,
		Addr: addr,
		Err:  err,
	}
}
