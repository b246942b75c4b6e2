package controller

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrTimeout is returned when no complete response line arrived in time.
	ErrTimeout = errors.New("timed out waiting for controller response")
	// ErrConnection is returned when the controller never answered the connection test.
	ErrConnection = errors.New("controller did not answer the connection test")
	// ErrClosed is returned when using a transport that is not open.
	ErrClosed = errors.New("transport is not open")
)

// CommunicationError is a transport fault: the controller did not
// acknowledge a command, or the exchange itself failed.
type CommunicationError struct {
	Command  string
	Response string
	Err      error
}

func (e *CommunicationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("controller %s: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("controller did not acknowledge %s, responded with %q", e.Command, e.Response)
}

func (e *CommunicationError) Unwrap() error {
	return e.Err
}

// IsCommunication reports whether err is (or wraps) a transport fault.
func IsCommunication(err error) bool {
	var ce *CommunicationError
	return errors.As(err, &ce) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrConnection)
}
