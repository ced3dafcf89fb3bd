package passkey

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to callers.
var (
	// ErrDisconnected means there is no live IPC connection to send on.
	ErrDisconnected = errors.New("passkey: disconnected")

	// ErrTimeout means the timeout given to Broker.Send elapsed before a
	// response arrived.
	ErrTimeout = errors.New("passkey: timeout")

	// ErrCancelled means the context given to Broker.Send was done before
	// a response arrived.
	ErrCancelled = errors.New("passkey: cancelled")
)

// InternalError wraps an unexpected failure whose message is safe to show
// to the user.
type InternalError struct {
	Message string
}

func (e *InternalError) Error() string { return "passkey: internal: " + e.Message }

func internalf(format string, args ...any) error {
	return &InternalError{Message: fmt.Sprintf(format, args...)}
}
