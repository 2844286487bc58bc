package ocpp

import (
	"errors"
	"fmt"
)

// ErrTimeout is returned when the central system does not answer a call in time.
var ErrTimeout = errors.New("ocpp: timeout waiting for call result")

// ErrClosed is returned for calls made on a disconnected client.
var ErrClosed = errors.New("ocpp: connection closed")

// CallError is an OCPP-J CALLERROR answer from the remote side.
type CallError struct {
	Code        string
	Description string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("ocpp: call error %s: %s", e.Code, e.Description)
}
