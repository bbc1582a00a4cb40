package xproxy

import (
	"encoding/json"
	"errors"
	"fmt"
)

type ErrUnknownChannel struct{ name string }

func (e ErrUnknownChannel) Error() string { return fmt.Sprintf("unknown channel: %s", e.name) }

var (
	ErrNoSendChannel    = errors.New("xproxy: no send channel configured")
	ErrNoReceiveChannel = errors.New("xproxy: no receive channel configured")
	ErrProxyClosed      = errors.New("xproxy: proxy is closed")
	ErrResponderClosed  = errors.New("xproxy: responder is closed")
	ErrTimeout          = errors.New("xproxy: timed out waiting for reply")
	ErrTooManyPending   = errors.New("xproxy: too many pending requests")
	ErrInvalidAction    = errors.New("xproxy: action must not be empty")
	ErrIDCollision      = errors.New("xproxy: could not mint a unique tracking id")
	ErrPending          = errors.New("xproxy: deferred not settled yet")
	ErrUnknownAction    = errors.New("xproxy: no handler for action")
	ErrHandlerPanic     = errors.New("xproxy: handler panic")

	ErrObserverPoolShutdownTimeout = errors.New("xproxy: observer pool shutdown timeout")
)

// RemoteError is the rejection value of a request whose reply carried an error field.
// Value holds the raw JSON of that field; its presence, not its content, signals failure.
type RemoteError struct {
	Value json.RawMessage
}

func (e *RemoteError) Error() string {
	if len(e.Value) == 0 {
		return "remote error"
	}
	var s string
	if err := json.Unmarshal(e.Value, &s); err == nil {
		if s == "" {
			return "remote error"
		}
		return s
	}
	return string(e.Value)
}

// Decode unmarshals the carried error value into v.
func (e *RemoteError) Decode(v any) error {
	return json.Unmarshal(e.Value, v)
}
