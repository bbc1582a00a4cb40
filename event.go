package xproxy

import (
	"time"
)

// EventType enumerates internal lifecycle events for Observer pattern.
type EventType string

const (
	SendStart     EventType = "send_start"
	SendDone      EventType = "send_done"
	ReplyResolved EventType = "reply_resolved"
	ReplyRejected EventType = "reply_rejected"
	ReplyIgnored  EventType = "reply_ignored"
	Timeout       EventType = "timeout"
	ListenStart   EventType = "listen_start"
	ListenStop    EventType = "listen_stop"
	HandleDone    EventType = "handle_done"
	Error         EventType = "error"
)

// Event carries telemetry for observers.
type Event struct {
	Type       EventType
	Action     string
	TrackingID string
	Caller     string
	Duration   time.Duration
	Err        error

	// Internal: attached for async dispatch
	observers []Observer
}
