package xproxy

import (
	"encoding/json"
)

// wire keys of the message object
const (
	keyAction        = "action"
	keyCaller        = "caller"
	keyContent       = "content"
	keyFireAndForget = "fireAndForget"
	keyError         = "error"
)

// Payload is what a caller asks the proxy to send.
type Payload struct {
	// Action names the requested operation (required). The proxy prefixes it.
	Action string
	// Content is arbitrary application data, encoded with the active Codec.
	Content any
	// FireAndForget skips correlation: no reply is expected or awaited.
	FireAndForget bool
	// Fields are extra payload fields carried verbatim on the wire message.
	Fields map[string]any
}

// Message is the "message" object of the wire envelope.
type Message struct {
	Action        string
	Caller        string
	Content       json.RawMessage
	FireAndForget bool
	// Error is non-nil when the sender put an error key on the message, even a JSON null.
	Error json.RawMessage
	// Fields holds any other keys found on the message.
	Fields map[string]json.RawMessage
}

// TrackingProperties is the correlation metadata of an envelope.
type TrackingProperties struct {
	ID string `json:"id"`
}

// Envelope is the unit transmitted over a Channel.
type Envelope struct {
	Message            Message
	TrackingProperties TrackingProperties
	// Error mirrors a top-level error key, which some counterparts use instead of message.error.
	Error json.RawMessage
}

// HasError reports whether the envelope signals a failed request.
func (e *Envelope) HasError() bool {
	return e.Message.Error != nil || e.Error != nil
}

// RemoteError returns the carried error value, preferring message.error.
func (e *Envelope) RemoteError() *RemoteError {
	if e.Message.Error != nil {
		return &RemoteError{Value: e.Message.Error}
	}
	if e.Error != nil {
		return &RemoteError{Value: e.Error}
	}
	return nil
}

func (m Message) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Fields)+5)
	for k, v := range m.Fields {
		out[k] = v
	}
	out[keyAction] = m.Action
	out[keyCaller] = m.Caller
	if len(m.Content) > 0 {
		out[keyContent] = m.Content
	}
	if m.FireAndForget {
		out[keyFireAndForget] = true
	}
	if m.Error != nil {
		out[keyError] = m.Error
	}
	return json.Marshal(out)
}

// UnmarshalJSON keeps going when action, caller or fireAndForget carry the
// wrong JSON type; such fields are left at their zero value.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Message{}
	for k, v := range raw {
		switch k {
		case keyAction:
			_ = json.Unmarshal(v, &m.Action)
		case keyCaller:
			_ = json.Unmarshal(v, &m.Caller)
		case keyContent:
			m.Content = v
		case keyFireAndForget:
			_ = json.Unmarshal(v, &m.FireAndForget)
		case keyError:
			m.Error = v
		default:
			if m.Fields == nil {
				m.Fields = make(map[string]json.RawMessage, len(raw))
			}
			m.Fields[k] = v
		}
	}
	return nil
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"message":            e.Message,
		"trackingProperties": e.TrackingProperties,
	}
	if e.Error != nil {
		out[keyError] = e.Error
	}
	return json.Marshal(out)
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = Envelope{}
	if v, ok := raw["message"]; ok {
		if err := json.Unmarshal(v, &e.Message); err != nil {
			return err
		}
	}
	if v, ok := raw["trackingProperties"]; ok {
		if err := json.Unmarshal(v, &e.TrackingProperties); err != nil {
			return err
		}
	}
	if v, ok := raw[keyError]; ok {
		e.Error = v
	}
	return nil
}
