package xproxy

import (
	"encoding/json"
	"fmt"
)

// DefaultPrefix namespaces actions so proxy traffic does not collide with
// unrelated messages on a shared channel.
const DefaultPrefix = "blipEvent:"

// Predicate is an extra acceptance filter applied after the tracking id check.
type Predicate func(env *Envelope) bool

// Wrap builds the envelope for p: the action gets prefix, caller is stamped,
// content is encoded with codec and id becomes the tracking id.
func Wrap(codec Codec, p Payload, caller, prefix, id string) (*Envelope, error) {
	if p.Action == "" {
		return nil, ErrInvalidAction
	}
	msg := Message{
		Action:        prefix + p.Action,
		Caller:        caller,
		FireAndForget: p.FireAndForget,
	}
	if p.Content != nil {
		data, err := codec.Marshal(p.Content)
		if err != nil {
			return nil, fmt.Errorf("xproxy: encode content: %w", err)
		}
		msg.Content = data
	}
	if len(p.Fields) > 0 {
		msg.Fields = make(map[string]json.RawMessage, len(p.Fields))
		for k, v := range p.Fields {
			switch k {
			case keyAction, keyCaller, keyContent, keyFireAndForget, keyError:
				// reserved keys are owned by the proxy
				continue
			}
			data, err := codec.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("xproxy: encode field %q: %w", k, err)
			}
			msg.Fields[k] = data
		}
	}
	return &Envelope{
		Message:            msg,
		TrackingProperties: TrackingProperties{ID: id},
	}, nil
}

// Validate decodes raw and reports whether it is a correlatable envelope.
// Anything that does not decode, lacks a tracking id, or fails accept is
// rejected; that is not an error, the channel may carry unrelated traffic.
func Validate(codec Codec, raw []byte, accept Predicate) (*Envelope, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var env Envelope
	if err := codec.Unmarshal(raw, &env); err != nil {
		return nil, false
	}
	if env.TrackingProperties.ID == "" {
		return nil, false
	}
	if accept != nil && !accept(&env) {
		return nil, false
	}
	return &env, true
}
