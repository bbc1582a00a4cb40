package xproxy

import "context"

// SendBatch sends payloads in order and returns one Deferred per payload.
// Every payload is validated before anything is posted; on a post failure the
// Deferreds of the payloads already sent are returned with the error.
func (p *Proxy) SendBatch(ctx context.Context, payloads ...Payload) ([]*Deferred[*Envelope], error) {
	if len(payloads) == 0 {
		return nil, nil
	}
	for i := range payloads {
		if payloads[i].Action == "" {
			return nil, ErrInvalidAction
		}
	}

	out := make([]*Deferred[*Envelope], 0, len(payloads))
	for i := range payloads {
		d, err := p.SendMessage(ctx, payloads[i])
		if err != nil {
			return out, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Notify posts an uncorrelated message: nothing is registered and no reply is awaited.
func (p *Proxy) Notify(ctx context.Context, action string, content any) error {
	_, err := p.SendMessage(ctx, Payload{Action: action, Content: content, FireAndForget: true})
	return err
}
