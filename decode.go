package xproxy

import "context"

// DecodeContentCodec unmarshals the envelope content into T using c.
// A missing content decodes to the zero value.
func DecodeContentCodec[T any](c Codec, env *Envelope) (T, error) {
	var v T
	if env == nil || len(env.Message.Content) == 0 {
		return v, nil
	}
	if err := c.Unmarshal(env.Message.Content, &v); err != nil {
		return v, err
	}
	return v, nil
}

// DecodeContent unmarshals the envelope content into T using the Codec found in ctx.
// Falls back to JSON if none was injected.
func DecodeContent[T any](ctx context.Context, env *Envelope) (T, error) {
	if c, ok := CodecFromContext(ctx); ok {
		return DecodeContentCodec[T](c, env)
	}
	return DecodeContentCodec[T](JSONCodec{}, env)
}
