package core

import (
	"firesync/internal/crypto"
)

// SealedCodec wraps a codec and encrypts the named top-level string fields
// with AES-256-GCM before they reach the backend.
type SealedCodec[T any] struct {
	inner  Codec[T]
	key    []byte
	fields []string
}

// NewSealedCodec returns a SealedCodec. key must be 32 bytes.
func NewSealedCodec[T any](inner Codec[T], key []byte, fields ...string) (*SealedCodec[T], error) {
	if len(key) != 32 {
		return nil, crypto.ErrInvalidKey
	}
	return &SealedCodec[T]{
		inner:  inner,
		key:    append([]byte(nil), key...),
		fields: fields,
	}, nil
}

func (c *SealedCodec[T]) Encode(v T) (map[string]any, error) {
	m, err := c.inner.Encode(v)
	if err != nil {
		return nil, err
	}
	return c.seal(m)
}

func (c *SealedCodec[T]) Decode(id string, data map[string]any) (T, error) {
	opened := make(map[string]any, len(data))
	for k, v := range data {
		opened[k] = v
	}
	for _, f := range c.fields {
		v, ok := opened[f]
		if !ok || v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			var zero T
			return zero, serializationError("document %s: sealed field %s is %T", id, f, v)
		}
		plain, err := crypto.Decrypt(s, c.key)
		if err != nil {
			var zero T
			return zero, serializationError("document %s: field %s: %v", id, f, err)
		}
		opened[f] = plain
	}
	return c.inner.Decode(id, opened)
}

// EncodeFields seals the configured fields of a partial update.
func (c *SealedCodec[T]) EncodeFields(fields map[string]any) (map[string]any, error) {
	sealed, err := c.seal(fields)
	if err != nil {
		return nil, err
	}
	if fe, ok := any(c.inner).(FieldEncoder); ok {
		return fe.EncodeFields(sealed)
	}
	return sealed, nil
}

func (c *SealedCodec[T]) seal(m map[string]any) (map[string]any, error) {
	for _, f := range c.fields {
		v, ok := m[f]
		if !ok || v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return nil, serializationError("sealed field %s is %T, want string", f, v)
		}
		enc, err := crypto.Encrypt(s, c.key)
		if err != nil {
			return nil, serializationError("field %s: %v", f, err)
		}
		m[f] = enc
	}
	return m, nil
}
