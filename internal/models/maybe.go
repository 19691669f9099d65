package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Maybe is a tri-state value: either Known(v) or Unknown. It replaces
// sentinel values such as 0, false or "N/A" for data that could not be
// determined, so "unknown" is never mistaken for a real value.
type Maybe[T any] struct {
	value T
	known bool
}

// Known wraps a determined value.
func Known[T any](v T) Maybe[T] {
	return Maybe[T]{value: v, known: true}
}

// Unknown returns the undetermined state.
func Unknown[T any]() Maybe[T] {
	return Maybe[T]{}
}

// IsKnown reports whether a value is present.
func (m Maybe[T]) IsKnown() bool {
	return m.known
}

// Get returns the value and whether it is known.
func (m Maybe[T]) Get() (T, bool) {
	return m.value, m.known
}

// OrElse returns the value, or fallback when unknown.
func (m Maybe[T]) OrElse(fallback T) T {
	if !m.known {
		return fallback
	}
	return m.value
}

// String renders the value, or "unknown".
func (m Maybe[T]) String() string {
	if !m.known {
		return "unknown"
	}
	return fmt.Sprint(m.value)
}

// MarshalJSON encodes Unknown as null.
func (m Maybe[T]) MarshalJSON() ([]byte, error) {
	if !m.known {
		return []byte("null"), nil
	}
	return json.Marshal(m.value)
}

// UnmarshalJSON decodes null as Unknown.
func (m *Maybe[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*m = Maybe[T]{}
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*m = Known(v)
	return nil
}
