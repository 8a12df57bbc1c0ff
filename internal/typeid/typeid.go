// Package typeid provides name-based identity for redefinable types.
//
// Every redefinition of a unit produces a new type handle, so handles of the
// same type are distinct values. Identity compares and keys them by their
// fully qualified name instead.
package typeid

import (
	"errors"
)

// ErrInvalidArgument is returned when wrapping a nil handle.
var ErrInvalidArgument = errors.New("typeid: nil type handle")

// Handle is an opaque type produced by a definition step.
type Handle interface {
	QualifiedName() string
}

// Key is the comparable form of an Identity, usable as a map key.
type Key string

// Identity wraps a Handle. Two identities are equal iff their qualified names are.
type Identity struct {
	name   string
	handle Handle
}

// Wrap returns the identity of h.
func Wrap(h Handle) (Identity, error) {
	if h == nil {
		return Identity{}, ErrInvalidArgument
	}
	return Identity{name: h.QualifiedName(), handle: h}, nil
}

// MustWrap is like Wrap but panics on a nil handle.
func MustWrap(h Handle) Identity {
	id, err := Wrap(h)
	if err != nil {
		panic(err)
	}
	return id
}

// Equal reports whether both identities denote the same qualified name.
func (i Identity) Equal(other Identity) bool {
	return i.name == other.name
}

// Key returns the map key for this identity.
func (i Identity) Key() Key {
	return Key(i.name)
}

// Name returns the qualified name.
func (i Identity) Name() string {
	return i.name
}

// Handle returns the wrapped handle of this particular definition.
func (i Identity) Handle() Handle {
	return i.handle
}

// IsZero reports whether i was never wrapped.
func (i Identity) IsZero() bool {
	return i.handle == nil
}

func (i Identity) String() string {
	return i.name
}

// Named is a Handle with nothing but a name. Built-in element types and tests use it.
type Named string

// QualifiedName implements Handle.
func (n Named) QualifiedName() string {
	return string(n)
}
