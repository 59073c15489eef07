// Package env defines the boundary between pagewatch and the page it watches.
//
// An Environment is a Document that also exposes its current location, a
// ready condition and a structural mutation feed. Selectors are XPath 1.0
// expressions in every implementation.
package env

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is the typed "element absent" result of Find. It is not a
	// failure: callers treat it as "not applicable on this page".
	ErrNotFound = errors.New("element not found")

	// ErrNoRoot is returned by Observe when the root to watch does not exist.
	ErrNoRoot = errors.New("observation root not found")

	// ErrDetached is returned by Element operations on a node that is no
	// longer part of the document.
	ErrDetached = errors.New("element detached from document")
)

// Element is a capability-checked reference to a node in the page.
type Element interface {
	// Value returns the form value of an input, select or textarea.
	Value(ctx context.Context) (string, error)
	SetValue(ctx context.Context, value string) error

	Checked(ctx context.Context) (bool, error)
	SetChecked(ctx context.Context, checked bool) error

	// Attr returns the attribute value and whether it is present.
	Attr(ctx context.Context, name string) (string, bool, error)

	// Text returns the rendered text content.
	Text(ctx context.Context) (string, error)

	// Hidden reports whether the element has been hidden with Hide.
	Hidden(ctx context.Context) (bool, error)
	Hide(ctx context.Context) error

	// InsertBefore moves this element so it becomes ref's previous sibling.
	InsertBefore(ctx context.Context, ref Element) error

	// Dispatch fires a bubbling DOM event of the given type on the element.
	Dispatch(ctx context.Context, event string) error
}

// Document looks elements up by XPath selector.
type Document interface {
	// Find returns the first match or ErrNotFound.
	Find(ctx context.Context, selector string) (Element, error)

	// FindAll returns every match in document order; no match is an empty slice.
	FindAll(ctx context.Context, selector string) ([]Element, error)
}

// Watcher is a started mutation observation.
type Watcher interface {
	Stop() error
}

// Environment is a watchable page.
type Environment interface {
	Document

	// Location returns the page's current location string.
	Location() string

	// Ready blocks until the document is fully parsed or ctx ends.
	Ready(ctx context.Context) error

	// Observe calls onMutation for structural changes under root until the
	// returned Watcher is stopped. It returns ErrNoRoot when root is absent.
	// onMutation must not block.
	Observe(root string, onMutation func()) (Watcher, error)
}

// IsNotFound reports whether err is the typed absence result.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
