package store

import "errors"

var (
	// ErrNotFound is returned by a Backend when no bucket exists at a path or
	// its latest version has been deleted.
	ErrNotFound = errors.New("xmlvault: bucket not found")

	// ErrVersionConflict is returned by a Backend when a write's expected
	// version does not match the bucket's current version.
	ErrVersionConflict = errors.New("xmlvault: bucket was modified concurrently")

	// ErrConsistencyViolation is returned when an entry's id attribute does
	// not match the id encoded in its name.
	ErrConsistencyViolation = errors.New("xmlvault: entry id does not match its name")

	// ErrMalformedPayload is returned when an entry's text is not a single XML element.
	ErrMalformedPayload = errors.New("xmlvault: malformed entry payload")

	// ErrPayloadType is returned when an entry's stored value is not text.
	ErrPayloadType = errors.New("xmlvault: entry payload is not a string")

	// ErrNilSelector is reported when DeleteChosen is called without a selector.
	ErrNilSelector = errors.New("xmlvault: nil selector")

	// ErrSelectorPanic wraps a panic raised by a caller's selector.
	ErrSelectorPanic = errors.New("xmlvault: selector panicked")
)
