package types

import "errors"

// Table model errors
var (
	// ErrUnknownKind is returned when a kind name is not recognised
	ErrUnknownKind = errors.New("unknown column kind")

	// ErrKindMismatch is returned when a value does not fit its column kind
	ErrKindMismatch = errors.New("value does not match column kind")

	// ErrNotACategory is returned when a categorical value is outside the declared categories
	ErrNotACategory = errors.New("value is not a declared category")

	// ErrLengthMismatch is returned when columns or index levels differ in length
	ErrLengthMismatch = errors.New("column length mismatch")

	// ErrColumnNotFound is returned when a column lookup fails
	ErrColumnNotFound = errors.New("column not found")

	// ErrDuplicateColumn is returned when two columns share a label
	ErrDuplicateColumn = errors.New("duplicate column label")

	// ErrNoGeometry is returned when a table has no active geometry column
	ErrNoGeometry = errors.New("geometry column not found")

	// ErrUnknownMethod is returned when a union method name is not recognised
	ErrUnknownMethod = errors.New("unknown union method")
)
