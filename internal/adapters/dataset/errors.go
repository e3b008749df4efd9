package dataset

import "errors"

var (
	// ErrMissingColumn indicates a CSV feed lacks a required column.
	ErrMissingColumn = errors.New("required column missing")

	// ErrUnknownFormat indicates an unrecognized input format name.
	ErrUnknownFormat = errors.New("unknown input format")
)
