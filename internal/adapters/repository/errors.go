package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound = errors.New("product not found")
	ErrClosed   = errors.New("store closed")
)
