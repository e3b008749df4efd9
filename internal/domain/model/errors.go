package model

import "errors"

// Sentinel kinds for record errors.
var (
	ErrMalformedRecord = errors.New("malformed review record")
)
