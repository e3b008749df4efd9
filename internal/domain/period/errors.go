package period

import "errors"

// Sentinel kinds for period errors.
var (
	ErrUnknownGranularity = errors.New("unknown period granularity")
)
