package signal

import "errors"

// Sentinel kinds for aggregation errors.
var (
	ErrInsufficientData = errors.New("insufficient data")
)
