package config

import (
	"errors"
)

// Sentinel error kinds for this package, matched by callers with errors.Is.
// ErrInvalidConfig covers values that fail validation; ErrLoadConfig covers
// provider failures (unreadable file, bad YAML, bad env values).
var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrLoadConfig    = errors.New("load config failed")
)
