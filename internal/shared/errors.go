package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConfiguration marks invalid run parameters (empty scope, bad period list).
	// It is the only error class that aborts a consolidation run before any unit is processed.
	ErrConfiguration = errors.New("configuration error")
)
