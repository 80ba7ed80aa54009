package dslink

import (
	"errors"
)

// Error taxonomy. Validation errors are programmer errors and always
// propagate. Lookup errors vary by call site: direct key access propagates,
// path traversal logs and degrades to "not found", profile lookup degrades
// to a no-op.
var (
	ErrChildExists   = errors.New("child already exists")
	ErrNoSuchKey     = errors.New("no such key")
	ErrNoSuchNode    = errors.New("no such node")
	ErrNoSuchProfile = errors.New("no such profile")
	ErrInvalidValue  = errors.New("invalid value")
	ErrClosed        = errors.New("closed")
)
