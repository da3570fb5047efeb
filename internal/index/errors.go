package index

import "errors"

var (
	// ErrNotFound reports that a page or tag does not appear in the index.
	// This is an expected outcome of lookups and callers should treat it as
	// normal control flow.
	ErrNotFound = errors.New("index: not found")

	// ErrConsistency reports that a lookup which must succeed by invariant
	// did not. It signals index corruption or a logic bug, never a normal
	// miss, and must not be swallowed the way ErrNotFound may be.
	ErrConsistency = errors.New("index: consistency violation")
)
