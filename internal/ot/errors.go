package ot

import (
	"errors"
	"fmt"
)

// ConflictError reports an operation whose base version can no longer be
// reconciled with the document: its history has been trimmed past the base,
// or the base lies in the future.
type ConflictError struct {
	BaseVersion    int
	CurrentVersion int
	OldestVersion  int // oldest base version still transformable
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("operation based on version %d cannot be transformed (current %d, oldest %d): resync required",
		e.BaseVersion, e.CurrentVersion, e.OldestVersion)
}

// IsConflict reports whether err is, or wraps, a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
