package model

import (
	"errors"
	"fmt"
)

// ErrNotFound reports a missing entity. Repository lookups translate
// pgx.ErrNoRows into it so callers never depend on the driver.
var ErrNotFound = errors.New("entity not found")

// DuplicateEntityError reports a uniqueness violation, either found by
// a pre-check or raised by the storage layer's unique constraints.
type DuplicateEntityError struct {
	Entity string
	Field  string
}

func (e *DuplicateEntityError) Error() string {
	return fmt.Sprintf("%s already exists (%s)", e.Entity, e.Field)
}

// IsDuplicate reports whether err is a DuplicateEntityError.
func IsDuplicate(err error) bool {
	var dup *DuplicateEntityError
	return errors.As(err, &dup)
}
