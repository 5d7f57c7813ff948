package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict marks lost-update situations: whole-document rewrites mean
	// concurrent editors can clobber each other's tree edits.
	ErrConflict = errors.New("conflict")
)

// ValidationError reports a rejected field value, such as an end date that is
// not after the start date.
type ValidationError struct {
	Field string
	Msg   string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}
