package roster

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicate      = errors.New("duplicate participant")
	ErrNotFound       = errors.New("participant not found")
	ErrMalformedInput = errors.New("malformed input")
)

// DuplicateError reports an add or import that collides with an existing record.
type DuplicateError struct {
	Name   string
	Entity string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate participant: %s (%s)", e.Name, e.Entity)
}

func (e *DuplicateError) Is(target error) bool { return target == ErrDuplicate }

// NotFoundError reports an operation on an id that is not in the roster.
type NotFoundError struct {
	ID int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("participant not found: %d", e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// MalformedInputError reports input missing required fields.
type MalformedInputError struct {
	Reason string
}

func (e *MalformedInputError) Error() string {
	return "malformed input: " + e.Reason
}

func (e *MalformedInputError) Is(target error) bool { return target == ErrMalformedInput }
