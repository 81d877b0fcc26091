package domain

import "errors"

var (
	// ErrNotFound is returned when a task, project or type does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidReference is returned when a task points at a project or
	// type that does not exist at write time.
	ErrInvalidReference = errors.New("invalid reference")
	// ErrInvalidTimeRange is returned when an end timestamp precedes start.
	ErrInvalidTimeRange = errors.New("end before start")
	// ErrEmptyChange is returned for an update with no recognized field.
	ErrEmptyChange = errors.New("empty change-set")
	// ErrProtected is returned when deleting a default or still-referenced
	// project or type.
	ErrProtected = errors.New("entity is protected")
)
