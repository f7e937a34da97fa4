package storage

import "errors"

// ErrNotFound is returned when a requested trace has no live spans.
var ErrNotFound = errors.New("storage: not found")

// ErrInvalidArgument is returned when a DAO call's bounds are unusable.
var ErrInvalidArgument = errors.New("storage: invalid argument")
