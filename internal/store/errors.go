package store

import "errors"

var (
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrNotFound               = errors.New("record not found")
)
