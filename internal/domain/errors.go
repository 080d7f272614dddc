package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	// ErrBusy means admission is exhausted or a swarm did not become ready in
	// time. Callers should retry later.
	ErrBusy    = errors.New("busy")
	ErrTimeout = errors.New("timeout")

	ErrInvalidRecord     = errors.New("invalid record")
	ErrInvalidTransition = errors.New("invalid status transition")
)
