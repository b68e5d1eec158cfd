package memory

import "errors"

var (
	// ErrNotFound is returned when a memory does not exist.
	ErrNotFound = errors.New("memory not found")

	// ErrSuperseded is returned when a supersession write loses the race:
	// the target row was already superseded by a concurrent writer.
	ErrSuperseded = errors.New("memory already superseded")

	// ErrConnection is returned when the backing store is unreachable.
	ErrConnection = errors.New("memory store connection failed")
)
