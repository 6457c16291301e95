package memutils

import "github.com/cockroachdb/errors"

var (
	// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
	PowerOfTwoError error = errors.New("number must be a power of two")

	// ErrOutOfMemory is returned when a native memory allocation fails for lack of memory, when
	// a request could never fit in the heap it targets, or when a single block has no room
	// left for a suballocation
	ErrOutOfMemory error = errors.New("out of memory")
	// ErrInternal indicates that an internal invariant of the allocator was violated. It signals
	// a bug in the allocator rather than misuse by the caller.
	ErrInternal error = errors.New("internal allocator error")
)
