//go:build !debug_init_allocs

package vam

const (
	// InitializeAllocs causes host-visible allocations to be filled with a fixed byte pattern when
	// they are allocated and again when they are freed. If you suspect that reading uninitialized
	// or already-freed memory is causing a bug, build with the debug_init_allocs tag. It costs a
	// write over every mapped allocation.
	InitializeAllocs bool = false
)

func (a *Allocation) fillAllocation(pattern uint8) {}
