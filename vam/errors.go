package vam

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/gpualloc/memutils"
)

var (
	// ErrInvalidAllocatorCreateDesc is returned from New when AllocatorCreateDesc is missing
	// a required field or the device reports unusable limits
	ErrInvalidAllocatorCreateDesc error = errors.New("invalid allocator create desc")
	// ErrInvalidAllocationCreateDesc is returned from Allocator.Allocate when the requested size
	// is zero or the requested alignment is not a power of two
	ErrInvalidAllocationCreateDesc error = errors.New("invalid allocation create desc")
	// ErrNoCompatibleMemoryTypeFound is returned from Allocator.Allocate when no memory type
	// permitted by the memory requirements has the property flags the memory location demands
	ErrNoCompatibleMemoryTypeFound error = errors.New("no compatible memory type found")
	// ErrFailedToMap is returned when a host-visible memory object could not be mapped, or when
	// mapped memory is accessed out of range
	ErrFailedToMap error = errors.New("failed to map memory")

	ErrOutOfMemory = memutils.ErrOutOfMemory
	ErrInternal    = memutils.ErrInternal
)

// wrapCause returns an error that wraps sentinel, so errors.Is finds it, with cause's message
// folded in and cause itself attached as a secondary error
func wrapCause(sentinel error, cause error, msg string) error {
	return errors.WithSecondaryError(errors.Wrapf(sentinel, "%s: %v", msg, cause), cause)
}

// nativeError classifies a failed driver call. Out of memory results become ErrOutOfMemory
// and anything else becomes ErrInternal.
func nativeError(res common.VkResult, err error, operation string) error {
	if err == nil {
		err = errors.Newf("driver returned %d", int(res))
	}

	msg := operation + " failed"
	if res == core1_0.VKErrorOutOfDeviceMemory || res == core1_0.VKErrorOutOfHostMemory {
		return wrapCause(ErrOutOfMemory, err, msg)
	}
	return wrapCause(ErrInternal, err, msg)
}
