package vam

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/gpualloc/memutils"
	"github.com/vkngwrapper/gpualloc/memutils/metadata"
)

const (
	createdFillPattern   uint8 = 0xDC
	destroyedFillPattern uint8 = 0xEF
)

// Allocation is a region of device memory returned from Allocator.Allocate. It is a plain value:
// copying it does not copy the memory, and it must be passed to Allocator.Free exactly once. The
// zero value is a null allocation, which Allocator.Free ignores.
type Allocation struct {
	chunkID          metadata.ChunkID
	offset           int
	size             int
	memoryBlockIndex int
	memoryTypeIndex  int
	memory           core1_0.DeviceMemory
	mappedPtr        unsafe.Pointer
	memoryProperties core1_0.MemoryPropertyFlags
	dedicated        bool
	name             string
}

// IsNull returns true if this Allocation was never returned from Allocator.Allocate
func (a *Allocation) IsNull() bool { return a.chunkID == metadata.NullChunkID }

func (a *Allocation) ChunkID() metadata.ChunkID { return a.chunkID }

// Offset returns the offset of this allocation within Memory(). This is the offset to pass when
// binding a buffer or image.
func (a *Allocation) Offset() int { return a.offset }

// Size returns the size in bytes that was requested for this allocation
func (a *Allocation) Size() int { return a.size }

func (a *Allocation) MemoryTypeIndex() int { return a.memoryTypeIndex }

// Memory returns the native memory object this allocation lives in. It is shared with other
// allocations unless IsDedicated returns true.
func (a *Allocation) Memory() core1_0.DeviceMemory { return a.memory }

func (a *Allocation) MemoryProperties() core1_0.MemoryPropertyFlags { return a.memoryProperties }

// IsDedicated returns true if the allocation was made with DedicatedBuffer or DedicatedImage
func (a *Allocation) IsDedicated() bool { return a.dedicated }

func (a *Allocation) Name() string { return a.name }

// MappedPtr returns a pointer to the first byte of this allocation in host memory, or nil
// if the allocation's memory type is not host-visible. The pointer remains valid until the
// allocation is freed. The caller is responsible for ensuring the device is not accessing
// the same bytes concurrently.
func (a *Allocation) MappedPtr() unsafe.Pointer { return a.mappedPtr }

// MappedSlice returns the mapped range of this allocation as a byte slice of exactly Size()
// bytes, or nil if the allocation is not host-visible. The same caveats as MappedPtr apply.
func (a *Allocation) MappedSlice() []byte {
	if a.mappedPtr == nil {
		return nil
	}

	return unsafe.Slice((*byte)(a.mappedPtr), a.size)
}

// CopyToMapped copies data into the mapped range of alloc. offset is rounded up to the
// alignment of T, and the rounded offset is returned. An error wrapping ErrFailedToMap is
// returned if alloc is not host-visible or the data would not fit.
func CopyToMapped[T any](alloc *Allocation, offset int, data []T) (int, error) {
	if alloc.mappedPtr == nil {
		return 0, errors.Wrapf(ErrFailedToMap, "allocation '%s' is not host-visible", alloc.name)
	}
	if offset < 0 {
		return 0, errors.Wrapf(ErrFailedToMap, "offset %d is negative", offset)
	}

	var zero T
	alignedOffset := memutils.AlignUp(offset, uint(unsafe.Alignof(zero)))
	byteCount := len(data) * int(unsafe.Sizeof(zero))

	if alignedOffset+byteCount > alloc.size {
		return 0, errors.Wrapf(ErrFailedToMap, "copying %d bytes at offset %d would overrun allocation '%s' of size %d",
			byteCount, alignedOffset, alloc.name, alloc.size)
	}

	if byteCount == 0 {
		return alignedOffset, nil
	}

	dst := unsafe.Slice((*byte)(unsafe.Add(alloc.mappedPtr, alignedOffset)), byteCount)
	src := unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), byteCount)
	copy(dst, src)

	return alignedOffset, nil
}
