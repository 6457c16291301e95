package vam

import (
	"fmt"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/gpualloc/memutils/metadata"
)

// memoryBlock is a single native memory object, persistently mapped if its memory type is
// host-visible, along with the SubAllocator that tracks the ranges handed out from it
type memoryBlock struct {
	memory       core1_0.DeviceMemory
	size         int
	mappedPtr    unsafe.Pointer
	subAllocator metadata.SubAllocator
}

func newMemoryBlock(
	device Device,
	size int,
	memoryTypeIndex int,
	mapped bool,
	bufferDeviceAddress bool,
	scheme AllocationScheme,
	requiresPersonalBlock bool,
) (*memoryBlock, error) {
	info := MemoryAllocateInfo{
		Size:            size,
		MemoryTypeIndex: memoryTypeIndex,
		DeviceAddress:   bufferDeviceAddress,
		DedicatedBuffer: scheme.Buffer(),
		DedicatedImage:  scheme.Image(),
	}

	memory, res, err := device.AllocateMemory(info)
	if err != nil {
		return nil, nativeError(res, err, "AllocateMemory")
	}

	var mappedPtr unsafe.Pointer
	if mapped {
		mappedPtr, res, err = device.MapMemory(memory)
		if err != nil {
			device.FreeMemory(memory)
			return nil, wrapCause(ErrFailedToMap, err, fmt.Sprintf("MapMemory failed with result %d", int(res)))
		}

		if mappedPtr == nil {
			device.FreeMemory(memory)
			return nil, errors.Wrap(ErrFailedToMap, "MapMemory returned a nil pointer")
		}
	}

	var subAllocator metadata.SubAllocator
	if scheme.IsDedicated() || requiresPersonalBlock {
		subAllocator = metadata.NewDedicatedBlockMetadata(size)
	} else {
		subAllocator = metadata.NewFreeListBlockMetadata(size)
	}

	return &memoryBlock{
		memory:       memory,
		size:         size,
		mappedPtr:    mappedPtr,
		subAllocator: subAllocator,
	}, nil
}

func (b *memoryBlock) destroy(device Device) {
	if b.mappedPtr != nil {
		device.UnmapMemory(b.memory)
		b.mappedPtr = nil
	}

	device.FreeMemory(b.memory)
	b.memory = nil
}

func (b *memoryBlock) Validate() error {
	if b.memory == nil {
		return errors.Wrap(ErrInternal, "no valid memory for this memory block")
	}
	if b.subAllocator.Size() != b.size {
		return errors.Wrapf(ErrInternal, "memory block is %d bytes but its suballocator manages %d", b.size, b.subAllocator.Size())
	}

	return b.subAllocator.Validate()
}

func (b *memoryBlock) printDetailedMap(json jwriter.ObjectState) {
	json.Name("Mapped").Bool(b.mappedPtr != nil)
	json.Name("Dedicated").Bool(!b.subAllocator.SupportsGeneralAllocations())
	b.subAllocator.BlockJsonData(json)
}
