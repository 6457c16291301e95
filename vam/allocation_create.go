package vam

import (
	"fmt"

	"github.com/vkngwrapper/core/v2/core1_0"
)

// MemoryLocation is passed to the Location field of AllocationCreateDesc to indicate how the
// memory will be accessed, allowing the Allocator to choose a memory type
type MemoryLocation uint32

const (
	// MemoryLocationUnknown places no requirements on the memory type. The first memory type
	// permitted by the memory requirements is used.
	MemoryLocationUnknown MemoryLocation = iota
	// MemoryLocationGpuOnly is for memory that is only accessed by the device, such as render
	// targets and static geometry. Device-local memory is required.
	MemoryLocationGpuOnly
	// MemoryLocationCpuToGpu is for memory written by the host and read by the device, such as
	// uniform and staging upload buffers. Host-visible coherent memory is required, and
	// device-local memory is preferred when the device offers host-visible device-local memory.
	MemoryLocationCpuToGpu
	// MemoryLocationGpuToCpu is for memory written by the device and read back by the host.
	// Host-visible coherent memory is required and host-cached memory is preferred.
	MemoryLocationGpuToCpu
)

var memoryLocationMapping = map[MemoryLocation]string{
	MemoryLocationUnknown:  "MemoryLocationUnknown",
	MemoryLocationGpuOnly:  "MemoryLocationGpuOnly",
	MemoryLocationCpuToGpu: "MemoryLocationCpuToGpu",
	MemoryLocationGpuToCpu: "MemoryLocationGpuToCpu",
}

func (l MemoryLocation) String() string {
	str, ok := memoryLocationMapping[l]
	if !ok {
		return "unknown"
	}
	return str
}

func (l MemoryLocation) preferredFlags() core1_0.MemoryPropertyFlags {
	switch l {
	case MemoryLocationGpuOnly:
		return core1_0.MemoryPropertyDeviceLocal
	case MemoryLocationCpuToGpu:
		return core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent | core1_0.MemoryPropertyDeviceLocal
	case MemoryLocationGpuToCpu:
		return core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent | core1_0.MemoryPropertyHostCached
	}
	return 0
}

func (l MemoryLocation) requiredFlags() core1_0.MemoryPropertyFlags {
	switch l {
	case MemoryLocationGpuOnly:
		return core1_0.MemoryPropertyDeviceLocal
	case MemoryLocationCpuToGpu, MemoryLocationGpuToCpu:
		return core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent
	}
	return 0
}

type allocationSchemeKind byte

const (
	allocationSchemeKindManaged allocationSchemeKind = iota
	allocationSchemeKindDedicatedBuffer
	allocationSchemeKindDedicatedImage
)

// AllocationScheme determines whether an allocation is placed in a shared block managed by the
// Allocator, or in a block of its own created for a specific buffer or image. The zero value is
// AllocationSchemeManaged.
type AllocationScheme struct {
	kind   allocationSchemeKind
	buffer core1_0.Buffer
	image  core1_0.Image
}

// AllocationSchemeManaged places the allocation in a block shared with other allocations, unless
// it is too large for the memory type's block size
var AllocationSchemeManaged = AllocationScheme{}

// DedicatedBuffer gives the allocation a native memory object of its own, and passes the buffer
// to the driver as a dedicated-allocation hint. Use it when the memory requirements for the buffer
// indicate that a dedicated allocation is required or preferred.
func DedicatedBuffer(buffer core1_0.Buffer) AllocationScheme {
	return AllocationScheme{
		kind:   allocationSchemeKindDedicatedBuffer,
		buffer: buffer,
	}
}

// DedicatedImage gives the allocation a native memory object of its own, and passes the image
// to the driver as a dedicated-allocation hint
func DedicatedImage(image core1_0.Image) AllocationScheme {
	return AllocationScheme{
		kind:  allocationSchemeKindDedicatedImage,
		image: image,
	}
}

func (s AllocationScheme) IsDedicated() bool {
	return s.kind != allocationSchemeKindManaged
}

// Buffer returns the buffer passed to DedicatedBuffer, or nil
func (s AllocationScheme) Buffer() core1_0.Buffer { return s.buffer }

// Image returns the image passed to DedicatedImage, or nil
func (s AllocationScheme) Image() core1_0.Image { return s.image }

func (s AllocationScheme) String() string {
	switch s.kind {
	case allocationSchemeKindDedicatedBuffer:
		return "DedicatedBuffer"
	case allocationSchemeKindDedicatedImage:
		return "DedicatedImage"
	case allocationSchemeKindManaged:
		return "Managed"
	}
	return fmt.Sprintf("unknown allocation scheme %d", s.kind)
}

// AllocationCreateDesc is an options struct that describes a new allocation created by
// Allocator.Allocate
type AllocationCreateDesc struct {
	// Name is used in logs and reports to identify the allocation
	Name string
	// Requirements is usually retrieved from Buffer.MemoryRequirements or Image.MemoryRequirements.
	// Size must not be 0 and Alignment must be a power of two.
	Requirements core1_0.MemoryRequirements
	// Location indicates how the memory will be accessed
	Location MemoryLocation
	// Linear should be true for buffers and linearly-tiled images and false for optimally-tiled
	// images. It keeps linear and non-linear resources from sharing a page when the device has
	// a buffer/image granularity.
	Linear bool
	// AllocationScheme determines whether the allocation is pooled or receives its own native
	// memory object
	AllocationScheme AllocationScheme
}
