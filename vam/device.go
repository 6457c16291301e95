package vam

import (
	"unsafe"

	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

//go:generate mockgen -source device.go -destination mock_device_test.go -package vam

// MemoryAllocateInfo describes a single native memory object that the Allocator wants from
// the driver
type MemoryAllocateInfo struct {
	// Size is the size of the memory object in bytes
	Size int
	// MemoryTypeIndex is the index of the memory type to allocate from
	MemoryTypeIndex int

	// DedicatedBuffer, if not nil, is the buffer that will be the sole occupant of the memory
	// object. The Device may pass it to the driver as a dedicated-allocation hint.
	DedicatedBuffer core1_0.Buffer
	// DedicatedImage, if not nil, is the image that will be the sole occupant of the memory
	// object. The Device may pass it to the driver as a dedicated-allocation hint.
	DedicatedImage core1_0.Image

	// DeviceAddress indicates that the memory object must be allocated with the device address
	// allocation flag so that buffers bound to it can be used with buffer device address
	DeviceAddress bool
}

// Device is the set of native memory operations the Allocator performs. vam/vulkan provides
// an implementation over a vkngwrapper core1_0.Device.
type Device interface {
	AllocateMemory(info MemoryAllocateInfo) (core1_0.DeviceMemory, common.VkResult, error)
	// MapMemory maps the entire memory object and returns a pointer to its first byte
	MapMemory(memory core1_0.DeviceMemory) (unsafe.Pointer, common.VkResult, error)
	UnmapMemory(memory core1_0.DeviceMemory)
	FreeMemory(memory core1_0.DeviceMemory)
}

// PhysicalDevice is used to enumerate memory types, heaps, and device limits when the Allocator
// is created. core1_0.PhysicalDevice satisfies this interface.
type PhysicalDevice interface {
	Properties() (*core1_0.PhysicalDeviceProperties, error)
	MemoryProperties() *core1_0.PhysicalDeviceMemoryProperties
}
