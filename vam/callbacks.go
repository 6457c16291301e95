package vam

import "github.com/vkngwrapper/core/v2/core1_0"

// DeviceMemoryCallback is called with each native memory object the Allocator creates or releases
type DeviceMemoryCallback func(
	allocator *Allocator,
	memoryTypeIndex int,
	memory core1_0.DeviceMemory,
	size int,
	userData interface{},
)

// MemoryCallbacks are informative hooks that let a program track the native memory objects
// behind an Allocator, for example to keep its own budget. They are called synchronously from
// Allocate, Free, and Destroy and must not call back into the Allocator.
type MemoryCallbacks struct {
	// Allocate is called after a native memory object has been allocated and, if host-visible,
	// mapped
	Allocate DeviceMemoryCallback
	// Free is called before a native memory object is unmapped and freed
	Free     DeviceMemoryCallback
	UserData interface{}
}

type memoryCallbacks struct {
	options   *MemoryCallbacks
	allocator *Allocator
}

func (c *memoryCallbacks) allocated(memoryTypeIndex int, block *memoryBlock) {
	if c == nil || c.options == nil || c.options.Allocate == nil {
		return
	}

	c.options.Allocate(c.allocator, memoryTypeIndex, block.memory, block.size, c.options.UserData)
}

func (c *memoryCallbacks) freed(memoryTypeIndex int, block *memoryBlock) {
	if c == nil || c.options == nil || c.options.Free == nil {
		return
	}

	c.options.Free(c.allocator, memoryTypeIndex, block.memory, block.size, c.options.UserData)
}
