package vulkan

import (
	"unsafe"

	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/core1_1"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/extensions/v2/khr_buffer_device_address"
	"github.com/vkngwrapper/extensions/v2/khr_dedicated_allocation"
	"github.com/vkngwrapper/gpualloc/vam"
)

// Device performs the native memory operations of a vam.Allocator against a vkngwrapper
// core1_0.Device
type Device struct {
	device        core1_0.Device
	callbacks     *driver.AllocationCallbacks
	extensionData *ExtensionData
}

var _ vam.Device = &Device{}

// NewDevice wraps device for use as AllocatorCreateDesc.Device. callbacks may be nil; when
// present they are passed to the driver for every memory object allocated and freed.
func NewDevice(device core1_0.Device, callbacks *driver.AllocationCallbacks) *Device {
	return &Device{
		device:        device,
		callbacks:     callbacks,
		extensionData: NewExtensionData(device),
	}
}

// ExtensionData reports which optional allocation features the device supports
func (d *Device) ExtensionData() ExtensionData {
	return *d.extensionData
}

func (d *Device) allocateInfo(info vam.MemoryAllocateInfo) core1_0.MemoryAllocateInfo {
	allocInfo := core1_0.MemoryAllocateInfo{
		AllocationSize:  info.Size,
		MemoryTypeIndex: info.MemoryTypeIndex,
	}

	if d.extensionData.DedicatedAllocations {
		dedicatedAllocInfo := khr_dedicated_allocation.MemoryDedicatedAllocateInfo{}
		if info.DedicatedBuffer != nil {
			dedicatedAllocInfo.Buffer = info.DedicatedBuffer
			dedicatedAllocInfo.Next = allocInfo.Next
			allocInfo.Next = dedicatedAllocInfo
		} else if info.DedicatedImage != nil {
			dedicatedAllocInfo.Image = info.DedicatedImage
			dedicatedAllocInfo.Next = allocInfo.Next
			allocInfo.Next = dedicatedAllocInfo
		}
	}

	if info.DeviceAddress && d.extensionData.BufferDeviceAddress {
		allocFlagsInfo := core1_1.MemoryAllocateFlagsInfo{
			Flags: khr_buffer_device_address.MemoryAllocateDeviceAddress,
		}
		allocFlagsInfo.Next = allocInfo.Next
		allocInfo.Next = allocFlagsInfo
	}

	return allocInfo
}

func (d *Device) AllocateMemory(info vam.MemoryAllocateInfo) (core1_0.DeviceMemory, common.VkResult, error) {
	return d.device.AllocateMemory(d.callbacks, d.allocateInfo(info))
}

func (d *Device) MapMemory(memory core1_0.DeviceMemory) (unsafe.Pointer, common.VkResult, error) {
	return memory.Map(0, -1, 0)
}

func (d *Device) UnmapMemory(memory core1_0.DeviceMemory) {
	memory.Unmap()
}

func (d *Device) FreeMemory(memory core1_0.DeviceMemory) {
	memory.Free(d.callbacks)
}
