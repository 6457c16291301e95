package vulkan

import (
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/core1_1"
	"github.com/vkngwrapper/core/v2/core1_2"
	"github.com/vkngwrapper/extensions/v2/khr_buffer_device_address"
	"github.com/vkngwrapper/extensions/v2/khr_dedicated_allocation"
	"github.com/vkngwrapper/extensions/v2/khr_get_memory_requirements2"
)

// ExtensionData records which optional memory allocation features are available on a device,
// either through the core version or through an extension
type ExtensionData struct {
	DedicatedAllocations bool
	BufferDeviceAddress  bool
}

func NewExtensionData(device core1_0.Device) *ExtensionData {
	data := &ExtensionData{}

	device11 := core1_1.PromoteDevice(device)
	if device11 != nil {
		// Core 1.1 active - khr_dedicated_allocation is promoted
		data.DedicatedAllocations = true
	}

	device12 := core1_2.PromoteDevice(device)
	if device12 != nil {
		// Core 1.2 active - khr_buffer_device_address is promoted
		data.BufferDeviceAddress = true
	}

	// khr_dedicated_allocation depends on khr_get_memory_requirements2
	if !data.DedicatedAllocations &&
		device.IsDeviceExtensionActive(khr_get_memory_requirements2.ExtensionName) &&
		device.IsDeviceExtensionActive(khr_dedicated_allocation.ExtensionName) {
		data.DedicatedAllocations = true
	}

	if !data.BufferDeviceAddress && device.IsDeviceExtensionActive(khr_buffer_device_address.ExtensionName) {
		data.BufferDeviceAddress = true
	}

	return data
}
