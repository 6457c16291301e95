package vulkan

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/core1_1"
	"github.com/vkngwrapper/extensions/v2/khr_buffer_device_address"
	"github.com/vkngwrapper/extensions/v2/khr_dedicated_allocation"
	"github.com/vkngwrapper/gpualloc/vam"
)

type fakeBuffer struct {
	core1_0.Buffer
	id int
}

type fakeImage struct {
	core1_0.Image
	id int
}

func TestAllocateInfo_Plain(t *testing.T) {
	device := &Device{extensionData: &ExtensionData{DedicatedAllocations: true, BufferDeviceAddress: true}}

	info := device.allocateInfo(vam.MemoryAllocateInfo{
		Size:            4096,
		MemoryTypeIndex: 3,
	})

	require.Equal(t, core1_0.MemoryAllocateInfo{
		AllocationSize:  4096,
		MemoryTypeIndex: 3,
	}, info)
}

func TestAllocateInfo_DedicatedBuffer(t *testing.T) {
	device := &Device{extensionData: &ExtensionData{DedicatedAllocations: true}}
	buffer := fakeBuffer{id: 1}

	info := device.allocateInfo(vam.MemoryAllocateInfo{
		Size:            4096,
		MemoryTypeIndex: 1,
		DedicatedBuffer: buffer,
	})

	require.Equal(t, core1_0.MemoryAllocateInfo{
		AllocationSize:  4096,
		MemoryTypeIndex: 1,
		NextOptions: common.NextOptions{
			Next: khr_dedicated_allocation.MemoryDedicatedAllocateInfo{
				Buffer: buffer,
			},
		},
	}, info)
}

func TestAllocateInfo_DedicatedImageWithDeviceAddress(t *testing.T) {
	device := &Device{extensionData: &ExtensionData{DedicatedAllocations: true, BufferDeviceAddress: true}}
	image := fakeImage{id: 2}

	info := device.allocateInfo(vam.MemoryAllocateInfo{
		Size:            8192,
		MemoryTypeIndex: 0,
		DedicatedImage:  image,
		DeviceAddress:   true,
	})

	require.Equal(t, core1_0.MemoryAllocateInfo{
		AllocationSize:  8192,
		MemoryTypeIndex: 0,
		NextOptions: common.NextOptions{
			Next: core1_1.MemoryAllocateFlagsInfo{
				Flags: khr_buffer_device_address.MemoryAllocateDeviceAddress,
				NextOptions: common.NextOptions{
					Next: khr_dedicated_allocation.MemoryDedicatedAllocateInfo{
						Image: image,
					},
				},
			},
		},
	}, info)
}

func TestAllocateInfo_UnsupportedHintsDropped(t *testing.T) {
	device := &Device{extensionData: &ExtensionData{}}

	info := device.allocateInfo(vam.MemoryAllocateInfo{
		Size:            4096,
		MemoryTypeIndex: 2,
		DedicatedBuffer: fakeBuffer{id: 3},
		DeviceAddress:   true,
	})

	require.Equal(t, core1_0.MemoryAllocateInfo{
		AllocationSize:  4096,
		MemoryTypeIndex: 2,
	}, info)
}
