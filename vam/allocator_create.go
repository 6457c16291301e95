package vam

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/kelseyhightower/envconfig"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/gpualloc/memutils"
	"golang.org/x/exp/slog"
)

const (
	mebibyte int = 1024 * 1024

	// defaultDeviceMemblockSize is used as the DeviceMemblockSize when none is provided. It is
	// equal to 256MiB.
	defaultDeviceMemblockSize int = 256 * mebibyte
	// defaultHostMemblockSize is used as the HostMemblockSize when none is provided. It is
	// equal to 64MiB.
	defaultHostMemblockSize int = 64 * mebibyte

	minMemblockSize         int = 4 * mebibyte
	maxMemblockSize         int = 256 * mebibyte
	memblockSizeGranularity int = 4 * mebibyte
)

// AllocationSizes controls the size of the blocks that pooled allocations are placed in.
// Allocations larger than the block size of their memory type receive a block of their own.
type AllocationSizes struct {
	// DeviceMemblockSize is the block size used for memory types that are not host-visible. 0
	// means 256MiB.
	DeviceMemblockSize int `envconfig:"DEVICE_MEMBLOCK_SIZE"`
	// HostMemblockSize is the block size used for host-visible memory types. 0 means 64MiB.
	HostMemblockSize int `envconfig:"HOST_MEMBLOCK_SIZE"`
}

func DefaultAllocationSizes() AllocationSizes {
	return AllocationSizes{
		DeviceMemblockSize: defaultDeviceMemblockSize,
		HostMemblockSize:   defaultHostMemblockSize,
	}
}

// AllocationSizesFromEnv reads AllocationSizes from the environment variables
// <prefix>_DEVICE_MEMBLOCK_SIZE and <prefix>_HOST_MEMBLOCK_SIZE. Unset variables are left at 0,
// which New replaces with the defaults.
func AllocationSizesFromEnv(prefix string) (AllocationSizes, error) {
	var sizes AllocationSizes
	err := envconfig.Process(prefix, &sizes)
	if err != nil {
		return AllocationSizes{}, errors.Wrap(err, "could not read allocation sizes from environment")
	}
	return sizes, nil
}

func adjustMemblockSize(logger *slog.Logger, name string, size, defaultSize int) int {
	if size == 0 {
		return defaultSize
	}

	adjusted := size
	if adjusted < minMemblockSize {
		adjusted = minMemblockSize
	} else if adjusted > maxMemblockSize {
		adjusted = maxMemblockSize
	}
	adjusted = memutils.AlignUp(adjusted, uint(memblockSizeGranularity))

	if adjusted != size {
		logger.LogAttrs(context.Background(), slog.LevelWarn,
			"memory block size must be a multiple of 4MiB between 4MiB and 256MiB, adjusting",
			slog.String("setting", name),
			slog.Int("requested", size),
			slog.String("adjusted", humanize.IBytes(uint64(adjusted))),
		)
	}

	return adjusted
}

func (s AllocationSizes) adjusted(logger *slog.Logger) AllocationSizes {
	return AllocationSizes{
		DeviceMemblockSize: adjustMemblockSize(logger, "DeviceMemblockSize", s.DeviceMemblockSize, defaultDeviceMemblockSize),
		HostMemblockSize:   adjustMemblockSize(logger, "HostMemblockSize", s.HostMemblockSize, defaultHostMemblockSize),
	}
}

// DebugSettings controls the diagnostic output of the Allocator. Most programs should start from
// DefaultDebugSettings, since the zero value disables leak reporting.
type DebugSettings struct {
	// LogMemoryInformation logs every memory type and heap when the Allocator is created
	LogMemoryInformation bool `envconfig:"LOG_MEMORY_INFORMATION"`
	// LogLeaksOnShutdown reports every outstanding allocation at warn level during Allocator.Destroy
	LogLeaksOnShutdown bool `envconfig:"LOG_LEAKS_ON_SHUTDOWN" default:"true"`
	// StoreStackTraces captures a stack trace for every allocation so that it can be printed in
	// leak reports. This is expensive.
	StoreStackTraces bool `envconfig:"STORE_STACK_TRACES"`
	// LogAllocations logs every call to Allocator.Allocate at debug level
	LogAllocations bool `envconfig:"LOG_ALLOCATIONS"`
	// LogFrees logs every call to Allocator.Free at debug level
	LogFrees bool `envconfig:"LOG_FREES"`
	// LogStackTraces adds the caller's stack trace to the messages produced by LogAllocations
	// and LogFrees
	LogStackTraces bool `envconfig:"LOG_STACK_TRACES"`
}

func DefaultDebugSettings() DebugSettings {
	return DebugSettings{
		LogLeaksOnShutdown: true,
	}
}

// DebugSettingsFromEnv reads DebugSettings from environment variables named <prefix>_LOG_ALLOCATIONS,
// <prefix>_LOG_FREES, and so on. Unset variables take the values from DefaultDebugSettings.
func DebugSettingsFromEnv(prefix string) (DebugSettings, error) {
	var settings DebugSettings
	err := envconfig.Process(prefix, &settings)
	if err != nil {
		return DebugSettings{}, errors.Wrap(err, "could not read debug settings from environment")
	}
	return settings, nil
}

// AllocatorCreateDesc contains the settings used to create an Allocator. Device and
// PhysicalDevice are required.
type AllocatorCreateDesc struct {
	// Device performs native memory operations. vam/vulkan.NewDevice wraps a core1_0.Device.
	Device Device
	// PhysicalDevice is the PhysicalDevice that owns Device
	PhysicalDevice PhysicalDevice
	DebugSettings  DebugSettings
	// BufferDeviceAddress should be true if the bufferDeviceAddress feature is enabled on the
	// device and buffers bound to this allocator's memory may be used with it. Every native memory
	// object will be allocated with the device address flag.
	BufferDeviceAddress bool
	AllocationSizes     AllocationSizes
	// MemoryCallbacks, if not nil, is informed of every native memory object the Allocator
	// allocates and frees
	MemoryCallbacks *MemoryCallbacks
}

// New creates a new Allocator. The memory types and heaps of the physical device are enumerated
// once, here.
func New(logger *slog.Logger, desc AllocatorCreateDesc) (*Allocator, error) {
	if desc.PhysicalDevice == nil {
		return nil, errors.Wrap(ErrInvalidAllocatorCreateDesc, "PhysicalDevice must not be nil")
	}
	if desc.Device == nil {
		return nil, errors.Wrap(ErrInvalidAllocatorCreateDesc, "Device must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	deviceProperties, err := desc.PhysicalDevice.Properties()
	if err != nil {
		return nil, wrapCause(ErrInvalidAllocatorCreateDesc, err, "could not retrieve physical device properties")
	}

	memoryProperties := desc.PhysicalDevice.MemoryProperties()
	if memoryProperties == nil {
		return nil, errors.Wrap(ErrInvalidAllocatorCreateDesc, "physical device did not report memory properties")
	}

	granularity := 1
	if deviceProperties != nil && deviceProperties.Limits != nil && deviceProperties.Limits.BufferImageGranularity > 1 {
		granularity = int(deviceProperties.Limits.BufferImageGranularity)
		err = memutils.CheckPow2(granularity, "BufferImageGranularity")
		if err != nil {
			return nil, wrapCause(ErrInvalidAllocatorCreateDesc, err, "invalid device limits")
		}
	}

	allocator := &Allocator{
		logger:                 logger,
		device:                 desc.Device,
		bufferImageGranularity: granularity,
		debugSettings:          desc.DebugSettings,
		allocationSizes:        desc.AllocationSizes.adjusted(logger),
		memoryHeaps:            append([]core1_0.MemoryHeap(nil), memoryProperties.MemoryHeaps...),
	}
	callbacks := &memoryCallbacks{
		options:   desc.MemoryCallbacks,
		allocator: allocator,
	}

	for typeIndex, memType := range memoryProperties.MemoryTypes {
		if memType.HeapIndex < 0 || memType.HeapIndex >= len(allocator.memoryHeaps) {
			return nil, errors.Wrapf(ErrInvalidAllocatorCreateDesc, "memory type %d refers to heap %d, but only %d heaps exist",
				typeIndex, memType.HeapIndex, len(allocator.memoryHeaps))
		}

		allocator.memoryTypes = append(allocator.memoryTypes, &memoryType{
			logger:              logger,
			callbacks:           callbacks,
			memoryTypeIndex:     typeIndex,
			heapIndex:           memType.HeapIndex,
			memoryProperties:    memType.PropertyFlags,
			mappable:            memType.PropertyFlags&core1_0.MemoryPropertyHostVisible != 0,
			bufferDeviceAddress: desc.BufferDeviceAddress,
		})
	}

	if desc.DebugSettings.LogMemoryInformation {
		allocator.logMemoryInformation()
	}

	return allocator, nil
}

func (a *Allocator) logMemoryInformation() {
	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "memory information",
		slog.Int("memoryTypeCount", len(a.memoryTypes)),
		slog.Int("memoryHeapCount", len(a.memoryHeaps)),
		slog.Int("bufferImageGranularity", a.bufferImageGranularity),
	)

	for _, memType := range a.memoryTypes {
		a.logger.LogAttrs(context.Background(), slog.LevelDebug, "memory type",
			slog.Int("index", memType.memoryTypeIndex),
			slog.Int("heapIndex", memType.heapIndex),
			slog.String("flags", memType.memoryProperties.String()),
		)
	}

	for heapIndex, heap := range a.memoryHeaps {
		a.logger.LogAttrs(context.Background(), slog.LevelDebug, "memory heap",
			slog.Int("index", heapIndex),
			slog.String("size", humanize.IBytes(uint64(heap.Size))),
			slog.String("flags", heap.Flags.String()),
		)
	}
}
