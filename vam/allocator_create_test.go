package vam

import (
	"bytes"
	"io"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
	"go.uber.org/mock/gomock"
	"golang.org/x/exp/slog"
)

func TestNewRequiresDevices(t *testing.T) {
	ctrl := gomock.NewController(t)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	_, err := New(logger, AllocatorCreateDesc{
		Device: NewMockDevice(ctrl),
	})
	require.ErrorIs(t, err, ErrInvalidAllocatorCreateDesc)

	_, err = New(logger, AllocatorCreateDesc{
		PhysicalDevice: NewMockPhysicalDevice(ctrl),
	})
	require.ErrorIs(t, err, ErrInvalidAllocatorCreateDesc)
}

func TestNewPropertiesFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	physicalDevice := NewMockPhysicalDevice(ctrl)
	physicalDevice.EXPECT().Properties().Return(nil, errors.New("lost device"))

	_, err := New(nil, AllocatorCreateDesc{
		Device:         NewMockDevice(ctrl),
		PhysicalDevice: physicalDevice,
	})
	require.ErrorIs(t, err, ErrInvalidAllocatorCreateDesc)
	require.ErrorContains(t, err, "lost device")
}

func TestNewInvalidMemoryProperties(t *testing.T) {
	testCases := map[string]struct {
		Granularity int
		MemoryTypes []core1_0.MemoryType
	}{
		"GranularityNotPowerOfTwo": {
			Granularity: 1000,
			MemoryTypes: standardMemoryTypes(),
		},
		"HeapIndexOutOfRange": {
			Granularity: 1,
			MemoryTypes: []core1_0.MemoryType{
				{
					PropertyFlags: core1_0.MemoryPropertyDeviceLocal,
					HeapIndex:     2,
				},
			},
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			physicalDevice := NewMockPhysicalDevice(ctrl)
			physicalDevice.EXPECT().Properties().Return(&core1_0.PhysicalDeviceProperties{
				Limits: &core1_0.PhysicalDeviceLimits{
					BufferImageGranularity: testCase.Granularity,
				},
			}, nil)
			physicalDevice.EXPECT().MemoryProperties().Return(&core1_0.PhysicalDeviceMemoryProperties{
				MemoryTypes: testCase.MemoryTypes,
				MemoryHeaps: standardMemoryHeaps(),
			})

			_, err := New(slog.New(slog.NewJSONHandler(io.Discard, nil)), AllocatorCreateDesc{
				Device:         NewMockDevice(ctrl),
				PhysicalDevice: physicalDevice,
			})
			require.ErrorIs(t, err, ErrInvalidAllocatorCreateDesc)
		})
	}
}

func TestNewReadsDeviceLimits(t *testing.T) {
	ctrl := gomock.NewController(t)

	var logOutput bytes.Buffer
	_, allocator := readyAllocator(t, ctrl, AllocatorSetup{
		Logger: slog.New(slog.NewTextHandler(&logOutput, &slog.HandlerOptions{Level: slog.LevelDebug})),
		DeviceProperties: core1_0.PhysicalDeviceProperties{
			Limits: &core1_0.PhysicalDeviceLimits{
				BufferImageGranularity: 1024,
			},
		},
		DebugSettings: DebugSettings{
			LogMemoryInformation: true,
		},
	})

	require.Equal(t, 3, allocator.MemoryTypeCount())
	require.Equal(t, 2, allocator.MemoryHeapCount())
	require.Equal(t, 1024, allocator.BufferImageGranularity())
	require.Equal(t, DefaultAllocationSizes(), allocator.AllocationSizes())

	output := logOutput.String()
	require.Contains(t, output, "memory information")
	require.Contains(t, output, "256 MiB")
}

func TestAdjustMemblockSize(t *testing.T) {
	testCases := map[string]struct {
		Requested int
		Expected  int
		Warns     bool
	}{
		"Unset": {
			Requested: 0,
			Expected:  defaultHostMemblockSize,
		},
		"Exact": {
			Requested: 12 * mebibyte,
			Expected:  12 * mebibyte,
		},
		"TooSmall": {
			Requested: mebibyte,
			Expected:  4 * mebibyte,
			Warns:     true,
		},
		"TooLarge": {
			Requested: 1024 * mebibyte,
			Expected:  256 * mebibyte,
			Warns:     true,
		},
		"Unaligned": {
			Requested: 5 * mebibyte,
			Expected:  8 * mebibyte,
			Warns:     true,
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			var logOutput bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&logOutput, nil))

			adjusted := adjustMemblockSize(logger, "HostMemblockSize", testCase.Requested, defaultHostMemblockSize)
			require.Equal(t, testCase.Expected, adjusted)

			if testCase.Warns {
				require.Contains(t, logOutput.String(), "level=WARN")
				require.Contains(t, logOutput.String(), "HostMemblockSize")
			} else {
				require.Empty(t, logOutput.String())
			}
		})
	}
}

func TestAllocationSizesFromEnv(t *testing.T) {
	t.Setenv("GPUALLOC_DEVICE_MEMBLOCK_SIZE", "8388608")

	sizes, err := AllocationSizesFromEnv("GPUALLOC")
	require.NoError(t, err)
	require.Equal(t, 8*mebibyte, sizes.DeviceMemblockSize)
	require.Equal(t, 0, sizes.HostMemblockSize)

	adjusted := sizes.adjusted(slog.New(slog.NewJSONHandler(io.Discard, nil)))
	require.Equal(t, AllocationSizes{
		DeviceMemblockSize: 8 * mebibyte,
		HostMemblockSize:   defaultHostMemblockSize,
	}, adjusted)

	t.Setenv("GPUALLOC_HOST_MEMBLOCK_SIZE", "lots")
	_, err = AllocationSizesFromEnv("GPUALLOC")
	require.Error(t, err)
}

func TestDebugSettingsFromEnv(t *testing.T) {
	settings, err := DebugSettingsFromEnv("GPUALLOC")
	require.NoError(t, err)
	require.Equal(t, DefaultDebugSettings(), settings)

	t.Setenv("GPUALLOC_LOG_LEAKS_ON_SHUTDOWN", "false")
	t.Setenv("GPUALLOC_LOG_ALLOCATIONS", "true")
	t.Setenv("GPUALLOC_STORE_STACK_TRACES", "1")

	settings, err = DebugSettingsFromEnv("GPUALLOC")
	require.NoError(t, err)
	require.Equal(t, DebugSettings{
		LogAllocations:   true,
		StoreStackTraces: true,
	}, settings)
}
