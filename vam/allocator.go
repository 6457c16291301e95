package vam

import (
	"context"
	"runtime/debug"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/gpualloc/memutils"
	"golang.org/x/exp/slog"
)

// Allocator suballocates device memory for buffers and images. It is not safe for concurrent
// use: callers that share an Allocator between goroutines must serialize calls to it. Pointers
// retrieved from Allocation.MappedPtr may be used from any goroutine.
type Allocator struct {
	logger *slog.Logger
	device Device

	memoryTypes            []*memoryType
	memoryHeaps            []core1_0.MemoryHeap
	bufferImageGranularity int
	debugSettings          DebugSettings
	allocationSizes        AllocationSizes

	destroyed bool
}

// MemoryTypeCount returns the number of memory types reported by the physical device
func (a *Allocator) MemoryTypeCount() int { return len(a.memoryTypes) }

// MemoryHeapCount returns the number of memory heaps reported by the physical device
func (a *Allocator) MemoryHeapCount() int { return len(a.memoryHeaps) }

// BufferImageGranularity returns the granularity used to keep linear and non-linear resources
// from sharing a page
func (a *Allocator) BufferImageGranularity() int { return a.bufferImageGranularity }

// AllocationSizes returns the block sizes in use, after defaults and clamping have been applied
func (a *Allocator) AllocationSizes() AllocationSizes { return a.allocationSizes }

func (a *Allocator) findMemoryTypeIndex(requirements *core1_0.MemoryRequirements, flags core1_0.MemoryPropertyFlags) (int, bool) {
	for _, memType := range a.memoryTypes {
		if (1<<memType.memoryTypeIndex)&uint32(requirements.MemoryTypeBits) == 0 {
			continue
		}

		if memType.memoryProperties&flags == flags {
			return memType.memoryTypeIndex, true
		}
	}

	return -1, false
}

func (a *Allocator) allocateFromType(memoryTypeIndex int, desc *AllocationCreateDesc, stackTrace string) (Allocation, error) {
	memType := a.memoryTypes[memoryTypeIndex]

	// Don't ask the driver for something the heap can never hold
	heapSize := a.memoryHeaps[memType.heapIndex].Size
	if int(desc.Requirements.Size) > heapSize {
		return Allocation{}, errors.Wrapf(ErrOutOfMemory, "allocation of %d bytes is larger than memory heap %d (%d bytes)",
			int(desc.Requirements.Size), memType.heapIndex, heapSize)
	}

	return memType.allocate(a.device, desc, a.bufferImageGranularity, stackTrace, a.allocationSizes)
}

// Allocate reserves memory matching desc. The returned Allocation must eventually be passed to
// Free.
func (a *Allocator) Allocate(desc AllocationCreateDesc) (Allocation, error) {
	if a.destroyed {
		return Allocation{}, errors.Wrap(ErrInternal, "allocator has been destroyed")
	}

	size := int(desc.Requirements.Size)
	alignment := int(desc.Requirements.Alignment)

	var stackTrace string
	if a.debugSettings.StoreStackTraces {
		stackTrace = string(debug.Stack())
	}

	if a.debugSettings.LogAllocations {
		attrs := []slog.Attr{
			slog.String("name", desc.Name),
			slog.Int("size", size),
			slog.Int("alignment", alignment),
			slog.String("location", desc.Location.String()),
			slog.String("scheme", desc.AllocationScheme.String()),
		}
		if a.debugSettings.LogStackTraces {
			attrs = append(attrs, slog.String("stackTrace", string(debug.Stack())))
		}
		a.logger.LogAttrs(context.Background(), slog.LevelDebug, "Allocator::Allocate", attrs...)
	}

	if size <= 0 {
		return Allocation{}, errors.Wrapf(ErrInvalidAllocationCreateDesc, "allocation '%s' has size %d", desc.Name, size)
	}
	if alignment <= 0 {
		return Allocation{}, errors.Wrapf(ErrInvalidAllocationCreateDesc, "allocation '%s' has alignment %d", desc.Name, alignment)
	}
	err := memutils.CheckPow2(alignment, "alignment")
	if err != nil {
		return Allocation{}, wrapCause(ErrInvalidAllocationCreateDesc, err, "allocation '"+desc.Name+"' has an invalid alignment")
	}

	memoryTypeIndex, found := a.findMemoryTypeIndex(&desc.Requirements, desc.Location.preferredFlags())
	if !found {
		memoryTypeIndex, found = a.findMemoryTypeIndex(&desc.Requirements, desc.Location.requiredFlags())
	}
	if !found {
		return Allocation{}, errors.Wrapf(ErrNoCompatibleMemoryTypeFound, "memory type bits %#x with location %s",
			uint32(desc.Requirements.MemoryTypeBits), desc.Location)
	}

	allocation, err := a.allocateFromType(memoryTypeIndex, &desc, stackTrace)
	if err != nil && desc.Location == MemoryLocationCpuToGpu {
		// Not every device has host-visible device-local memory, and what it has is often small
		fallbackTypeIndex, fallbackFound := a.findMemoryTypeIndex(&desc.Requirements,
			core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent)
		if !fallbackFound {
			return Allocation{}, errors.Wrapf(ErrNoCompatibleMemoryTypeFound, "memory type bits %#x with location %s",
				uint32(desc.Requirements.MemoryTypeBits), desc.Location)
		}

		a.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Retrying CpuToGpu allocation without device-local memory",
			slog.Int("memoryType", fallbackTypeIndex),
			slog.Any("error", err),
		)
		allocation, err = a.allocateFromType(fallbackTypeIndex, &desc, stackTrace)
	}

	if err != nil {
		return Allocation{}, err
	}

	return allocation, nil
}

// Free returns an allocation's memory to the Allocator. Freeing a null allocation does nothing.
// An allocation must not be freed twice.
func (a *Allocator) Free(allocation Allocation) error {
	if a.debugSettings.LogFrees {
		attrs := []slog.Attr{
			slog.String("name", allocation.name),
		}
		if a.debugSettings.LogStackTraces {
			attrs = append(attrs, slog.String("stackTrace", string(debug.Stack())))
		}
		a.logger.LogAttrs(context.Background(), slog.LevelDebug, "Allocator::Free", attrs...)
	}

	if allocation.IsNull() {
		return nil
	}

	if a.destroyed {
		return errors.Wrap(ErrInternal, "allocator has been destroyed")
	}

	memType, err := a.memoryType(allocation.memoryTypeIndex)
	if err != nil {
		return err
	}

	return memType.free(&allocation, a.device)
}

func (a *Allocator) memoryType(memoryTypeIndex int) (*memoryType, error) {
	if memoryTypeIndex < 0 || memoryTypeIndex >= len(a.memoryTypes) {
		return nil, errors.Wrapf(ErrInternal, "memory type %d does not exist", memoryTypeIndex)
	}
	return a.memoryTypes[memoryTypeIndex], nil
}

// RenameAllocation changes the name of an allocation, as it appears in logs and reports
func (a *Allocator) RenameAllocation(allocation *Allocation, name string) error {
	allocation.name = name

	if allocation.IsNull() {
		return nil
	}

	memType, err := a.memoryType(allocation.memoryTypeIndex)
	if err != nil {
		return err
	}

	block, err := memType.block(allocation.memoryBlockIndex)
	if err != nil {
		return err
	}

	return block.subAllocator.RenameAllocation(allocation.chunkID, name)
}

// ReportMemoryLeaks logs every allocation that has not been freed at the provided level
func (a *Allocator) ReportMemoryLeaks(level slog.Level) {
	for memoryTypeIndex, memType := range a.memoryTypes {
		for blockIndex, block := range memType.memoryBlocks {
			if block == nil {
				continue
			}

			block.subAllocator.ReportMemoryLeaks(a.logger, level, memoryTypeIndex, blockIndex)
		}
	}
}

// Destroy releases every native memory object owned by the Allocator, whether or not allocations
// from it are still outstanding. Outstanding allocations are reported first if
// DebugSettings.LogLeaksOnShutdown is set. Calling Destroy more than once does nothing.
func (a *Allocator) Destroy() error {
	if a.destroyed {
		return nil
	}

	if a.debugSettings.LogLeaksOnShutdown {
		a.ReportMemoryLeaks(slog.LevelWarn)
	}

	for _, memType := range a.memoryTypes {
		memType.destroyBlocks(a.device)
	}

	a.destroyed = true
	return nil
}

// CalculateStatistics sums the statistics of every block in the Allocator
func (a *Allocator) CalculateStatistics() memutils.Statistics {
	var stats memutils.Statistics
	for _, memType := range a.memoryTypes {
		memType.addStatistics(&stats)
	}
	return stats
}

// CalculateDetailedStatistics collects detailed statistics for each memory type and heap, as well
// as a total
func (a *Allocator) CalculateDetailedStatistics() AllocatorStatistics {
	stats := AllocatorStatistics{
		MemoryTypes: make([]memutils.DetailedStatistics, len(a.memoryTypes)),
		MemoryHeaps: make([]memutils.DetailedStatistics, len(a.memoryHeaps)),
	}
	stats.Total.Clear()
	for i := range stats.MemoryTypes {
		stats.MemoryTypes[i].Clear()
	}
	for i := range stats.MemoryHeaps {
		stats.MemoryHeaps[i].Clear()
	}

	for typeIndex, memType := range a.memoryTypes {
		memType.addDetailedStatistics(&stats.MemoryTypes[typeIndex])
		stats.MemoryHeaps[memType.heapIndex].AddDetailedStatistics(&stats.MemoryTypes[typeIndex])
		stats.Total.AddDetailedStatistics(&stats.MemoryTypes[typeIndex])
	}

	return stats
}

// Validate runs internal consistency checks on every block in the Allocator and returns every
// failure found. It should never return an error; it exists to help diagnose allocator bugs.
func (a *Allocator) Validate() error {
	var result *multierror.Error

	for _, memType := range a.memoryTypes {
		err := memType.Validate()
		if err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "memory type %d", memType.memoryTypeIndex))
		}
	}

	return result.ErrorOrNil()
}
