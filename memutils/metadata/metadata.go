package metadata

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/gpualloc/memutils"
	"golang.org/x/exp/slog"
)

// SubAllocator manages the suballocations within a single large block of memory. The block itself
// is owned by the consumer; the SubAllocator only tracks which byte ranges of it are in use. Every
// successful Allocate yields a ChunkID which must be passed back to Free exactly once.
type SubAllocator interface {
	memutils.Validatable

	// Allocate reserves size bytes from the block, aligned to alignment, and returns the offset of the
	// new range within the block along with the chunk id that identifies it. allocType is used along
	// with granularity to keep linear and non-linear resources from sharing a page of the block.
	//
	// The implementation must return an error wrapping memutils.ErrOutOfMemory if the block does not have
	// room for the request, so that consumers can move on to another block. Any other error indicates
	// a bug.
	Allocate(size int, alignment uint, allocType AllocationType, granularity int, name string, stackTrace string) (int, ChunkID, error)
	// Free releases the chunk with the provided id. The implementation must return an error wrapping
	// memutils.ErrInternal if the id does not identify a live chunk.
	Free(chunkID ChunkID) error
	// RenameAllocation changes the name recorded for a live chunk
	RenameAllocation(chunkID ChunkID, name string) error

	// ReportMemoryLeaks logs every live chunk at the provided level
	ReportMemoryLeaks(logger *slog.Logger, level slog.Level, memoryTypeIndex, memoryBlockIndex int)
	// ReportAllocations lists every live chunk, ordered by offset
	ReportAllocations() []AllocationReport

	// SupportsGeneralAllocations returns true if the block can hold more than one chunk over its
	// lifetime. Blocks that do not are released by the consumer as soon as they are empty.
	SupportsGeneralAllocations() bool
	// Size returns the size of the block in bytes
	Size() int
	// Allocated returns the number of bytes currently reserved, including alignment padding
	Allocated() int
	// IsEmpty returns true if the block has no live chunks
	IsEmpty() bool

	// AddStatistics sums this block's allocation statistics into the provided memutils.Statistics object
	AddStatistics(stats *memutils.Statistics)
	// AddDetailedStatistics sums this block's allocation statistics into the provided
	// memutils.DetailedStatistics object
	AddDetailedStatistics(stats *memutils.DetailedStatistics)
	// BlockJsonData populates a json object with information about this block and its chunks
	BlockJsonData(json jwriter.ObjectState)
}

// AllocationReport describes a single live chunk
type AllocationReport struct {
	Name   string
	Offset int
	Size   int
}

func blockJsonHeader(json jwriter.ObjectState, size, unusedBytes, allocationCount, unusedRangeCount int) {
	json.Name("TotalBytes").Int(size)
	json.Name("UnusedBytes").Int(unusedBytes)
	json.Name("Allocations").Int(allocationCount)
	json.Name("UnusedRanges").Int(unusedRangeCount)
}
