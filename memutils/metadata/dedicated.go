package metadata

import (
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/gpualloc/memutils"
	"golang.org/x/exp/slog"
)

const dedicatedChunkID ChunkID = 1

// DedicatedBlockMetadata is a SubAllocator for a block that holds exactly one allocation covering
// the entire block. The block is expected to be released as soon as that allocation is freed.
type DedicatedBlockMetadata struct {
	size      int
	allocated int

	name       string
	stackTrace string
}

var _ SubAllocator = &DedicatedBlockMetadata{}

func NewDedicatedBlockMetadata(size int) *DedicatedBlockMetadata {
	return &DedicatedBlockMetadata{size: size}
}

func (m *DedicatedBlockMetadata) Size() int                        { return m.size }
func (m *DedicatedBlockMetadata) Allocated() int                   { return m.allocated }
func (m *DedicatedBlockMetadata) IsEmpty() bool                    { return m.allocated == 0 }
func (m *DedicatedBlockMetadata) SupportsGeneralAllocations() bool { return false }

func (m *DedicatedBlockMetadata) Allocate(size int, alignment uint, allocType AllocationType, granularity int, name string, stackTrace string) (int, ChunkID, error) {
	if m.allocated != 0 {
		return 0, NullChunkID, errors.Wrap(memutils.ErrOutOfMemory, "dedicated block is already in use")
	}

	if m.size != size {
		return 0, NullChunkID, errors.Wrapf(memutils.ErrInternal, "dedicated block is %d bytes but %d were requested", m.size, size)
	}

	m.allocated = size
	m.name = name
	m.stackTrace = stackTrace

	return 0, dedicatedChunkID, nil
}

func (m *DedicatedBlockMetadata) checkChunkID(chunkID ChunkID) error {
	if chunkID != dedicatedChunkID {
		return errors.Wrapf(memutils.ErrInternal, "chunk id %d does not belong to a dedicated block", chunkID)
	}
	if m.allocated == 0 {
		return errors.Wrap(memutils.ErrInternal, "dedicated block has no live allocation")
	}
	return nil
}

func (m *DedicatedBlockMetadata) Free(chunkID ChunkID) error {
	err := m.checkChunkID(chunkID)
	if err != nil {
		return err
	}

	m.allocated = 0
	m.name = ""
	m.stackTrace = ""
	return nil
}

func (m *DedicatedBlockMetadata) RenameAllocation(chunkID ChunkID, name string) error {
	err := m.checkChunkID(chunkID)
	if err != nil {
		return err
	}

	m.name = name
	return nil
}

func (m *DedicatedBlockMetadata) chunk() *memoryChunk {
	return &memoryChunk{
		id:         dedicatedChunkID,
		size:       m.allocated,
		offset:     0,
		allocType:  AllocationTypeLinear,
		name:       m.name,
		stackTrace: m.stackTrace,
	}
}

func (m *DedicatedBlockMetadata) ReportMemoryLeaks(logger *slog.Logger, level slog.Level, memoryTypeIndex, memoryBlockIndex int) {
	if m.IsEmpty() {
		return
	}

	logLeakedChunk(logger, level, memoryTypeIndex, memoryBlockIndex, m.chunk())
}

func (m *DedicatedBlockMetadata) ReportAllocations() []AllocationReport {
	if m.IsEmpty() {
		return nil
	}

	return []AllocationReport{
		{
			Name:   m.name,
			Offset: 0,
			Size:   m.allocated,
		},
	}
}

func (m *DedicatedBlockMetadata) AddStatistics(stats *memutils.Statistics) {
	stats.BlockCount++
	stats.BlockBytes += m.size

	if !m.IsEmpty() {
		stats.AllocationCount++
		stats.AllocationBytes += m.allocated
	}
}

func (m *DedicatedBlockMetadata) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.BlockCount++
	stats.BlockBytes += m.size

	if m.IsEmpty() {
		stats.AddUnusedRange(m.size)
	} else {
		stats.AddAllocation(m.allocated)
	}
}

func (m *DedicatedBlockMetadata) BlockJsonData(json jwriter.ObjectState) {
	allocationCount, unusedRanges := 1, 0
	if m.IsEmpty() {
		allocationCount, unusedRanges = 0, 1
	}
	blockJsonHeader(json, m.size, m.size-m.allocated, allocationCount, unusedRanges)

	if !m.IsEmpty() {
		json.Name("Name").String(m.name)
	}
}

func (m *DedicatedBlockMetadata) Validate() error {
	if m.allocated != 0 && m.allocated != m.size {
		return errors.Wrapf(memutils.ErrInternal, "dedicated block of %d bytes has %d bytes allocated", m.size, m.allocated)
	}
	return nil
}
