package vam

import (
	"context"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/gpualloc/memutils"
	"github.com/vkngwrapper/gpualloc/memutils/metadata"
	"golang.org/x/exp/slog"
)

// memoryType holds every block allocated from a single memory type index. Blocks are stored in
// a sparse slice: when a block is destroyed its slot becomes nil, and the lowest nil slot is
// reused by the next block, so that Allocation.memoryBlockIndex stays stable.
type memoryType struct {
	logger    *slog.Logger
	callbacks *memoryCallbacks

	memoryBlocks        []*memoryBlock
	memoryProperties    core1_0.MemoryPropertyFlags
	memoryTypeIndex     int
	heapIndex           int
	mappable            bool
	activeGeneralBlocks int
	bufferDeviceAddress bool
}

func (t *memoryType) insertBlock(block *memoryBlock) int {
	for blockIndex, existing := range t.memoryBlocks {
		if existing == nil {
			t.memoryBlocks[blockIndex] = block
			return blockIndex
		}
	}

	t.memoryBlocks = append(t.memoryBlocks, block)
	return len(t.memoryBlocks) - 1
}

func (t *memoryType) createBlock(device Device, size int, scheme AllocationScheme, requiresPersonalBlock bool) (*memoryBlock, error) {
	block, err := newMemoryBlock(device, size, t.memoryTypeIndex, t.mappable, t.bufferDeviceAddress, scheme, requiresPersonalBlock)
	if err != nil {
		return nil, err
	}

	t.callbacks.allocated(t.memoryTypeIndex, block)
	return block, nil
}

func (t *memoryType) destroyBlock(device Device, block *memoryBlock) {
	t.callbacks.freed(t.memoryTypeIndex, block)
	block.destroy(device)
}

func (t *memoryType) memblockSize(sizes AllocationSizes) int {
	if t.memoryProperties&core1_0.MemoryPropertyHostVisible != 0 {
		return sizes.HostMemblockSize
	}
	return sizes.DeviceMemblockSize
}

func (t *memoryType) newAllocation(block *memoryBlock, blockIndex int, chunkID metadata.ChunkID, offset int, desc *AllocationCreateDesc) Allocation {
	var mappedPtr unsafe.Pointer
	if block.mappedPtr != nil {
		mappedPtr = unsafe.Add(block.mappedPtr, offset)
	}

	allocation := Allocation{
		chunkID:          chunkID,
		offset:           offset,
		size:             int(desc.Requirements.Size),
		memoryBlockIndex: blockIndex,
		memoryTypeIndex:  t.memoryTypeIndex,
		memory:           block.memory,
		mappedPtr:        mappedPtr,
		memoryProperties: t.memoryProperties,
		dedicated:        desc.AllocationScheme.IsDedicated(),
		name:             desc.Name,
	}
	allocation.fillAllocation(createdFillPattern)

	return allocation
}

func (t *memoryType) allocate(device Device, desc *AllocationCreateDesc, granularity int, stackTrace string, sizes AllocationSizes) (Allocation, error) {
	allocType := metadata.AllocationTypeNonLinear
	if desc.Linear {
		allocType = metadata.AllocationTypeLinear
	}

	size := int(desc.Requirements.Size)
	alignment := uint(desc.Requirements.Alignment)
	memblockSize := t.memblockSize(sizes)

	requiresPersonalBlock := size > memblockSize

	if desc.AllocationScheme.IsDedicated() || requiresPersonalBlock {
		// Only pass the dedicated hint when it was asked for
		scheme := desc.AllocationScheme
		if !scheme.IsDedicated() {
			scheme = AllocationSchemeManaged
		}

		block, err := t.createBlock(device, size, scheme, requiresPersonalBlock)
		if err != nil {
			return Allocation{}, err
		}

		offset, chunkID, err := block.subAllocator.Allocate(size, alignment, allocType, granularity, desc.Name, stackTrace)
		if err != nil {
			t.destroyBlock(device, block)
			return Allocation{}, wrapCause(ErrInternal, err, "could not allocate from a dedicated block")
		}

		blockIndex := t.insertBlock(block)
		memutils.DebugValidate(block)

		t.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Allocated dedicated block",
			slog.Int("memoryType", t.memoryTypeIndex),
			slog.Int("memoryBlock", blockIndex),
			slog.Int("size", size),
		)

		return t.newAllocation(block, blockIndex, chunkID, offset, desc), nil
	}

	// Most recently created blocks first
	for blockIndex := len(t.memoryBlocks) - 1; blockIndex >= 0; blockIndex-- {
		block := t.memoryBlocks[blockIndex]
		if block == nil {
			continue
		}

		offset, chunkID, err := block.subAllocator.Allocate(size, alignment, allocType, granularity, desc.Name, stackTrace)
		if errors.Is(err, ErrOutOfMemory) {
			continue
		} else if err != nil {
			return Allocation{}, err
		}

		memutils.DebugValidate(block)
		t.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Returned from existing block",
			slog.Int("memoryType", t.memoryTypeIndex),
			slog.Int("memoryBlock", blockIndex),
		)

		return t.newAllocation(block, blockIndex, chunkID, offset, desc), nil
	}

	block, err := t.createBlock(device, memblockSize, AllocationSchemeManaged, false)
	if err != nil {
		return Allocation{}, err
	}

	offset, chunkID, err := block.subAllocator.Allocate(size, alignment, allocType, granularity, desc.Name, stackTrace)
	if err != nil {
		t.destroyBlock(device, block)
		return Allocation{}, wrapCause(ErrInternal, err, "allocation from a new memory block failed")
	}

	blockIndex := t.insertBlock(block)
	t.activeGeneralBlocks++

	memutils.DebugValidate(block)
	t.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Created new block",
		slog.Int("memoryType", t.memoryTypeIndex),
		slog.Int("memoryBlock", blockIndex),
		slog.Int("size", memblockSize),
	)

	return t.newAllocation(block, blockIndex, chunkID, offset, desc), nil
}

func (t *memoryType) block(blockIndex int) (*memoryBlock, error) {
	if blockIndex < 0 || blockIndex >= len(t.memoryBlocks) || t.memoryBlocks[blockIndex] == nil {
		return nil, errors.Wrapf(ErrInternal, "memory block %d of memory type %d does not exist", blockIndex, t.memoryTypeIndex)
	}

	return t.memoryBlocks[blockIndex], nil
}

func (t *memoryType) free(allocation *Allocation, device Device) error {
	blockIndex := allocation.memoryBlockIndex
	block, err := t.block(blockIndex)
	if err != nil {
		return err
	}

	err = block.subAllocator.Free(allocation.chunkID)
	if err != nil {
		return err
	}
	allocation.fillAllocation(destroyedFillPattern)
	memutils.DebugValidate(block)

	if !block.subAllocator.IsEmpty() {
		return nil
	}

	if block.subAllocator.SupportsGeneralAllocations() {
		// Keep the last general block around so that alloc/free cycles don't hit the driver
		if t.activeGeneralBlocks <= 1 {
			return nil
		}
		t.activeGeneralBlocks--
	}

	t.memoryBlocks[blockIndex] = nil
	t.destroyBlock(device, block)

	t.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Deleted empty block",
		slog.Int("memoryType", t.memoryTypeIndex),
		slog.Int("memoryBlock", blockIndex),
	)

	return nil
}

func (t *memoryType) destroyBlocks(device Device) {
	for blockIndex, block := range t.memoryBlocks {
		if block == nil {
			continue
		}

		t.destroyBlock(device, block)
		t.memoryBlocks[blockIndex] = nil
	}

	t.memoryBlocks = nil
	t.activeGeneralBlocks = 0
}

func (t *memoryType) addStatistics(stats *memutils.Statistics) {
	for _, block := range t.memoryBlocks {
		if block != nil {
			block.subAllocator.AddStatistics(stats)
		}
	}
}

func (t *memoryType) addDetailedStatistics(stats *memutils.DetailedStatistics) {
	for _, block := range t.memoryBlocks {
		if block != nil {
			block.subAllocator.AddDetailedStatistics(stats)
		}
	}
}

func (t *memoryType) printDetailedMap(json jwriter.ObjectState) {
	blocks := json.Name("Blocks").Array()
	defer blocks.End()

	for blockIndex, block := range t.memoryBlocks {
		if block == nil {
			continue
		}

		blockObj := blocks.Object()
		blockObj.Name("Index").Int(blockIndex)
		block.printDetailedMap(blockObj)
		blockObj.End()
	}
}

func (t *memoryType) Validate() error {
	generalBlocks := 0
	for blockIndex, block := range t.memoryBlocks {
		if block == nil {
			continue
		}

		if block.subAllocator.SupportsGeneralAllocations() {
			generalBlocks++
		}

		err := block.Validate()
		if err != nil {
			return errors.Wrapf(err, "memory block %d", blockIndex)
		}
	}

	if generalBlocks != t.activeGeneralBlocks {
		return errors.Wrapf(ErrInternal, "memory type %d has %d general blocks but counts %d", t.memoryTypeIndex, generalBlocks, t.activeGeneralBlocks)
	}

	return nil
}
