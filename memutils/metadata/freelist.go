package metadata

import (
	"context"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/gpualloc/memutils"
	"golang.org/x/exp/slog"
)

type memoryChunk struct {
	id         ChunkID
	size       int
	offset     int
	allocType  AllocationType
	name       string
	stackTrace string

	next ChunkID
	prev ChunkID
}

// FreeListBlockMetadata is a general-purpose SubAllocator. Chunks form a doubly-linked list in offset
// order that always covers the whole block. Allocations are placed in the smallest free chunk that can
// hold them, splitting it, and freed chunks are merged with free neighbours.
type FreeListBlockMetadata struct {
	size      int
	allocated int

	chunkIDCounter ChunkID
	head           ChunkID
	chunks         *swiss.Map[ChunkID, *memoryChunk]
	freeChunks     *swiss.Map[ChunkID, struct{}]
}

var _ SubAllocator = &FreeListBlockMetadata{}

// NewFreeListBlockMetadata creates a FreeListBlockMetadata managing size bytes. The whole block
// starts out as a single free chunk.
func NewFreeListBlockMetadata(size int) *FreeListBlockMetadata {
	initialChunkID := ChunkID(1)

	m := &FreeListBlockMetadata{
		size:           size,
		chunkIDCounter: initialChunkID + 1,
		head:           initialChunkID,
		chunks:         swiss.NewMap[ChunkID, *memoryChunk](42),
		freeChunks:     swiss.NewMap[ChunkID, struct{}](42),
	}

	m.chunks.Put(initialChunkID, &memoryChunk{
		id:        initialChunkID,
		size:      size,
		offset:    0,
		allocType: AllocationTypeFree,
	})
	m.freeChunks.Put(initialChunkID, struct{}{})

	return m
}

func (m *FreeListBlockMetadata) Size() int                        { return m.size }
func (m *FreeListBlockMetadata) Allocated() int                   { return m.allocated }
func (m *FreeListBlockMetadata) SupportsGeneralAllocations() bool { return true }

// IsEmpty returns true when the block has merged back down to a single free chunk
func (m *FreeListBlockMetadata) IsEmpty() bool {
	return m.chunks.Count() == 1 && m.allocated == 0
}

func (m *FreeListBlockMetadata) nextChunkID() (ChunkID, error) {
	if m.chunkIDCounter == math.MaxUint64 {
		return NullChunkID, errors.Wrap(memutils.ErrInternal, "chunk id count overflow")
	}

	id := m.chunkIDCounter
	m.chunkIDCounter++
	return id, nil
}

func (m *FreeListBlockMetadata) getChunk(id ChunkID) (*memoryChunk, error) {
	chunk, ok := m.chunks.Get(id)
	if !ok {
		return nil, errors.Wrapf(memutils.ErrInternal, "chunk id %d does not exist in this block", id)
	}
	return chunk, nil
}

func (m *FreeListBlockMetadata) visitChunks(visit func(chunk *memoryChunk) error) error {
	for id := m.head; id != NullChunkID; {
		chunk, err := m.getChunk(id)
		if err != nil {
			return err
		}

		err = visit(chunk)
		if err != nil {
			return err
		}

		id = chunk.next
	}

	return nil
}

func (m *FreeListBlockMetadata) Allocate(size int, alignment uint, allocType AllocationType, granularity int, name string, stackTrace string) (int, ChunkID, error) {
	freeSize := m.size - m.allocated
	if size > freeSize {
		return 0, NullChunkID, errors.Wrapf(memutils.ErrOutOfMemory, "block has %d free bytes, %d requested", freeSize, size)
	}

	var bestFit *memoryChunk
	var bestOffset, bestAlignedSize int
	var iterErr error

	m.freeChunks.Iter(func(id ChunkID, _ struct{}) bool {
		chunk, err := m.getChunk(id)
		if err != nil {
			iterErr = err
			return true
		}

		if chunk.size < size {
			return false
		}

		offset := memutils.AlignUp(chunk.offset, alignment)

		if chunk.prev != NullChunkID {
			prev, err := m.getChunk(chunk.prev)
			if err != nil {
				iterErr = err
				return true
			}

			if IsOnSamePage(prev.offset, prev.size, offset, granularity) &&
				HasGranularityConflict(prev.allocType, allocType) {
				offset = memutils.AlignUp(offset, uint(granularity))
			}
		}

		padding := offset - chunk.offset
		alignedSize := padding + size

		if alignedSize > chunk.size {
			return false
		}

		if chunk.next != NullChunkID {
			next, err := m.getChunk(chunk.next)
			if err != nil {
				iterErr = err
				return true
			}

			if IsOnSamePage(offset, size, next.offset, granularity) &&
				HasGranularityConflict(allocType, next.allocType) {
				return false
			}
		}

		if bestFit == nil {
			bestFit, bestOffset, bestAlignedSize = chunk, offset, alignedSize
			return false
		}

		remaining := chunk.size - alignedSize
		bestRemaining := bestFit.size - bestAlignedSize
		if remaining < bestRemaining || (remaining == bestRemaining && chunk.offset < bestFit.offset) {
			bestFit, bestOffset, bestAlignedSize = chunk, offset, alignedSize
		}

		return false
	})

	if iterErr != nil {
		return 0, NullChunkID, iterErr
	}

	if bestFit == nil {
		return 0, NullChunkID, errors.Wrapf(memutils.ErrOutOfMemory, "no free chunk can hold %d bytes", size)
	}

	var chunkID ChunkID
	if bestFit.size > bestAlignedSize {
		newID, err := m.nextChunkID()
		if err != nil {
			return 0, NullChunkID, err
		}

		newChunk := &memoryChunk{
			id:         newID,
			size:       bestAlignedSize,
			offset:     bestFit.offset,
			allocType:  allocType,
			name:       name,
			stackTrace: stackTrace,
			prev:       bestFit.prev,
			next:       bestFit.id,
		}

		if newChunk.prev != NullChunkID {
			prev, err := m.getChunk(newChunk.prev)
			if err != nil {
				return 0, NullChunkID, err
			}
			prev.next = newID
		} else {
			m.head = newID
		}

		bestFit.prev = newID
		bestFit.offset += bestAlignedSize
		bestFit.size -= bestAlignedSize

		m.chunks.Put(newID, newChunk)
		chunkID = newID
	} else {
		bestFit.allocType = allocType
		bestFit.name = name
		bestFit.stackTrace = stackTrace

		m.freeChunks.Delete(bestFit.id)
		chunkID = bestFit.id
	}

	m.allocated += bestAlignedSize

	return bestOffset, chunkID, nil
}

func (m *FreeListBlockMetadata) Free(chunkID ChunkID) error {
	chunk, err := m.getChunk(chunkID)
	if err != nil {
		return err
	}

	if chunk.allocType == AllocationTypeFree {
		return errors.Wrapf(memutils.ErrInternal, "chunk id %d was freed twice", chunkID)
	}

	chunk.allocType = AllocationTypeFree
	chunk.name = ""
	chunk.stackTrace = ""

	m.allocated -= chunk.size
	m.freeChunks.Put(chunk.id, struct{}{})

	if chunk.next != NullChunkID {
		next, err := m.getChunk(chunk.next)
		if err != nil {
			return err
		}

		if next.allocType == AllocationTypeFree {
			err = m.mergeFreeChunks(chunk, next)
			if err != nil {
				return err
			}
		}
	}

	if chunk.prev != NullChunkID {
		prev, err := m.getChunk(chunk.prev)
		if err != nil {
			return err
		}

		if prev.allocType == AllocationTypeFree {
			err = m.mergeFreeChunks(prev, chunk)
			if err != nil {
				return err
			}
		}
	}

	return nil
}

// mergeFreeChunks folds right into left; left must immediately precede right
func (m *FreeListBlockMetadata) mergeFreeChunks(left, right *memoryChunk) error {
	left.size += right.size
	left.next = right.next

	if right.next != NullChunkID {
		next, err := m.getChunk(right.next)
		if err != nil {
			return err
		}
		next.prev = left.id
	}

	m.chunks.Delete(right.id)
	m.freeChunks.Delete(right.id)
	return nil
}

func (m *FreeListBlockMetadata) RenameAllocation(chunkID ChunkID, name string) error {
	chunk, err := m.getChunk(chunkID)
	if err != nil {
		return err
	}

	if chunk.allocType == AllocationTypeFree {
		return errors.Wrapf(memutils.ErrInternal, "attempted to rename free chunk %d", chunkID)
	}

	chunk.name = name
	return nil
}

func (m *FreeListBlockMetadata) ReportMemoryLeaks(logger *slog.Logger, level slog.Level, memoryTypeIndex, memoryBlockIndex int) {
	err := m.visitChunks(func(chunk *memoryChunk) error {
		if chunk.allocType == AllocationTypeFree {
			return nil
		}

		logLeakedChunk(logger, level, memoryTypeIndex, memoryBlockIndex, chunk)
		return nil
	})
	if err != nil {
		logger.LogAttrs(context.Background(), slog.LevelError,
			"[UNRELEASED MEMORY] error while iterating unreleased memory",
			slog.Any("error", err))
	}
}

func (m *FreeListBlockMetadata) ReportAllocations() []AllocationReport {
	var reports []AllocationReport

	_ = m.visitChunks(func(chunk *memoryChunk) error {
		if chunk.allocType != AllocationTypeFree {
			reports = append(reports, AllocationReport{
				Name:   chunk.name,
				Offset: chunk.offset,
				Size:   chunk.size,
			})
		}
		return nil
	})

	return reports
}

func (m *FreeListBlockMetadata) AddStatistics(stats *memutils.Statistics) {
	stats.BlockCount++
	stats.BlockBytes += m.size
	stats.AllocationCount += m.chunks.Count() - m.freeChunks.Count()
	stats.AllocationBytes += m.allocated
}

func (m *FreeListBlockMetadata) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.BlockCount++
	stats.BlockBytes += m.size

	_ = m.visitChunks(func(chunk *memoryChunk) error {
		if chunk.allocType == AllocationTypeFree {
			stats.AddUnusedRange(chunk.size)
		} else {
			stats.AddAllocation(chunk.size)
		}
		return nil
	})
}

func (m *FreeListBlockMetadata) BlockJsonData(json jwriter.ObjectState) {
	blockJsonHeader(json, m.size, m.size-m.allocated, m.chunks.Count()-m.freeChunks.Count(), m.freeChunks.Count())

	arrayState := json.Name("Suballocations").Array()
	defer arrayState.End()

	_ = m.visitChunks(func(chunk *memoryChunk) error {
		obj := arrayState.Object()
		defer obj.End()

		obj.Name("Offset").Int(chunk.offset)
		obj.Name("Type").String(chunk.allocType.String())
		obj.Name("Size").Int(chunk.size)
		if chunk.allocType != AllocationTypeFree {
			obj.Name("Name").String(chunk.name)
		}
		return nil
	})
}

func (m *FreeListBlockMetadata) Validate() error {
	if m.allocated < 0 || m.allocated > m.size {
		return errors.Wrapf(memutils.ErrInternal, "invalid allocated byte count %d for block of size %d", m.allocated, m.size)
	}

	var calculatedSize, calculatedAllocated, visited, freeCount int
	expectedOffset := 0
	prevID := NullChunkID
	prevFree := false

	err := m.visitChunks(func(chunk *memoryChunk) error {
		visited++

		if chunk.prev != prevID {
			return errors.Wrapf(memutils.ErrInternal, "chunk %d has a broken previous link", chunk.id)
		}
		if chunk.offset != expectedOffset {
			return errors.Wrapf(memutils.ErrInternal, "chunk %d is at offset %d but should be at %d", chunk.id, chunk.offset, expectedOffset)
		}
		if chunk.size <= 0 {
			return errors.Wrapf(memutils.ErrInternal, "chunk %d has invalid size %d", chunk.id, chunk.size)
		}

		isFree := chunk.allocType == AllocationTypeFree
		if isFree {
			freeCount++
			if prevFree {
				return errors.Wrapf(memutils.ErrInternal, "free chunk %d was not merged with its neighbour", chunk.id)
			}
			if !m.freeChunks.Has(chunk.id) {
				return errors.Wrapf(memutils.ErrInternal, "free chunk %d is missing from the free list", chunk.id)
			}
		} else {
			calculatedAllocated += chunk.size
			if m.freeChunks.Has(chunk.id) {
				return errors.Wrapf(memutils.ErrInternal, "allocated chunk %d is present in the free list", chunk.id)
			}
		}

		calculatedSize += chunk.size
		expectedOffset += chunk.size
		prevID = chunk.id
		prevFree = isFree
		return nil
	})
	if err != nil {
		return err
	}

	if visited != m.chunks.Count() {
		return errors.Wrapf(memutils.ErrInternal, "chunk list has %d chunks but %d are tracked", visited, m.chunks.Count())
	}
	if freeCount != m.freeChunks.Count() {
		return errors.Wrapf(memutils.ErrInternal, "chunk list has %d free chunks but %d are in the free list", freeCount, m.freeChunks.Count())
	}
	if calculatedSize != m.size {
		return errors.Wrapf(memutils.ErrInternal, "chunk sizes sum to %d but the block is %d bytes", calculatedSize, m.size)
	}
	if calculatedAllocated != m.allocated {
		return errors.Wrapf(memutils.ErrInternal, "allocated chunk sizes sum to %d but %d bytes are marked allocated", calculatedAllocated, m.allocated)
	}

	return nil
}

func logLeakedChunk(logger *slog.Logger, level slog.Level, memoryTypeIndex, memoryBlockIndex int, chunk *memoryChunk) {
	name := chunk.name
	if name == "" {
		name = "empty"
	}

	attrs := []slog.Attr{
		slog.Int("memoryType", memoryTypeIndex),
		slog.Int("memoryBlock", memoryBlockIndex),
		slog.Uint64("chunkID", uint64(chunk.id)),
		slog.Int("size", chunk.size),
		slog.Int("offset", chunk.offset),
		slog.String("allocationType", chunk.allocType.String()),
		slog.String("name", name),
	}
	if chunk.stackTrace != "" {
		attrs = append(attrs, slog.String("stackTrace", chunk.stackTrace))
	}

	logger.LogAttrs(context.Background(), level, "[UNRELEASED MEMORY] leaked allocation", attrs...)
}
