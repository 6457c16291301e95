package metadata

import "fmt"

// ChunkID identifies a single suballocation within a block. Ids are unique within a block
// for the lifetime of the block.
type ChunkID uint64

const (
	// NullChunkID is never handed out by a SubAllocator
	NullChunkID ChunkID = 0
)

// AllocationType describes the tiling of the resource a chunk is bound to. Linear and non-linear
// resources may not share a page when the device has a buffer/image granularity above 1.
type AllocationType uint32

const (
	AllocationTypeFree AllocationType = iota
	AllocationTypeLinear
	AllocationTypeNonLinear
)

var allocationTypeMapping = map[AllocationType]string{
	AllocationTypeFree:      "Free",
	AllocationTypeLinear:    "Linear",
	AllocationTypeNonLinear: "NonLinear",
}

func (t AllocationType) String() string {
	str, ok := allocationTypeMapping[t]
	if !ok {
		return fmt.Sprintf("unknown allocation type %d", uint32(t))
	}
	return str
}
