package vam

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/gpualloc/memutils"
)

// AllocatorStatistics is returned from Allocator.CalculateDetailedStatistics. MemoryTypes and
// MemoryHeaps are indexed by memory type index and heap index.
type AllocatorStatistics struct {
	MemoryTypes []memutils.DetailedStatistics
	MemoryHeaps []memutils.DetailedStatistics
	Total       memutils.DetailedStatistics
}

func printDetailedStatistics(json jwriter.ObjectState, stats *memutils.DetailedStatistics) {
	json.Name("BlockCount").Int(stats.BlockCount)
	json.Name("BlockBytes").Int(stats.BlockBytes)
	json.Name("AllocationCount").Int(stats.AllocationCount)
	json.Name("AllocationBytes").Int(stats.AllocationBytes)
	json.Name("UnusedRangeCount").Int(stats.UnusedRangeCount)

	if stats.AllocationCount > 0 {
		json.Name("AllocationSizeMin").Int(stats.AllocationSizeMin)
		json.Name("AllocationSizeMax").Int(stats.AllocationSizeMax)
	}
	if stats.UnusedRangeCount > 0 {
		json.Name("UnusedRangeSizeMin").Int(stats.UnusedRangeSizeMin)
		json.Name("UnusedRangeSizeMax").Int(stats.UnusedRangeSizeMax)
	}
}

// BuildStatsString returns a json document describing every heap, memory type, and block in the
// Allocator. When detailedMap is true, every block's suballocations are listed as well.
func (a *Allocator) BuildStatsString(detailedMap bool) string {
	stats := a.CalculateDetailedStatistics()

	writer := jwriter.NewWriter()
	root := writer.Object()

	totalObj := root.Name("Total").Object()
	printDetailedStatistics(totalObj, &stats.Total)
	totalObj.End()

	heaps := root.Name("MemoryHeaps").Array()
	for heapIndex, heap := range a.memoryHeaps {
		heapObj := heaps.Object()
		heapObj.Name("Index").Int(heapIndex)
		heapObj.Name("Size").Int(heap.Size)
		heapObj.Name("Flags").String(heap.Flags.String())

		statsObj := heapObj.Name("Stats").Object()
		printDetailedStatistics(statsObj, &stats.MemoryHeaps[heapIndex])
		statsObj.End()

		types := heapObj.Name("MemoryTypes").Array()
		for typeIndex, memType := range a.memoryTypes {
			if memType.heapIndex != heapIndex {
				continue
			}

			typeObj := types.Object()
			typeObj.Name("Index").Int(typeIndex)
			typeObj.Name("Flags").String(memType.memoryProperties.String())
			typeObj.Name("ActiveGeneralBlocks").Int(memType.activeGeneralBlocks)

			typeStatsObj := typeObj.Name("Stats").Object()
			printDetailedStatistics(typeStatsObj, &stats.MemoryTypes[typeIndex])
			typeStatsObj.End()

			if detailedMap {
				memType.printDetailedMap(typeObj)
			}
			typeObj.End()
		}
		types.End()

		heapObj.End()
	}
	heaps.End()

	root.End()
	return string(writer.Bytes())
}
