package metadata_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/gpualloc/memutils"
	"github.com/vkngwrapper/gpualloc/memutils/metadata"
	"golang.org/x/exp/slog"
)

func TestDedicatedAllocFree(t *testing.T) {
	dedicated := metadata.NewDedicatedBlockMetadata(4096)
	require.False(t, dedicated.SupportsGeneralAllocations())
	require.True(t, dedicated.IsEmpty())

	offset, chunkID, err := dedicated.Allocate(4096, 256, metadata.AllocationTypeNonLinear, 1024, "image", "")
	require.NoError(t, err)
	require.Equal(t, 0, offset)
	require.Equal(t, metadata.ChunkID(1), chunkID)
	require.Equal(t, 4096, dedicated.Allocated())
	require.NoError(t, dedicated.Validate())

	_, _, err = dedicated.Allocate(4096, 1, metadata.AllocationTypeLinear, 1, "", "")
	require.ErrorIs(t, err, memutils.ErrOutOfMemory)

	require.Equal(t, []metadata.AllocationReport{
		{Name: "image", Offset: 0, Size: 4096},
	}, dedicated.ReportAllocations())

	require.NoError(t, dedicated.Free(chunkID))
	require.True(t, dedicated.IsEmpty())
	require.Nil(t, dedicated.ReportAllocations())

	err = dedicated.Free(chunkID)
	require.ErrorIs(t, err, memutils.ErrInternal)
}

func TestDedicatedSizeMismatch(t *testing.T) {
	dedicated := metadata.NewDedicatedBlockMetadata(4096)

	_, _, err := dedicated.Allocate(1024, 1, metadata.AllocationTypeLinear, 1, "", "")
	require.ErrorIs(t, err, memutils.ErrInternal)
	require.True(t, dedicated.IsEmpty())
}

func TestDedicatedWrongChunkID(t *testing.T) {
	dedicated := metadata.NewDedicatedBlockMetadata(4096)

	_, _, err := dedicated.Allocate(4096, 1, metadata.AllocationTypeLinear, 1, "", "")
	require.NoError(t, err)

	err = dedicated.Free(metadata.ChunkID(2))
	require.ErrorIs(t, err, memutils.ErrInternal)

	err = dedicated.RenameAllocation(metadata.ChunkID(2), "nope")
	require.ErrorIs(t, err, memutils.ErrInternal)

	require.NoError(t, dedicated.RenameAllocation(metadata.ChunkID(1), "renamed"))
	require.Equal(t, "renamed", dedicated.ReportAllocations()[0].Name)
}

func TestDedicatedStatistics(t *testing.T) {
	dedicated := metadata.NewDedicatedBlockMetadata(4096)

	var stats memutils.Statistics
	dedicated.AddStatistics(&stats)
	require.Equal(t, memutils.Statistics{BlockCount: 1, BlockBytes: 4096}, stats)

	_, _, err := dedicated.Allocate(4096, 1, metadata.AllocationTypeLinear, 1, "", "")
	require.NoError(t, err)

	stats.Clear()
	dedicated.AddStatistics(&stats)
	require.Equal(t, memutils.Statistics{
		BlockCount:      1,
		BlockBytes:      4096,
		AllocationCount: 1,
		AllocationBytes: 4096,
	}, stats)
}

func TestDedicatedReportMemoryLeaks(t *testing.T) {
	var buffer bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buffer, nil))

	dedicated := metadata.NewDedicatedBlockMetadata(4096)
	dedicated.ReportMemoryLeaks(logger, slog.LevelWarn, 0, 0)
	require.Empty(t, buffer.String())

	_, _, err := dedicated.Allocate(4096, 1, metadata.AllocationTypeLinear, 1, "", "goroutine 1 [running]")
	require.NoError(t, err)

	dedicated.ReportMemoryLeaks(logger, slog.LevelWarn, 2, 7)
	output := buffer.String()
	require.Contains(t, output, "UNRELEASED MEMORY")
	require.Contains(t, output, "memoryType=2")
	require.Contains(t, output, "memoryBlock=7")
	require.Contains(t, output, "name=empty")
	require.Contains(t, output, "goroutine 1 [running]")
}
