package vam

import (
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/exp/slices"
)

const reportNameMaxLength = 40

// AllocationReportEntry sums every outstanding allocation that shares a name
type AllocationReportEntry struct {
	Name  string
	Count int
	Size  int
}

// AllocatorReport is a summary of every outstanding allocation in an Allocator, grouped by
// name and ordered from largest to smallest. Printing it with %v lists every entry, while
// %.Nv lists only the N largest.
type AllocatorReport struct {
	Entries            []AllocationReportEntry
	TotalUsedBytes     int
	TotalReservedBytes int
}

// GenerateReport builds an AllocatorReport from the allocations that are currently live
func (a *Allocator) GenerateReport() AllocatorReport {
	var report AllocatorReport
	entryIndices := make(map[string]int)

	for _, memType := range a.memoryTypes {
		for _, block := range memType.memoryBlocks {
			if block == nil {
				continue
			}

			report.TotalReservedBytes += block.size

			for _, allocation := range block.subAllocator.ReportAllocations() {
				report.TotalUsedBytes += allocation.Size

				index, ok := entryIndices[allocation.Name]
				if !ok {
					index = len(report.Entries)
					entryIndices[allocation.Name] = index
					report.Entries = append(report.Entries, AllocationReportEntry{Name: allocation.Name})
				}

				report.Entries[index].Count++
				report.Entries[index].Size += allocation.Size
			}
		}
	}

	slices.SortFunc(report.Entries, func(left, right AllocationReportEntry) int {
		if left.Size != right.Size {
			if left.Size > right.Size {
				return -1
			}
			return 1
		}
		return strings.Compare(left.Name, right.Name)
	})

	return report
}

func (r AllocatorReport) Format(f fmt.State, verb rune) {
	maxEntries := math.MaxInt
	if precision, ok := f.Precision(); ok {
		maxEntries = precision
	}

	fmt.Fprintln(f, strings.Repeat("=", 64))
	fmt.Fprintf(f, "ALLOCATION BREAKDOWN (%s / %s)\n",
		humanize.IBytes(uint64(r.TotalUsedBytes)),
		humanize.IBytes(uint64(r.TotalReservedBytes)))

	for entryIndex, entry := range r.Entries {
		if entryIndex >= maxEntries {
			break
		}

		name := entry.Name
		if name == "" {
			name = "empty"
		}
		if len(name) > reportNameMaxLength {
			name = name[:reportNameMaxLength]
		}

		if entry.Count > 1 {
			fmt.Fprintf(f, "%-*s\t- %s (%d allocations)\n", reportNameMaxLength, name, humanize.IBytes(uint64(entry.Size)), entry.Count)
		} else {
			fmt.Fprintf(f, "%-*s\t- %s\n", reportNameMaxLength, name, humanize.IBytes(uint64(entry.Size)))
		}
	}
}

func (r AllocatorReport) String() string {
	return fmt.Sprintf("%v", r)
}
