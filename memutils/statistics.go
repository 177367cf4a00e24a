package memutils

import (
	"math"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// Statistics is a cheap summary of how much of one or more backing buffers is handed out to callers
type Statistics struct {
	// BackingCount is the number of backing buffers that contributed to these statistics
	BackingCount int
	// AllocationCount is the number of live regions
	AllocationCount int
	// BackingBytes is the total capacity of the backing buffers
	BackingBytes int
	// AllocationBytes is the number of bytes inside live regions
	AllocationBytes int
}

func (s *Statistics) Clear() {
	s.BackingCount = 0
	s.AllocationCount = 0
	s.BackingBytes = 0
	s.AllocationBytes = 0
}

// UnusedBytes is the number of backing bytes that are not inside a live region
func (s *Statistics) UnusedBytes() int {
	return s.BackingBytes - s.AllocationBytes
}

// DetailedStatistics extends Statistics with the shape of the free space, which is useful for
// judging fragmentation
type DetailedStatistics struct {
	Statistics
	UnusedRangeCount   int
	AllocationSizeMin  int
	AllocationSizeMax  int
	UnusedRangeSizeMin int
	UnusedRangeSizeMax int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.UnusedRangeCount = 0
	s.AllocationSizeMin = math.MaxInt
	s.AllocationSizeMax = 0
	s.UnusedRangeSizeMin = math.MaxInt
	s.UnusedRangeSizeMax = 0
}

func (s *DetailedStatistics) AddUnusedRange(size int) {
	s.UnusedRangeCount++

	if size < s.UnusedRangeSizeMin {
		s.UnusedRangeSizeMin = size
	}

	if size > s.UnusedRangeSizeMax {
		s.UnusedRangeSizeMax = size
	}
}

func (s *DetailedStatistics) AddAllocation(size int) {
	s.AllocationCount++
	s.AllocationBytes += size

	if size < s.AllocationSizeMin {
		s.AllocationSizeMin = size
	}

	if size > s.AllocationSizeMax {
		s.AllocationSizeMax = size
	}
}

// PrintJson writes these statistics as members of an already-open json object. Min values
// are omitted when nothing was recorded for them.
func (s *DetailedStatistics) PrintJson(json jwriter.ObjectState) {
	json.Name("BackingCount").Int(s.BackingCount)
	json.Name("AllocationCount").Int(s.AllocationCount)
	json.Name("UnusedRangeCount").Int(s.UnusedRangeCount)
	json.Name("BackingBytes").Int(s.BackingBytes)
	json.Name("AllocationBytes").Int(s.AllocationBytes)

	if s.AllocationCount > 0 {
		json.Name("AllocationSizeMin").Int(s.AllocationSizeMin)
		json.Name("AllocationSizeMax").Int(s.AllocationSizeMax)
	}

	if s.UnusedRangeCount > 0 {
		json.Name("UnusedRangeSizeMin").Int(s.UnusedRangeSizeMin)
		json.Name("UnusedRangeSizeMax").Int(s.UnusedRangeSizeMax)
	}
}
