package memutils_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/conveyor/memutils"
)

func TestCheckPow2(t *testing.T) {
	for _, value := range []uint{0, 1, 2, 4, 256, 1 << 20} {
		require.NoError(t, memutils.CheckPow2(value, "value"))
	}

	err := memutils.CheckPow2(uint(24), "alignment")
	require.ErrorIs(t, err, memutils.PowerOfTwoError)
	require.Contains(t, err.Error(), "alignment is 24")
}

func TestAlign(t *testing.T) {
	require.Equal(t, 0, memutils.AlignUp(0, 16))
	require.Equal(t, 16, memutils.AlignUp(1, 16))
	require.Equal(t, 32, memutils.AlignUp(32, 16))
	require.Equal(t, 7, memutils.AlignUp(7, 0))
	require.Equal(t, 7, memutils.AlignUp(7, 1))

	require.Equal(t, 16, memutils.AlignDown(31, 16))
	require.True(t, memutils.IsAligned(48, 16))
	require.False(t, memutils.IsAligned(40, 16))
}

func TestDetailedStatistics(t *testing.T) {
	var stats memutils.DetailedStatistics
	stats.Clear()
	stats.BackingCount = 1
	stats.BackingBytes = 100

	stats.AddAllocation(10)
	stats.AddAllocation(30)
	stats.AddUnusedRange(60)

	require.Equal(t, 2, stats.AllocationCount)
	require.Equal(t, 40, stats.AllocationBytes)
	require.Equal(t, 60, stats.UnusedBytes())
	require.Equal(t, 10, stats.AllocationSizeMin)
	require.Equal(t, 30, stats.AllocationSizeMax)

	writer := jwriter.NewWriter()
	obj := writer.Object()
	stats.PrintJson(obj)
	obj.End()
	require.NoError(t, writer.Error())

	var out map[string]int
	require.NoError(t, json.NewDecoder(bytes.NewReader(writer.Bytes())).Decode(&out))
	require.Equal(t, 60, out["UnusedRangeSizeMin"])
	require.Equal(t, 2, out["AllocationCount"])
}

func TestEmptyStatisticsOmitMinimums(t *testing.T) {
	var stats memutils.DetailedStatistics
	stats.Clear()

	writer := jwriter.NewWriter()
	obj := writer.Object()
	stats.PrintJson(obj)
	obj.End()

	require.NotContains(t, string(writer.Bytes()), "SizeMin")
}
