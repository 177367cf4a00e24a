package vulkan

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
)

func discreteMemoryProperties() *core1_0.PhysicalDeviceMemoryProperties {
	return &core1_0.PhysicalDeviceMemoryProperties{
		MemoryTypes: []core1_0.MemoryType{
			{PropertyFlags: core1_0.MemoryPropertyDeviceLocal, HeapIndex: 0},
			{PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent, HeapIndex: 1},
			{PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent | core1_0.MemoryPropertyHostCached, HeapIndex: 1},
			{PropertyFlags: core1_0.MemoryPropertyDeviceLocal | core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent, HeapIndex: 0},
		},
		MemoryHeaps: []core1_0.MemoryHeap{
			{Size: 8 * 1024 * 1024 * 1024, Flags: core1_0.MemoryHeapDeviceLocal},
			{Size: 16 * 1024 * 1024 * 1024},
		},
	}
}

func TestFindMemoryTypeDeviceLocal(t *testing.T) {
	properties := discreteMemoryProperties()

	required, preferred := memoryFlags(false)
	index, err := findMemoryTypeIndex(properties, 0xffffffff, required, preferred)
	require.NoError(t, err)
	require.Equal(t, 0, index)

	// Only the host visible device local type is allowed by the requirements
	index, err = findMemoryTypeIndex(properties, 0b1000, required, preferred)
	require.NoError(t, err)
	require.Equal(t, 3, index)
}

func TestFindMemoryTypeMappable(t *testing.T) {
	properties := discreteMemoryProperties()

	required, preferred := memoryFlags(true)
	index, err := findMemoryTypeIndex(properties, 0xffffffff, required, preferred)
	require.NoError(t, err)
	require.Equal(t, 2, index)

	index, err = findMemoryTypeIndex(properties, 0b1010, required, preferred)
	require.NoError(t, err)
	require.Equal(t, 1, index)
}

func TestFindMemoryTypeMissing(t *testing.T) {
	properties := discreteMemoryProperties()

	required, preferred := memoryFlags(true)
	_, err := findMemoryTypeIndex(properties, 0b0001, required, preferred)
	require.Error(t, err)
}

func TestCountBits(t *testing.T) {
	require.Equal(t, 0, countBits(0))
	require.Equal(t, 2, countBits(core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent))
}
