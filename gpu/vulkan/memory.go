package vulkan

import (
	"unsafe"

	cerrors "github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
)

const hostMemoryFlags = core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent

// memoryFlags returns the property flags that memory for the given purpose must have and the
// flags it would ideally have
func memoryFlags(mappable bool) (required core1_0.MemoryPropertyFlags, preferred core1_0.MemoryPropertyFlags) {
	if mappable {
		return hostMemoryFlags, core1_0.MemoryPropertyHostCached
	}

	return core1_0.MemoryPropertyDeviceLocal, 0
}

// findMemoryTypeIndex picks the memory type in typeBits with all the required flags, preferring the
// one with the most preferred flags and, among those, the fewest unrequested flags
func findMemoryTypeIndex(properties *core1_0.PhysicalDeviceMemoryProperties, typeBits uint32, required, preferred core1_0.MemoryPropertyFlags) (int, error) {
	bestIndex := -1
	bestScore := -1

	for memoryTypeIndex, memoryType := range properties.MemoryTypes {
		if typeBits&(1<<memoryTypeIndex) == 0 {
			continue
		}

		flags := memoryType.PropertyFlags
		if flags&required != required {
			continue
		}

		score := countBits(flags&preferred)*32 - countBits(flags&^(required|preferred))
		if score > bestScore {
			bestIndex = memoryTypeIndex
			bestScore = score
		}
	}

	if bestIndex < 0 {
		return -1, cerrors.Wrapf(core1_0.VKErrorFeatureNotPresent.ToError(),
			"no memory type among bits %b has flags %s", typeBits, required)
	}

	return bestIndex, nil
}

func countBits(flags core1_0.MemoryPropertyFlags) int {
	count := 0
	for flags != 0 {
		flags &= flags - 1
		count++
	}
	return count
}

// deviceMemory is a dedicated allocation for a single buffer or image, mapped for its whole
// lifetime when it is host visible
type deviceMemory struct {
	memory core1_0.DeviceMemory
	size   int
	mapped unsafe.Pointer
}

func (d *Device) allocateMemory(requirements *core1_0.MemoryRequirements, mappable bool) (*deviceMemory, error) {
	required, preferred := memoryFlags(mappable)
	memoryTypeIndex, err := findMemoryTypeIndex(d.memoryProperties, requirements.MemoryTypeBits, required, preferred)
	if err != nil {
		return nil, err
	}

	memory, _, err := d.device.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: memoryTypeIndex,
	})
	if err != nil {
		return nil, cerrors.Wrapf(err, "failed to allocate %d bytes of memory type %d", requirements.Size, memoryTypeIndex)
	}

	result := &deviceMemory{memory: memory, size: requirements.Size}

	if mappable {
		result.mapped, _, err = memory.Map(0, requirements.Size, 0)
		if err != nil {
			memory.Free(nil)
			return nil, cerrors.Wrap(err, "failed to map host visible memory")
		}
	}

	return result, nil
}

// bytes returns the mapped memory as a byte slice. It must only be called on host visible memory.
func (m *deviceMemory) bytes() []byte {
	return unsafe.Slice((*byte)(m.mapped), m.size)
}

func (m *deviceMemory) free() {
	if m.mapped != nil {
		m.memory.Unmap()
		m.mapped = nil
	}

	m.memory.Free(nil)
}
