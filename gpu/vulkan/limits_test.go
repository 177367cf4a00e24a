package vulkan

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/conveyor/gpu"
	"github.com/vkngwrapper/conveyor/memutils"
	"github.com/vkngwrapper/core/v2/core1_0"
	"golang.org/x/exp/slog"
)

func discreteProperties() *core1_0.PhysicalDeviceProperties {
	return &core1_0.PhysicalDeviceProperties{
		DriverName: "conveyor test driver",
		DriverType: core1_0.PhysicalDeviceTypeDiscreteGPU,
		Limits: &core1_0.PhysicalDeviceLimits{
			MinUniformBufferOffsetAlignment: 256,
			MinStorageBufferOffsetAlignment: 64,
			NonCoherentAtomSize:             128,
		},
	}
}

func TestLimitAlignment(t *testing.T) {
	limits := discreteProperties().Limits
	require.NoError(t, checkLimits(limits))

	require.Equal(t, uint(4), limitAlignment(limits, gpu.BufferUsageVertex))
	require.Equal(t, uint(256), limitAlignment(limits, gpu.BufferUsageUniform))
	require.Equal(t, uint(64), limitAlignment(limits, gpu.BufferUsageStorage))
	require.Equal(t, uint(128), limitAlignment(limits, gpu.BufferUsageStaging))
	require.Equal(t, uint(256), limitAlignment(limits, gpu.BufferUsageUniform|gpu.BufferUsageStorage))
}

func TestCheckLimits(t *testing.T) {
	limits := discreteProperties().Limits
	limits.MinStorageBufferOffsetAlignment = 48

	err := checkLimits(limits)
	require.ErrorIs(t, err, memutils.PowerOfTwoError)
	require.ErrorContains(t, err, "minStorageBufferOffsetAlignment")

	require.Error(t, checkLimits(nil))
}

func TestDeviceAttrs(t *testing.T) {
	attrs := deviceAttrs(discreteProperties(), 2, 3)

	values := map[string]slog.Value{}
	for _, attr := range attrs {
		values[attr.Key] = attr.Value
	}
	require.Equal(t, "conveyor test driver", values["driver"].String())
	require.Equal(t, int64(2), values["queueFamily"].Int64())
	require.Equal(t, int64(3), values["queues"].Int64())
}
