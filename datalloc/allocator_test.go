package datalloc_test

import (
	"encoding/json"
	"io"
	"sync"
	"testing"

	cerrors "github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/conveyor/datalloc"
	"github.com/vkngwrapper/conveyor/gpu"
	"github.com/vkngwrapper/conveyor/gpu/host"
	"github.com/vkngwrapper/conveyor/internal/mocks"
	"github.com/vkngwrapper/conveyor/memutils"
	"go.uber.org/mock/gomock"
	"golang.org/x/exp/slog"
)

type recordingMetrics struct {
	lock    sync.Mutex
	sizes   map[datalloc.BufferType]int
	growths map[datalloc.BufferType]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		sizes:   make(map[datalloc.BufferType]int),
		growths: make(map[datalloc.BufferType]int),
	}
}

func (m *recordingMetrics) ObserveBackingSize(bufferType datalloc.BufferType, size int) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.sizes[bufferType] = size
}

func (m *recordingMetrics) ObserveGrowth(bufferType datalloc.BufferType) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.growths[bufferType]++
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard))
}

func smallSizes() map[datalloc.BufferType]int {
	sizes := make(map[datalloc.BufferType]int)
	for i := 0; i < datalloc.BufferTypeCount; i++ {
		sizes[datalloc.BufferType(i)] = 64
	}
	return sizes
}

func TestAllocateSharedRegions(t *testing.T) {
	device := host.New(host.Options{
		Alignments: map[gpu.BufferUsage]uint{
			gpu.BufferUsageUniform: 16,
		},
	})

	alloc, err := datalloc.New(testLogger(), device, datalloc.CreateOptions{InitialSizes: smallSizes()})
	require.NoError(t, err)
	defer alloc.Destroy()

	first, err := alloc.Allocate(datalloc.BufferTypeUniform, 4)
	require.NoError(t, err)
	second, err := alloc.Allocate(datalloc.BufferTypeUniform, 4)
	require.NoError(t, err)

	require.Equal(t, 0, first.Region.Offset)
	require.Equal(t, 16, second.Region.Offset)
	require.Equal(t, 4, second.Region.Size)
	require.Same(t, alloc.Buffer(datalloc.BufferTypeUniform), second.Region.Buffer)
	require.Equal(t, gpu.BufferUsageUniform, second.Region.Buffer.Usage())
	require.False(t, second.Standalone())

	vertex, err := alloc.Allocate(datalloc.BufferTypeVertex, 4)
	require.NoError(t, err)
	require.Equal(t, 0, vertex.Region.Offset)
	require.Equal(t, gpu.BufferUsageVertex, vertex.Region.Buffer.Usage())

	require.NoError(t, alloc.Free(first))
	reused, err := alloc.Allocate(datalloc.BufferTypeUniform, 8)
	require.NoError(t, err)
	require.Equal(t, 0, reused.Region.Offset)

	require.NoError(t, alloc.Validate())
}

func TestAllocateGrowsBuffer(t *testing.T) {
	device := host.New(host.Options{})
	metrics := newRecordingMetrics()

	alloc, err := datalloc.New(testLogger(), device, datalloc.CreateOptions{
		InitialSizes: smallSizes(),
		Metrics:      metrics,
	})
	require.NoError(t, err)
	defer alloc.Destroy()

	staging := alloc.Buffer(datalloc.BufferTypeStaging)
	require.Equal(t, 64, staging.Size())
	require.Equal(t, 64, metrics.sizes[datalloc.BufferTypeStaging])

	first, err := alloc.Allocate(datalloc.BufferTypeStaging, 48)
	require.NoError(t, err)
	require.Equal(t, 0, first.GrewTo)
	require.NoError(t, staging.Upload(first.Region.Offset, []byte{1, 2, 3, 4}))

	second, err := alloc.Allocate(datalloc.BufferTypeStaging, 48)
	require.NoError(t, err)
	require.Equal(t, 128, second.GrewTo)
	require.Equal(t, 128, staging.Size())
	require.Equal(t, 48, second.Region.Offset)

	out := make([]byte, 4)
	require.NoError(t, staging.Download(first.Region.Offset, out))
	require.Equal(t, []byte{1, 2, 3, 4}, out)

	require.Equal(t, 1, metrics.growths[datalloc.BufferTypeStaging])
	require.Equal(t, 128, metrics.sizes[datalloc.BufferTypeStaging])
	require.NoError(t, alloc.Validate())
}

func TestAllocateResizeFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	device := mocks.NewMockDevice(ctrl)

	buffers := make(map[gpu.BufferUsage]*mocks.MockBuffer)
	device.EXPECT().Alignment(gomock.Any()).Return(uint(1)).AnyTimes()
	device.EXPECT().CreateBuffer(64, gomock.Any()).DoAndReturn(func(size int, usage gpu.BufferUsage) (gpu.Buffer, error) {
		buffer := mocks.NewMockBuffer(ctrl)
		buffer.EXPECT().Size().Return(size).AnyTimes()
		buffer.EXPECT().Destroy()
		buffers[usage] = buffer
		return buffer, nil
	}).Times(datalloc.BufferTypeCount)

	alloc, err := datalloc.New(testLogger(), device, datalloc.CreateOptions{
		Flags:        datalloc.CreateExternallySynchronized,
		InitialSizes: smallSizes(),
	})
	require.NoError(t, err)
	defer alloc.Destroy()

	buffers[gpu.BufferUsageIndex].EXPECT().Resize(128).Return(cerrors.New("out of device memory"))

	_, err = alloc.Allocate(datalloc.BufferTypeIndex, 100)
	require.ErrorContains(t, err, "out of device memory")

	require.NoError(t, alloc.Validate())

	allocation, err := alloc.Allocate(datalloc.BufferTypeIndex, 32)
	require.NoError(t, err)
	require.Equal(t, 0, allocation.Region.Offset)
}

func TestNewReleasesBuffersOnFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	device := mocks.NewMockDevice(ctrl)

	staging := mocks.NewMockBuffer(ctrl)
	staging.EXPECT().Size().Return(64).AnyTimes()
	staging.EXPECT().Destroy()

	device.EXPECT().Alignment(gomock.Any()).Return(uint(1)).AnyTimes()
	gomock.InOrder(
		device.EXPECT().CreateBuffer(64, gpu.BufferUsageStaging).Return(staging, nil),
		device.EXPECT().CreateBuffer(64, gpu.BufferUsageVertex).Return(nil, cerrors.New("no memory type")),
	)

	_, err := datalloc.New(testLogger(), device, datalloc.CreateOptions{InitialSizes: smallSizes()})
	require.ErrorContains(t, err, "vertex buffer")
}

func TestStandaloneAllocation(t *testing.T) {
	device := host.New(host.Options{})

	alloc, err := datalloc.New(testLogger(), device, datalloc.CreateOptions{InitialSizes: smallSizes()})
	require.NoError(t, err)
	defer alloc.Destroy()

	allocation, err := alloc.AllocateStandalone(datalloc.BufferTypeStorage, 1000)
	require.NoError(t, err)
	require.True(t, allocation.Standalone())
	require.Equal(t, 1000, allocation.Region.Buffer.Size())
	require.NotSame(t, alloc.Buffer(datalloc.BufferTypeStorage), allocation.Region.Buffer)

	require.NoError(t, alloc.Free(allocation))
	require.True(t, allocation.Region.Buffer.(*host.Buffer).Destroyed())

	_, err = alloc.AllocateStandalone(datalloc.BufferTypeStorage, 0)
	require.ErrorIs(t, err, memutils.ErrZeroSize)
}

func TestFreeForeignAllocation(t *testing.T) {
	device := host.New(host.Options{})

	alloc, err := datalloc.New(testLogger(), device, datalloc.CreateOptions{InitialSizes: smallSizes()})
	require.NoError(t, err)
	defer alloc.Destroy()

	allocation, err := alloc.Allocate(datalloc.BufferTypeVertex, 8)
	require.NoError(t, err)

	allocation.Type = datalloc.BufferTypeIndex
	require.Error(t, alloc.Free(allocation))

	allocation.Type = datalloc.BufferTypeVertex
	require.NoError(t, alloc.Free(allocation))
	require.ErrorIs(t, alloc.Free(allocation), memutils.ErrSlotNotOccupied)
}

func TestStatisticsAndDetailedMap(t *testing.T) {
	device := host.New(host.Options{})

	alloc, err := datalloc.New(testLogger(), device, datalloc.CreateOptions{InitialSizes: smallSizes()})
	require.NoError(t, err)
	defer alloc.Destroy()

	_, err = alloc.Allocate(datalloc.BufferTypeVertex, 8)
	require.NoError(t, err)
	_, err = alloc.Allocate(datalloc.BufferTypeIndex, 16)
	require.NoError(t, err)

	var stats memutils.DetailedStatistics
	alloc.CalculateStatistics(&stats)
	require.Equal(t, datalloc.BufferTypeCount, stats.BackingCount)
	require.Equal(t, 2, stats.AllocationCount)
	require.Equal(t, 64*datalloc.BufferTypeCount, stats.BackingBytes)
	require.Equal(t, 24, stats.AllocationBytes)

	writer := jwriter.NewWriter()
	alloc.PrintDetailedMap(&writer)
	require.NoError(t, writer.Error())

	var out map[string]map[string]any
	require.NoError(t, json.Unmarshal(writer.Bytes(), &out))
	require.Len(t, out, datalloc.BufferTypeCount)
	require.Equal(t, "Vertex", out["vertex"]["Usage"])
	require.Equal(t, float64(64), out["index"]["TotalBytes"])
}

func TestCreateFlagsString(t *testing.T) {
	require.Equal(t, "CreateExternallySynchronized", datalloc.CreateExternallySynchronized.String())
	require.Equal(t, "staging", datalloc.BufferTypeStaging.String())
	require.Equal(t, "BufferType(9)", datalloc.BufferType(9).String())
}
