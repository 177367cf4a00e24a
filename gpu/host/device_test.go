package host_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/conveyor/gpu"
	"github.com/vkngwrapper/conveyor/gpu/host"
)

func sequence(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}
	return data
}

func TestBufferMapping(t *testing.T) {
	device := host.New(host.Options{})

	staging, err := device.CreateBuffer(64, gpu.BufferUsageStaging)
	require.NoError(t, err)
	require.True(t, staging.Mappable())

	require.NoError(t, staging.Upload(8, sequence(16)))
	out := make([]byte, 16)
	require.NoError(t, staging.Download(8, out))
	require.Equal(t, sequence(16), out)

	require.Error(t, staging.Upload(60, sequence(16)))

	vertex, err := device.CreateBuffer(64, gpu.BufferUsageVertex)
	require.NoError(t, err)
	require.False(t, vertex.Mappable())
	require.ErrorIs(t, vertex.Upload(0, sequence(4)), host.ErrNotMappable)
}

func TestMappableAll(t *testing.T) {
	device := host.New(host.Options{MappableAll: true})

	vertex, err := device.CreateBuffer(64, gpu.BufferUsageVertex)
	require.NoError(t, err)
	require.True(t, vertex.Mappable())
}

func TestCopyBuffer(t *testing.T) {
	device := host.New(host.Options{})

	staging, err := device.CreateBuffer(32, gpu.BufferUsageStaging)
	require.NoError(t, err)
	storage, err := device.CreateBuffer(32, gpu.BufferUsageStorage)
	require.NoError(t, err)

	require.NoError(t, staging.Upload(0, sequence(32)))
	require.NoError(t, device.CopyBuffer(staging, 4, storage, 16, 8))
	require.NoError(t, device.CopyBuffer(storage, 16, staging, 24, 8))

	out := make([]byte, 8)
	require.NoError(t, staging.Download(24, out))
	require.Equal(t, sequence(12)[4:], out)
	require.Equal(t, 2, device.Copies())

	require.Error(t, device.CopyBuffer(staging, 30, storage, 0, 8))
}

func TestResizePreservesContents(t *testing.T) {
	device := host.New(host.Options{})

	staging, err := device.CreateBuffer(16, gpu.BufferUsageStaging)
	require.NoError(t, err)
	require.NoError(t, staging.Upload(0, sequence(16)))

	require.NoError(t, staging.Resize(64))
	require.Equal(t, 64, staging.Size())

	out := make([]byte, 16)
	require.NoError(t, staging.Download(0, out))
	require.Equal(t, sequence(16), out)
}

func TestImageRegions(t *testing.T) {
	device := host.New(host.Options{})

	img, err := device.CreateImage(gpu.Extent3D{Width: 4, Height: 4, Depth: 1}, gpu.FormatRGBA8Unorm)
	require.NoError(t, err)

	staging, err := device.CreateBuffer(256, gpu.BufferUsageStaging)
	require.NoError(t, err)

	shape := gpu.Extent3D{Width: 2, Height: 2, Depth: 1}
	require.NoError(t, staging.Upload(0, sequence(shape.Bytes(gpu.FormatRGBA8Unorm))))
	require.NoError(t, device.CopyBufferToImage(staging, 0, img, gpu.Offset3D{X: 1, Y: 2}, shape))
	require.NoError(t, device.CopyImageToBuffer(img, gpu.Offset3D{X: 1, Y: 2}, shape, staging, 128))

	out := make([]byte, 16)
	require.NoError(t, staging.Download(128, out))
	require.Equal(t, sequence(16), out)

	other, err := device.CreateImage(gpu.Extent3D{Width: 4, Height: 4, Depth: 1}, gpu.FormatRGBA8Unorm)
	require.NoError(t, err)
	require.NoError(t, device.CopyImage(img, gpu.Offset3D{X: 1, Y: 2}, other, gpu.Offset3D{}, shape))
	require.NoError(t, device.CopyImageToBuffer(other, gpu.Offset3D{}, shape, staging, 192))
	require.NoError(t, staging.Download(192, out))
	require.Equal(t, sequence(16), out)

	require.Error(t, device.CopyBufferToImage(staging, 0, img, gpu.Offset3D{X: 3}, shape))
}

func TestQueueWaits(t *testing.T) {
	device := host.New(host.Options{})

	require.NoError(t, device.WaitQueue(gpu.QueueRender))
	require.NoError(t, device.WaitQueue(gpu.QueueRender))
	require.NoError(t, device.WaitQueue(gpu.QueueTransfer))
	require.Error(t, device.WaitQueue(gpu.QueueKind(12)))

	require.Equal(t, 2, device.QueueWaits(gpu.QueueRender))
	require.Equal(t, 1, device.QueueWaits(gpu.QueueTransfer))
}
