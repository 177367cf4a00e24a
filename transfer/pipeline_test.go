package transfer_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	cerrors "github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/conveyor/datalloc"
	"github.com/vkngwrapper/conveyor/deq"
	"github.com/vkngwrapper/conveyor/gpu"
	"github.com/vkngwrapper/conveyor/gpu/host"
	"github.com/vkngwrapper/conveyor/internal/mocks"
	"github.com/vkngwrapper/conveyor/memutils"
	"github.com/vkngwrapper/conveyor/transfer"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/mock/gomock"
	"golang.org/x/exp/slog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard))
}

func sequence(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i + 1)
	}
	return data
}

type fixture struct {
	device    *host.Device
	allocator *datalloc.Allocator
	pipeline  *transfer.Pipeline
}

func newFixture(t *testing.T, hostOptions host.Options, pipelineDevice gpu.Device, options transfer.CreateOptions) *fixture {
	device := host.New(hostOptions)

	allocator, err := datalloc.New(testLogger(), device, datalloc.CreateOptions{
		InitialSizes: map[datalloc.BufferType]int{
			datalloc.BufferTypeStaging: 256,
			datalloc.BufferTypeVertex:  256,
		},
	})
	require.NoError(t, err)
	t.Cleanup(allocator.Destroy)

	if pipelineDevice == nil {
		pipelineDevice = device
	}

	pipeline := transfer.New(testLogger(), pipelineDevice, allocator, options)
	t.Cleanup(pipeline.Destroy)

	return &fixture{
		device:    device,
		allocator: allocator,
		pipeline:  pipeline,
	}
}

func (f *fixture) vertexRegion(t *testing.T, size int) gpu.BufferRegion {
	allocation, err := f.allocator.Allocate(datalloc.BufferTypeVertex, size)
	require.NoError(t, err)
	return allocation.Region
}

func (f *fixture) liveAllocations() int {
	var stats memutils.DetailedStatistics
	f.allocator.CalculateStatistics(&stats)
	return stats.AllocationCount
}

func TestUploadDownloadBuffer(t *testing.T) {
	f := newFixture(t, host.Options{}, nil, transfer.CreateOptions{})
	region := f.vertexRegion(t, 64)
	require.False(t, region.Buffer.Mappable())

	require.NoError(t, f.pipeline.UploadBuffer(region, 16, sequence(32)))

	out := make([]byte, 32)
	require.NoError(t, f.pipeline.DownloadBuffer(region, 16, out))
	require.Equal(t, sequence(32), out)

	require.Equal(t, 2, f.device.Copies())
	require.Equal(t, 2, f.device.QueueWaits(gpu.QueueRender))
	require.Equal(t, 2, f.device.QueueWaits(gpu.QueueTransfer))

	// Only the vertex region is left: both staging regions were released on completion
	require.Equal(t, 0, f.pipeline.Pending())
	require.Equal(t, 1, f.liveAllocations())
}

func TestMappableUploadSkipsStaging(t *testing.T) {
	f := newFixture(t, host.Options{MappableAll: true}, nil, transfer.CreateOptions{})
	region := f.vertexRegion(t, 64)

	req, err := f.pipeline.UploadBufferAsync(region, 0, sequence(8))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, req.Wait(ctx))
	require.Equal(t, transfer.StateCompleted, req.State())
	require.Equal(t, 0, f.device.Copies())

	out := make([]byte, 8)
	require.NoError(t, f.pipeline.DownloadBuffer(region, 0, out))
	require.Equal(t, sequence(8), out)
	require.Equal(t, 0, f.device.Copies())
}

func TestAsyncUploadStates(t *testing.T) {
	f := newFixture(t, host.Options{}, nil, transfer.CreateOptions{})
	region := f.vertexRegion(t, 64)

	req, err := f.pipeline.UploadBufferAsync(region, 0, sequence(16))
	require.NoError(t, err)
	require.Equal(t, transfer.KindBufferUpload, req.Kind)
	require.Equal(t, 16, req.Size)

	// The background goroutine stages the data, but the copy waits for the frame loop
	require.Eventually(t, func() bool {
		return f.pipeline.Deq().Size(transfer.QueueCopy) == 1
	}, 5*time.Second, time.Millisecond)
	require.Equal(t, transfer.StateStaged, req.State())
	require.False(t, req.Completed())

	require.Equal(t, 1, f.pipeline.ProcessCopies(true))
	require.True(t, req.Completed())
	require.NoError(t, req.Err())
	require.Equal(t, transfer.StateCompleted, req.State())
}

func TestAsyncDownloadChain(t *testing.T) {
	f := newFixture(t, host.Options{}, nil, transfer.CreateOptions{})
	region := f.vertexRegion(t, 64)
	require.NoError(t, f.pipeline.UploadBuffer(region, 0, sequence(64)))

	var lock sync.Mutex
	var events []*transfer.DownloadDone
	f.pipeline.OnEvent(transfer.TaskDownloadDone, func(d *deq.Deq, item deq.Item, userData any) {
		lock.Lock()
		defer lock.Unlock()
		events = append(events, item.Payload.(*transfer.DownloadDone))
	}, nil)

	out := make([]byte, 16)
	req, err := f.pipeline.DownloadBufferAsync(region, 8, out)
	require.NoError(t, err)

	require.Equal(t, 1, f.pipeline.ProcessCopies(true))
	require.Equal(t, 1, f.pipeline.ProcessEvents(true))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, req.Wait(ctx))
	require.Equal(t, sequence(24)[8:], out)

	lock.Lock()
	defer lock.Unlock()
	require.Len(t, events, 1)
	require.Equal(t, req.ID, events[0].Request.ID)
	require.Equal(t, 16, events[0].Size)
}

func TestCopyBuffer(t *testing.T) {
	f := newFixture(t, host.Options{}, nil, transfer.CreateOptions{})
	src := f.vertexRegion(t, 32)
	dst := f.vertexRegion(t, 32)

	require.NoError(t, f.pipeline.UploadBuffer(src, 0, sequence(32)))
	require.NoError(t, f.pipeline.CopyBuffer(src, 4, dst, 0, 8))

	out := make([]byte, 8)
	require.NoError(t, f.pipeline.DownloadBuffer(dst, 0, out))
	require.Equal(t, sequence(12)[4:], out)
}

func imageBytes(shape gpu.Extent3D, format gpu.Format, offset gpu.Offset3D, region gpu.Extent3D, data []byte) []byte {
	texel := format.TexelSize()
	var out []byte
	for z := 0; z < region.Depth; z++ {
		for y := 0; y < region.Height; y++ {
			start := (((offset.Z+z)*shape.Height+offset.Y+y)*shape.Width + offset.X) * texel
			out = append(out, data[start:start+region.Width*texel]...)
		}
	}
	return out
}

func TestImageTransfers(t *testing.T) {
	f := newFixture(t, host.Options{}, nil, transfer.CreateOptions{})

	shape := gpu.Extent3D{Width: 4, Height: 4, Depth: 1}
	img, err := f.device.CreateImage(shape, gpu.FormatRGBA8Unorm)
	require.NoError(t, err)
	other, err := f.device.CreateImage(shape, gpu.FormatRGBA8Unorm)
	require.NoError(t, err)

	full := sequence(shape.Bytes(gpu.FormatRGBA8Unorm))
	require.NoError(t, f.pipeline.UploadImage(img, gpu.Offset3D{}, gpu.Extent3D{}, full))

	offset := gpu.Offset3D{X: 1, Y: 1}
	part := gpu.Extent3D{Width: 2, Height: 2, Depth: 1}
	out := make([]byte, part.Bytes(gpu.FormatRGBA8Unorm))
	require.NoError(t, f.pipeline.DownloadImage(img, offset, part, out))
	require.Equal(t, imageBytes(shape, gpu.FormatRGBA8Unorm, offset, part, full), out)

	require.NoError(t, f.pipeline.CopyImage(img, offset, other, gpu.Offset3D{}, part))
	copied := make([]byte, len(out))
	require.NoError(t, f.pipeline.DownloadImage(other, gpu.Offset3D{}, part, copied))
	require.Equal(t, out, copied)

	region := f.vertexRegion(t, 64)
	require.NoError(t, f.pipeline.CopyImageToBuffer(img, offset, part, region, 0))
	require.NoError(t, f.pipeline.CopyBufferToImage(region, 0, other, gpu.Offset3D{X: 2, Y: 2}, part))
	require.NoError(t, f.pipeline.DownloadImage(other, gpu.Offset3D{X: 2, Y: 2}, part, copied))
	require.Equal(t, out, copied)

	require.Equal(t, 0, f.pipeline.Pending())
	require.Equal(t, 1, f.liveAllocations())
}

func TestValidation(t *testing.T) {
	f := newFixture(t, host.Options{}, nil, transfer.CreateOptions{})
	region := f.vertexRegion(t, 16)

	_, err := f.pipeline.UploadBufferAsync(region, 0, nil)
	require.ErrorIs(t, err, transfer.ErrEmptyData)

	_, err = f.pipeline.UploadBufferAsync(region, 12, sequence(8))
	require.ErrorIs(t, err, transfer.ErrOutOfBounds)

	_, err = f.pipeline.DownloadBufferAsync(gpu.BufferRegion{}, 0, make([]byte, 4))
	require.ErrorIs(t, err, transfer.ErrOutOfBounds)

	_, err = f.pipeline.CopyBufferAsync(region, 0, region, 8, 16)
	require.ErrorIs(t, err, transfer.ErrOutOfBounds)

	img, err := f.device.CreateImage(gpu.Extent3D{Width: 2, Height: 2, Depth: 1}, gpu.FormatR8Unorm)
	require.NoError(t, err)

	_, err = f.pipeline.UploadImageAsync(img, gpu.Offset3D{X: 1}, gpu.Extent3D{Width: 2}, sequence(4))
	require.ErrorIs(t, err, transfer.ErrOutOfBounds)

	_, err = f.pipeline.UploadImageAsync(img, gpu.Offset3D{}, gpu.Extent3D{}, sequence(3))
	require.ErrorIs(t, err, transfer.ErrOutOfBounds)

	wide, err := f.device.CreateImage(gpu.Extent3D{Width: 2, Height: 2, Depth: 1}, gpu.FormatRGBA8Unorm)
	require.NoError(t, err)
	_, err = f.pipeline.CopyImageAsync(img, gpu.Offset3D{}, wide, gpu.Offset3D{}, gpu.Extent3D{})
	require.Error(t, err)

	f.pipeline.Destroy()
	_, err = f.pipeline.UploadBufferAsync(region, 0, sequence(4))
	require.ErrorIs(t, err, transfer.ErrClosed)
	require.ErrorIs(t, f.pipeline.Frame(0), transfer.ErrClosed)
}

func TestCopyWaitsAroundDeviceWork(t *testing.T) {
	ctrl := gomock.NewController(t)
	device := mocks.NewMockDevice(ctrl)
	f := newFixture(t, host.Options{}, device, transfer.CreateOptions{})

	src := f.vertexRegion(t, 16)
	dst := f.vertexRegion(t, 16)

	gomock.InOrder(
		device.EXPECT().WaitQueue(gpu.QueueRender).Return(nil),
		device.EXPECT().CopyBuffer(src.Buffer, src.Offset+4, dst.Buffer, dst.Offset, 8).Return(nil),
		device.EXPECT().WaitQueue(gpu.QueueTransfer).Return(nil),
	)

	req, err := f.pipeline.CopyBufferAsync(src, 4, dst, 0, 8)
	require.NoError(t, err)
	require.Equal(t, transfer.StateSubmitted, req.State())

	require.Equal(t, 1, f.pipeline.ProcessCopies(true))
	require.NoError(t, req.Err())
	require.Equal(t, transfer.StateCompleted, req.State())
}

type recordingMetrics struct {
	lock     sync.Mutex
	requests map[transfer.Kind]int
	failures int
}

func (m *recordingMetrics) ObserveRequest(kind transfer.Kind, size int, err error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.requests == nil {
		m.requests = make(map[transfer.Kind]int)
	}
	m.requests[kind]++
	if err != nil {
		m.failures++
	}
}

func TestBackendFailureCompletesRequest(t *testing.T) {
	ctrl := gomock.NewController(t)
	device := mocks.NewMockDevice(ctrl)

	recorder := tracetest.NewSpanRecorder()
	metrics := &recordingMetrics{}
	f := newFixture(t, host.Options{}, device, transfer.CreateOptions{
		TracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)),
		Metrics:        metrics,
	})
	region := f.vertexRegion(t, 16)

	device.EXPECT().WaitQueue(gpu.QueueRender).Return(nil)
	device.EXPECT().CopyBuffer(gomock.Any(), gomock.Any(), region.Buffer, region.Offset, 8).
		Return(cerrors.New("device lost"))

	err := f.pipeline.UploadBuffer(region, 0, sequence(8))
	require.ErrorContains(t, err, "device lost")

	require.Equal(t, 0, f.pipeline.Pending())
	require.Equal(t, 1, f.liveAllocations())

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, codes.Error, spans[0].Status().Code)

	metrics.lock.Lock()
	defer metrics.lock.Unlock()
	require.Equal(t, 1, metrics.requests[transfer.KindBufferUpload])
	require.Equal(t, 1, metrics.failures)
}

func TestRequestSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	f := newFixture(t, host.Options{}, nil, transfer.CreateOptions{
		TracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)),
	})
	region := f.vertexRegion(t, 32)

	req, err := f.pipeline.UploadBufferAsync(region, 0, sequence(32))
	require.NoError(t, err)
	require.Empty(t, recorder.Ended())

	require.Equal(t, 1, f.pipeline.ProcessCopies(true))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "transfer.buffer_upload", spans[0].Name())
	require.Contains(t, spans[0].Attributes(), attribute.String("conveyor.request_id", req.ID.String()))
	require.Contains(t, spans[0].Attributes(), attribute.Int("conveyor.bytes", 32))

	var events []string
	for _, event := range spans[0].Events() {
		events = append(events, event.Name)
	}
	require.Equal(t, []string{"StateStaged", "StateCopied"}, events)
}

func TestDestroyAbandonsPendingRequests(t *testing.T) {
	f := newFixture(t, host.Options{}, nil, transfer.CreateOptions{})
	region := f.vertexRegion(t, 32)

	req, err := f.pipeline.UploadBufferAsync(region, 0, sequence(32))
	require.NoError(t, err)

	// The background goroutine finishes the upload hop before it stops, but nothing runs the copy
	f.pipeline.Destroy()

	require.True(t, req.Completed())
	require.ErrorIs(t, req.Err(), transfer.ErrClosed)
	require.Equal(t, 0, f.pipeline.Pending())
	require.Equal(t, 1, f.liveAllocations())

	f.pipeline.Destroy()
}

func TestWaitHonorsContext(t *testing.T) {
	f := newFixture(t, host.Options{}, nil, transfer.CreateOptions{})
	src := f.vertexRegion(t, 16)
	dst := f.vertexRegion(t, 16)

	req, err := f.pipeline.CopyBufferAsync(src, 0, dst, 0, 16)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, req.Wait(ctx), context.DeadlineExceeded)
	require.Nil(t, req.Err())
}
