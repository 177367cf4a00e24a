package metrics_test

import (
	"io"
	"testing"
	"time"

	cerrors "github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/conveyor/datalloc"
	"github.com/vkngwrapper/conveyor/gpu/host"
	"github.com/vkngwrapper/conveyor/metrics"
	"github.com/vkngwrapper/conveyor/transfer"
	"golang.org/x/exp/slog"
)

func TestNilCollectors(t *testing.T) {
	var c *metrics.Collectors

	c.ObserveEnqueue(0, 1)
	c.ObserveDispatch(0, 1, time.Millisecond)
	c.ObserveBackingSize(datalloc.BufferTypeVertex, 64)
	c.ObserveGrowth(datalloc.BufferTypeVertex)
	c.ObserveRequest(transfer.KindBufferUpload, 8, nil)
}

func TestLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.New(reg, metrics.Options{QueueNames: []string{"upload", ""}})

	c.ObserveEnqueue(0, 3)
	c.ObserveEnqueue(1, 1)
	c.ObserveEnqueue(1, 2)
	c.ObserveDispatch(0, 4, time.Millisecond)

	require.Equal(t, 1.0, testutil.ToFloat64(c.DeqEnqueued.WithLabelValues("upload")))
	require.Equal(t, 2.0, testutil.ToFloat64(c.DeqEnqueued.WithLabelValues("1")))
	require.Equal(t, 3.0, testutil.ToFloat64(c.DeqDepth.WithLabelValues("upload")))
	require.Equal(t, 2.0, testutil.ToFloat64(c.DeqDepth.WithLabelValues("1")))
	require.Equal(t, 1, testutil.CollectAndCount(c.DeqDispatch, "conveyor_deq_dispatch_duration_seconds"))

	c.ObserveRequest(transfer.KindBufferCopy, 16, nil)
	c.ObserveRequest(transfer.KindBufferCopy, 16, cerrors.New("device lost"))

	require.Equal(t, 1.0, testutil.ToFloat64(c.TransferRequests.WithLabelValues("buffer_copy", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.TransferRequests.WithLabelValues("buffer_copy", "error")))
	require.Equal(t, 16.0, testutil.ToFloat64(c.TransferBytes.WithLabelValues("buffer_copy")))
}

func TestDoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.New(reg, metrics.Options{})

	require.Panics(t, func() {
		metrics.New(reg, metrics.Options{})
	})
}

func TestPipelineReportsToCollectors(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard))
	reg := prometheus.NewRegistry()
	c := metrics.New(reg, metrics.Options{QueueNames: transfer.QueueNames})

	device := host.New(host.Options{})
	allocator, err := datalloc.New(logger, device, datalloc.CreateOptions{
		InitialSizes: map[datalloc.BufferType]int{
			datalloc.BufferTypeStaging: 16,
			datalloc.BufferTypeVertex:  64,
		},
		Metrics: c,
	})
	require.NoError(t, err)
	defer allocator.Destroy()

	pipeline := transfer.New(logger, device, allocator, transfer.CreateOptions{
		Metrics:      c,
		QueueMetrics: c,
	})
	defer pipeline.Destroy()

	require.Equal(t, 16.0, testutil.ToFloat64(c.BackingBytes.WithLabelValues("staging")))

	vertex, err := allocator.Allocate(datalloc.BufferTypeVertex, 32)
	require.NoError(t, err)

	// Staging has to grow to hold 32 bytes
	require.NoError(t, pipeline.UploadBuffer(vertex.Region, 0, make([]byte, 32)))

	require.Equal(t, 1.0, testutil.ToFloat64(c.Growths.WithLabelValues("staging")))
	require.Equal(t, 32.0, testutil.ToFloat64(c.BackingBytes.WithLabelValues("staging")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.TransferRequests.WithLabelValues("buffer_upload", "ok")))
	require.Equal(t, 32.0, testutil.ToFloat64(c.TransferBytes.WithLabelValues("buffer_upload")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.DeqEnqueued.WithLabelValues("upload")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.DeqEnqueued.WithLabelValues("copy")))
}
