// Package metrics exposes conveyor's dispatcher, allocator and transfer activity as Prometheus
// metrics. A single Collectors value implements deq.Metrics, datalloc.Metrics and transfer.Metrics,
// so it can be handed to every CreateOptions at once.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vkngwrapper/conveyor/datalloc"
	"github.com/vkngwrapper/conveyor/deq"
	"github.com/vkngwrapper/conveyor/transfer"
)

const namespace = "conveyor"

var (
	_ deq.Metrics      = (*Collectors)(nil)
	_ datalloc.Metrics = (*Collectors)(nil)
	_ transfer.Metrics = (*Collectors)(nil)
)

// Options contains optional settings when creating Collectors
type Options struct {
	// QueueNames labels deq queues by index. Queues without a name are labelled with their index.
	QueueNames []string
	// DispatchBuckets overrides the histogram buckets of dispatch durations, in seconds
	DispatchBuckets []float64
}

// Collectors is the set of conveyor metrics registered with one registry. All methods are safe on
// a nil *Collectors.
type Collectors struct {
	queueNames []string

	DeqEnqueued      *prometheus.CounterVec
	DeqDispatch      *prometheus.HistogramVec
	DeqDepth         *prometheus.GaugeVec
	BackingBytes     *prometheus.GaugeVec
	Growths          *prometheus.CounterVec
	TransferRequests *prometheus.CounterVec
	TransferBytes    *prometheus.CounterVec
}

// New creates the conveyor metrics and registers them with reg. It panics if any of them is
// already registered.
func New(reg prometheus.Registerer, options Options) *Collectors {
	factory := promauto.With(reg)

	buckets := options.DispatchBuckets
	if buckets == nil {
		buckets = prometheus.ExponentialBuckets(0.00001, 4, 10)
	}

	return &Collectors{
		queueNames: options.QueueNames,

		DeqEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deq",
			Name:      "enqueued_total",
			Help:      "Items enqueued, by queue",
		}, []string{"queue"}),
		DeqDispatch: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "deq",
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent running the callbacks of a dequeued item, by queue and item type",
			Buckets:   buckets,
		}, []string{"queue", "type"}),
		DeqDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "deq",
			Name:      "depth",
			Help:      "Queue depth observed after the latest enqueue, by queue",
		}, []string{"queue"}),
		BackingBytes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "datalloc",
			Name:      "backing_bytes",
			Help:      "Size of the shared backing buffer, by buffer type",
		}, []string{"buffer_type"}),
		Growths: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "datalloc",
			Name:      "growth_total",
			Help:      "Shared buffer resizes caused by allocations, by buffer type",
		}, []string{"buffer_type"}),
		TransferRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "requests_total",
			Help:      "Completed transfer requests, by kind and status",
		}, []string{"kind", "status"}),
		TransferBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "bytes_total",
			Help:      "Bytes moved by successful transfer requests, by kind",
		}, []string{"kind"}),
	}
}

func (c *Collectors) queueLabel(queue int) string {
	if queue >= 0 && queue < len(c.queueNames) && c.queueNames[queue] != "" {
		return c.queueNames[queue]
	}
	return strconv.Itoa(queue)
}

// ObserveEnqueue implements deq.Metrics
func (c *Collectors) ObserveEnqueue(queue int, depth int) {
	if c == nil {
		return
	}

	label := c.queueLabel(queue)
	c.DeqEnqueued.WithLabelValues(label).Inc()
	c.DeqDepth.WithLabelValues(label).Set(float64(depth))
}

// ObserveDispatch implements deq.Metrics
func (c *Collectors) ObserveDispatch(queue int, itemType deq.ItemType, duration time.Duration) {
	if c == nil {
		return
	}

	c.DeqDispatch.WithLabelValues(c.queueLabel(queue), strconv.Itoa(int(itemType))).Observe(duration.Seconds())
}

// ObserveBackingSize implements datalloc.Metrics
func (c *Collectors) ObserveBackingSize(bufferType datalloc.BufferType, size int) {
	if c == nil {
		return
	}

	c.BackingBytes.WithLabelValues(bufferType.String()).Set(float64(size))
}

// ObserveGrowth implements datalloc.Metrics
func (c *Collectors) ObserveGrowth(bufferType datalloc.BufferType) {
	if c == nil {
		return
	}

	c.Growths.WithLabelValues(bufferType.String()).Inc()
}

// ObserveRequest implements transfer.Metrics
func (c *Collectors) ObserveRequest(kind transfer.Kind, size int, err error) {
	if c == nil {
		return
	}

	status := "ok"
	if err != nil {
		status = "error"
	}

	c.TransferRequests.WithLabelValues(kind.String(), status).Inc()
	if err == nil {
		c.TransferBytes.WithLabelValues(kind.String()).Add(float64(size))
	}
}
