package transfer

import (
	"context"
	"sync"
	"time"

	cerrors "github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sourcegraph/conc"
	"github.com/vkngwrapper/conveyor/datalloc"
	"github.com/vkngwrapper/conveyor/deq"
	"github.com/vkngwrapper/conveyor/gpu"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/exp/slog"
)

// ErrEmptyData is returned when a transfer is submitted with no bytes to move
var ErrEmptyData error = errors.New("transfer data is empty")

// ErrOutOfBounds is returned when a transfer would read or write outside of its buffer region or image
var ErrOutOfBounds error = errors.New("transfer is out of bounds")

// ErrClosed is returned by operations on a Pipeline that has been destroyed, and is the error of
// every request that was still in flight when it was destroyed
var ErrClosed error = errors.New("transfer pipeline is closed")

const (
	tracerName     = "github.com/vkngwrapper/conveyor/transfer"
	settleInterval = time.Millisecond
)

// Metrics receives a notification whenever a request completes. Pipeline works without one.
type Metrics interface {
	ObserveRequest(kind Kind, size int, err error)
}

// CreateOptions contains optional settings when creating a Pipeline
type CreateOptions struct {
	// TracerProvider supplies the tracer for request spans. Defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider
	// Metrics, if not nil, is notified whenever a request completes
	Metrics Metrics
	// QueueMetrics, if not nil, is passed to the pipeline's Deq
	QueueMetrics deq.Metrics
	// QueueCapacity is the initial capacity of each of the pipeline's queues
	QueueCapacity int
}

// Pipeline moves data between the host, staging buffers, device buffers and images. Every request
// becomes a short chain of tasks on a Deq:
//
//   - uploads and downloads run on ProcUD, which a background goroutine drains for the lifetime of
//     the Pipeline
//   - device-side copies run on ProcCopy, and completion events on ProcEvent. Neither is drained in
//     the background: the frame loop calls ProcessCopies and ProcessEvents, or a synchronous wrapper
//     drains them itself.
//
// Staging regions come from the BufferTypeStaging buffer of the datalloc.Allocator, which must be
// internally synchronized and must outlive the Pipeline.
type Pipeline struct {
	logger    *slog.Logger
	device    gpu.Device
	allocator *datalloc.Allocator
	metrics   Metrics
	tracer    trace.Tracer

	deq *deq.Deq
	wg  conc.WaitGroup

	closeLock sync.RWMutex
	closed    bool

	pendingLock sync.Mutex
	pending     *swiss.Map[uuid.UUID, *Request]

	dupLock sync.Mutex
	dups    *swiss.Map[uuid.UUID, *dupEntry]
}

// New creates a Pipeline and starts its background goroutine
func New(logger *slog.Logger, device gpu.Device, allocator *datalloc.Allocator, options CreateOptions) *Pipeline {
	tracerProvider := options.TracerProvider
	if tracerProvider == nil {
		tracerProvider = otel.GetTracerProvider()
	}

	p := &Pipeline{
		logger:    logger,
		device:    device,
		allocator: allocator,
		metrics:   options.Metrics,
		tracer:    tracerProvider.Tracer(tracerName),
		pending:   swiss.NewMap[uuid.UUID, *Request](64),
		dups:      swiss.NewMap[uuid.UUID, *dupEntry](uint32(MaxDups)),
	}

	p.deq = deq.New(logger, queueCount, deq.CreateOptions{
		InitialCapacity: options.QueueCapacity,
		Metrics:         options.QueueMetrics,
	})
	p.deq.DefineProc(ProcUD, QueueUpload, QueueDownload)
	p.deq.DefineProc(ProcCopy, QueueCopy)
	p.deq.DefineProc(ProcEvent, QueueEvent)
	p.deq.DefineProc(ProcDup, QueueDup)

	p.deq.RegisterCallback(QueueUpload, TaskBufferUpload, processBufferUpload, p)
	p.deq.RegisterCallback(QueueUpload, TaskImageUpload, processImageUpload, p)
	p.deq.RegisterCallback(QueueDownload, TaskBufferDownload, processBufferDownload, p)
	p.deq.RegisterCallback(QueueDownload, TaskImageDownload, processImageDownload, p)
	p.deq.RegisterCallback(QueueCopy, TaskBufferCopy, processBufferCopy, p)
	p.deq.RegisterCallback(QueueCopy, TaskImageCopy, processImageCopy, p)
	p.deq.RegisterCallback(QueueCopy, TaskBufferImage, processBufferImage, p)
	p.deq.RegisterCallback(QueueCopy, TaskImageBuffer, processImageBuffer, p)
	p.deq.RegisterCallback(QueueEvent, TaskDownloadDone, processDownloadDone, p)
	p.deq.RegisterCallback(QueueDup, TaskDupUpload, processDupUpload, p)

	p.wg.Go(func() {
		p.deq.DequeueLoop(ProcUD)
	})

	return p
}

// Deq returns the queue set the pipeline runs on
func (p *Pipeline) Deq() *deq.Deq {
	return p.deq
}

// OnEvent registers a callback for items of the given type on QueueEvent. It runs on whichever
// goroutine drains ProcEvent, after the pipeline's own handling of the item.
func (p *Pipeline) OnEvent(itemType deq.ItemType, callback deq.Callback, userData any) {
	p.deq.RegisterCallback(QueueEvent, itemType, callback, userData)
}

// ProcessCopies runs queued device-side copies and returns the number that were run. If wait is
// true and nothing is queued, it blocks until a copy arrives.
func (p *Pipeline) ProcessCopies(wait bool) int {
	return p.drain(ProcCopy, wait)
}

// ProcessEvents dispatches queued completion events and returns the number that were dispatched.
// If wait is true and nothing is queued, it blocks until an event arrives.
func (p *Pipeline) ProcessEvents(wait bool) int {
	return p.drain(ProcEvent, wait)
}

func (p *Pipeline) drain(procIndex int, wait bool) int {
	count := 0
	for {
		_, ok := p.deq.Dequeue(procIndex, wait && count == 0)
		if !ok {
			return count
		}
		count++
	}
}

// Pending returns the number of requests that have been submitted and have not completed
func (p *Pipeline) Pending() int {
	p.pendingLock.Lock()
	defer p.pendingLock.Unlock()

	return p.pending.Count()
}

// Destroy stops the background goroutine once it has worked through the uploads and downloads
// already queued. Requests that are still waiting on a copy or an event complete with ErrClosed.
func (p *Pipeline) Destroy() {
	p.logger.Debug("Pipeline::Destroy")

	p.closeLock.Lock()
	if p.closed {
		p.closeLock.Unlock()
		return
	}
	p.closed = true
	p.closeLock.Unlock()

	p.deq.Enqueue(QueueUpload, 0, nil)
	p.deq.Enqueue(QueueDownload, 0, nil)
	p.wg.Wait()

	p.deq.Destroy()

	p.pendingLock.Lock()
	var abandoned []*Request
	p.pending.Iter(func(_ uuid.UUID, req *Request) bool {
		abandoned = append(abandoned, req)
		return false
	})
	p.pendingLock.Unlock()

	for _, req := range abandoned {
		req.complete(ErrClosed)
	}

	p.dupLock.Lock()
	p.dups = swiss.NewMap[uuid.UUID, *dupEntry](uint32(MaxDups))
	p.dupLock.Unlock()
}

// submit runs enqueue while holding the pipeline open. It fails with ErrClosed if the pipeline has
// been destroyed.
func (p *Pipeline) submit(enqueue func() error) error {
	p.closeLock.RLock()
	defer p.closeLock.RUnlock()

	if p.closed {
		return ErrClosed
	}

	return enqueue()
}

// allocateStaging reserves a staging region of size bytes
func (p *Pipeline) allocateStaging(size int) (*datalloc.Allocation, error) {
	allocation, err := p.allocator.Allocate(datalloc.BufferTypeStaging, size)
	if err != nil {
		return nil, cerrors.Wrap(err, "failed to allocate staging memory")
	}

	return &allocation, nil
}

// begin creates a tracked request. The staging allocation, if any, is released when the request
// completes.
func (p *Pipeline) begin(kind Kind, size int, staging *datalloc.Allocation) *Request {
	req := newRequest(kind, size)

	_, req.span = p.tracer.Start(context.Background(), "transfer."+kind.String(), trace.WithAttributes(
		attribute.String("conveyor.request_id", req.ID.String()),
		attribute.Int("conveyor.bytes", size),
	))

	req.finalize = func(r *Request) {
		p.pendingLock.Lock()
		p.pending.Delete(r.ID)
		p.pendingLock.Unlock()

		if staging != nil {
			err := p.allocator.Free(*staging)
			if err != nil {
				p.logger.LogAttrs(context.Background(), slog.LevelError, "Pipeline::begin failed to free staging memory",
					slog.String("request", r.ID.String()),
					slog.Any("error", err),
				)
			}
		}

		if p.metrics != nil {
			p.metrics.ObserveRequest(r.Kind, r.Size, r.err)
		}
	}

	p.pendingLock.Lock()
	p.pending.Put(req.ID, req)
	p.pendingLock.Unlock()

	return req
}

// fail completes a request with a backend error. The rest of its chain is abandoned.
func (p *Pipeline) fail(req *Request, err error, msg string) {
	p.logger.LogAttrs(context.Background(), slog.LevelError, msg,
		slog.String("request", req.ID.String()),
		slog.String("kind", req.Kind.String()),
		slog.Any("error", err),
	)

	req.complete(err)
}

// settle drains ProcCopy and ProcEvent on the calling goroutine until req completes, then waits for
// ProcUD and ProcEvent to go idle
func (p *Pipeline) settle(req *Request) error {
	ticker := time.NewTicker(settleInterval)
	defer ticker.Stop()

	for !req.Completed() {
		if p.drain(ProcCopy, false) > 0 {
			continue
		}
		if p.drain(ProcEvent, false) > 0 {
			continue
		}

		select {
		case <-req.Done():
		case <-ticker.C:
		}
	}

	p.deq.WaitDrained(ProcUD)
	p.deq.WaitDrained(ProcEvent)

	return req.Err()
}
