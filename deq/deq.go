package deq

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/conveyor/fifo"
	"golang.org/x/exp/slog"
)

const (
	// MaxQueues is the maximum number of queues in a single Deq
	MaxQueues int = 8
	// MaxProcs is the maximum number of procs in a single Deq
	MaxProcs int = 8
	// MaxProcSize is the maximum number of queues a single proc can consume
	MaxProcSize int = 4

	defaultQueueCapacity = 256
	waitDrainedInterval  = time.Millisecond
)

// ItemType is a caller-defined tag that selects which callbacks an item is dispatched to
type ItemType int

// Item is the envelope that travels through a Deq. A nil Payload is the stop sentinel.
type Item struct {
	Queue   int
	Type    ItemType
	Payload any
}

// IsSentinel returns true if this item is a stop request rather than real work
func (i Item) IsSentinel() bool {
	return i.Payload == nil
}

// Callback is invoked synchronously, on the dequeuing goroutine, for every item whose queue and
// type match the registration. Callbacks may enqueue more work into any queue, including the one
// they were dispatched from.
type Callback func(deq *Deq, item Item, userData any)

// BatchCallback is invoked once per DequeueBatch call with every non-sentinel item that was drained
type BatchCallback func(deq *Deq, items []Item, userData any)

// Metrics receives dispatcher activity. Deq works without one.
type Metrics interface {
	ObserveEnqueue(queue int, depth int)
	ObserveDispatch(queue int, itemType ItemType, duration time.Duration)
}

// CreateOptions contains optional settings when creating a Deq
type CreateOptions struct {
	// InitialCapacity is the starting capacity of each underlying fifo.Queue. Queues grow as needed,
	// so this only affects how soon the first growth happens. Defaults to 256.
	InitialCapacity int
	// Metrics, if not nil, is notified of every enqueue and dispatch
	Metrics Metrics
}

type callbackKey struct {
	queue    int
	itemType ItemType
}

type callbackRegistration struct {
	callback Callback
	userData any
}

type batchRegistration struct {
	callback BatchCallback
	userData any
}

// Deq is a set of FIFO queues grouped into procs. Producers enqueue items into individual queues;
// a consumer dequeues from a proc, which scans that proc's queues and dispatches the item it finds
// to the callbacks registered for the item's queue and type.
//
// Deq is safe for concurrent use.
type Deq struct {
	logger  *slog.Logger
	metrics Metrics

	queues    []*fifo.Queue[Item]
	queueProc []int

	procLock sync.RWMutex
	procs    []*proc

	callbackLock sync.RWMutex
	callbacks    *swiss.Map[callbackKey, []callbackRegistration]

	closed atomic.Bool
}

// New creates a Deq with queueCount empty queues and no procs
func New(logger *slog.Logger, queueCount int, options CreateOptions) *Deq {
	if queueCount <= 0 || queueCount > MaxQueues {
		panic("deq queue count must be between 1 and MaxQueues")
	}

	capacity := options.InitialCapacity
	if capacity < 2 {
		capacity = defaultQueueCapacity
	}

	d := &Deq{
		logger:    logger,
		metrics:   options.Metrics,
		queues:    make([]*fifo.Queue[Item], queueCount),
		queueProc: make([]int, queueCount),
		callbacks: swiss.NewMap[callbackKey, []callbackRegistration](uint32(queueCount * 4)),
	}

	for i := range d.queues {
		d.queues[i] = fifo.New[Item](capacity)
		d.queueProc[i] = -1
	}

	return d
}

// QueueCount returns the number of queues in this Deq
func (d *Deq) QueueCount() int { return len(d.queues) }

// ProcCount returns the number of procs that have been defined
func (d *Deq) ProcCount() int {
	d.procLock.RLock()
	defer d.procLock.RUnlock()

	return len(d.procs)
}

func (d *Deq) checkQueue(queue int) {
	if queue < 0 || queue >= len(d.queues) {
		panic("deq queue index out of range")
	}
}

func (d *Deq) proc(index int) *proc {
	d.procLock.RLock()
	defer d.procLock.RUnlock()

	if index < 0 || index >= len(d.procs) {
		panic("deq proc index out of range")
	}

	return d.procs[index]
}

// DefineProc groups queues under a single consumer domain. Procs must be defined in order,
// starting at 0, and a queue may belong to only one proc.
func (d *Deq) DefineProc(procIndex int, queues ...int) {
	d.logger.Debug("Deq::DefineProc")

	d.procLock.Lock()
	defer d.procLock.Unlock()

	if procIndex != len(d.procs) {
		panic("deq procs must be defined densely, starting at 0")
	}

	if procIndex >= MaxProcs {
		panic("deq proc count exceeds MaxProcs")
	}

	if len(queues) == 0 || len(queues) > MaxProcSize {
		panic("deq proc must contain between 1 and MaxProcSize queues")
	}

	for _, queue := range queues {
		d.checkQueue(queue)

		if d.queueProc[queue] >= 0 {
			panic("deq queue already belongs to a proc")
		}
	}

	p := newProc(procIndex, queues)
	for _, queue := range queues {
		d.queueProc[queue] = procIndex
	}
	d.procs = append(d.procs, p)
}

// SetStrategy changes the order in which a proc's queues are scanned
func (d *Deq) SetStrategy(procIndex int, strategy Strategy) {
	p := d.proc(procIndex)

	p.lock.Lock()
	defer p.lock.Unlock()

	p.strategy = strategy
	p.queueOffset = 0
}

// RegisterCallback adds a callback for items of the given type on the given queue. Registrations
// cannot be removed; callbacks sharing a queue and type are invoked in registration order.
func (d *Deq) RegisterCallback(queue int, itemType ItemType, callback Callback, userData any) {
	d.checkQueue(queue)

	if callback == nil {
		panic("deq callback must not be nil")
	}

	d.callbackLock.Lock()
	defer d.callbackLock.Unlock()

	key := callbackKey{queue: queue, itemType: itemType}
	registrations, _ := d.callbacks.Get(key)
	registrations = append(registrations, callbackRegistration{callback: callback, userData: userData})
	d.callbacks.Put(key, registrations)
}

// RegisterBatchCallback adds a callback that DequeueBatch invokes for the given proc
func (d *Deq) RegisterBatchCallback(procIndex int, callback BatchCallback, userData any) {
	if callback == nil {
		panic("deq callback must not be nil")
	}

	p := d.proc(procIndex)

	p.lock.Lock()
	defer p.lock.Unlock()

	p.batchCallbacks = append(p.batchCallbacks, batchRegistration{callback: callback, userData: userData})
}

func (d *Deq) enqueue(queue int, itemType ItemType, payload any, front bool) {
	d.checkQueue(queue)

	item := Item{Queue: queue, Type: itemType, Payload: payload}
	q := d.queues[queue]
	if front {
		q.EnqueueFront(item)
	} else {
		q.Enqueue(item)
	}

	if d.metrics != nil {
		d.metrics.ObserveEnqueue(queue, q.Size())
	}

	procIndex := d.queueProc[queue]
	if procIndex >= 0 {
		d.proc(procIndex).signal()
	}
}

// Enqueue appends a payload to the back of a queue and wakes the proc that consumes it.
// A nil payload is the stop sentinel.
func (d *Deq) Enqueue(queue int, itemType ItemType, payload any) {
	d.enqueue(queue, itemType, payload, false)
}

// EnqueueFront inserts a payload at the front of a queue, ahead of everything already waiting
func (d *Deq) EnqueueFront(queue int, itemType ItemType, payload any) {
	d.enqueue(queue, itemType, payload, true)
}

// Stop enqueues a sentinel on every queue of a proc. A DequeueLoop on that proc returns after
// it has worked through everything that was enqueued before the sentinels.
func (d *Deq) Stop(procIndex int) {
	d.logger.Debug("Deq::Stop")

	p := d.proc(procIndex)
	for _, queue := range p.queues {
		d.Enqueue(queue, 0, nil)
	}
}

// Dequeue pops the next item from a proc and dispatches it to the callbacks registered for its queue
// and type. Queues are scanned in the proc's strategy order, and the first item found wins.
//
// If wait is true and the proc is empty, Dequeue blocks until one of the proc's queues receives an
// item. The boolean is false when nothing was dequeued: wait was false and the proc was empty, or the
// Deq was destroyed. Sentinels are returned but never dispatched.
func (d *Deq) Dequeue(procIndex int, wait bool) (Item, bool) {
	p := d.proc(procIndex)

	p.lock.Lock()
	item, ok := p.scan(d.queues)
	for !ok && wait && !d.closed.Load() {
		p.cond.Wait()
		item, ok = p.scan(d.queues)
	}

	if !ok {
		p.lock.Unlock()
		return Item{}, false
	}

	p.processing++
	p.lock.Unlock()

	defer p.doneProcessing()

	if !item.IsSentinel() {
		d.dispatch(item)
	}

	return item, true
}

// DequeueBatch drains every item currently waiting in a proc, then invokes each of the proc's
// batch callbacks once with the drained items. Per-item callbacks are not invoked. If wait is true
// and the proc is empty, DequeueBatch blocks until at least one item is available.
func (d *Deq) DequeueBatch(procIndex int, wait bool) []Item {
	p := d.proc(procIndex)

	p.lock.Lock()
	item, ok := p.scan(d.queues)
	for !ok && wait && !d.closed.Load() {
		p.cond.Wait()
		item, ok = p.scan(d.queues)
	}

	if !ok {
		p.lock.Unlock()
		return nil
	}

	items := []Item{item}
	for {
		item, ok = p.scan(d.queues)
		if !ok {
			break
		}
		items = append(items, item)
	}

	batchCallbacks := p.batchCallbacks
	p.processing++
	p.lock.Unlock()

	defer p.doneProcessing()

	work := make([]Item, 0, len(items))
	for _, item := range items {
		if !item.IsSentinel() {
			work = append(work, item)
		}
	}

	if len(work) > 0 {
		for _, registration := range batchCallbacks {
			registration.callback(d, work, registration.userData)
		}
	}

	return items
}

// DequeueLoop dequeues from a proc until it has received a sentinel from each of the proc's queues.
// Because queues are FIFO, everything enqueued before the sentinels is dispatched before the loop
// returns. It also returns if the Deq is destroyed.
func (d *Deq) DequeueLoop(procIndex int) {
	p := d.proc(procIndex)
	stopped := make(map[int]struct{}, len(p.queues))

	for len(stopped) < len(p.queues) {
		item, ok := d.Dequeue(procIndex, true)
		if !ok {
			if d.closed.Load() {
				return
			}
			continue
		}

		if item.IsSentinel() {
			stopped[item.Queue] = struct{}{}
		}
	}

	d.logger.LogAttrs(context.Background(), slog.LevelDebug, "Deq::DequeueLoop stopped", slog.Int("proc", procIndex))
}

func (d *Deq) dispatch(item Item) {
	d.callbackLock.RLock()
	registrations, _ := d.callbacks.Get(callbackKey{queue: item.Queue, itemType: item.Type})
	d.callbackLock.RUnlock()

	var start time.Time
	if d.metrics != nil {
		start = time.Now()
	}

	for _, registration := range registrations {
		registration.callback(d, item, registration.userData)
	}

	if d.metrics != nil {
		d.metrics.ObserveDispatch(item.Queue, item.Type, time.Since(start))
	}
}

// WaitDrained blocks until every queue of a proc is empty and no item from the proc is still being
// processed by a callback. It polls at a short interval.
func (d *Deq) WaitDrained(procIndex int) {
	p := d.proc(procIndex)

	for !p.idle(d.queues) {
		if d.closed.Load() {
			return
		}
		time.Sleep(waitDrainedInterval)
	}
}

// Size returns the number of items waiting in a queue
func (d *Deq) Size(queue int) int {
	d.checkQueue(queue)
	return d.queues[queue].Size()
}

// PeekFirst returns the item at the front of a queue without removing it
func (d *Deq) PeekFirst(queue int) (Item, bool) {
	d.checkQueue(queue)
	return d.queues[queue].PeekFirst()
}

// PeekLast returns the item at the back of a queue without removing it
func (d *Deq) PeekLast(queue int) (Item, bool) {
	d.checkQueue(queue)
	return d.queues[queue].PeekLast()
}

// Discard drops the oldest items of a queue until at most maxSize remain, returning the number
// dropped. Dropped items are never dispatched.
func (d *Deq) Discard(queue int, maxSize int) int {
	d.checkQueue(queue)

	dropped := d.queues[queue].Discard(maxSize)
	if dropped > 0 {
		d.logger.LogAttrs(context.Background(), slog.LevelWarn, "Deq::Discard dropped items",
			slog.Int("queue", queue),
			slog.Int("dropped", dropped),
		)
	}

	return dropped
}

// Reset drops every item in every queue without dispatching it
func (d *Deq) Reset() {
	for _, q := range d.queues {
		q.Reset()
	}
}

// Destroy drops all queued items and wakes every blocked consumer. Waiting Dequeue calls return
// false and DequeueLoop returns.
func (d *Deq) Destroy() {
	d.logger.Debug("Deq::Destroy")

	d.closed.Store(true)

	for _, q := range d.queues {
		q.Destroy()
	}

	d.procLock.RLock()
	defer d.procLock.RUnlock()

	for _, p := range d.procs {
		p.signal()
	}
}
