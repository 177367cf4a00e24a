package datalloc

import (
	"context"
	"strconv"

	cerrors "github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/conveyor/gpu"
	"github.com/vkngwrapper/conveyor/internal/utils"
	"github.com/vkngwrapper/conveyor/memutils"
	"github.com/vkngwrapper/conveyor/region"
	"github.com/vkngwrapper/core/v2/common"
	"golang.org/x/exp/slog"
)

// BufferType identifies one of the shared buffers an Allocator manages
type BufferType int

const (
	BufferTypeStaging BufferType = iota
	BufferTypeVertex
	BufferTypeIndex
	BufferTypeUniform
	BufferTypeStorage
	BufferTypeIndirect

	BufferTypeCount int = iota
)

var bufferTypeMapping = map[BufferType]string{
	BufferTypeStaging:  "staging",
	BufferTypeVertex:   "vertex",
	BufferTypeIndex:    "index",
	BufferTypeUniform:  "uniform",
	BufferTypeStorage:  "storage",
	BufferTypeIndirect: "indirect",
}

func (t BufferType) String() string {
	name, ok := bufferTypeMapping[t]
	if !ok {
		return "BufferType(" + strconv.Itoa(int(t)) + ")"
	}
	return name
}

// Usage returns the buffer usage that the shared buffer of this type is created with
func (t BufferType) Usage() gpu.BufferUsage {
	switch t {
	case BufferTypeStaging:
		return gpu.BufferUsageStaging
	case BufferTypeVertex:
		return gpu.BufferUsageVertex
	case BufferTypeIndex:
		return gpu.BufferUsageIndex
	case BufferTypeUniform:
		return gpu.BufferUsageUniform
	case BufferTypeStorage:
		return gpu.BufferUsageStorage
	case BufferTypeIndirect:
		return gpu.BufferUsageIndirect
	}

	return 0
}

// CreateFlags indicate specific allocator behaviors to activate or deactivate
type CreateFlags int32

var createFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	createFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return createFlagsMapping.FlagsToString(f)
}

const (
	// CreateExternallySynchronized ensures that this allocator will not be synchronized internally.
	// The consumer must guarantee that it is used from only one goroutine at a time.
	CreateExternallySynchronized CreateFlags = 1 << iota
)

func init() {
	CreateExternallySynchronized.Register("CreateExternallySynchronized")
}

// DefaultInitialSize is the size of each shared buffer when CreateOptions does not provide one. It is equal to 1Mb.
const DefaultInitialSize int = 1024 * 1024

// Metrics receives notifications when shared buffers change size. Allocator works without one.
type Metrics interface {
	ObserveBackingSize(bufferType BufferType, size int)
	ObserveGrowth(bufferType BufferType)
}

// CreateOptions contains optional settings when creating an Allocator
type CreateOptions struct {
	// Flags indicates specific allocator behaviors to activate or deactivate
	Flags CreateFlags
	// InitialSizes is the starting size in bytes of each shared buffer. Types that are missing
	// start at DefaultInitialSize.
	InitialSizes map[BufferType]int
	// Metrics, if not nil, is notified whenever a shared buffer is created or grows
	Metrics Metrics
}

// Allocation is a region handed out by an Allocator
type Allocation struct {
	Region gpu.BufferRegion
	Type   BufferType
	// GrewTo is the new size of the shared buffer if this allocation made it grow, and 0 otherwise.
	// Regions previously allocated from the same buffer remain valid.
	GrewTo int

	standalone bool
}

// Standalone returns true if this allocation owns a dedicated buffer
func (a Allocation) Standalone() bool { return a.standalone }

type sharedBuffer struct {
	buffer gpu.Buffer
	alloc  *region.Allocator
}

// Allocator sub-allocates one shared buffer per BufferType. When a buffer's region allocator runs out of
// space and grows, the Allocator resizes the buffer to match before returning the new region.
type Allocator struct {
	logger  *slog.Logger
	device  gpu.Device
	metrics Metrics

	mutex   utils.OptionalRWMutex
	buffers [BufferTypeCount]*sharedBuffer
}

// New creates an Allocator and its shared buffers. The alignment of each buffer's regions comes from
// the device's alignment requirement for the buffer's usage.
func New(logger *slog.Logger, device gpu.Device, options CreateOptions) (*Allocator, error) {
	a := &Allocator{
		logger:  logger,
		device:  device,
		metrics: options.Metrics,
		mutex: utils.OptionalRWMutex{
			UseMutex: options.Flags&CreateExternallySynchronized == 0,
		},
	}

	for i := 0; i < BufferTypeCount; i++ {
		bufferType := BufferType(i)

		size, ok := options.InitialSizes[bufferType]
		if !ok {
			size = DefaultInitialSize
		}

		shared, err := a.createSharedBuffer(bufferType, size)
		if err != nil {
			a.Destroy()
			return nil, cerrors.Wrapf(err, "failed to create the %s buffer", bufferType)
		}

		a.buffers[i] = shared
	}

	return a, nil
}

func (a *Allocator) createSharedBuffer(bufferType BufferType, size int) (*sharedBuffer, error) {
	usage := bufferType.Usage()

	alloc, err := region.New(a.logger, size, a.device.Alignment(usage))
	if err != nil {
		return nil, err
	}

	buffer, err := a.device.CreateBuffer(alloc.BackingSize(), usage)
	if err != nil {
		return nil, err
	}

	if a.metrics != nil {
		a.metrics.ObserveBackingSize(bufferType, buffer.Size())
	}

	return &sharedBuffer{buffer: buffer, alloc: alloc}, nil
}

func (a *Allocator) shared(bufferType BufferType) *sharedBuffer {
	if bufferType < 0 || int(bufferType) >= BufferTypeCount {
		panic("datalloc buffer type out of range")
	}

	shared := a.buffers[bufferType]
	if shared == nil {
		panic("datalloc allocator used after Destroy")
	}

	return shared
}

// Buffer returns the shared buffer of the given type
func (a *Allocator) Buffer(bufferType BufferType) gpu.Buffer {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.shared(bufferType).buffer
}

// Allocate reserves size bytes in the shared buffer of the given type. If the buffer had to grow, it has
// already been resized when Allocate returns, and Allocation.GrewTo reports the new size.
func (a *Allocator) Allocate(bufferType BufferType, size int) (Allocation, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	shared := a.shared(bufferType)

	offset, grewTo, err := shared.alloc.Allocate(size)
	if err != nil {
		return Allocation{}, err
	}

	if grewTo > 0 {
		err = shared.buffer.Resize(grewTo)
		if err != nil {
			rollbackErr := shared.alloc.Free(offset)
			if rollbackErr == nil {
				rollbackErr = shared.alloc.Shrink(shared.buffer.Size())
			}
			if rollbackErr != nil {
				err = cerrors.CombineErrors(err, rollbackErr)
			}
			return Allocation{}, cerrors.Wrapf(err, "failed to resize the %s buffer to %d bytes", bufferType, grewTo)
		}

		a.logger.LogAttrs(context.Background(), slog.LevelInfo, "Allocator::Allocate resized shared buffer",
			slog.String("type", bufferType.String()),
			slog.Int("size", grewTo),
		)

		if a.metrics != nil {
			a.metrics.ObserveGrowth(bufferType)
			a.metrics.ObserveBackingSize(bufferType, grewTo)
		}
	}

	return Allocation{
		Region: gpu.BufferRegion{
			Buffer: shared.buffer,
			Offset: offset,
			Size:   size,
		},
		Type:   bufferType,
		GrewTo: grewTo,
	}, nil
}

// AllocateStandalone creates a dedicated buffer of the given type instead of sub-allocating the
// shared one
func (a *Allocator) AllocateStandalone(bufferType BufferType, size int) (Allocation, error) {
	if size <= 0 {
		return Allocation{}, cerrors.Wrapf(memutils.ErrZeroSize, "requested %d bytes", size)
	}

	buffer, err := a.device.CreateBuffer(size, bufferType.Usage())
	if err != nil {
		return Allocation{}, err
	}

	return Allocation{
		Region: gpu.BufferRegion{
			Buffer: buffer,
			Offset: 0,
			Size:   size,
		},
		Type:       bufferType,
		standalone: true,
	}, nil
}

// Free releases an allocation. Standalone allocations destroy their buffer.
func (a *Allocator) Free(allocation Allocation) error {
	if allocation.standalone {
		allocation.Region.Buffer.Destroy()
		return nil
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	shared := a.shared(allocation.Type)
	if allocation.Region.Buffer != shared.buffer {
		return cerrors.Newf("allocation at offset %d does not belong to the %s buffer", allocation.Region.Offset, allocation.Type)
	}

	return shared.alloc.Free(allocation.Region.Offset)
}

// CalculateStatistics populates stats with the usage of every shared buffer
func (a *Allocator) CalculateStatistics(stats *memutils.DetailedStatistics) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	stats.Clear()
	for i := 0; i < BufferTypeCount; i++ {
		a.shared(BufferType(i)).alloc.AddDetailedStatistics(stats)
	}
}

// Validate runs the consistency checks of every shared buffer's region allocator and verifies
// that each buffer is as large as its bookkeeping says
func (a *Allocator) Validate() error {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	for i := 0; i < BufferTypeCount; i++ {
		bufferType := BufferType(i)
		shared := a.shared(bufferType)

		err := shared.alloc.Validate()
		if err != nil {
			return cerrors.Wrapf(err, "%s buffer", bufferType)
		}

		if shared.buffer.Size() < shared.alloc.BackingSize() {
			return cerrors.AssertionFailedf("the %s buffer is %d bytes but its allocator tracks %d",
				bufferType, shared.buffer.Size(), shared.alloc.BackingSize())
		}
	}

	return nil
}

// PrintDetailedMap writes a json object with one member per shared buffer, describing every region in it
func (a *Allocator) PrintDetailedMap(writer *jwriter.Writer) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	objState := writer.Object()
	defer objState.End()

	for i := 0; i < BufferTypeCount; i++ {
		bufferType := BufferType(i)

		bufferObj := objState.Name(bufferType.String()).Object()
		bufferObj.Name("Usage").String(bufferType.Usage().String())
		a.shared(bufferType).alloc.PrintDetailedMap(bufferObj)
		bufferObj.End()
	}
}

// Destroy destroys every shared buffer. Standalone allocations are not tracked and must be freed
// by their owner.
func (a *Allocator) Destroy() {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	for i, shared := range a.buffers {
		if shared == nil {
			continue
		}

		shared.buffer.Destroy()
		shared.alloc.Destroy()
		a.buffers[i] = nil
	}
}
