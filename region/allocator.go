package region

import (
	"context"

	cerrors "github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/conveyor/memutils"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
)

// Slot is a single bookkeeping record within an Allocator. A slot does not store its size: it
// runs until the offset of the next slot, or until the end of the backing buffer for the last slot.
type Slot struct {
	Offset   int
	Occupied bool
}

// Allocator hands out non-overlapping regions of a single linear buffer. It only does bookkeeping:
// when it has to grow, it reports the new backing size and the caller is responsible for resizing
// the real buffer.
//
// Allocator is not safe for concurrent use. Callers must serialize Allocate and Free themselves.
type Allocator struct {
	logger *slog.Logger

	alignment   uint
	committed   int
	backingSize int
	slots       []Slot

	destroyed bool
}

// New creates an Allocator managing a buffer of initialSize bytes, which begins as a single free slot.
// alignment may be 0 (unaligned) or a power of two; every offset returned by Allocate will be a
// multiple of it. initialSize is rounded up to the alignment so that space added by growth stays aligned.
func New(logger *slog.Logger, initialSize int, alignment uint) (*Allocator, error) {
	if initialSize < 0 {
		return nil, cerrors.Newf("initial size must not be negative, but was %d", initialSize)
	}

	err := memutils.CheckPow2(alignment, "alignment")
	if err != nil {
		return nil, err
	}

	a := &Allocator{
		logger:    logger,
		alignment: alignment,
	}
	a.reset(memutils.AlignUp(initialSize, alignment))

	return a, nil
}

func (a *Allocator) reset(size int) {
	a.committed = 0
	a.backingSize = size
	a.slots = a.slots[:0]

	if size > 0 {
		a.slots = append(a.slots, Slot{Offset: 0, Occupied: false})
	}
}

func (a *Allocator) checkAlive() {
	if a.destroyed {
		panic("region allocator used after Destroy")
	}
}

// Alignment returns the alignment that all offsets and sizes are rounded to
func (a *Allocator) Alignment() uint { return a.alignment }

// BackingSize returns the size in bytes of the buffer this allocator is tracking
func (a *Allocator) BackingSize() int { return a.backingSize }

// CommittedSize returns the number of bytes currently inside occupied slots
func (a *Allocator) CommittedSize() int { return a.committed }

// SlotCount returns the number of bookkeeping slots, free and occupied
func (a *Allocator) SlotCount() int { return len(a.slots) }

func (a *Allocator) slotSize(index int) int {
	if index+1 < len(a.slots) {
		return a.slots[index+1].Offset - a.slots[index].Offset
	}

	return a.backingSize - a.slots[index].Offset
}

func (a *Allocator) findSlot(offset int) (int, bool) {
	return slices.BinarySearchFunc(a.slots, offset, func(slot Slot, target int) int {
		return slot.Offset - target
	})
}

// occupy marks the free slot at index as occupied and splits off whatever it does not need
// into a new free slot directly after it
func (a *Allocator) occupy(index int, size int) int {
	slot := &a.slots[index]
	slotSize := a.slotSize(index)
	offset := slot.Offset
	slot.Occupied = true

	if slotSize > size {
		a.slots = slices.Insert(a.slots, index+1, Slot{Offset: offset + size, Occupied: false})
	}

	a.committed += size
	return offset
}

// Allocate reserves a region of at least size bytes and returns its offset. The scan is first-fit
// over the slots in offset order.
//
// When no free slot is large enough, the backing size is doubled until the free space at the end of
// the buffer can hold the request. In that case grewTo is the new backing size, and the caller must
// resize the buffer it owns before using the returned region. grewTo is 0 when the backing size did
// not change.
func (a *Allocator) Allocate(size int) (offset int, grewTo int, err error) {
	a.checkAlive()

	if size <= 0 {
		return 0, 0, cerrors.Wrapf(memutils.ErrZeroSize, "requested %d bytes", size)
	}

	size = memutils.AlignUp(size, a.alignment)

	for index := range a.slots {
		if !a.slots[index].Occupied && a.slotSize(index) >= size {
			offset = a.occupy(index, size)
			memutils.DebugValidate(a)
			return offset, 0, nil
		}
	}

	oldSize := a.backingSize
	a.grow(size)

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "Allocator::Allocate grew backing buffer",
		slog.Int("from", oldSize),
		slog.Int("to", a.backingSize),
		slog.Int("request", size),
	)

	offset = a.occupy(len(a.slots)-1, size)
	memutils.DebugValidate(a)
	return offset, a.backingSize, nil
}

// grow doubles the backing size until the last slot is free and at least size bytes large
func (a *Allocator) grow(size int) {
	if a.backingSize == 0 {
		a.reset(size)
		return
	}

	for {
		last := len(a.slots) - 1
		if a.slots[last].Occupied {
			a.slots = append(a.slots, Slot{Offset: a.backingSize, Occupied: false})
			last++
		}

		a.backingSize *= 2

		if a.slotSize(last) >= size {
			return
		}
	}
}

// Free releases the region starting at offset. Free does not merge the released slot with free
// neighbors; call Coalesce for that.
func (a *Allocator) Free(offset int) error {
	a.checkAlive()

	index, found := a.findSlot(offset)
	if !found {
		return cerrors.Wrapf(memutils.ErrUnknownSlot, "no slot begins at offset %d", offset)
	}

	if !a.slots[index].Occupied {
		return cerrors.Wrapf(memutils.ErrSlotNotOccupied, "slot at offset %d is already free", offset)
	}

	a.slots[index].Occupied = false
	a.committed -= a.slotSize(index)

	memutils.DebugValidate(a)
	return nil
}

// Size returns the size in bytes of the occupied region starting at offset
func (a *Allocator) Size(offset int) (int, error) {
	a.checkAlive()

	index, found := a.findSlot(offset)
	if !found {
		return 0, cerrors.Wrapf(memutils.ErrUnknownSlot, "no slot begins at offset %d", offset)
	}

	if !a.slots[index].Occupied {
		return 0, cerrors.Wrapf(memutils.ErrSlotNotOccupied, "slot at offset %d is free", offset)
	}

	return a.slotSize(index), nil
}

// Coalesce merges runs of adjacent free slots into single slots and returns the number of slots
// that were removed. Nothing in the allocator calls this implicitly.
func (a *Allocator) Coalesce() int {
	a.checkAlive()

	if len(a.slots) < 2 {
		return 0
	}

	merged := 0
	write := 1
	for read := 1; read < len(a.slots); read++ {
		if !a.slots[read].Occupied && !a.slots[write-1].Occupied {
			merged++
			continue
		}

		a.slots[write] = a.slots[read]
		write++
	}
	a.slots = a.slots[:write]

	memutils.DebugValidate(a)
	return merged
}

// Shrink reduces the backing size to size, which must be a multiple of the alignment. Every byte
// past size must be free. It is used to undo a growth that the owner of the backing buffer could
// not carry out.
func (a *Allocator) Shrink(size int) error {
	a.checkAlive()

	if size <= 0 || size > a.backingSize || memutils.AlignUp(size, a.alignment) != size {
		return cerrors.Newf("cannot shrink a backing buffer of %d bytes to %d bytes", a.backingSize, size)
	}

	keep, _ := a.findSlot(size)
	for _, slot := range a.slots[keep:] {
		if slot.Occupied {
			return cerrors.Newf("slot at offset %d is occupied past the new size of %d bytes", slot.Offset, size)
		}
	}

	if a.slots[keep-1].Occupied && a.slotSize(keep-1) != size-a.slots[keep-1].Offset {
		return cerrors.Newf("slot at offset %d extends past the new size of %d bytes", a.slots[keep-1].Offset, size)
	}

	a.slots = a.slots[:keep]
	a.backingSize = size

	memutils.DebugValidate(a)
	return nil
}

// Clear drops every slot and sets the backing size to 0. It is used when the backing buffer is
// being discarded entirely. The next Allocate will size the buffer to fit its request.
func (a *Allocator) Clear() {
	a.checkAlive()
	a.reset(0)
}

// Destroy releases all bookkeeping. The Allocator may not be used afterward.
func (a *Allocator) Destroy() {
	a.slots = nil
	a.committed = 0
	a.backingSize = 0
	a.destroyed = true
}

// Validate performs internal consistency checks on the slot list. When the allocator is functioning
// correctly it is not possible for this method to return an error.
func (a *Allocator) Validate() error {
	if a.destroyed {
		return cerrors.New("the allocator has been destroyed")
	}

	if a.backingSize == 0 {
		if len(a.slots) != 0 {
			return cerrors.AssertionFailedf("the backing size is 0, but there are %d slots", len(a.slots))
		}
		if a.committed != 0 {
			return cerrors.AssertionFailedf("the backing size is 0, but %d bytes are committed", a.committed)
		}
		return nil
	}

	if len(a.slots) == 0 {
		return cerrors.AssertionFailedf("the backing size is %d, but there are no slots", a.backingSize)
	}

	if a.slots[0].Offset != 0 {
		return cerrors.AssertionFailedf("the first slot begins at %d instead of 0", a.slots[0].Offset)
	}

	occupiedBytes := 0
	for index, slot := range a.slots {
		size := a.slotSize(index)
		if size <= 0 {
			return cerrors.AssertionFailedf("slot %d at offset %d has non-positive size %d", index, slot.Offset, size)
		}

		if !memutils.IsAligned(slot.Offset, a.alignment) {
			return cerrors.AssertionFailedf("slot %d at offset %d is not aligned to %d", index, slot.Offset, a.alignment)
		}

		if slot.Occupied {
			occupiedBytes += size
		}
	}

	if occupiedBytes != a.committed {
		return cerrors.AssertionFailedf("the committed size is %d, but the occupied slots cover %d bytes", a.committed, occupiedBytes)
	}

	if a.committed > a.backingSize {
		return cerrors.AssertionFailedf("the committed size %d exceeds the backing size %d", a.committed, a.backingSize)
	}

	return nil
}

// VisitAllRegions will call the provided callback once for each slot, in offset order. If the
// callback returns an error, iteration stops and the error is returned.
func (a *Allocator) VisitAllRegions(handleRegion func(offset int, size int, occupied bool) error) error {
	a.checkAlive()

	for index, slot := range a.slots {
		err := handleRegion(slot.Offset, a.slotSize(index), slot.Occupied)
		if err != nil {
			return err
		}
	}

	return nil
}

// AddStatistics sums this allocator's usage into the provided memutils.Statistics object
func (a *Allocator) AddStatistics(stats *memutils.Statistics) {
	stats.BackingCount++
	stats.BackingBytes += a.backingSize
	stats.AllocationBytes += a.committed

	for _, slot := range a.slots {
		if slot.Occupied {
			stats.AllocationCount++
		}
	}
}

// AddDetailedStatistics sums this allocator's usage, including the shape of its free space,
// into the provided memutils.DetailedStatistics object
func (a *Allocator) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.BackingCount++
	stats.BackingBytes += a.backingSize

	_ = a.VisitAllRegions(func(offset int, size int, occupied bool) error {
		if occupied {
			stats.AddAllocation(size)
		} else {
			stats.AddUnusedRange(size)
		}

		return nil
	})
}

// PrintDetailedMap populates a json object with a summary of this allocator and a list
// of every slot
func (a *Allocator) PrintDetailedMap(json jwriter.ObjectState) {
	var unusedRanges, allocations int
	_ = a.VisitAllRegions(func(offset int, size int, occupied bool) error {
		if occupied {
			allocations++
		} else {
			unusedRanges++
		}
		return nil
	})

	json.Name("TotalBytes").Int(a.backingSize)
	json.Name("UnusedBytes").Int(a.backingSize - a.committed)
	json.Name("Allocations").Int(allocations)
	json.Name("UnusedRanges").Int(unusedRanges)
	json.Name("Alignment").Int(int(a.alignment))

	arrayState := json.Name("Slots").Array()
	defer arrayState.End()

	_ = a.VisitAllRegions(func(offset int, size int, occupied bool) error {
		obj := arrayState.Object()
		defer obj.End()

		obj.Name("Offset").Int(offset)
		obj.Name("Size").Int(size)
		if occupied {
			obj.Name("Type").String("OCCUPIED")
		} else {
			obj.Name("Type").String("FREE")
		}

		return nil
	})
}
