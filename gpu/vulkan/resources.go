package vulkan

import (
	"sync"

	cerrors "github.com/cockroachdb/errors"
	"github.com/vkngwrapper/conveyor/gpu"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// Buffer is a gpu.Buffer with a dedicated memory allocation
type Buffer struct {
	device *Device

	lock     sync.RWMutex
	buffer   core1_0.Buffer
	memory   *deviceMemory
	size     int
	usage    gpu.BufferUsage
	mappable bool
}

var _ gpu.Buffer = &Buffer{}

// Handle returns the underlying core1_0.Buffer. It changes when the buffer is resized.
func (b *Buffer) Handle() core1_0.Buffer {
	b.lock.RLock()
	defer b.lock.RUnlock()

	return b.buffer
}

func (b *Buffer) Size() int {
	b.lock.RLock()
	defer b.lock.RUnlock()

	return b.size
}

func (b *Buffer) Usage() gpu.BufferUsage { return b.usage }

func (b *Buffer) Mappable() bool { return b.mappable }

func (b *Buffer) checkMapped(offset int, size int) error {
	if b.buffer == nil {
		return cerrors.New("buffer has been destroyed")
	}
	if !b.mappable {
		return ErrNotMappable
	}
	if offset < 0 || offset+size > b.size {
		return cerrors.Newf("%d bytes at offset %d do not fit in a buffer of %d bytes", size, offset, b.size)
	}
	return nil
}

func (b *Buffer) Upload(offset int, data []byte) error {
	b.lock.RLock()
	defer b.lock.RUnlock()

	err := b.checkMapped(offset, len(data))
	if err != nil {
		return err
	}

	copy(b.memory.bytes()[offset:], data)
	return nil
}

func (b *Buffer) Download(offset int, data []byte) error {
	b.lock.RLock()
	defer b.lock.RUnlock()

	err := b.checkMapped(offset, len(data))
	if err != nil {
		return err
	}

	copy(data, b.memory.bytes()[offset:offset+len(data)])
	return nil
}

// Resize replaces the buffer and its memory with new ones of the requested size and copies the
// contents that fit across
func (b *Buffer) Resize(size int) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.buffer == nil {
		return cerrors.New("buffer has been destroyed")
	}
	if size <= 0 {
		return cerrors.Newf("buffer size must be positive, but was %d", size)
	}
	if size == b.size {
		return nil
	}

	buffer, memory, err := b.device.createBuffer(size, b.usage, b.mappable)
	if err != nil {
		return err
	}

	keep := size
	if b.size < keep {
		keep = b.size
	}

	if b.mappable {
		copy(memory.bytes(), b.memory.bytes()[:keep])
	} else {
		err = b.device.submitOnce(gpu.QueueTransfer, func(commandBuffer core1_0.CommandBuffer) error {
			return commandBuffer.CmdCopyBuffer(b.buffer, buffer, []core1_0.BufferCopy{
				{SrcOffset: 0, DstOffset: 0, Size: keep},
			})
		})
		if err != nil {
			memory.free()
			buffer.Destroy(nil)
			return cerrors.Wrap(err, "failed to copy buffer contents")
		}
	}

	b.buffer.Destroy(nil)
	b.memory.free()

	b.buffer = buffer
	b.memory = memory
	b.size = size
	return nil
}

func (b *Buffer) Destroy() {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.buffer == nil {
		return
	}

	b.buffer.Destroy(nil)
	b.memory.free()
	b.buffer = nil
	b.memory = nil
}

// Image is a gpu.Image with a dedicated memory allocation. It is always in the general layout.
type Image struct {
	image  core1_0.Image
	memory *deviceMemory
	shape  gpu.Extent3D
	format gpu.Format
}

var _ gpu.Image = &Image{}

// Handle returns the underlying core1_0.Image
func (i *Image) Handle() core1_0.Image { return i.image }

func (i *Image) Shape() gpu.Extent3D { return i.shape }

func (i *Image) Format() gpu.Format { return i.format }

func (i *Image) Destroy() {
	if i.image == nil {
		return
	}

	i.image.Destroy(nil)
	i.memory.free()
	i.image = nil
	i.memory = nil
}
