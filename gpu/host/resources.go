package host

import (
	"sync"

	cerrors "github.com/cockroachdb/errors"
	"github.com/vkngwrapper/conveyor/gpu"
)

// Buffer is a gpu.Buffer backed by a byte slice
type Buffer struct {
	lock      sync.RWMutex
	data      []byte
	usage     gpu.BufferUsage
	mappable  bool
	destroyed bool
}

var _ gpu.Buffer = &Buffer{}

func (b *Buffer) Size() int {
	b.lock.RLock()
	defer b.lock.RUnlock()

	return len(b.data)
}

func (b *Buffer) Usage() gpu.BufferUsage { return b.usage }

func (b *Buffer) Mappable() bool { return b.mappable }

// Destroyed returns true once Destroy has been called
func (b *Buffer) Destroyed() bool {
	b.lock.RLock()
	defer b.lock.RUnlock()

	return b.destroyed
}

func (b *Buffer) checkRange(offset int, size int) error {
	if b.destroyed {
		return cerrors.New("buffer has been destroyed")
	}

	if offset < 0 || size < 0 || offset+size > len(b.data) {
		return cerrors.Newf("range [%d, %d) is outside of a buffer of %d bytes", offset, offset+size, len(b.data))
	}

	return nil
}

func (b *Buffer) read(offset int, data []byte) error {
	b.lock.RLock()
	defer b.lock.RUnlock()

	err := b.checkRange(offset, len(data))
	if err != nil {
		return err
	}

	copy(data, b.data[offset:])
	return nil
}

func (b *Buffer) write(offset int, data []byte) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	err := b.checkRange(offset, len(data))
	if err != nil {
		return err
	}

	copy(b.data[offset:], data)
	return nil
}

func (b *Buffer) Upload(offset int, data []byte) error {
	if !b.mappable {
		return ErrNotMappable
	}

	return b.write(offset, data)
}

func (b *Buffer) Download(offset int, data []byte) error {
	if !b.mappable {
		return ErrNotMappable
	}

	return b.read(offset, data)
}

func (b *Buffer) Resize(size int) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.destroyed {
		return cerrors.New("buffer has been destroyed")
	}

	if size < 0 {
		return cerrors.Newf("buffer size must not be negative, but was %d", size)
	}

	data := make([]byte, size)
	copy(data, b.data)
	b.data = data

	return nil
}

func (b *Buffer) Destroy() {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.data = nil
	b.destroyed = true
}

// Image is a gpu.Image whose texels are stored row-major in a byte slice
type Image struct {
	lock   sync.RWMutex
	data   []byte
	shape  gpu.Extent3D
	format gpu.Format
}

var _ gpu.Image = &Image{}

func (i *Image) Shape() gpu.Extent3D { return i.shape }

func (i *Image) Format() gpu.Format { return i.format }

func (i *Image) Destroy() {
	i.lock.Lock()
	defer i.lock.Unlock()

	i.data = nil
}

func (i *Image) rowOffset(y, z int, x int) int {
	return ((z*i.shape.Height+y)*i.shape.Width + x) * i.format.TexelSize()
}

func (i *Image) checkRegion(offset gpu.Offset3D, shape gpu.Extent3D, dataSize int) error {
	if i.data == nil {
		return cerrors.New("image has been destroyed")
	}

	if !i.shape.ContainsRegion(offset, shape) {
		return cerrors.Newf("region %+v at %+v does not fit in an image of shape %+v", shape, offset, i.shape)
	}

	if dataSize < shape.Bytes(i.format) {
		return cerrors.Newf("region needs %d bytes but only %d were provided", shape.Bytes(i.format), dataSize)
	}

	return nil
}

func (i *Image) readRegion(offset gpu.Offset3D, shape gpu.Extent3D, data []byte) error {
	i.lock.RLock()
	defer i.lock.RUnlock()

	err := i.checkRegion(offset, shape, len(data))
	if err != nil {
		return err
	}

	rowBytes := shape.Width * i.format.TexelSize()
	cursor := 0
	for z := 0; z < shape.Depth; z++ {
		for y := 0; y < shape.Height; y++ {
			start := i.rowOffset(offset.Y+y, offset.Z+z, offset.X)
			copy(data[cursor:cursor+rowBytes], i.data[start:start+rowBytes])
			cursor += rowBytes
		}
	}

	return nil
}

func (i *Image) writeRegion(offset gpu.Offset3D, shape gpu.Extent3D, data []byte) error {
	i.lock.Lock()
	defer i.lock.Unlock()

	err := i.checkRegion(offset, shape, len(data))
	if err != nil {
		return err
	}

	rowBytes := shape.Width * i.format.TexelSize()
	cursor := 0
	for z := 0; z < shape.Depth; z++ {
		for y := 0; y < shape.Height; y++ {
			start := i.rowOffset(offset.Y+y, offset.Z+z, offset.X)
			copy(i.data[start:start+rowBytes], data[cursor:cursor+rowBytes])
			cursor += rowBytes
		}
	}

	return nil
}
