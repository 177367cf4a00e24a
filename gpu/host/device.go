package host

import (
	"sync"

	cerrors "github.com/cockroachdb/errors"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/conveyor/gpu"
)

// ErrNotMappable is returned when the host tries to read or write a buffer that lives in device-local memory
var ErrNotMappable error = errors.New("buffer is not host mappable")

// ErrForeignResource is returned when a resource created by a different backend is passed to this Device
var ErrForeignResource error = errors.New("resource was not created by the host backend")

// Options configures a host Device
type Options struct {
	// MappableAll makes every buffer host mappable, not just staging buffers. This mimics integrated
	// GPUs where all memory is host visible.
	MappableAll bool
	// Alignments overrides the alignment returned by Alignment for individual usages. Usages that
	// are not present have an alignment of 1.
	Alignments map[gpu.BufferUsage]uint
}

// Device is a gpu.Device that keeps every buffer and image in host memory. Copies happen immediately,
// so queue waits only record that they were requested.
type Device struct {
	options Options

	lock       sync.Mutex
	queueWaits [gpu.QueueKindCount]int
	idleWaits  int
	copies     int
}

var _ gpu.Device = &Device{}

func New(options Options) *Device {
	return &Device{options: options}
}

func (d *Device) CreateBuffer(size int, usage gpu.BufferUsage) (gpu.Buffer, error) {
	if size < 0 {
		return nil, cerrors.Newf("buffer size must not be negative, but was %d", size)
	}

	return &Buffer{
		data:     make([]byte, size),
		usage:    usage,
		mappable: d.options.MappableAll || usage&gpu.BufferUsageStaging != 0,
	}, nil
}

func (d *Device) CreateImage(shape gpu.Extent3D, format gpu.Format) (gpu.Image, error) {
	if shape.Width <= 0 || shape.Height <= 0 || shape.Depth <= 0 {
		return nil, cerrors.Newf("image shape %+v must be positive in every dimension", shape)
	}

	if format.TexelSize() == 0 {
		return nil, cerrors.Newf("unknown image format %d", format)
	}

	return &Image{
		data:   make([]byte, shape.Bytes(format)),
		shape:  shape,
		format: format,
	}, nil
}

func hostBuffer(buffer gpu.Buffer) (*Buffer, error) {
	b, ok := buffer.(*Buffer)
	if !ok {
		return nil, ErrForeignResource
	}
	return b, nil
}

func hostImage(image gpu.Image) (*Image, error) {
	img, ok := image.(*Image)
	if !ok {
		return nil, ErrForeignResource
	}
	return img, nil
}

func (d *Device) countCopy() {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.copies++
}

func (d *Device) CopyBuffer(src gpu.Buffer, srcOffset int, dst gpu.Buffer, dstOffset int, size int) error {
	srcBuffer, err := hostBuffer(src)
	if err != nil {
		return err
	}
	dstBuffer, err := hostBuffer(dst)
	if err != nil {
		return err
	}

	data := make([]byte, size)
	err = srcBuffer.read(srcOffset, data)
	if err != nil {
		return cerrors.Wrap(err, "copy source")
	}

	err = dstBuffer.write(dstOffset, data)
	if err != nil {
		return cerrors.Wrap(err, "copy destination")
	}

	d.countCopy()
	return nil
}

func (d *Device) CopyImage(src gpu.Image, srcOffset gpu.Offset3D, dst gpu.Image, dstOffset gpu.Offset3D, shape gpu.Extent3D) error {
	srcImage, err := hostImage(src)
	if err != nil {
		return err
	}
	dstImage, err := hostImage(dst)
	if err != nil {
		return err
	}

	if srcImage.format != dstImage.format {
		return cerrors.Newf("cannot copy between images of formats %s and %s", srcImage.format, dstImage.format)
	}

	data := make([]byte, shape.Bytes(srcImage.format))
	err = srcImage.readRegion(srcOffset, shape, data)
	if err != nil {
		return cerrors.Wrap(err, "copy source")
	}

	err = dstImage.writeRegion(dstOffset, shape, data)
	if err != nil {
		return cerrors.Wrap(err, "copy destination")
	}

	d.countCopy()
	return nil
}

func (d *Device) CopyBufferToImage(src gpu.Buffer, srcOffset int, dst gpu.Image, dstOffset gpu.Offset3D, shape gpu.Extent3D) error {
	srcBuffer, err := hostBuffer(src)
	if err != nil {
		return err
	}
	dstImage, err := hostImage(dst)
	if err != nil {
		return err
	}

	data := make([]byte, shape.Bytes(dstImage.format))
	err = srcBuffer.read(srcOffset, data)
	if err != nil {
		return cerrors.Wrap(err, "copy source")
	}

	err = dstImage.writeRegion(dstOffset, shape, data)
	if err != nil {
		return cerrors.Wrap(err, "copy destination")
	}

	d.countCopy()
	return nil
}

func (d *Device) CopyImageToBuffer(src gpu.Image, srcOffset gpu.Offset3D, shape gpu.Extent3D, dst gpu.Buffer, dstOffset int) error {
	srcImage, err := hostImage(src)
	if err != nil {
		return err
	}
	dstBuffer, err := hostBuffer(dst)
	if err != nil {
		return err
	}

	data := make([]byte, shape.Bytes(srcImage.format))
	err = srcImage.readRegion(srcOffset, shape, data)
	if err != nil {
		return cerrors.Wrap(err, "copy source")
	}

	err = dstBuffer.write(dstOffset, data)
	if err != nil {
		return cerrors.Wrap(err, "copy destination")
	}

	d.countCopy()
	return nil
}

func (d *Device) WaitQueue(kind gpu.QueueKind) error {
	if kind < 0 || int(kind) >= gpu.QueueKindCount {
		return cerrors.Newf("unknown queue kind %d", kind)
	}

	d.lock.Lock()
	defer d.lock.Unlock()

	d.queueWaits[kind]++
	return nil
}

func (d *Device) WaitIdle() error {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.idleWaits++
	return nil
}

func (d *Device) Alignment(usage gpu.BufferUsage) uint {
	alignment, ok := d.options.Alignments[usage]
	if !ok || alignment == 0 {
		return 1
	}
	return alignment
}

// QueueWaits returns the number of times WaitQueue was called for a queue
func (d *Device) QueueWaits(kind gpu.QueueKind) int {
	d.lock.Lock()
	defer d.lock.Unlock()

	return d.queueWaits[kind]
}

// Copies returns the number of device-side copies that have been performed
func (d *Device) Copies() int {
	d.lock.Lock()
	defer d.lock.Unlock()

	return d.copies
}
