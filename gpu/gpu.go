package gpu

import (
	cerrors "github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
)

// QueueKind identifies one of the device queues that transfers synchronize against
type QueueKind int

const (
	// QueueTransfer is the queue device-side copies are submitted to
	QueueTransfer QueueKind = iota
	// QueueRender is the queue the render loop submits to
	QueueRender
	// QueueCompute is the queue compute work is submitted to
	QueueCompute

	QueueKindCount int = iota
)

var queueKindMapping = map[QueueKind]string{
	QueueTransfer: "QueueTransfer",
	QueueRender:   "QueueRender",
	QueueCompute:  "QueueCompute",
}

func (k QueueKind) String() string {
	return queueKindMapping[k]
}

// BufferUsage describes what a buffer will be used for, which decides its memory type and alignment
type BufferUsage int32

const (
	// BufferUsageStaging buffers are host-visible and used as the intermediate for copies
	// to and from device-local memory
	BufferUsageStaging BufferUsage = 1 << iota
	BufferUsageVertex
	BufferUsageIndex
	BufferUsageUniform
	BufferUsageStorage
	BufferUsageIndirect
)

var bufferUsageMapping = common.NewFlagStringMapping[BufferUsage]()

func (u BufferUsage) Register(str string) {
	bufferUsageMapping.Register(u, str)
}
func (u BufferUsage) String() string {
	return bufferUsageMapping.FlagsToString(u)
}

func init() {
	BufferUsageStaging.Register("Staging")
	BufferUsageVertex.Register("Vertex")
	BufferUsageIndex.Register("Index")
	BufferUsageUniform.Register("Uniform")
	BufferUsageStorage.Register("Storage")
	BufferUsageIndirect.Register("Indirect")
}

// Format is the texel format of an image
type Format int

const (
	FormatR8Unorm Format = iota + 1
	FormatRGBA8Unorm
	FormatR32Sfloat
	FormatRGBA32Sfloat
)

var formatMapping = map[Format]string{
	FormatR8Unorm:      "FormatR8Unorm",
	FormatRGBA8Unorm:   "FormatRGBA8Unorm",
	FormatR32Sfloat:    "FormatR32Sfloat",
	FormatRGBA32Sfloat: "FormatRGBA32Sfloat",
}

func (f Format) String() string {
	return formatMapping[f]
}

// TexelSize returns the size in bytes of a single texel of this format
func (f Format) TexelSize() int {
	switch f {
	case FormatR8Unorm:
		return 1
	case FormatRGBA8Unorm, FormatR32Sfloat:
		return 4
	case FormatRGBA32Sfloat:
		return 16
	}

	return 0
}

// Offset3D is a texel position within an image
type Offset3D struct {
	X, Y, Z int
}

// Extent3D is the shape of an image or of a region within one
type Extent3D struct {
	Width, Height, Depth int
}

// Texels returns the number of texels covered by the extent
func (e Extent3D) Texels() int {
	return e.Width * e.Height * e.Depth
}

// Bytes returns the number of bytes a tightly packed region of this extent occupies in the given format
func (e Extent3D) Bytes(format Format) int {
	return e.Texels() * format.TexelSize()
}

// Fill returns a copy of the extent in which every zero dimension is replaced by the corresponding
// dimension of full
func (e Extent3D) Fill(full Extent3D) Extent3D {
	if e.Width == 0 {
		e.Width = full.Width
	}
	if e.Height == 0 {
		e.Height = full.Height
	}
	if e.Depth == 0 {
		e.Depth = full.Depth
	}
	return e
}

// ContainsRegion returns true if the region of the given shape at the given offset lies
// within an image of this extent
func (e Extent3D) ContainsRegion(offset Offset3D, shape Extent3D) bool {
	if offset.X < 0 || offset.Y < 0 || offset.Z < 0 {
		return false
	}
	if shape.Width <= 0 || shape.Height <= 0 || shape.Depth <= 0 {
		return false
	}

	return offset.X+shape.Width <= e.Width &&
		offset.Y+shape.Height <= e.Height &&
		offset.Z+shape.Depth <= e.Depth
}

// Buffer is a linear device buffer
type Buffer interface {
	Size() int
	Usage() BufferUsage
	// Mappable returns true if the buffer's memory can be read and written from the host directly
	Mappable() bool

	// Upload writes data into a mappable buffer at offset
	Upload(offset int, data []byte) error
	// Download reads len(data) bytes from a mappable buffer at offset
	Download(offset int, data []byte) error
	// Resize changes the size of the buffer, preserving the contents that fit in the new size
	Resize(size int) error

	Destroy()
}

// Image is a device image
type Image interface {
	Shape() Extent3D
	Format() Format

	Destroy()
}

// Device is the GPU backend that the allocation and transfer layers drive
type Device interface {
	CreateBuffer(size int, usage BufferUsage) (Buffer, error)
	CreateImage(shape Extent3D, format Format) (Image, error)

	CopyBuffer(src Buffer, srcOffset int, dst Buffer, dstOffset int, size int) error
	CopyImage(src Image, srcOffset Offset3D, dst Image, dstOffset Offset3D, shape Extent3D) error
	CopyBufferToImage(src Buffer, srcOffset int, dst Image, dstOffset Offset3D, shape Extent3D) error
	CopyImageToBuffer(src Image, srcOffset Offset3D, shape Extent3D, dst Buffer, dstOffset int) error

	// WaitQueue blocks until every submission to the given queue has completed
	WaitQueue(kind QueueKind) error
	// WaitIdle blocks until the device has no outstanding work
	WaitIdle() error

	// Alignment returns the minimum offset alignment for regions of buffers with the given usage
	Alignment(usage BufferUsage) uint
}

// BufferRegion is a contiguous range of a buffer
type BufferRegion struct {
	Buffer Buffer
	Offset int
	Size   int
}

// Contains returns true if size bytes at offset, relative to the start of the region, lie
// within the region
func (r BufferRegion) Contains(offset int, size int) bool {
	return offset >= 0 && size > 0 && offset+size <= r.Size
}

// Check verifies that the region is non-empty and lies within its buffer
func (r BufferRegion) Check() error {
	if r.Buffer == nil {
		return cerrors.New("buffer region has no buffer")
	}

	if r.Offset < 0 || r.Size <= 0 || r.Offset+r.Size > r.Buffer.Size() {
		return cerrors.Newf("buffer region [%d, %d) does not fit in a buffer of %d bytes",
			r.Offset, r.Offset+r.Size, r.Buffer.Size())
	}

	return nil
}
