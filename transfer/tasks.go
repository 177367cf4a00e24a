package transfer

import (
	"github.com/vkngwrapper/conveyor/deq"
	"github.com/vkngwrapper/conveyor/gpu"
)

// Queues of the transfer Deq
const (
	QueueUpload int = iota
	QueueDownload
	QueueCopy
	QueueEvent
	QueueDup

	queueCount int = iota
)

// QueueNames labels the transfer queues, indexed by queue
var QueueNames = []string{"upload", "download", "copy", "event", "dup"}

// Procs of the transfer Deq. ProcUD is drained by the pipeline's background goroutine. The others
// are drained by the caller, usually once per frame.
const (
	ProcUD int = iota
	ProcCopy
	ProcEvent
	ProcDup
)

// Task types carried by the transfer Deq. Callbacks registered with Pipeline.OnEvent receive
// TaskDownloadDone items whose payload is a *DownloadDone.
const (
	TaskBufferUpload deq.ItemType = iota + 1
	TaskBufferDownload
	TaskBufferCopy
	TaskImageCopy
	TaskImageBuffer
	TaskBufferImage
	TaskImageUpload
	TaskImageDownload
	TaskDownloadDone
	TaskDupUpload
)

// BufferTransfer moves bytes between the host and a buffer. Buffer is the device buffer and may be
// nil when the transfer only touches staging memory. Staging is nil when Buffer is host mappable and
// is accessed directly.
type BufferTransfer struct {
	Buffer        gpu.Buffer
	Offset        int
	Staging       gpu.Buffer
	StagingOffset int
	Size          int
	Data          []byte
	Request       *Request
}

// BufferCopy is a device-side copy between two buffers. When ToDownload is set, the destination is
// a staging buffer and a download into ToDownload is enqueued once the copy completes.
type BufferCopy struct {
	Src        gpu.Buffer
	SrcOffset  int
	Dst        gpu.Buffer
	DstOffset  int
	Size       int
	ToDownload []byte
	Request    *Request
}

// ImageCopy is a device-side copy between two images of the same format
type ImageCopy struct {
	Src       gpu.Image
	SrcOffset gpu.Offset3D
	Dst       gpu.Image
	DstOffset gpu.Offset3D
	Shape     gpu.Extent3D
	Size      int
	Request   *Request
}

// BufferImageCopy is a device-side copy between a buffer and an image. Its direction depends on the
// task type it was enqueued with: TaskBufferImage or TaskImageBuffer.
type BufferImageCopy struct {
	Image        gpu.Image
	ImageOffset  gpu.Offset3D
	Shape        gpu.Extent3D
	Buffer       gpu.Buffer
	BufferOffset int
	Size         int
	ToDownload   []byte
	Request      *Request
}

// ImageTransfer moves texels between the host and an image through a staging buffer
type ImageTransfer struct {
	Image         gpu.Image
	ImageOffset   gpu.Offset3D
	Shape         gpu.Extent3D
	Staging       gpu.Buffer
	StagingOffset int
	Size          int
	Data          []byte
	Request       *Request
}

// DownloadDone is raised on QueueEvent once downloaded bytes are in Data
type DownloadDone struct {
	Size    int
	Data    []byte
	Request *Request
}

// DupTransfer uploads the same bytes into one region per swapchain image. Staging is nil when every
// region is host mappable.
type DupTransfer struct {
	Regions       []gpu.BufferRegion
	Offset        int
	Staging       gpu.Buffer
	StagingOffset int
	Size          int
	Data          []byte
	Recurrent     bool
	Request       *Request
}

func enqueueBufferUpload(d *deq.Deq, tr *BufferTransfer) {
	d.Enqueue(QueueUpload, TaskBufferUpload, tr)
}

func enqueueBufferDownload(d *deq.Deq, tr *BufferTransfer) {
	d.Enqueue(QueueDownload, TaskBufferDownload, tr)
}

func enqueueBufferCopy(d *deq.Deq, tr *BufferCopy) {
	d.Enqueue(QueueCopy, TaskBufferCopy, tr)
}

func enqueueImageCopy(d *deq.Deq, tr *ImageCopy) {
	d.Enqueue(QueueCopy, TaskImageCopy, tr)
}

func enqueueBufferImage(d *deq.Deq, tr *BufferImageCopy) {
	d.Enqueue(QueueCopy, TaskBufferImage, tr)
}

func enqueueImageBuffer(d *deq.Deq, tr *BufferImageCopy) {
	d.Enqueue(QueueCopy, TaskImageBuffer, tr)
}

func enqueueImageUpload(d *deq.Deq, tr *ImageTransfer) {
	d.Enqueue(QueueUpload, TaskImageUpload, tr)
}

func enqueueImageDownload(d *deq.Deq, tr *ImageTransfer) {
	d.Enqueue(QueueDownload, TaskImageDownload, tr)
}

func enqueueDownloadDone(d *deq.Deq, tr *DownloadDone) {
	d.Enqueue(QueueEvent, TaskDownloadDone, tr)
}

func enqueueDupUpload(d *deq.Deq, tr *DupTransfer) {
	d.Enqueue(QueueDup, TaskDupUpload, tr)
}
