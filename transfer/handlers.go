package transfer

import (
	cerrors "github.com/cockroachdb/errors"
	"github.com/vkngwrapper/conveyor/deq"
	"github.com/vkngwrapper/conveyor/gpu"
)

// Handlers run on whichever goroutine drains their proc. Each one performs a single hop and either
// enqueues the next hop of the chain or completes the request.

func processBufferUpload(d *deq.Deq, item deq.Item, userData any) {
	p := userData.(*Pipeline)
	tr := item.Payload.(*BufferTransfer)
	p.logger.Debug("Pipeline::processBufferUpload")

	if tr.Staging == nil {
		err := tr.Buffer.Upload(tr.Offset, tr.Data[:tr.Size])
		if err != nil {
			p.fail(tr.Request, cerrors.Wrap(err, "failed to write the destination buffer"), "Pipeline::processBufferUpload")
			return
		}

		tr.Request.complete(nil)
		return
	}

	err := tr.Staging.Upload(tr.StagingOffset, tr.Data[:tr.Size])
	if err != nil {
		p.fail(tr.Request, cerrors.Wrap(err, "failed to write staging memory"), "Pipeline::processBufferUpload")
		return
	}
	tr.Request.advance(StateStaged)

	if tr.Buffer == nil {
		tr.Request.complete(nil)
		return
	}

	enqueueBufferCopy(d, &BufferCopy{
		Src:       tr.Staging,
		SrcOffset: tr.StagingOffset,
		Dst:       tr.Buffer,
		DstOffset: tr.Offset,
		Size:      tr.Size,
		Request:   tr.Request,
	})
}

func processBufferDownload(d *deq.Deq, item deq.Item, userData any) {
	p := userData.(*Pipeline)
	tr := item.Payload.(*BufferTransfer)
	p.logger.Debug("Pipeline::processBufferDownload")

	// The data lives in device-local memory: copy it to staging first, then come back here
	if tr.Buffer != nil && tr.Staging != nil {
		enqueueBufferCopy(d, &BufferCopy{
			Src:        tr.Buffer,
			SrcOffset:  tr.Offset,
			Dst:        tr.Staging,
			DstOffset:  tr.StagingOffset,
			Size:       tr.Size,
			ToDownload: tr.Data,
			Request:    tr.Request,
		})
		return
	}

	source, offset := tr.Staging, tr.StagingOffset
	if source == nil {
		source, offset = tr.Buffer, tr.Offset
	}

	err := source.Download(offset, tr.Data[:tr.Size])
	if err != nil {
		p.fail(tr.Request, cerrors.Wrap(err, "failed to read downloaded data"), "Pipeline::processBufferDownload")
		return
	}

	enqueueDownloadDone(d, &DownloadDone{
		Size:    tr.Size,
		Data:    tr.Data,
		Request: tr.Request,
	})
}

// waitAround brackets a device operation with coarse waits: everything the render queue submitted
// finishes before it, and the transfer queue is idle after it
func (p *Pipeline) waitAround(operation func() error) error {
	err := p.device.WaitQueue(gpu.QueueRender)
	if err != nil {
		return cerrors.Wrap(err, "failed to wait for the render queue")
	}

	err = operation()
	if err != nil {
		return err
	}

	err = p.device.WaitQueue(gpu.QueueTransfer)
	if err != nil {
		return cerrors.Wrap(err, "failed to wait for the transfer queue")
	}

	return nil
}

// copied finishes a copy hop: either the chain continues with a download out of the staging buffer
// the copy wrote to, or the request is done
func copied(d *deq.Deq, req *Request, staging gpu.Buffer, stagingOffset int, size int, toDownload []byte) {
	if toDownload == nil {
		req.advance(StateCopied)
		req.complete(nil)
		return
	}

	req.advance(StateStaged)
	enqueueBufferDownload(d, &BufferTransfer{
		Staging:       staging,
		StagingOffset: stagingOffset,
		Size:          size,
		Data:          toDownload,
		Request:       req,
	})
}

func processBufferCopy(d *deq.Deq, item deq.Item, userData any) {
	p := userData.(*Pipeline)
	tr := item.Payload.(*BufferCopy)
	p.logger.Debug("Pipeline::processBufferCopy")

	err := p.waitAround(func() error {
		return p.device.CopyBuffer(tr.Src, tr.SrcOffset, tr.Dst, tr.DstOffset, tr.Size)
	})
	if err != nil {
		p.fail(tr.Request, cerrors.Wrap(err, "buffer copy failed"), "Pipeline::processBufferCopy")
		return
	}

	copied(d, tr.Request, tr.Dst, tr.DstOffset, tr.Size, tr.ToDownload)
}

func processImageCopy(d *deq.Deq, item deq.Item, userData any) {
	p := userData.(*Pipeline)
	tr := item.Payload.(*ImageCopy)
	p.logger.Debug("Pipeline::processImageCopy")

	err := p.waitAround(func() error {
		return p.device.CopyImage(tr.Src, tr.SrcOffset, tr.Dst, tr.DstOffset, tr.Shape)
	})
	if err != nil {
		p.fail(tr.Request, cerrors.Wrap(err, "image copy failed"), "Pipeline::processImageCopy")
		return
	}

	tr.Request.advance(StateCopied)
	tr.Request.complete(nil)
}

func processBufferImage(d *deq.Deq, item deq.Item, userData any) {
	p := userData.(*Pipeline)
	tr := item.Payload.(*BufferImageCopy)
	p.logger.Debug("Pipeline::processBufferImage")

	err := p.waitAround(func() error {
		return p.device.CopyBufferToImage(tr.Buffer, tr.BufferOffset, tr.Image, tr.ImageOffset, tr.Shape)
	})
	if err != nil {
		p.fail(tr.Request, cerrors.Wrap(err, "buffer to image copy failed"), "Pipeline::processBufferImage")
		return
	}

	tr.Request.advance(StateCopied)
	tr.Request.complete(nil)
}

func processImageBuffer(d *deq.Deq, item deq.Item, userData any) {
	p := userData.(*Pipeline)
	tr := item.Payload.(*BufferImageCopy)
	p.logger.Debug("Pipeline::processImageBuffer")

	err := p.waitAround(func() error {
		return p.device.CopyImageToBuffer(tr.Image, tr.ImageOffset, tr.Shape, tr.Buffer, tr.BufferOffset)
	})
	if err != nil {
		p.fail(tr.Request, cerrors.Wrap(err, "image to buffer copy failed"), "Pipeline::processImageBuffer")
		return
	}

	copied(d, tr.Request, tr.Buffer, tr.BufferOffset, tr.Size, tr.ToDownload)
}

func processImageUpload(d *deq.Deq, item deq.Item, userData any) {
	p := userData.(*Pipeline)
	tr := item.Payload.(*ImageTransfer)
	p.logger.Debug("Pipeline::processImageUpload")

	err := tr.Staging.Upload(tr.StagingOffset, tr.Data[:tr.Size])
	if err != nil {
		p.fail(tr.Request, cerrors.Wrap(err, "failed to write staging memory"), "Pipeline::processImageUpload")
		return
	}
	tr.Request.advance(StateStaged)

	enqueueBufferImage(d, &BufferImageCopy{
		Image:        tr.Image,
		ImageOffset:  tr.ImageOffset,
		Shape:        tr.Shape,
		Buffer:       tr.Staging,
		BufferOffset: tr.StagingOffset,
		Size:         tr.Size,
		Request:      tr.Request,
	})
}

func processImageDownload(d *deq.Deq, item deq.Item, userData any) {
	p := userData.(*Pipeline)
	tr := item.Payload.(*ImageTransfer)
	p.logger.Debug("Pipeline::processImageDownload")

	enqueueImageBuffer(d, &BufferImageCopy{
		Image:        tr.Image,
		ImageOffset:  tr.ImageOffset,
		Shape:        tr.Shape,
		Buffer:       tr.Staging,
		BufferOffset: tr.StagingOffset,
		Size:         tr.Size,
		ToDownload:   tr.Data,
		Request:      tr.Request,
	})
}

func processDownloadDone(d *deq.Deq, item deq.Item, userData any) {
	p := userData.(*Pipeline)
	tr := item.Payload.(*DownloadDone)
	p.logger.Debug("Pipeline::processDownloadDone")

	tr.Request.complete(nil)
}
