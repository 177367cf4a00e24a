package transfer

import (
	cerrors "github.com/cockroachdb/errors"
	"github.com/vkngwrapper/conveyor/datalloc"
	"github.com/vkngwrapper/conveyor/gpu"
)

func checkBufferRange(region gpu.BufferRegion, offset int, size int) error {
	if region.Buffer == nil {
		return cerrors.Wrap(ErrOutOfBounds, "buffer region has no buffer")
	}

	err := region.Check()
	if err != nil {
		return cerrors.Wrap(ErrOutOfBounds, err.Error())
	}

	if !region.Contains(offset, size) {
		return cerrors.Wrapf(ErrOutOfBounds, "%d bytes at offset %d do not fit in a region of %d bytes", size, offset, region.Size)
	}

	return nil
}

// imageRange fills zero components of shape with the image's dimensions and checks that the
// resulting region lies within the image
func imageRange(img gpu.Image, offset gpu.Offset3D, shape gpu.Extent3D) (gpu.Extent3D, error) {
	if img == nil {
		return shape, cerrors.Wrap(ErrOutOfBounds, "no image")
	}

	full := img.Shape()
	shape = shape.Fill(full)

	if !full.ContainsRegion(offset, shape) {
		return shape, cerrors.Wrapf(ErrOutOfBounds, "region %+v at %+v does not fit in an image of shape %+v", shape, offset, full)
	}

	return shape, nil
}

func checkData(data []byte, size int) error {
	if len(data) == 0 {
		return ErrEmptyData
	}

	if len(data) < size {
		return cerrors.Wrapf(ErrOutOfBounds, "data holds %d bytes but the transfer needs %d", len(data), size)
	}

	return nil
}

// UploadBufferAsync writes data into dst at offset, relative to the start of the region. Buffers that
// are not host mappable are written through a staging region and a device-side copy, which runs the
// next time ProcessCopies is called. data must not be modified until the request completes.
func (p *Pipeline) UploadBufferAsync(dst gpu.BufferRegion, offset int, data []byte) (*Request, error) {
	p.logger.Debug("Pipeline::UploadBufferAsync")

	if len(data) == 0 {
		return nil, ErrEmptyData
	}

	err := checkBufferRange(dst, offset, len(data))
	if err != nil {
		return nil, err
	}

	var req *Request
	err = p.submit(func() error {
		tr := &BufferTransfer{
			Buffer: dst.Buffer,
			Offset: dst.Offset + offset,
			Size:   len(data),
			Data:   data,
		}

		var staging *datalloc.Allocation
		if !dst.Buffer.Mappable() {
			staging, err = p.allocateStaging(len(data))
			if err != nil {
				return err
			}
			tr.Staging = staging.Region.Buffer
			tr.StagingOffset = staging.Region.Offset
		}

		req = p.begin(KindBufferUpload, len(data), staging)
		tr.Request = req
		enqueueBufferUpload(p.deq, tr)
		return nil
	})

	return req, err
}

// DownloadBufferAsync reads len(data) bytes of src at offset, relative to the start of the region,
// into data. data holds the result once the request completes. Downloads from buffers that are not
// host mappable go through a device-side copy to staging, which runs the next time ProcessCopies is
// called. Every download completes when its event is dispatched by ProcessEvents.
func (p *Pipeline) DownloadBufferAsync(src gpu.BufferRegion, offset int, data []byte) (*Request, error) {
	p.logger.Debug("Pipeline::DownloadBufferAsync")

	if len(data) == 0 {
		return nil, ErrEmptyData
	}

	err := checkBufferRange(src, offset, len(data))
	if err != nil {
		return nil, err
	}

	var req *Request
	err = p.submit(func() error {
		tr := &BufferTransfer{
			Buffer: src.Buffer,
			Offset: src.Offset + offset,
			Size:   len(data),
			Data:   data,
		}

		var staging *datalloc.Allocation
		if !src.Buffer.Mappable() {
			staging, err = p.allocateStaging(len(data))
			if err != nil {
				return err
			}
			tr.Staging = staging.Region.Buffer
			tr.StagingOffset = staging.Region.Offset
		}

		req = p.begin(KindBufferDownload, len(data), staging)
		tr.Request = req
		enqueueBufferDownload(p.deq, tr)
		return nil
	})

	return req, err
}

// CopyBufferAsync copies size bytes between two buffer regions on the device. Offsets are relative to
// the start of each region.
func (p *Pipeline) CopyBufferAsync(src gpu.BufferRegion, srcOffset int, dst gpu.BufferRegion, dstOffset int, size int) (*Request, error) {
	p.logger.Debug("Pipeline::CopyBufferAsync")

	if size <= 0 {
		return nil, ErrEmptyData
	}

	err := checkBufferRange(src, srcOffset, size)
	if err != nil {
		return nil, cerrors.Wrap(err, "copy source")
	}

	err = checkBufferRange(dst, dstOffset, size)
	if err != nil {
		return nil, cerrors.Wrap(err, "copy destination")
	}

	var req *Request
	err = p.submit(func() error {
		req = p.begin(KindBufferCopy, size, nil)
		enqueueBufferCopy(p.deq, &BufferCopy{
			Src:       src.Buffer,
			SrcOffset: src.Offset + srcOffset,
			Dst:       dst.Buffer,
			DstOffset: dst.Offset + dstOffset,
			Size:      size,
			Request:   req,
		})
		return nil
	})

	return req, err
}

// UploadImageAsync writes tightly packed texels into a region of img through a staging region. A zero
// component of shape stands for the full image dimension.
func (p *Pipeline) UploadImageAsync(img gpu.Image, offset gpu.Offset3D, shape gpu.Extent3D, data []byte) (*Request, error) {
	p.logger.Debug("Pipeline::UploadImageAsync")

	shape, err := imageRange(img, offset, shape)
	if err != nil {
		return nil, err
	}

	size := shape.Bytes(img.Format())
	err = checkData(data, size)
	if err != nil {
		return nil, err
	}

	var req *Request
	err = p.submit(func() error {
		staging, err := p.allocateStaging(size)
		if err != nil {
			return err
		}

		req = p.begin(KindImageUpload, size, staging)
		enqueueImageUpload(p.deq, &ImageTransfer{
			Image:         img,
			ImageOffset:   offset,
			Shape:         shape,
			Staging:       staging.Region.Buffer,
			StagingOffset: staging.Region.Offset,
			Size:          size,
			Data:          data,
			Request:       req,
		})
		return nil
	})

	return req, err
}

// DownloadImageAsync reads a region of img into data as tightly packed texels. A zero component of
// shape stands for the full image dimension.
func (p *Pipeline) DownloadImageAsync(img gpu.Image, offset gpu.Offset3D, shape gpu.Extent3D, data []byte) (*Request, error) {
	p.logger.Debug("Pipeline::DownloadImageAsync")

	shape, err := imageRange(img, offset, shape)
	if err != nil {
		return nil, err
	}

	size := shape.Bytes(img.Format())
	err = checkData(data, size)
	if err != nil {
		return nil, err
	}

	var req *Request
	err = p.submit(func() error {
		staging, err := p.allocateStaging(size)
		if err != nil {
			return err
		}

		req = p.begin(KindImageDownload, size, staging)
		enqueueImageDownload(p.deq, &ImageTransfer{
			Image:         img,
			ImageOffset:   offset,
			Shape:         shape,
			Staging:       staging.Region.Buffer,
			StagingOffset: staging.Region.Offset,
			Size:          size,
			Data:          data,
			Request:       req,
		})
		return nil
	})

	return req, err
}

// CopyImageAsync copies a region between two images of the same format on the device. A zero
// component of shape stands for the full dimension of the source image.
func (p *Pipeline) CopyImageAsync(src gpu.Image, srcOffset gpu.Offset3D, dst gpu.Image, dstOffset gpu.Offset3D, shape gpu.Extent3D) (*Request, error) {
	p.logger.Debug("Pipeline::CopyImageAsync")

	shape, err := imageRange(src, srcOffset, shape)
	if err != nil {
		return nil, cerrors.Wrap(err, "copy source")
	}

	_, err = imageRange(dst, dstOffset, shape)
	if err != nil {
		return nil, cerrors.Wrap(err, "copy destination")
	}

	if src.Format() != dst.Format() {
		return nil, cerrors.Newf("cannot copy an image of format %s into an image of format %s", src.Format(), dst.Format())
	}

	size := shape.Bytes(src.Format())

	var req *Request
	err = p.submit(func() error {
		req = p.begin(KindImageCopy, size, nil)
		enqueueImageCopy(p.deq, &ImageCopy{
			Src:       src,
			SrcOffset: srcOffset,
			Dst:       dst,
			DstOffset: dstOffset,
			Shape:     shape,
			Size:      size,
			Request:   req,
		})
		return nil
	})

	return req, err
}

// CopyBufferToImageAsync copies tightly packed texels from a buffer region into a region of img on the
// device. A zero component of shape stands for the full image dimension.
func (p *Pipeline) CopyBufferToImageAsync(src gpu.BufferRegion, srcOffset int, img gpu.Image, imgOffset gpu.Offset3D, shape gpu.Extent3D) (*Request, error) {
	p.logger.Debug("Pipeline::CopyBufferToImageAsync")

	shape, err := imageRange(img, imgOffset, shape)
	if err != nil {
		return nil, err
	}

	size := shape.Bytes(img.Format())
	err = checkBufferRange(src, srcOffset, size)
	if err != nil {
		return nil, err
	}

	var req *Request
	err = p.submit(func() error {
		req = p.begin(KindBufferImageCopy, size, nil)
		enqueueBufferImage(p.deq, &BufferImageCopy{
			Image:        img,
			ImageOffset:  imgOffset,
			Shape:        shape,
			Buffer:       src.Buffer,
			BufferOffset: src.Offset + srcOffset,
			Size:         size,
			Request:      req,
		})
		return nil
	})

	return req, err
}

// CopyImageToBufferAsync copies a region of img into a buffer region as tightly packed texels on the
// device. A zero component of shape stands for the full image dimension.
func (p *Pipeline) CopyImageToBufferAsync(img gpu.Image, imgOffset gpu.Offset3D, shape gpu.Extent3D, dst gpu.BufferRegion, dstOffset int) (*Request, error) {
	p.logger.Debug("Pipeline::CopyImageToBufferAsync")

	shape, err := imageRange(img, imgOffset, shape)
	if err != nil {
		return nil, err
	}

	size := shape.Bytes(img.Format())
	err = checkBufferRange(dst, dstOffset, size)
	if err != nil {
		return nil, err
	}

	var req *Request
	err = p.submit(func() error {
		req = p.begin(KindImageBufferCopy, size, nil)
		enqueueImageBuffer(p.deq, &BufferImageCopy{
			Image:        img,
			ImageOffset:  imgOffset,
			Shape:        shape,
			Buffer:       dst.Buffer,
			BufferOffset: dst.Offset + dstOffset,
			Size:         size,
			Request:      req,
		})
		return nil
	})

	return req, err
}

// The synchronous wrappers below submit a request, then drain ProcCopy and ProcEvent on the calling
// goroutine until it completes. They use coarse device waits and are meant for callers outside of the
// frame loop.

// UploadBuffer writes data into dst at offset and returns once it is on the device
func (p *Pipeline) UploadBuffer(dst gpu.BufferRegion, offset int, data []byte) error {
	req, err := p.UploadBufferAsync(dst, offset, data)
	if err != nil {
		return err
	}

	return p.settle(req)
}

// DownloadBuffer reads len(data) bytes of src at offset into data
func (p *Pipeline) DownloadBuffer(src gpu.BufferRegion, offset int, data []byte) error {
	req, err := p.DownloadBufferAsync(src, offset, data)
	if err != nil {
		return err
	}

	return p.settle(req)
}

// CopyBuffer copies size bytes between two buffer regions
func (p *Pipeline) CopyBuffer(src gpu.BufferRegion, srcOffset int, dst gpu.BufferRegion, dstOffset int, size int) error {
	req, err := p.CopyBufferAsync(src, srcOffset, dst, dstOffset, size)
	if err != nil {
		return err
	}

	return p.settle(req)
}

// UploadImage writes tightly packed texels into a region of img
func (p *Pipeline) UploadImage(img gpu.Image, offset gpu.Offset3D, shape gpu.Extent3D, data []byte) error {
	req, err := p.UploadImageAsync(img, offset, shape, data)
	if err != nil {
		return err
	}

	return p.settle(req)
}

// DownloadImage reads a region of img into data as tightly packed texels
func (p *Pipeline) DownloadImage(img gpu.Image, offset gpu.Offset3D, shape gpu.Extent3D, data []byte) error {
	req, err := p.DownloadImageAsync(img, offset, shape, data)
	if err != nil {
		return err
	}

	return p.settle(req)
}

// CopyImage copies a region between two images of the same format
func (p *Pipeline) CopyImage(src gpu.Image, srcOffset gpu.Offset3D, dst gpu.Image, dstOffset gpu.Offset3D, shape gpu.Extent3D) error {
	req, err := p.CopyImageAsync(src, srcOffset, dst, dstOffset, shape)
	if err != nil {
		return err
	}

	return p.settle(req)
}

// CopyBufferToImage copies tightly packed texels from a buffer region into a region of img
func (p *Pipeline) CopyBufferToImage(src gpu.BufferRegion, srcOffset int, img gpu.Image, imgOffset gpu.Offset3D, shape gpu.Extent3D) error {
	req, err := p.CopyBufferToImageAsync(src, srcOffset, img, imgOffset, shape)
	if err != nil {
		return err
	}

	return p.settle(req)
}

// CopyImageToBuffer copies a region of img into a buffer region as tightly packed texels
func (p *Pipeline) CopyImageToBuffer(img gpu.Image, imgOffset gpu.Offset3D, shape gpu.Extent3D, dst gpu.BufferRegion, dstOffset int) error {
	req, err := p.CopyImageToBufferAsync(img, imgOffset, shape, dst, dstOffset)
	if err != nil {
		return err
	}

	return p.settle(req)
}
