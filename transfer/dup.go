package transfer

import (
	cerrors "github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/conveyor/datalloc"
	"github.com/vkngwrapper/conveyor/deq"
	"github.com/vkngwrapper/conveyor/gpu"
)

// MaxDups is the maximum number of dup uploads that can be pending at once
const MaxDups int = 16

// ErrTooManyDups is the error of a dup upload that arrived while MaxDups others were pending
var ErrTooManyDups error = errors.New("too many pending dup uploads")

type dupEntry struct {
	transfer *DupTransfer
	done     []bool
	// uploaded counts the images written in the current round
	uploaded int
	// inFlight is set while a Frame call is writing from the entry's staging region. A CancelDup in
	// that window only sets canceled, and the Frame call completes the request once it is done.
	inFlight bool
	canceled bool
}

// UploadDupAsync registers an upload of the same data into one region per swapchain image. Each region
// is written when Frame is called with its image index, so that the upload never touches a region
// the GPU may still be reading for another image. offset is relative to the start of each region.
//
// A non-recurrent request completes once every region has been written. A recurrent dup starts a
// new round each time every region has been written, and its request stays pending until CancelDup.
func (p *Pipeline) UploadDupAsync(regions []gpu.BufferRegion, offset int, data []byte, recurrent bool) (*Request, error) {
	p.logger.Debug("Pipeline::UploadDupAsync")

	if len(data) == 0 {
		return nil, ErrEmptyData
	}

	if len(regions) == 0 {
		return nil, cerrors.Wrap(ErrOutOfBounds, "dup upload needs at least one region")
	}

	needsStaging := false
	for i, region := range regions {
		err := checkBufferRange(region, offset, len(data))
		if err != nil {
			return nil, cerrors.Wrapf(err, "region %d", i)
		}

		if !region.Buffer.Mappable() {
			needsStaging = true
		}
	}

	var req *Request
	err := p.submit(func() error {
		tr := &DupTransfer{
			Regions:   append([]gpu.BufferRegion(nil), regions...),
			Offset:    offset,
			Size:      len(data),
			Data:      data,
			Recurrent: recurrent,
		}

		var staging *datalloc.Allocation
		if needsStaging {
			var err error
			staging, err = p.allocateStaging(len(data))
			if err != nil {
				return err
			}
			tr.Staging = staging.Region.Buffer
			tr.StagingOffset = staging.Region.Offset
		}

		req = p.begin(KindDupUpload, len(data), staging)
		tr.Request = req
		enqueueDupUpload(p.deq, tr)
		return nil
	})

	return req, err
}

// UploadDup uploads data into every region immediately, calling Frame for each image index in turn
func (p *Pipeline) UploadDup(regions []gpu.BufferRegion, offset int, data []byte) error {
	req, err := p.UploadDupAsync(regions, offset, data, false)
	if err != nil {
		return err
	}

	for i := range regions {
		err = p.Frame(i)
		if err != nil {
			return err
		}
	}

	return req.Err()
}

// CancelDup stops a pending dup upload and completes its request. It returns false if no dup with
// that request ID is pending. If a Frame call is writing the dup at that moment, the request
// completes when that call is done with it.
func (p *Pipeline) CancelDup(id uuid.UUID) bool {
	p.dupLock.Lock()
	entry, ok := p.dups.Get(id)
	deferred := false
	if ok {
		p.dups.Delete(id)
		entry.canceled = true
		deferred = entry.inFlight
	}
	p.dupLock.Unlock()

	if ok && !deferred {
		entry.transfer.Request.complete(nil)
	}

	return ok
}

// PendingDups returns the number of dup uploads that are waiting for frames
func (p *Pipeline) PendingDups() int {
	p.dupLock.Lock()
	defer p.dupLock.Unlock()

	return p.dups.Count()
}

func processDupUpload(d *deq.Deq, item deq.Item, userData any) {
	p := userData.(*Pipeline)
	tr := item.Payload.(*DupTransfer)
	p.logger.Debug("Pipeline::processDupUpload")

	p.dupLock.Lock()
	full := p.dups.Count() >= MaxDups
	if !full {
		p.dups.Put(tr.Request.ID, &dupEntry{
			transfer: tr,
			done:     make([]bool, len(tr.Regions)),
		})
	}
	p.dupLock.Unlock()

	if full {
		p.fail(tr.Request, ErrTooManyDups, "Pipeline::processDupUpload")
		return
	}

	if tr.Staging != nil {
		err := tr.Staging.Upload(tr.StagingOffset, tr.Data[:tr.Size])
		if err != nil {
			p.dupLock.Lock()
			p.dups.Delete(tr.Request.ID)
			p.dupLock.Unlock()

			p.fail(tr.Request, cerrors.Wrap(err, "failed to write staging memory"), "Pipeline::processDupUpload")
			return
		}
		tr.Request.advance(StateStaged)
	}
}

func (p *Pipeline) uploadDup(tr *DupTransfer, imageIndex int) error {
	region := tr.Regions[imageIndex]

	if region.Buffer.Mappable() {
		return region.Buffer.Upload(region.Offset+tr.Offset, tr.Data[:tr.Size])
	}

	return p.waitAround(func() error {
		return p.device.CopyBuffer(tr.Staging, tr.StagingOffset, region.Buffer, region.Offset+tr.Offset, tr.Size)
	})
}

// Frame must be called by the frame loop once the swapchain image at imageIndex is no longer in use.
// It takes in the dup uploads submitted since the previous call, then writes the region for
// imageIndex of every pending dup that has not written it yet in the current round.
func (p *Pipeline) Frame(imageIndex int) error {
	p.closeLock.RLock()
	defer p.closeLock.RUnlock()

	if p.closed {
		return ErrClosed
	}

	if imageIndex < 0 {
		return cerrors.Wrapf(ErrOutOfBounds, "image index %d", imageIndex)
	}

	p.drain(ProcDup, false)

	type upload struct {
		id    uuid.UUID
		entry *dupEntry
	}

	p.dupLock.Lock()
	var uploads []upload
	p.dups.Iter(func(id uuid.UUID, entry *dupEntry) bool {
		if !entry.inFlight && imageIndex < len(entry.done) && !entry.done[imageIndex] {
			entry.inFlight = true
			uploads = append(uploads, upload{id: id, entry: entry})
		}
		return false
	})
	p.dupLock.Unlock()

	for _, u := range uploads {
		tr := u.entry.transfer

		p.dupLock.Lock()
		canceled := u.entry.canceled
		if canceled {
			u.entry.inFlight = false
		}
		p.dupLock.Unlock()

		if canceled {
			tr.Request.complete(nil)
			continue
		}

		err := p.uploadDup(tr, imageIndex)

		p.dupLock.Lock()
		u.entry.inFlight = false
		canceled = u.entry.canceled
		if err != nil && !canceled {
			p.dups.Delete(u.id)
		}
		p.dupLock.Unlock()

		if canceled {
			tr.Request.complete(nil)
			continue
		}

		if err != nil {
			p.fail(tr.Request, cerrors.Wrapf(err, "failed to upload to image %d", imageIndex), "Pipeline::Frame")
			continue
		}

		p.dupLock.Lock()
		u.entry.done[imageIndex] = true
		u.entry.uploaded++
		finished := u.entry.uploaded == len(u.entry.done)
		if finished {
			if tr.Recurrent {
				for i := range u.entry.done {
					u.entry.done[i] = false
				}
				u.entry.uploaded = 0
			} else {
				p.dups.Delete(u.id)
			}
		}
		p.dupLock.Unlock()

		if finished {
			tr.Request.advance(StateCopied)
			if !tr.Recurrent {
				tr.Request.complete(nil)
			}
		}
	}

	return nil
}
