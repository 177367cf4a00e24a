package transfer

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Kind identifies the high-level operation a Request was created for
type Kind int

const (
	KindBufferUpload Kind = iota
	KindBufferDownload
	KindBufferCopy
	KindImageUpload
	KindImageDownload
	KindImageCopy
	KindBufferImageCopy
	KindImageBufferCopy
	KindDupUpload

	KindCount int = iota
)

var kindMapping = map[Kind]string{
	KindBufferUpload:    "buffer_upload",
	KindBufferDownload:  "buffer_download",
	KindBufferCopy:      "buffer_copy",
	KindImageUpload:     "image_upload",
	KindImageDownload:   "image_download",
	KindImageCopy:       "image_copy",
	KindBufferImageCopy: "buffer_image_copy",
	KindImageBufferCopy: "image_buffer_copy",
	KindDupUpload:       "dup_upload",
}

func (k Kind) String() string {
	name, ok := kindMapping[k]
	if !ok {
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
	return name
}

// State is the progress of a Request through its chain. States only move forward, and a chain that
// has no staging or device copy hop skips the corresponding state.
type State int32

const (
	// StateSubmitted requests have been validated and enqueued
	StateSubmitted State = iota
	// StateStaged requests have their data in a staging region: host data was written to it for an
	// upload, or device data was copied into it for a download
	StateStaged
	// StateCopied requests have finished their device-side copy
	StateCopied
	// StateCompleted requests are finished, successfully or not. See Request.Err.
	StateCompleted
)

var stateMapping = map[State]string{
	StateSubmitted: "StateSubmitted",
	StateStaged:    "StateStaged",
	StateCopied:    "StateCopied",
	StateCompleted: "StateCompleted",
}

func (s State) String() string {
	return stateMapping[s]
}

// Request tracks one asynchronous transfer from submission to completion
type Request struct {
	ID   uuid.UUID
	Kind Kind
	// Size is the number of bytes the request moves
	Size int

	state atomic.Int32
	once  sync.Once
	done  chan struct{}
	err   error

	span     trace.Span
	finalize func(r *Request)
}

func newRequest(kind Kind, size int) *Request {
	return &Request{
		ID:   uuid.New(),
		Kind: kind,
		Size: size,
		done: make(chan struct{}),
	}
}

// State returns the current state of the request
func (r *Request) State() State {
	return State(r.state.Load())
}

// Done returns a channel that is closed when the request completes
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Completed returns true once the request has completed
func (r *Request) Completed() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Err returns the error the request completed with. It is nil until the request completes.
func (r *Request) Err() error {
	if !r.Completed() {
		return nil
	}
	return r.err
}

// Wait blocks until the request completes or ctx is done. It returns the request's error, or the
// context's error if the context finished first.
func (r *Request) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Request) advance(state State) {
	for {
		current := r.state.Load()
		if current >= int32(state) {
			return
		}

		if r.state.CompareAndSwap(current, int32(state)) {
			if r.span != nil {
				r.span.AddEvent(state.String())
			}
			return
		}
	}
}

func (r *Request) complete(err error) {
	r.once.Do(func() {
		r.err = err
		r.state.Store(int32(StateCompleted))

		if r.finalize != nil {
			r.finalize(r)
		}

		if r.span != nil {
			if err != nil {
				r.span.RecordError(err)
				r.span.SetStatus(codes.Error, err.Error())
			}
			r.span.End()
		}

		close(r.done)
	})
}
