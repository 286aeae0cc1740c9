package pageindex

import (
	"sync"

	"github.com/neonwal/pageserver/pkg/tag"
)

// Shape distinguishes what an Entry was created from.
type Shape int

const (
	// ShapeImage holds a full 8 KiB page image valid as of the entry's LSN.
	ShapeImage Shape = iota
	// ShapeRecord holds an opaque WAL record that must be replayed against
	// a base image (unless WillInit) to produce a page image.
	ShapeRecord
)

// Entry is a single versioned cell in the index: one (Tag, LSN) pair.
// Its shape fields (Shape, Bytes, WillInit, LSN, Tag) are immutable after
// construction. Its reconstruction state (reconstructedImage, applyPending,
// wake) is mutated only under entryMu, by the Reconstructor and redo workers.
type Entry struct {
	Tag tag.Tag
	LSN uint64

	Shape    Shape
	Bytes    []byte // page image (ShapeImage) or raw WAL record (ShapeRecord)
	WillInit bool    // meaningful only for ShapeRecord

	entryMu            sync.Mutex
	reconstructedImage []byte
	applyPending       bool
	waitCh             chan struct{} // closed and replaced whenever applyPending transitions to false
	redoErr            error         // sticky failure from the worker, if any
}

func newImageEntry(t tag.Tag, lsn uint64, bytes []byte) *Entry {
	return &Entry{Tag: t, LSN: lsn, Shape: ShapeImage, Bytes: bytes, waitCh: make(chan struct{})}
}

func newRecordEntry(t tag.Tag, lsn uint64, bytes []byte, willInit bool) *Entry {
	return &Entry{Tag: t, LSN: lsn, Shape: ShapeRecord, Bytes: bytes, WillInit: willInit, waitCh: make(chan struct{})}
}

// BeginApply returns the entry's current reconstruction state and, if apply
// is not yet pending and none has completed, marks it pending and returns
// the channel to wait on. It takes the entry lock itself; callers use the
// result to decide whether they are the one responsible for dispatching
// redo work.
func (e *Entry) BeginApply() (image []byte, alreadyDone bool, waitCh chan struct{}, shouldDispatch bool) {
	e.entryMu.Lock()
	defer e.entryMu.Unlock()
	if e.reconstructedImage != nil {
		return e.reconstructedImage, true, nil, false
	}
	if e.redoErr != nil {
		return nil, true, nil, false
	}
	if e.applyPending {
		return nil, false, e.waitCh, false
	}
	e.applyPending = true
	return nil, false, e.waitCh, true
}

// CompleteApply is called by a redo worker once it has produced the
// reconstructed image (or failed). It clears applyPending and broadcasts
// to all waiters by closing the current wait channel and installing a
// fresh one.
func (e *Entry) CompleteApply(image []byte, err error) {
	e.entryMu.Lock()
	defer e.entryMu.Unlock()
	if err != nil {
		e.redoErr = err
	} else {
		e.reconstructedImage = image
	}
	e.applyPending = false
	close(e.waitCh)
	e.waitCh = make(chan struct{})
}

// Result reads the entry's terminal reconstruction state after a wait has
// observed applyPending=false.
func (e *Entry) Result() (image []byte, err error) {
	e.entryMu.Lock()
	defer e.entryMu.Unlock()
	return e.reconstructedImage, e.redoErr
}

// ApplyPending reports whether a redo round is currently in flight.
func (e *Entry) ApplyPending() bool {
	e.entryMu.Lock()
	defer e.entryMu.Unlock()
	return e.applyPending
}
