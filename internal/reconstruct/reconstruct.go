// Package reconstruct implements get_page_at_lsn and the cooperative
// handoff to redo workers that rebuild a page from a base image plus WAL
// records.
package reconstruct

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/neonwal/pageserver/internal/pageindex"
	"github.com/neonwal/pageserver/pkg/pageerr"
	"github.com/neonwal/pageserver/pkg/tag"
)

// dispatchQueueSize bounds the redo dispatch channel. It is sized large
// enough that in practice it never blocks a producer; see DESIGN.md for why
// a channel was chosen over the mutex+condvar work-queue pattern used
// elsewhere in the reference set for MPMC dispatch.
const dispatchQueueSize = 65536

// defaultRedoTimeout is the deadline on the context passed to each Apply
// call. The worker does not interrupt an Apply itself; if the Applier
// returns an error once the deadline passes, the entry fails with
// RedoFailed.
const defaultRedoTimeout = 30 * time.Second

// Reconstructor serves get_page_at_lsn against a PageIndex, dispatching
// Record-shaped misses to a pool of redo workers.
type Reconstructor struct {
	idx     *pageindex.PageIndex
	applier Applier

	dispatch chan *pageindex.Entry
	stopCh   chan struct{}
	wg       sync.WaitGroup

	redoTimeout time.Duration
}

// Option configures a Reconstructor at construction time.
type Option func(*Reconstructor)

// WithRedoTimeout overrides the per-entry redo deadline.
func WithRedoTimeout(d time.Duration) Option {
	return func(r *Reconstructor) { r.redoTimeout = d }
}

// New starts a Reconstructor backed by idx, running workers redo worker
// goroutines that each pull from the shared dispatch queue and invoke
// applier. Call Close to stop the workers.
func New(idx *pageindex.PageIndex, applier Applier, workers int, opts ...Option) *Reconstructor {
	if workers < 1 {
		workers = 1
	}
	r := &Reconstructor{
		idx:         idx,
		applier:     applier,
		dispatch:    make(chan *pageindex.Entry, dispatchQueueSize),
		stopCh:      make(chan struct{}),
		redoTimeout: defaultRedoTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.runWorker()
	}
	return r
}

// Close stops all redo workers and waits for them to exit. Entries still
// queued for redo that no worker picked up are completed with
// ErrRedoUnavailable, which clears their pending state and wakes their
// waiters.
func (r *Reconstructor) Close() {
	close(r.stopCh)
	r.wg.Wait()
	for {
		select {
		case e := <-r.dispatch:
			e.CompleteApply(nil, pageerr.ErrRedoUnavailable)
		default:
			return
		}
	}
}

// GetPageAtLSN returns the 8 KiB page image for tag t as of lsn, blocking
// until last_valid_lsn reaches lsn (or ctx is done), failing with
// ErrLsnEvicted if lsn has already fallen below first_valid_lsn, and
// otherwise resolving the newest version at or before lsn — reconstructing
// it via a redo worker if that version is a WAL record rather than an
// image.
func (r *Reconstructor) GetPageAtLSN(ctx context.Context, t tag.Tag, lsn uint64) ([]byte, error) {
	if err := r.idx.WaitForLSN(ctx, lsn); err != nil {
		return nil, err
	}

	first, _ := r.idx.Watermarks()
	if lsn < first {
		return nil, pageerr.ErrLsnEvicted
	}

	entries := r.idx.RangeBackwards(t, lsn)
	if len(entries) == 0 {
		return zeroPage(), nil
	}

	return r.resolve(ctx, entries[0])
}

func (r *Reconstructor) resolve(ctx context.Context, e *pageindex.Entry) ([]byte, error) {
	if e.Shape == pageindex.ShapeImage {
		return e.Bytes, nil
	}

	image, done, waitCh, shouldDispatch := e.BeginApply()
	if done {
		if image != nil {
			return image, nil
		}
		_, err := e.Result()
		return nil, err
	}

	if shouldDispatch {
		select {
		case r.dispatch <- e:
		case <-ctx.Done():
			return nil, pageerr.ErrTimeout
		}
	}

	select {
	case <-waitCh:
		image, err := e.Result()
		if err != nil {
			return nil, err
		}
		if image == nil {
			return nil, pageerr.ErrRedoUnavailable
		}
		return image, nil
	case <-ctx.Done():
		return nil, pageerr.ErrTimeout
	}
}

// CollectRecordsForApply gathers the base image (if any) and the ordered
// WAL records needed to reconstruct e, scanning backwards from e.LSN
// inclusive and stopping at the first Image or will_init Record.
func (r *Reconstructor) CollectRecordsForApply(e *pageindex.Entry) (base []byte, records [][]byte) {
	chain := r.idx.RangeBackwards(e.Tag, e.LSN)
	for _, pe := range chain {
		if pe.Shape == pageindex.ShapeImage {
			base = pe.Bytes
			break
		}
		records = append(records, pe.Bytes)
		if pe.WillInit {
			break
		}
	}
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return base, records
}

func (r *Reconstructor) runWorker() {
	defer r.wg.Done()
	for {
		select {
		case e := <-r.dispatch:
			r.redo(e)
		case <-r.stopCh:
			return
		}
	}
}

func (r *Reconstructor) redo(e *pageindex.Entry) {
	base, records := r.CollectRecordsForApply(e)

	image, err := r.applySafely(base, records)
	if err != nil {
		e.CompleteApply(nil, fmt.Errorf("%w: %v", pageerr.ErrRedoFailed, err))
		return
	}
	e.CompleteApply(image, nil)
}

// applySafely recovers a panicking Applier so that one bad redo never takes
// down the worker goroutine out from under every other entry it will ever
// serve.
func (r *Reconstructor) applySafely(base []byte, records [][]byte) (image []byte, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("applier panicked: %v", p)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), r.redoTimeout)
	defer cancel()
	return r.applier.Apply(ctx, base, records)
}

func zeroPage() []byte {
	return make([]byte, tag.PageSize)
}
