// Package pageindex holds the ordered multi-version map of page modifications
// keyed by (Tag, LSN), the relation-size map, and the valid-LSN watermarks.
package pageindex

import (
	"context"
	"sort"
	"sync"

	"github.com/neonwal/pageserver/pkg/pageerr"
	"github.com/neonwal/pageserver/pkg/tag"
)

// Record is the input shape for WAL-derived versions: an opaque record byte
// string applying to one affected block, plus whether it fully initializes
// the page.
type Record struct {
	Tag      tag.Tag
	LSN      uint64
	Bytes    []byte
	WillInit bool
}

// PageIndex is the versioned index for a single timeline. The zero value is
// not usable; construct with New. All exported methods are safe for
// concurrent use from multiple goroutines.
type PageIndex struct {
	mu sync.Mutex

	// versions holds, per Tag, all entries ever inserted, sorted ascending
	// by LSN. No example repository in the retrieved reference set imports
	// an ordered-map/B-tree library as an actual go.mod dependency of a
	// complete repo, so this uses a sorted slice with binary search
	// (sort.Search) per Tag rather than a single global ordered tree; see
	// DESIGN.md for the full justification.
	versions map[tag.Tag][]*Entry
	relSizes map[tag.RelTag]uint32

	firstValidLSN uint64
	lastValidLSN  uint64
	bootstrapped  bool // true once init_valid_lsn has run once

	lsnWaitCh chan struct{} // closed and replaced whenever lastValidLSN advances
}

// New constructs an empty PageIndex. Both watermarks start at zero until
// InitValidLSN is called.
func New() *PageIndex {
	return &PageIndex{
		versions:  make(map[tag.Tag][]*Entry),
		relSizes:  make(map[tag.RelTag]uint32),
		lsnWaitCh: make(chan struct{}),
	}
}

// InsertImage creates an Image entry at (t, lsn). Panics with
// InvariantViolation if an entry already exists at that key.
func (p *PageIndex) InsertImage(t tag.Tag, lsn uint64, bytes []byte) {
	if len(bytes) != tag.PageSize {
		pageerr.Raise("insert_image: wrong page length")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.insertLocked(newImageEntry(t, lsn, bytes))
	p.bumpRelSizeLocked(t)
}

// InsertRecord creates a Record entry. Panics with InvariantViolation on a
// duplicate key.
func (p *PageIndex) InsertRecord(r Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.insertLocked(newRecordEntry(r.Tag, r.LSN, r.Bytes, r.WillInit))
	p.bumpRelSizeLocked(r.Tag)
}

// PutRecordAndAdvance inserts every record of a decoded WAL entry and bumps
// last_valid_lsn under a single lock acquisition, so no reader can ever
// observe a version whose LSN exceeds the advertised watermark (closing the
// gap the original reference left open; see SPEC_FULL.md section 9).
func (p *PageIndex) PutRecordAndAdvance(records []Record, lsn uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range records {
		p.insertLocked(newRecordEntry(r.Tag, r.LSN, r.Bytes, r.WillInit))
		p.bumpRelSizeLocked(r.Tag)
	}
	p.advanceLastValidLocked(lsn)
}

func (p *PageIndex) insertLocked(e *Entry) {
	versions := p.versions[e.Tag]
	i := sort.Search(len(versions), func(i int) bool { return versions[i].LSN >= e.LSN })
	if i < len(versions) && versions[i].LSN == e.LSN {
		pageerr.Raise("duplicate entry at same (tag, lsn)")
	}
	versions = append(versions, nil)
	copy(versions[i+1:], versions[i:])
	versions[i] = e
	p.versions[e.Tag] = versions
}

func (p *PageIndex) bumpRelSizeLocked(t tag.Tag) {
	rel := t.Rel()
	if need := t.Block + 1; p.relSizes[rel] < need {
		p.relSizes[rel] = need
	}
}

// RangeBackwards returns the entries for tag t with LSN in [0, uptoLSN], in
// descending LSN order. The returned slice is a snapshot; it may be read
// freely after the call returns without holding any lock.
func (p *PageIndex) RangeBackwards(t tag.Tag, uptoLSN uint64) []*Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rangeBackwardsLocked(t, uptoLSN)
}

func (p *PageIndex) rangeBackwardsLocked(t tag.Tag, uptoLSN uint64) []*Entry {
	versions := p.versions[t]
	// first index with LSN > uptoLSN
	end := sort.Search(len(versions), func(i int) bool { return versions[i].LSN > uptoLSN })
	out := make([]*Entry, end)
	for i := 0; i < end; i++ {
		out[i] = versions[end-1-i]
	}
	return out
}

// InitValidLSN sets both watermarks to lsn. Panics with InvariantViolation
// if called more than once.
func (p *PageIndex) InitValidLSN(lsn uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bootstrapped {
		pageerr.Raise("init_valid_lsn called more than once")
	}
	p.firstValidLSN = lsn
	p.lastValidLSN = lsn
	p.bootstrapped = true
	p.wakeWatermarkLocked()
}

// AdvanceLastValidLSN moves last_valid_lsn forward. Panics with
// InvariantViolation if lsn is less than the current value.
func (p *PageIndex) AdvanceLastValidLSN(lsn uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLastValidLocked(lsn)
}

func (p *PageIndex) advanceLastValidLocked(lsn uint64) {
	if lsn < p.lastValidLSN {
		pageerr.Raise("last_valid_lsn moved backwards")
	}
	if lsn == p.lastValidLSN {
		return
	}
	p.lastValidLSN = lsn
	p.wakeWatermarkLocked()
}

// AdvanceFirstValidLSN moves first_valid_lsn forward. Panics with
// InvariantViolation if lsn does not strictly increase or is not strictly
// below last_valid_lsn (bootstrap, where both start at the same value, is
// exempt for the initial call via InitValidLSN rather than this method).
func (p *PageIndex) AdvanceFirstValidLSN(lsn uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if lsn <= p.firstValidLSN {
		pageerr.Raise("first_valid_lsn must strictly increase")
	}
	if lsn >= p.lastValidLSN {
		pageerr.Raise("first_valid_lsn cannot cross last_valid_lsn")
	}
	p.firstValidLSN = lsn
}

func (p *PageIndex) wakeWatermarkLocked() {
	close(p.lsnWaitCh)
	p.lsnWaitCh = make(chan struct{})
}

// Watermarks returns the current (first_valid_lsn, last_valid_lsn) pair.
func (p *PageIndex) Watermarks() (first, last uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.firstValidLSN, p.lastValidLSN
}

// WaitForLSN blocks until last_valid_lsn reaches at least lsn, or ctx is
// done. Returns pageerr.ErrTimeout if ctx is done first.
func (p *PageIndex) WaitForLSN(ctx context.Context, lsn uint64) error {
	for {
		p.mu.Lock()
		if p.lastValidLSN >= lsn {
			p.mu.Unlock()
			return nil
		}
		ch := p.lsnWaitCh
		p.mu.Unlock()

		select {
		case <-ch:
			// watermark moved; loop and recheck
		case <-ctx.Done():
			return pageerr.ErrTimeout
		}
	}
}

// RelSizeGet returns the current known size (in blocks) of rel.
func (p *PageIndex) RelSizeGet(rel tag.RelTag) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.relSizes[rel]
}

// RelSizeExists reports whether rel has ever had a block inserted.
func (p *PageIndex) RelSizeExists(rel tag.RelTag) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.relSizes[rel]
	return ok
}

// RelSizeBump raises rel's known size to at least newSize, never lowering
// it.
func (p *PageIndex) RelSizeBump(rel tag.RelTag, newSize uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.relSizes[rel] < newSize {
		p.relSizes[rel] = newSize
	}
}
