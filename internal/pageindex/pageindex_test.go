package pageindex

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/neonwal/pageserver/pkg/tag"
)

func mkTag(block uint32) tag.Tag {
	return tag.Tag{Tablespace: 1663, Database: 5, Relation: 100, Fork: tag.Main, Block: block}
}

func page(b byte) []byte {
	buf := make([]byte, tag.PageSize)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func TestInsertImageAndRangeBackwards(t *testing.T) {
	idx := New()
	tg := mkTag(7)
	idx.InitValidLSN(10)
	idx.InsertImage(tg, 10, page(0xAA))
	idx.InsertRecord(Record{Tag: tg, LSN: 20, Bytes: []byte("r1")})
	idx.InsertRecord(Record{Tag: tg, LSN: 30, Bytes: []byte("r2")})

	entries := idx.RangeBackwards(tg, 25)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries up to lsn 25, got %d", len(entries))
	}
	if entries[0].LSN != 20 || entries[1].LSN != 10 {
		t.Fatalf("expected descending [20,10], got [%d,%d]", entries[0].LSN, entries[1].LSN)
	}
}

func TestInsertDuplicateKeyPanics(t *testing.T) {
	idx := New()
	tg := mkTag(1)
	idx.InsertImage(tg, 10, page(1))
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate (tag, lsn) insert")
		}
	}()
	idx.InsertImage(tg, 10, page(2))
}

func TestWatermarksMonotonic(t *testing.T) {
	idx := New()
	idx.InitValidLSN(100)
	idx.AdvanceLastValidLSN(150)
	first, last := idx.Watermarks()
	if first != 100 || last != 150 {
		t.Fatalf("got (%d,%d), want (100,150)", first, last)
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on backwards last_valid_lsn")
		}
	}()
	idx.AdvanceLastValidLSN(140)
}

func TestAdvanceFirstValidLSNMovesWatermarkKeepsEntries(t *testing.T) {
	idx := New()
	tg := mkTag(7)
	idx.InitValidLSN(100)
	idx.InsertRecord(Record{Tag: tg, LSN: 150, Bytes: []byte("r")})
	idx.AdvanceLastValidLSN(200)

	idx.AdvanceFirstValidLSN(150)
	first, last := idx.Watermarks()
	if first != 150 || last != 200 {
		t.Fatalf("got (%d,%d), want (150,200)", first, last)
	}

	// RangeBackwards itself is lsn-bounded only, not first_valid_lsn-aware;
	// eviction enforcement lives at the reconstruct layer. Confirm the
	// watermark moved and the entry at the new watermark is still present:
	// the index never removes entries.
	entries := idx.RangeBackwards(tg, 150)
	if len(entries) != 1 {
		t.Fatalf("expected the entry at the new watermark to still be readable, got %d", len(entries))
	}
}

func TestAdvanceFirstValidLSNPanicsOnNonIncreasing(t *testing.T) {
	idx := New()
	idx.InitValidLSN(100)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when first_valid_lsn does not strictly increase")
		}
	}()
	idx.AdvanceFirstValidLSN(100)
}

func TestAdvanceFirstValidLSNPanicsWhenCrossingLastValid(t *testing.T) {
	idx := New()
	idx.InitValidLSN(100)
	idx.AdvanceLastValidLSN(150)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when first_valid_lsn would cross last_valid_lsn")
		}
	}()
	idx.AdvanceFirstValidLSN(200)
}

func TestRelSizeBump(t *testing.T) {
	idx := New()
	tg := mkTag(7)
	idx.InitValidLSN(1)
	idx.InsertImage(tg, 1, page(0))
	if got := idx.RelSizeGet(tg.Rel()); got != 8 {
		t.Fatalf("relsize = %d, want 8", got)
	}
	if !idx.RelSizeExists(tg.Rel()) {
		t.Fatal("expected relsize to exist")
	}
}

func TestWaitForLSNUnblocksOnAdvance(t *testing.T) {
	idx := New()
	idx.InitValidLSN(100)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- idx.WaitForLSN(ctx, 200)
	}()

	time.Sleep(20 * time.Millisecond)
	idx.AdvanceLastValidLSN(200)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WaitForLSN returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForLSN did not unblock after advance")
	}
}

func TestWaitForLSNTimesOut(t *testing.T) {
	idx := New()
	idx.InitValidLSN(100)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := idx.WaitForLSN(ctx, 200)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestReadAtLastValidSucceedsImmediately(t *testing.T) {
	idx := New()
	idx.InitValidLSN(100)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := idx.WaitForLSN(ctx, 100); err != nil {
		t.Fatalf("unexpected error waiting at exactly last_valid_lsn: %v", err)
	}
}

func TestConcurrentInsertsAndReads(t *testing.T) {
	idx := New()
	idx.InitValidLSN(0)
	var wg sync.WaitGroup
	var advanceMu sync.Mutex
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tg := mkTag(uint32(i))
			idx.InsertImage(tg, 1, page(byte(i)))
			// Goroutines finish in any order and the watermark may only move
			// forward, so advance only when this goroutine's LSN is newer.
			advanceMu.Lock()
			if _, last := idx.Watermarks(); uint64(i+1) > last {
				idx.AdvanceLastValidLSN(uint64(i + 1))
			}
			advanceMu.Unlock()
		}(i)
	}
	wg.Wait()
	for i := 0; i < 50; i++ {
		entries := idx.RangeBackwards(mkTag(uint32(i)), 1)
		if len(entries) != 1 {
			t.Fatalf("tag %d: expected 1 entry, got %d", i, len(entries))
		}
		if !bytes.Equal(entries[0].Bytes, page(byte(i))) {
			t.Fatalf("tag %d: unexpected bytes", i)
		}
	}
}
