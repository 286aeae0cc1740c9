package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/neonwal/pageserver/internal/pageindex"
	"github.com/neonwal/pageserver/internal/storage"
	"github.com/neonwal/pageserver/internal/waldecode"
	"github.com/neonwal/pageserver/internal/walsegment"
	"github.com/neonwal/pageserver/pkg/tag"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestBootstrapRestoresSnapshotAndAdvancesViaWAL(t *testing.T) {
	dir := t.TempDir()

	// The segment holds pre-snapshot-LSN bytes before the snapshot's
	// offset, exactly like a real segment would: the snapshot LSN is
	// essentially never segment-aligned. snapshotLSN is pinned to the
	// length of that prefix so walsegment.FromLSN's offset lands right
	// after it, with no padding arithmetic needed.
	staleTag := tag.Tag{Tablespace: tag.DefaultTablespace, Database: 5, Relation: 16384, Fork: tag.Main, Block: 7}
	prefix := waldecode.Encode(0x10, []waldecode.BlockRef{{Tag: staleTag}}, []byte("STALE"))
	snapshotLSN := uint64(len(prefix))
	snapLSNHex := fmt.Sprintf("%016x", snapshotLSN)

	page := make([]byte, tag.PageSize)
	page[0] = 0xAB
	writeFile(t, filepath.Join(dir, "timelines", "1", "snapshots", snapLSNHex, "global", "1262"), page)
	writeFile(t, filepath.Join(dir, "timelines", "1", "snapshots", snapLSNHex, "base", "5", "16384"), page)

	baseTag := tag.Tag{Tablespace: tag.DefaultTablespace, Database: 5, Relation: 16384, Fork: tag.Main, Block: 0}
	realLSN := snapshotLSN + 0x100
	wire := waldecode.Encode(realLSN, []waldecode.BlockRef{{Tag: baseTag}}, []byte("R"))

	walName := walsegment.Name(walsegment.Timeline, 0)
	writeFile(t, filepath.Join(dir, "timelines", "1", "wal", walName), append(append([]byte{}, prefix...), wire...))

	store, err := storage.NewLocalStore(dir)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	idx := pageindex.New()
	loader := New(store, idx, 1, nil)
	if err := loader.Bootstrap(); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	first, last := idx.Watermarks()
	if first != snapshotLSN {
		t.Fatalf("first_valid_lsn = %d, want %d", first, snapshotLSN)
	}
	if last != realLSN {
		t.Fatalf("last_valid_lsn = %d, want %d", last, realLSN)
	}

	globalTag := tag.Tag{Tablespace: tag.GlobalTablespace, Database: 0, Relation: 1262, Fork: tag.Main, Block: 0}
	entries := idx.RangeBackwards(globalTag, snapshotLSN)
	if len(entries) != 1 || entries[0].Shape != pageindex.ShapeImage {
		t.Fatalf("expected one image entry for global relation, got %+v", entries)
	}

	entries = idx.RangeBackwards(baseTag, realLSN)
	if len(entries) != 2 {
		t.Fatalf("expected image + wal record for base relation, got %d entries", len(entries))
	}

	if size := idx.RelSizeGet(baseTag.Rel()); size != 1 {
		t.Fatalf("relsize = %d, want 1", size)
	}

	// The stale record lives entirely before the snapshot's byte offset
	// in the segment; replay must seek past it rather than decode and
	// ingest it, which would try to move last_valid_lsn backwards.
	staleEntries := idx.RangeBackwards(staleTag, snapshotLSN)
	if len(staleEntries) != 0 {
		t.Fatalf("stale pre-snapshot record was ingested: %+v", staleEntries)
	}
}

// TestBootstrapSeeksPastPreSnapshotSegmentBytes isolates the offset-seek
// behavior: a segment whose pre-offset bytes decode to a record with an
// LSN below the snapshot's would panic last_valid_lsn's monotonicity
// check if replay ever fed those bytes to the decoder instead of seeking
// past them first.
func TestBootstrapSeeksPastPreSnapshotSegmentBytes(t *testing.T) {
	dir := t.TempDir()

	lowTag := tag.Tag{Tablespace: tag.DefaultTablespace, Database: 9, Relation: 20000, Fork: tag.Main, Block: 0}
	prefix := waldecode.Encode(1, []waldecode.BlockRef{{Tag: lowTag}}, []byte("PRESNAP"))
	snapshotLSN := uint64(len(prefix))
	snapLSNHex := fmt.Sprintf("%016x", snapshotLSN)

	page := make([]byte, tag.PageSize)
	writeFile(t, filepath.Join(dir, "timelines", "1", "snapshots", snapLSNHex, "global", "1262"), page)

	walName := walsegment.Name(walsegment.Timeline, 0)
	writeFile(t, filepath.Join(dir, "timelines", "1", "wal", walName), prefix)

	store, err := storage.NewLocalStore(dir)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	idx := pageindex.New()
	loader := New(store, idx, 1, nil)
	if err := loader.Bootstrap(); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	first, last := idx.Watermarks()
	if first != snapshotLSN || last != snapshotLSN {
		t.Fatalf("watermarks = (%d, %d), want (%d, %d)", first, last, snapshotLSN, snapshotLSN)
	}

	entries := idx.RangeBackwards(lowTag, snapshotLSN)
	if len(entries) != 0 {
		t.Fatalf("pre-snapshot bytes were ingested: %+v", entries)
	}
}

func TestBootstrapFailsWithNoSnapshots(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "timelines", "1", "snapshots"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	store, err := storage.NewLocalStore(dir)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	loader := New(store, pageindex.New(), 1, nil)
	if err := loader.Bootstrap(); err == nil {
		t.Fatalf("expected error when no snapshots exist")
	}
}
