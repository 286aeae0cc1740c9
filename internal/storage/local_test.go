package storage

import (
	"io"
	"os"
	"path/filepath"
	"testing"
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

func TestLocalStoreListAndOpenSnapshotFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "timelines", "1", "snapshots", "0000000001000000", "global", "1262"), []byte("page-bytes"))

	s, err := NewLocalStore(dir)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	lsns, err := s.ListSnapshotLSNs(1)
	if err != nil || len(lsns) != 1 || lsns[0] != "0000000001000000" {
		t.Fatalf("ListSnapshotLSNs = %v, %v", lsns, err)
	}

	files, err := s.ListSnapshotFiles(1, "0000000001000000", "global")
	if err != nil || len(files) != 1 || files[0] != "1262" {
		t.Fatalf("ListSnapshotFiles = %v, %v", files, err)
	}

	rc, err := s.OpenSnapshotFile(1, "0000000001000000", "global", "1262")
	if err != nil {
		t.Fatalf("OpenSnapshotFile: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil || string(data) != "page-bytes" {
		t.Fatalf("read = %q, %v", data, err)
	}
}

func TestLocalStoreListDatabasesEmptyWhenMissing(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "timelines", "1", "snapshots", "0000000001000000", "global", "1262"), []byte("x"))

	s, err := NewLocalStore(dir)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	dbs, err := s.ListDatabases(1, "0000000001000000")
	if err != nil {
		t.Fatalf("ListDatabases: %v", err)
	}
	if len(dbs) != 0 {
		t.Fatalf("expected no databases, got %v", dbs)
	}
}

func TestLocalStoreListWALSegments(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "timelines", "1", "wal", "000000010000000000000001"), []byte("wal-bytes"))

	s, err := NewLocalStore(dir)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	segs, err := s.ListWALSegments(1)
	if err != nil || len(segs) != 1 {
		t.Fatalf("ListWALSegments = %v, %v", segs, err)
	}

	rc, err := s.OpenWALSegment(1, segs[0], 0)
	if err != nil {
		t.Fatalf("OpenWALSegment: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "wal-bytes" {
		t.Fatalf("got %q", data)
	}
}

func TestLocalStoreOpenWALSegmentHonorsOffset(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "timelines", "1", "wal", "000000010000000000000001"), []byte("prefix-bytes-tail"))

	s, err := NewLocalStore(dir)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}

	rc, err := s.OpenWALSegment(1, "000000010000000000000001", int64(len("prefix-bytes-")))
	if err != nil {
		t.Fatalf("OpenWALSegment: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "tail" {
		t.Fatalf("got %q, want %q", data, "tail")
	}
}

func TestNewLocalStoreRejectsMissingDir(t *testing.T) {
	if _, err := NewLocalStore("/nonexistent/path/xyz"); err == nil {
		t.Fatalf("expected error for missing workdir")
	}
}
