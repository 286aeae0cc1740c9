// Package storage fetches the bytes the Snapshot Loader and WAL Ingestor
// need — snapshot files and WAL segments — from local disk, S3-compatible
// object storage, or a hybrid of the two with an in-memory caching tier.
//
// This is a repurposing of the reference page-server's per-page storage
// backend abstraction (see DESIGN.md): since the versioned index itself is
// explicitly non-durable, there is no more a per-page KV contract to serve;
// what startup and ingestion actually need is raw access to the timeline's
// on-disk layout (SPEC_FULL.md section 6), wherever it physically lives.
package storage

import "io"

// SegmentStore is the storage-backend contract consumed by the Snapshot
// Loader and WAL replay.
type SegmentStore interface {
	// ListSnapshotLSNs returns the snapshot directory names under
	// timelines/<timeline>/snapshots/ — each one a zero-padded hex LSN.
	ListSnapshotLSNs(timeline uint32) ([]string, error)

	// ListSnapshotFiles lists the relfile names directly under
	// timelines/<timeline>/snapshots/<snapshotLSNHex>/<subdir>, where subdir
	// is "global" or "base/<dboid>".
	ListSnapshotFiles(timeline uint32, snapshotLSNHex, subdir string) ([]string, error)

	// ListDatabases returns the dboid directory names under
	// timelines/<timeline>/snapshots/<snapshotLSNHex>/base/.
	ListDatabases(timeline uint32, snapshotLSNHex string) ([]string, error)

	// OpenSnapshotFile opens one relfile for reading.
	OpenSnapshotFile(timeline uint32, snapshotLSNHex, subdir, filename string) (io.ReadCloser, error)

	// OpenWALSegment opens a WAL segment file by its exact filename
	// (including any ".partial" suffix) under timelines/<timeline>/wal/,
	// seeked to offset bytes from the start of the segment.
	OpenWALSegment(timeline uint32, filename string, offset int64) (io.ReadCloser, error)

	// ListWALSegments lists the filenames under timelines/<timeline>/wal/.
	ListWALSegments(timeline uint32) ([]string, error)

	Close() error
}
