// Package snapshot bootstraps a page index from an on-disk snapshot plus
// the WAL segments written since it, bringing a freshly started page
// server up to the current last_valid_lsn before it starts serving
// queries.
package snapshot

import (
	"fmt"
	"io"
	"log"
	"regexp"
	"strconv"

	"github.com/neonwal/pageserver/internal/pageindex"
	"github.com/neonwal/pageserver/internal/storage"
	"github.com/neonwal/pageserver/internal/waldecode"
	"github.com/neonwal/pageserver/internal/walingest"
	"github.com/neonwal/pageserver/internal/walsegment"
	"github.com/neonwal/pageserver/pkg/tag"
)

// relfileName matches a Postgres relation file name: the relfilenode,
// an optional fork suffix, and an optional segment number for files
// split past 1GB.
var relfileName = regexp.MustCompile(`^(\d+)(_(fsm|vm|init))?(\.(\d+))?$`)

// skipFiles are present in every database/global directory but are not
// relation files.
var skipFiles = map[string]bool{
	"pg_control":      true,
	"pg_filenode.map": true,
	"PG_VERSION":      true,
}

// blocksPerSegment is the number of 8KB blocks in one 1GB relation
// segment file, matching Postgres's on-disk relation segmentation.
const blocksPerSegment = 131072

// ParseRelFileName parses a Postgres relation file name into its
// relfilenode, fork, and the starting block number of whatever segment
// of the relation the file holds (0 for the unsegmented or first
// segment). ok is false for names that don't match the grammar at all
// (skipFiles entries, temp files, anything else Postgres might drop in
// a database directory, including an unknown fork suffix, which the
// grammar itself excludes); err is non-nil only for a name that matches
// the grammar but carries a numeric field that overflows.
func ParseRelFileName(name string) (relation uint32, fork tag.Fork, startBlock uint32, ok bool, err error) {
	m := relfileName.FindStringSubmatch(name)
	if m == nil {
		return 0, 0, 0, false, nil
	}

	rel, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil {
		return 0, 0, 0, true, fmt.Errorf("relfilenode %q: %w", m[1], err)
	}

	fork = tag.Main
	if m[3] != "" {
		f, forkOK := tag.ForkFromName(m[3])
		if !forkOK {
			return 0, 0, 0, true, fmt.Errorf("unknown fork suffix %q in %s", m[3], name)
		}
		fork = f
	}

	if m[5] != "" {
		segno, err := strconv.ParseUint(m[5], 10, 32)
		if err != nil {
			return 0, 0, 0, true, fmt.Errorf("segment number %q: %w", m[5], err)
		}
		startBlock = uint32(segno) * blocksPerSegment
	}

	return uint32(rel), fork, startBlock, true, nil
}

// Loader populates a PageIndex from a SegmentStore's snapshot and WAL
// data for one timeline.
//
// Grounded on the original restore_local_repo.rs's restore_timeline /
// restore_snapshot / restore_relfile: same skip list, same relfile
// grammar, same short-read-terminates-a-relfile rule, and the same
// starting-block-number formula for segmented relfiles (segno *
// blocksPerSegment).
type Loader struct {
	store    storage.SegmentStore
	idx      *pageindex.PageIndex
	timeline uint32
	logger   *log.Logger
}

// New returns a Loader for the given timeline.
func New(store storage.SegmentStore, idx *pageindex.PageIndex, timeline uint32, logger *log.Logger) *Loader {
	if logger == nil {
		logger = log.Default()
	}
	return &Loader{store: store, idx: idx, timeline: timeline, logger: logger}
}

// Bootstrap loads the most recent snapshot (by LSN) and replays every WAL
// segment recorded since it, leaving the index's last_valid_lsn at the
// highest LSN found in the WAL stream (or at the snapshot's own LSN if no
// WAL segments exist yet).
func (l *Loader) Bootstrap() error {
	lsns, err := l.store.ListSnapshotLSNs(l.timeline)
	if err != nil {
		return fmt.Errorf("snapshot loader: list snapshots: %w", err)
	}
	if len(lsns) == 0 {
		return fmt.Errorf("snapshot loader: no snapshots found for timeline %d", l.timeline)
	}
	snapshotLSNHex := lsns[len(lsns)-1] // ListSnapshotLSNs returns them sorted ascending
	snapshotLSN, err := strconv.ParseUint(snapshotLSNHex, 16, 64)
	if err != nil {
		return fmt.Errorf("snapshot loader: malformed snapshot LSN %q: %w", snapshotLSNHex, err)
	}

	l.logger.Printf("snapshot loader: restoring snapshot %s (LSN %d)", snapshotLSNHex, snapshotLSN)

	if err := l.restoreDir(snapshotLSNHex, "global", tag.GlobalTablespace, 0, snapshotLSN); err != nil {
		return err
	}

	dbs, err := l.store.ListDatabases(l.timeline, snapshotLSNHex)
	if err != nil {
		return fmt.Errorf("snapshot loader: list databases: %w", err)
	}
	for _, dbName := range dbs {
		dbOid, err := strconv.ParseUint(dbName, 10, 32)
		if err != nil {
			l.logger.Printf("snapshot loader: skipping non-numeric database directory %q", dbName)
			continue
		}
		subdir := "base/" + dbName
		if err := l.restoreDir(snapshotLSNHex, subdir, tag.DefaultTablespace, uint32(dbOid), snapshotLSN); err != nil {
			return err
		}
	}

	l.idx.InitValidLSN(snapshotLSN)
	l.logger.Printf("snapshot loader: snapshot restored, first_valid_lsn=last_valid_lsn=%d", snapshotLSN)

	return l.replayWAL(snapshotLSN)
}

func (l *Loader) restoreDir(snapshotLSNHex, subdir string, tablespace, database uint32, lsn uint64) error {
	files, err := l.store.ListSnapshotFiles(l.timeline, snapshotLSNHex, subdir)
	if err != nil {
		return fmt.Errorf("snapshot loader: list files in %s: %w", subdir, err)
	}
	for _, name := range files {
		if skipFiles[name] {
			continue
		}
		if err := l.restoreRelfile(snapshotLSNHex, subdir, name, tablespace, database, lsn); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) restoreRelfile(snapshotLSNHex, subdir, filename string, tablespace, database uint32, lsn uint64) error {
	relation, fork, startBlock, ok, err := ParseRelFileName(filename)
	if err != nil {
		return fmt.Errorf("snapshot loader: %s/%s: %w", subdir, filename, err)
	}
	if !ok {
		l.logger.Printf("snapshot loader: skipping unrecognized file %s/%s", subdir, filename)
		return nil
	}

	rc, err := l.store.OpenSnapshotFile(l.timeline, snapshotLSNHex, subdir, filename)
	if err != nil {
		return fmt.Errorf("snapshot loader: open %s/%s: %w", subdir, filename, err)
	}
	defer rc.Close()

	relTag := tag.RelTag{Tablespace: tablespace, Database: database, Relation: relation, Fork: fork}

	block := startBlock
	buf := make([]byte, tag.PageSize)
	for {
		n, err := io.ReadFull(rc, buf)
		if n == tag.PageSize {
			t := tag.Tag{Tablespace: relTag.Tablespace, Database: relTag.Database, Relation: relTag.Relation, Fork: relTag.Fork, Block: block}
			image := make([]byte, tag.PageSize)
			copy(image, buf)
			l.idx.InsertImage(t, lsn, image)
			l.idx.RelSizeBump(relTag, block+1)
			block++
			continue
		}
		// A short read terminates the relfile: Postgres relation files are
		// never sparse or truncated mid-page.
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		return fmt.Errorf("snapshot loader: read %s/%s block %d: %w", subdir, filename, block, err)
	}
}

func (l *Loader) replayWAL(snapshotLSN uint64) error {
	segments, err := l.store.ListWALSegments(l.timeline)
	if err != nil {
		return fmt.Errorf("snapshot loader: list wal segments: %w", err)
	}

	ingestor := walingest.New(l.idx, l.logger)
	startSegno, startOffset := walsegment.FromLSN(snapshotLSN)

	for _, name := range segments {
		timeline, segno, _, ok := walsegment.Parse(name)
		if !ok || timeline != walsegment.Timeline || segno < startSegno {
			continue
		}

		// The segment containing the snapshot LSN holds pre-snapshot bytes
		// before startOffset; seeking past them keeps replay from
		// re-ingesting records below last_valid_lsn, which would panic
		// (watermarks never move backwards).
		var offset int64
		if segno == startSegno {
			offset = int64(startOffset)
		}

		rc, err := l.store.OpenWALSegment(l.timeline, name, offset)
		if err != nil {
			return fmt.Errorf("snapshot loader: open wal segment %s: %w", name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("snapshot loader: read wal segment %s: %w", name, err)
		}

		decoder := waldecode.NewStreamDecoder()
		if err := ingestor.Drain(decoder, data); err != nil {
			l.logger.Printf("snapshot loader: decode error in segment %s, skipping rest of segment: %v", name, err)
			continue
		}
	}

	_, last := l.idx.Watermarks()
	l.logger.Printf("snapshot loader: wal replay complete, last_valid_lsn=%d", last)
	return nil
}
