// Package walingest drives a byte-fed WAL decoder into the page index,
// advancing the last_valid_lsn watermark as it goes.
package walingest

import (
	"log"

	"github.com/neonwal/pageserver/internal/pageindex"
	"github.com/neonwal/pageserver/internal/waldecode"
)

// Ingestor consumes decoded WAL records and applies them to an index.
type Ingestor struct {
	idx    *pageindex.PageIndex
	logger *log.Logger
}

// New returns an Ingestor writing into idx. A nil logger falls back to the
// standard logger, matching every reference component's convention of
// taking an optional *log.Logger.
func New(idx *pageindex.PageIndex, logger *log.Logger) *Ingestor {
	if logger == nil {
		logger = log.Default()
	}
	return &Ingestor{idx: idx, logger: logger}
}

// IngestRecord applies one decoded record to the index: for each affected
// block it derives a will_init flag (set if either the record's own
// will_init flag or its apply_image flag is set) and inserts a Record
// entry, then advances last_valid_lsn — all under the index's single lock
// acquisition, per SPEC_FULL.md section 9's resolved-open-question.
func (ig *Ingestor) IngestRecord(rec *waldecode.Record) {
	records := make([]pageindex.Record, len(rec.Blocks))
	for i, blk := range rec.Blocks {
		records[i] = pageindex.Record{
			Tag:      blk.Tag,
			LSN:      rec.LSN,
			Bytes:    rec.Bytes,
			WillInit: blk.WillInit || blk.ApplyImage,
		}
	}
	ig.idx.PutRecordAndAdvance(records, rec.LSN)
}

// Drain feeds data into decoder and ingests every complete record it
// yields. It does not advance past an incomplete trailing record: the
// caller (WAL replay, section 4.6) is responsible for re-feeding once more
// bytes are available. A decoder error is returned to the caller, which
// per the spec should abandon the current segment rather than treat it as
// fatal.
func (ig *Ingestor) Drain(decoder *waldecode.StreamDecoder, data []byte) error {
	decoder.Feed(data)
	for {
		rec, ok, err := decoder.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		ig.IngestRecord(rec)
	}
}
