// Package waldecode turns a byte stream into an ordered sequence of WAL
// records, each carrying the list of pages it touches. The on-the-wire
// framing here is this implementation's own invention: the spec explicitly
// delegates byte-level WAL replay to an external worker (see SPEC_FULL.md
// non-goals), so nothing about the actual Postgres WAL record format needs
// to be reproduced — only the decoder's external contract matters: a
// restartable, byte-fed stream yielding (LSN, record bytes) pairs in order,
// with unterminated records at the tail held back until more bytes arrive.
package waldecode

import (
	"encoding/binary"
	"fmt"

	"github.com/neonwal/pageserver/pkg/tag"
)

// BlockRef names one page a record affects, plus the two flags the
// ingestor needs to decide whether the record requires a predecessor.
type BlockRef struct {
	Tag        tag.Tag
	WillInit   bool
	ApplyImage bool
}

// Record is one decoded WAL record: its LSN, the raw bytes shared by
// reference across every per-block index entry derived from it, and the
// list of blocks it touches.
type Record struct {
	LSN    uint64
	Bytes  []byte
	Blocks []BlockRef
}

const (
	blockRefSize  = 4 + 4 + 4 + 1 + 4 + 1 // tablespace,database,relation,fork,block,flags
	headerSize    = 4 + 8 + 2             // length,lsn,numBlocks
	flagWillInit  = byte(1 << 0)
	flagApplyImg  = byte(1 << 1)
)

// StreamDecoder accumulates fed bytes and yields complete records in order.
// It is restartable: Feed may be called repeatedly as more bytes of a
// segment (or the growing .partial tail) become available, and Next simply
// returns ok=false until a full record's bytes have arrived.
type StreamDecoder struct {
	buf []byte
}

// NewStreamDecoder returns an empty decoder.
func NewStreamDecoder() *StreamDecoder {
	return &StreamDecoder{}
}

// Feed appends newly available bytes to the decoder's internal buffer.
func (d *StreamDecoder) Feed(b []byte) {
	d.buf = append(d.buf, b...)
}

// Next returns the next fully-buffered record, if any. ok is false (with a
// nil error) when the buffered bytes do not yet contain a complete record;
// the caller should Feed more and try again. A non-nil error indicates the
// buffered bytes are malformed and the current segment must be abandoned
// (see SPEC_FULL.md section 4.6: "a decoder error terminates the current
// segment").
func (d *StreamDecoder) Next() (*Record, bool, error) {
	if len(d.buf) < headerSize {
		return nil, false, nil
	}
	length := binary.BigEndian.Uint32(d.buf[0:4])
	if length < headerSize {
		return nil, false, fmt.Errorf("waldecode: record length %d shorter than header", length)
	}
	if uint64(len(d.buf)) < uint64(length) {
		return nil, false, nil
	}

	lsn := binary.BigEndian.Uint64(d.buf[4:12])
	numBlocks := binary.BigEndian.Uint16(d.buf[12:14])

	blocksEnd := headerSize + int(numBlocks)*blockRefSize
	if blocksEnd > int(length) {
		return nil, false, fmt.Errorf("waldecode: block table overruns record length")
	}

	blocks := make([]BlockRef, numBlocks)
	off := headerSize
	for i := 0; i < int(numBlocks); i++ {
		b := d.buf[off : off+blockRefSize]
		blocks[i] = BlockRef{
			Tag: tag.Tag{
				Tablespace: binary.BigEndian.Uint32(b[0:4]),
				Database:   binary.BigEndian.Uint32(b[4:8]),
				Relation:   binary.BigEndian.Uint32(b[8:12]),
				Fork:       tag.Fork(b[12]),
				Block:      binary.BigEndian.Uint32(b[13:17]),
			},
			WillInit:   b[17]&flagWillInit != 0,
			ApplyImage: b[17]&flagApplyImg != 0,
		}
		off += blockRefSize
	}

	recordBytes := make([]byte, length)
	copy(recordBytes, d.buf[:length])

	d.buf = d.buf[length:]

	return &Record{LSN: lsn, Bytes: recordBytes, Blocks: blocks}, true, nil
}

// Pending reports how many bytes remain buffered and not yet yielded as a
// complete record (the unterminated tail).
func (d *StreamDecoder) Pending() int {
	return len(d.buf)
}

// Encode serializes a record in the wire format this decoder understands.
// It exists alongside the decoder (rather than only in tests) because the
// ingestion path's own tests and any tooling that synthesizes WAL for
// replay drills need a matching writer.
func Encode(lsn uint64, blocks []BlockRef, payload []byte) []byte {
	length := headerSize + len(blocks)*blockRefSize + len(payload)
	buf := make([]byte, length)
	binary.BigEndian.PutUint32(buf[0:4], uint32(length))
	binary.BigEndian.PutUint64(buf[4:12], lsn)
	binary.BigEndian.PutUint16(buf[12:14], uint16(len(blocks)))
	off := headerSize
	for _, blk := range blocks {
		binary.BigEndian.PutUint32(buf[off:off+4], blk.Tag.Tablespace)
		binary.BigEndian.PutUint32(buf[off+4:off+8], blk.Tag.Database)
		binary.BigEndian.PutUint32(buf[off+8:off+12], blk.Tag.Relation)
		buf[off+12] = byte(blk.Tag.Fork)
		binary.BigEndian.PutUint32(buf[off+13:off+17], blk.Tag.Block)
		var flags byte
		if blk.WillInit {
			flags |= flagWillInit
		}
		if blk.ApplyImage {
			flags |= flagApplyImg
		}
		buf[off+17] = flags
		off += blockRefSize
	}
	copy(buf[off:], payload)
	return buf
}
