// Package walsegment encodes and decodes WAL segment filenames and converts
// between LSNs and (segment number, offset) pairs, matching the fixed
// on-disk naming convention described in SPEC_FULL.md section 6.
package walsegment

import (
	"fmt"
	"strconv"
	"strings"
)

// SegmentSize is the fixed size of a WAL segment file, in bytes (16 MiB).
const SegmentSize uint64 = 16 * 1024 * 1024

// Timeline is hard-coded to 1 for WAL file naming, matching the reference
// this package is ported from. A real multi-timeline deployment would need
// to discover the timeline's actual id; this spec keeps the hard-coding and
// flags it as the one deployment-time assumption such a build would need to
// replace (see SPEC_FULL.md section 9).
const Timeline uint32 = 1

// partialSuffix marks the currently-growing tail segment.
const partialSuffix = ".partial"

// FromLSN splits an LSN into the segment number containing it and the
// byte offset within that segment.
func FromLSN(lsn uint64) (segno uint64, offset uint64) {
	return lsn / SegmentSize, lsn % SegmentSize
}

// ToLSN recombines a segment number and offset into an LSN.
func ToLSN(segno, offset uint64) uint64 {
	return segno*SegmentSize + offset
}

// Name formats the 24-hex-character filename for (timeline, segno): three
// 8-hex-digit uppercase fields for timeline, the high 32 bits of segno, and
// the low 32 bits of segno, concatenated.
func Name(timeline uint32, segno uint64) string {
	hi := uint32(segno >> 32)
	lo := uint32(segno)
	return fmt.Sprintf("%08X%08X%08X", timeline, hi, lo)
}

// PartialName is Name with the ".partial" suffix appended, for the
// currently-growing tail segment.
func PartialName(timeline uint32, segno uint64) string {
	return Name(timeline, segno) + partialSuffix
}

// Parse recovers (timeline, segno, partial) from a segment filename. ok is
// false if name does not match the fixed 24-hex-character grammar (with an
// optional ".partial" suffix).
func Parse(name string) (timeline uint32, segno uint64, partial bool, ok bool) {
	base := name
	if strings.HasSuffix(base, partialSuffix) {
		partial = true
		base = strings.TrimSuffix(base, partialSuffix)
	}
	if len(base) != 24 {
		return 0, 0, false, false
	}
	for _, c := range base {
		if !isUpperHex(c) {
			return 0, 0, false, false
		}
	}
	tl, err := strconv.ParseUint(base[0:8], 16, 32)
	if err != nil {
		return 0, 0, false, false
	}
	hi, err := strconv.ParseUint(base[8:16], 16, 32)
	if err != nil {
		return 0, 0, false, false
	}
	lo, err := strconv.ParseUint(base[16:24], 16, 32)
	if err != nil {
		return 0, 0, false, false
	}
	return uint32(tl), (hi << 32) | lo, partial, true
}

// IsXLogFileName reports whether name is a well-formed (non-partial)
// segment filename.
func IsXLogFileName(name string) bool {
	_, _, partial, ok := Parse(name)
	return ok && !partial
}

// IsPartialXLogFileName reports whether name is a well-formed partial
// segment filename.
func IsPartialXLogFileName(name string) bool {
	_, _, partial, ok := Parse(name)
	return ok && partial
}

func isUpperHex(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'F')
}
