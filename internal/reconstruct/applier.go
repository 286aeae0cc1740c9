package reconstruct

import "context"

// Applier performs the actual redo: given an optional base image (nil if
// the record chain starts from a will_init record) and the ordered records
// that apply on top of it, it produces the reconstructed page image.
//
// This is the core's only seam for byte-level WAL replay, which is out of
// scope for this package (see SPEC_FULL.md, non-goals): a real deployment
// would swap in an Applier that understands actual Postgres redo routines.
type Applier interface {
	Apply(ctx context.Context, base []byte, records [][]byte) ([]byte, error)
}

// ConcatApplier is a stand-in Applier that materializes a page by
// concatenating the base image (if any) with each record's raw bytes in
// order. It does not understand Postgres redo semantics; it exists to
// exercise the dispatch/wait protocol in isolation, exactly as the testable
// scenarios in SPEC_FULL.md section 8 describe ("a stub redo worker that
// concatenates base + records").
type ConcatApplier struct{}

func (ConcatApplier) Apply(_ context.Context, base []byte, records [][]byte) ([]byte, error) {
	out := make([]byte, 0, len(base))
	out = append(out, base...)
	for _, r := range records {
		out = append(out, r...)
	}
	return out, nil
}
