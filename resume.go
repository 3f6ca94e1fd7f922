package ragzip

import (
	"compress/gzip"
	"fmt"
	"io"

	"github.com/ddeschenes-1/ragzip/internal/rzlog"
)

// Resume starts or continues writing a ragzip stream on a random-access
// sink. If dst is empty, a fresh stream begins at offset 0. If dst already
// holds a valid ragzip file matching the requested tree shape, the tail
// index members, extensions and footer are truncated away and writing
// resumes with a fresh page right after the last, possibly-partial page,
// which is kept as it is (the writer never re-inflates and re-appends it,
// trading a small amount of compression ratio for simplicity — see
// DESIGN.md).
//
// dst is written to directly (no internal buffering layer), since position
// tracking relies on dst.Seek(0, io.SeekCurrent) always reflecting exactly
// what has been written so far.
func Resume(dst RandomAccessSink, pageSizeExponent, indexSizeExponent int, opts ...Option) (*Writer, error) {
	tree := TreeSpec{P: pageSizeExponent, I: indexSizeExponent}
	if err := tree.validate(); err != nil {
		return nil, err
	}

	w := &Writer{
		dst:               dst,
		positionOf:        func() (int64, error) { return dst.Seek(0, io.SeekCurrent) },
		compression:       gzip.DefaultCompression,
		logger:            rzlog.NopIfNil(nil),
		pageSizeExponent:  pageSizeExponent,
		pageMaxSize:       tree.PageSize(),
		indexSizeExponent: indexSizeExponent,
		indexMaxSize:      tree.IndexSize(),
	}
	for _, o := range opts {
		o(w)
	}

	size, err := dst.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}

	if size == 0 {
		if _, err := dst.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		return w, nil
	}

	reopenAt, resumeState, err := planResume(dst, size, tree)
	if err != nil {
		return nil, err
	}
	if resumeState == nil {
		// Logical size was 0 despite a non-empty file (e.g. an empty
		// ragzip consisting of just a footer): simplest to start over.
		if err := dst.Truncate(0); err != nil {
			return nil, err
		}
		if _, err := dst.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		return w, nil
	}

	if err := dst.Truncate(reopenAt); err != nil {
		return nil, err
	}
	if _, err := dst.Seek(reopenAt, io.SeekStart); err != nil {
		return nil, err
	}

	w.totalUncompressed = resumeState.totalUncompressed
	w.nextPageStartOffset = reopenAt
	for level := 1; level <= MaxLevels; level++ {
		w.levelBuf[level] = resumeState.levelBuf[level]
	}
	w.extensions = nil // extensions persisted in the file were truncated away above; callers re-append them if desired

	return w, nil
}

type resumeState struct {
	totalUncompressed int64
	levelBuf          [MaxLevels + 1][]byte
}

// planResume opens dst read-only through Reader in cached mode (at least
// one cached tail index per level), validates the tree shape matches, and
// computes both the truncation point and the recovered in-memory index
// state: truncate at the offset of the earliest tail artifact — the tail
// level-1 index when levels >= 2, else the first extension, else the
// footer — and resume writing a fresh page from exactly that offset.
func planResume(dst RandomAccessSink, size int64, wantTree TreeSpec) (int64, *resumeState, error) {
	rd, err := newReaderForResume(dst, size)
	if err != nil {
		return 0, nil, err
	}
	if rd.footer.Tree.P != wantTree.P || rd.footer.Tree.I != wantTree.I {
		return 0, nil, fmt.Errorf("%w: cannot resume a ragzip file of different page/index size exponents", ErrConfiguration)
	}
	if rd.footer.Version != Version {
		return 0, nil, fmt.Errorf("%w: cannot resume a ragzip file of a different version", ErrConfiguration)
	}
	if rd.footer.UncompressedSize <= 0 {
		return 0, nil, nil
	}

	if err := rd.warmUpTail(); err != nil {
		return 0, nil, err
	}

	levels := rd.footer.Tree.Levels
	st := &resumeState{totalUncompressed: rd.footer.UncompressedSize}

	for level := levels; level >= 1; level-- {
		payload, ok := rd.soleCachedTailPayload(level)
		if !ok {
			return 0, nil, fmt.Errorf("%w: missing tail index payload for level %d while resuming", ErrFormat, level)
		}
		buf := append([]byte(nil), payload...)
		st.levelBuf[level] = buf
	}

	var reopenAt int64
	switch {
	case levels >= 2:
		reopenAt = lastOffsetEntry(st.levelBuf[2])
	case len(rd.extensions) > 0:
		reopenAt = rd.firstExtensionOffset
	default:
		reopenAt = size - FooterSize
	}

	return reopenAt, st, nil
}

func lastOffsetEntry(buf []byte) int64 {
	if len(buf) < 8 {
		return 0
	}
	return beInt64(buf[len(buf)-8:])
}
