package ragzip

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ddeschenes-1/ragzip/internal/rzlog"
)

// Writer is a streaming ragzip encoder: every byte written through it lands
// in the current page's gzip member, pages are closed and a new one opened
// every 2^P uncompressed bytes, and the cascading index tower is maintained
// incrementally so Close only has to flush whatever's left.
//
// A Writer is not safe for concurrent use.
type Writer struct {
	dst            io.Writer
	positionOf     func() (int64, error)
	compression    int
	logger         *rzlog.Logger

	pageSizeExponent  int
	pageMaxSize       int64
	indexSizeExponent int
	indexMaxSize      int

	gz                 *gzip.Writer
	pageUncompressed   int64
	totalUncompressed  int64
	nextPageStartOffset int64

	// levelBuf[level] accumulates big-endian 8-byte offsets for that
	// index level; levelBuf[0] is unused, mirroring the 1-indexed arrays
	// the format itself is built around.
	levelBuf [MaxLevels + 1][]byte

	extensions []Extension
	closed     bool
}

// Option configures a Writer.
type Option func(*Writer)

// WithCompressionLevel sets the gzip compression level used for page
// members (one of the constants in compress/gzip). Defaults to
// gzip.DefaultCompression.
func WithCompressionLevel(level int) Option {
	return func(w *Writer) { w.compression = level }
}

// WithLogger attaches a zap logger; nil means stay silent.
func WithLogger(l *rzlog.Logger) Option {
	return func(w *Writer) { w.logger = rzlog.NopIfNil(l) }
}

// countingWriter tracks how many bytes have passed through it, used as the
// position source for append-only (non-seekable) destinations.
type countingWriter struct {
	w   *bufio.Writer
	pos int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.pos += int64(n)
	return n, err
}

// NewWriter starts a fresh ragzip stream written to dst, an append-only
// sink assumed to be positioned at its own offset 0. Use NewSeekableWriter
// instead to get resumable-append support.
func NewWriter(dst io.Writer, pageSizeExponent, indexSizeExponent int, opts ...Option) (*Writer, error) {
	tree := TreeSpec{P: pageSizeExponent, I: indexSizeExponent}
	if err := tree.validate(); err != nil {
		return nil, err
	}
	cw := &countingWriter{w: bufio.NewWriterSize(dst, 8192)}
	w := &Writer{
		dst:               cw,
		positionOf:        func() (int64, error) { return cw.pos, nil },
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
	return w, nil
}

// RandomAccessSink is the subset of *os.File a seekable destination needs:
// enough to read back a previous run's tail state and truncate away a
// partial close.
type RandomAccessSink interface {
	io.ReaderAt
	io.Writer
	io.Seeker
	Truncate(size int64) error
}

// NewSeekableWriter is like NewWriter, but dst supports resuming: if dst
// already holds a valid, non-empty ragzip file matching the requested tree
// shape, writing resumes where it left off (see Resume for the exact
// semantics); otherwise dst is truncated and a fresh stream begins.
func NewSeekableWriter(dst RandomAccessSink, pageSizeExponent, indexSizeExponent int, opts ...Option) (*Writer, error) {
	return Resume(dst, pageSizeExponent, indexSizeExponent, opts...)
}

func (w *Writer) openPage() error {
	gz, err := gzip.NewWriterLevel(w.dst, w.compression)
	if err != nil {
		return err
	}
	w.gz = gz
	w.pageUncompressed = 0
	return nil
}

func (w *Writer) position() (int64, error) { return w.positionOf() }

// AppendExtension queues a caller extension to be written once Close runs.
// Oversized extensions are rejected immediately (unlike Close, which drops
// an over-limit extension with a logged warning rather than fail a finish that's already
// underway — see spec Open Questions / DESIGN.md).
func (w *Writer) AppendExtension(ext Extension) error {
	if len(ext.Data) > MaxExtensionPayload {
		return fmt.Errorf("%w: extension payload %d bytes exceeds %d", ErrCapacity, len(ext.Data), MaxExtensionPayload)
	}
	if len(w.extensions) >= MaxExtensionCount {
		return fmt.Errorf("%w: already have %d extensions, max is %d", ErrCapacity, len(w.extensions), MaxExtensionCount)
	}
	w.extensions = append(w.extensions, ext)
	return nil
}

// Write implements io.Writer, partitioning p across as many pages as
// needed.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("ragzip: writer is closed")
	}
	if w.totalUncompressed+int64(len(p)) >= MaxUncompressedSize {
		return 0, fmt.Errorf("%w: writing %d more bytes would reach the %d-byte limit", ErrCapacity, len(p), MaxUncompressedSize)
	}
	written := 0
	for len(p) > 0 {
		if err := w.flushPageIfFull(); err != nil {
			return written, err
		}
		if w.gz == nil {
			if err := w.openPage(); err != nil {
				return written, err
			}
		}
		free := w.pageMaxSize - w.pageUncompressed
		chunk := int64(len(p))
		if chunk > free {
			chunk = free
		}
		n, err := w.gz.Write(p[:chunk])
		written += n
		w.pageUncompressed += int64(n)
		w.totalUncompressed += int64(n)
		p = p[n:]
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

func (w *Writer) flushPageIfFull() error {
	if w.pageUncompressed != w.pageMaxSize {
		return nil
	}
	if err := w.gz.Close(); err != nil {
		return err
	}
	if err := w.addRecord(w.nextPageStartOffset, 1); err != nil {
		return err
	}
	pos, err := w.position()
	if err != nil {
		return err
	}
	w.nextPageStartOffset = pos
	return w.openPage()
}

// addRecord appends offset to the level's in-progress index buffer,
// cascading a flush (and a recursive addRecord one level up) whenever a
// buffer fills.
func (w *Writer) addRecord(offset int64, level int) error {
	if level > MaxLevels {
		return fmt.Errorf("%w: index tower exceeded %d levels", ErrCapacity, MaxLevels)
	}
	if w.levelBuf[level] == nil {
		w.levelBuf[level] = make([]byte, 0, 8*w.indexMaxSize)
	} else if len(w.levelBuf[level]) == 8*w.indexMaxSize {
		indexOffset, err := w.position()
		if err != nil {
			return err
		}
		if _, err := writeMetadataMember(w.dst, w.levelBuf[level]); err != nil {
			return err
		}
		w.levelBuf[level] = w.levelBuf[level][:0]
		if err := w.addRecord(indexOffset, level+1); err != nil {
			return err
		}
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(offset))
	w.levelBuf[level] = append(w.levelBuf[level], buf[:]...)
	return nil
}

// Flush flushes the current page's gzip writer (and any underlying
// buffering) without finishing the ragzip stream.
func (w *Writer) Flush() error {
	if w.closed {
		return nil
	}
	if w.gz != nil {
		if err := w.gz.Flush(); err != nil {
			return err
		}
	}
	if bw, ok := w.dst.(*countingWriter); ok {
		return bw.w.Flush()
	}
	return nil
}

// Close finishes the current page, flushes the remaining index tower,
// appends any queued extensions, and writes the footer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if w.gz != nil {
		if err := w.gz.Close(); err != nil {
			return err
		}
		if w.pageUncompressed > 0 && w.levelBuf[1] != nil {
			if err := w.addRecord(w.nextPageStartOffset, 1); err != nil {
				return err
			}
		}
		w.gz = nil
	}

	numberOfLevels := 0
	var topIndexOffset int64
	for level := 1; level <= MaxLevels; level++ {
		if w.levelBuf[level] == nil {
			break
		}
		numberOfLevels = level
		indexOffset, err := w.position()
		if err != nil {
			return err
		}
		topIndexOffset = indexOffset
		if _, err := writeMetadataMember(w.dst, w.levelBuf[level]); err != nil {
			return err
		}
		if w.levelBuf[level+1] != nil {
			if err := w.addRecord(indexOffset, level+1); err != nil {
				return err
			}
		}
	}

	previousExtensionOffset := int64(-1)
	for _, ext := range w.extensions {
		if len(ext.Data) > MaxExtensionPayload {
			w.logger.Sugar().Warnf("ragzip: dropping oversized extension id=%d (%d bytes) at finish time", ext.ID, len(ext.Data))
			continue
		}
		extOffset, err := w.position()
		if err != nil {
			return err
		}
		ext.PrevOffset = previousExtensionOffset
		if _, err := writeExtension(w.dst, ext); err != nil {
			return err
		}
		previousExtensionOffset = extOffset
	}

	footer := Footer{
		Version:              Version,
		Tree:                 TreeSpec{Levels: numberOfLevels, I: w.indexSizeExponent, P: w.pageSizeExponent},
		UncompressedSize:      w.totalUncompressed,
		TopIndexOffset:        topIndexOffset,
		ExtensionsTailOffset:  previousExtensionOffset,
	}
	if _, err := writeFooter(w.dst, footer); err != nil {
		return err
	}

	if bw, ok := w.dst.(*countingWriter); ok {
		return bw.w.Flush()
	}
	return nil
}
