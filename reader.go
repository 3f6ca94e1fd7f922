package ragzip

import (
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ddeschenes-1/ragzip/internal/rzlog"
)

// CacheMode selects how Reader resolves a page id to its file offset.
type CacheMode int

const (
	// CacheModeCachelessDirect reads the raw 8-byte big-endian offset
	// directly out of each index member at its fixed slot position,
	// without even gzip-decoding the member. Fastest, no memory held,
	// and performs no validation beyond the monotonicity check every
	// mode performs.
	CacheModeCachelessDirect CacheMode = iota
	// CacheModeCachelessLoaded gzip-decodes each index member's RA
	// payload on every descent step, but caches nothing.
	CacheModeCachelessLoaded
	// CacheModeCached keeps an LRU of decoded index payloads per level.
	CacheModeCached
)

// Reader is a random-access ragzip decoder. It exposes only read
// operations — there is no write-shaped method on this type at all, the Go
// equivalent of the Java original's FileChannel subclass throwing
// NonWritableChannelException from every mutating method.
type Reader struct {
	src     io.ReaderAt
	srcSize int64
	logger  *rzlog.Logger

	footer     Footer
	extensions []extensionRecord

	cacheMode CacheMode
	caches    []*lru.Cache[int64, []byte] // 1-indexed, caches[0] unused

	cur      uncompressedPos
	gz       *gzip.Reader
	firstExtensionOffset int64
}

type extensionRecord struct {
	Extension
	SelfOffset int64
}

type uncompressedPos struct {
	pos int64
}

// ReaderOption configures a Reader.
type ReaderOption func(*readerConfig)

type readerConfig struct {
	mode      CacheMode
	cacheSize int
	logger    *rzlog.Logger
}

// WithCacheMode selects the index resolution strategy. Defaults to
// CacheModeCachelessDirect.
func WithCacheMode(mode CacheMode) ReaderOption {
	return func(c *readerConfig) { c.mode = mode }
}

// WithCacheSize sets the number of index payloads kept per level when
// CacheModeCached is selected. Defaults to 16.
func WithCacheSize(n int) ReaderOption {
	return func(c *readerConfig) { c.cacheSize = n }
}

// WithReaderLogger attaches a zap logger; nil means stay silent.
func WithReaderLogger(l *rzlog.Logger) ReaderOption {
	return func(c *readerConfig) { c.logger = rzlog.NopIfNil(l) }
}

// NewReader opens a ragzip file for random access, reading the footer and
// extension chain eagerly.
func NewReader(src io.ReaderAt, size int64, opts ...ReaderOption) (*Reader, error) {
	cfg := readerConfig{mode: CacheModeCachelessDirect, cacheSize: 16, logger: rzlog.NopIfNil(nil)}
	for _, o := range opts {
		o(&cfg)
	}

	footer, err := readFooter(src, size)
	if err != nil {
		return nil, err
	}
	footerOffset := size - FooterSize
	if footer.Tree.Levels > 0 && footer.TopIndexOffset >= footerOffset {
		return nil, fmt.Errorf("%w: top index offset 0x%x is not before footer offset 0x%x", ErrFormat, footer.TopIndexOffset, footerOffset)
	}
	if footer.ExtensionsTailOffset >= footerOffset {
		return nil, fmt.Errorf("%w: extensions tail offset 0x%x is not before footer offset 0x%x", ErrFormat, footer.ExtensionsTailOffset, footerOffset)
	}

	r := &Reader{
		src:       src,
		srcSize:   size,
		logger:    cfg.logger,
		footer:    footer,
		cacheMode: cfg.mode,
		firstExtensionOffset: -1,
	}

	if err := r.loadExtensions(); err != nil {
		return nil, err
	}

	if cfg.mode == CacheModeCached {
		r.caches = make([]*lru.Cache[int64, []byte], footer.Tree.Levels+1)
		for i := 1; i <= footer.Tree.Levels; i++ {
			c, err := lru.New[int64, []byte](cfg.cacheSize)
			if err != nil {
				return nil, err
			}
			r.caches[i] = c
		}
	}

	if footer.UncompressedSize > 0 {
		gz, err := openPageReader(src, 0, size)
		if err != nil {
			return nil, err
		}
		r.gz = gz
	}
	r.cur.pos = 0
	return r, nil
}

func (r *Reader) loadExtensions() error {
	extOffset := r.footer.ExtensionsTailOffset
	var loaded []extensionRecord
	for extOffset >= 0 && len(loaded) < MaxExtensionCount {
		ext, err := readExtension(r.src, extOffset, r.srcSize)
		if err != nil {
			return err
		}
		self := extOffset
		if ext.PrevOffset >= extOffset {
			return fmt.Errorf("%w: extension previous offset 0x%x is not before its own offset 0x%x", ErrFormat, ext.PrevOffset, extOffset)
		}
		prev := ext.PrevOffset
		if len(ext.Data) > MaxExtensionPayload {
			r.logger.Sugar().Warnf("ragzip: ignoring oversized extension at offset 0x%x (%d bytes)", self, len(ext.Data))
			extOffset = prev
			continue
		}
		loaded = append(loaded, extensionRecord{Extension: ext, SelfOffset: self})
		extOffset = prev
	}
	if extOffset >= 0 {
		r.logger.Sugar().Warnf("ragzip: stopped at the cap of %d extensions; the ones from offset 0x%x back are left unloaded", MaxExtensionCount, extOffset)
	}
	// loaded is newest-first; reverse to restore original append order.
	for i, j := 0, len(loaded)-1; i < j; i, j = i+1, j-1 {
		loaded[i], loaded[j] = loaded[j], loaded[i]
	}
	r.extensions = loaded
	if len(loaded) > 0 {
		r.firstExtensionOffset = loaded[0].SelfOffset
	}
	return nil
}

// Extensions returns the extension chain found in the footer, in the order
// they were originally appended.
func (r *Reader) Extensions() []Extension {
	out := make([]Extension, len(r.extensions))
	for i, e := range r.extensions {
		out[i] = e.Extension
	}
	return out
}

// Footer returns the decoded footer.
func (r *Reader) Footer() Footer { return r.footer }

// Size returns the total logical (uncompressed) size of the stream.
func (r *Reader) Size() int64 { return r.footer.UncompressedSize }

func beInt64(b []byte) int64 { return int64(binary.BigEndian.Uint64(b)) }

// descend walks the index tree from the top down to the page start offset
// for pageID, using whichever CacheMode the Reader was configured with.
func (r *Reader) descend(pageID int64) (int64, error) {
	levels := r.footer.Tree.Levels
	I := r.footer.Tree.I
	slots := make([]int, levels+1)
	bits := pageID
	mask := int64(r.footer.Tree.IndexSize() - 1)
	for i := 1; i <= levels; i++ {
		slots[i] = int(bits & mask)
		bits >>= uint(I)
	}

	current := r.footer.TopIndexOffset
	for i := levels; i >= 1; i-- {
		var next int64
		switch r.cacheMode {
		case CacheModeCachelessDirect:
			v, err := readRawSlot(r.src, current, slots[i])
			if err != nil {
				return 0, err
			}
			next = v
		default:
			idxKey := pageID >> uint(i*I)
			payload, err := r.loadIndexPayload(i, idxKey, current)
			if err != nil {
				return 0, err
			}
			off := slots[i] * 8
			if off+8 > len(payload) {
				return 0, fmt.Errorf("%w: slot %d out of range for level %d index payload of %d bytes", ErrFormat, slots[i], i, len(payload))
			}
			next = beInt64(payload[off : off+8])
		}
		if next >= current {
			return 0, fmt.Errorf("%w: index offset 0x%x is not before current offset 0x%x", ErrFormat, next, current)
		}
		current = next
	}
	return current, nil
}

func (r *Reader) loadIndexPayload(level int, idxKey, memberOffset int64) ([]byte, error) {
	if r.cacheMode == CacheModeCached {
		if payload, ok := r.caches[level].Get(idxKey); ok {
			return payload, nil
		}
	}
	payload, err := readMetadataPayload(r.src, memberOffset, r.srcSize)
	if err != nil {
		return nil, err
	}
	if r.cacheMode == CacheModeCached {
		r.caches[level].Add(idxKey, payload)
	}
	return payload, nil
}

// soleCachedTailPayload returns the single payload currently cached for a
// level — valid only right after warmUpTail has populated each level's
// cache with exactly the tail chain, which is how Resume recovers
// in-progress index buffers.
func (r *Reader) soleCachedTailPayload(level int) ([]byte, bool) {
	if level >= len(r.caches) || r.caches[level] == nil {
		return nil, false
	}
	keys := r.caches[level].Keys()
	if len(keys) == 0 {
		return nil, false
	}
	return r.caches[level].Get(keys[len(keys)-1])
}

// warmUpTail forces a descent to the last page, populating the cached-mode
// index caches with the rightmost (tail) payload at every level.
func (r *Reader) warmUpTail() error {
	if r.footer.UncompressedSize <= 0 {
		return nil
	}
	if r.cacheMode != CacheModeCached {
		return fmt.Errorf("ragzip: warmUpTail requires CacheModeCached")
	}
	lastPageID := (r.footer.UncompressedSize - 1) >> uint(r.footer.Tree.P)
	_, err := r.descend(lastPageID)
	return err
}

// newReaderForResume opens a Reader in cached mode with a small per-level
// cache, the configuration Resume needs to recover tail index state.
func newReaderForResume(src io.ReaderAt, size int64) (*Reader, error) {
	return NewReader(src, size, WithCacheMode(CacheModeCached), WithCacheSize(1))
}

// Seek repositions the Reader's sequential read cursor to logical offset
// pos. The fast path (same page, moving forward) just discards bytes from
// the already-open gzip member; otherwise the tree is descended again.
func (r *Reader) Seek(pos int64) error {
	if pos < 0 || pos > r.footer.UncompressedSize {
		return fmt.Errorf("%w: seek position %d out of range [0,%d]", ErrFormat, pos, r.footer.UncompressedSize)
	}
	if pos == r.cur.pos {
		return nil
	}
	if pos == r.footer.UncompressedSize {
		r.cur.pos = pos
		r.gz = nil
		return nil
	}
	pageSize := r.footer.Tree.PageSize()
	newPageID := pos >> uint(r.footer.Tree.P)
	curPageID := r.cur.pos >> uint(r.footer.Tree.P)

	if r.gz != nil && newPageID == curPageID && r.cur.pos < pos {
		if _, err := io.CopyN(io.Discard, r.gz, pos-r.cur.pos); err != nil {
			return err
		}
		r.cur.pos = pos
		return nil
	}

	offset, err := r.pageOffset(newPageID)
	if err != nil {
		return err
	}
	gz, err := openPageReader(r.src, offset, r.srcSize)
	if err != nil {
		return err
	}
	within := pos % pageSize
	if _, err := io.CopyN(io.Discard, gz, within); err != nil {
		return err
	}
	r.gz = gz
	r.cur.pos = pos
	return nil
}

// pageOffset resolves a page id to its file offset: page 0 of an unindexed
// (single-page, levels==0) file always starts at offset 0, otherwise the
// tree is descended.
func (r *Reader) pageOffset(pageID int64) (int64, error) {
	if r.footer.Tree.Levels == 0 {
		if pageID != 0 {
			return 0, fmt.Errorf("%w: page id %d requested but file has a single unindexed page", ErrFormat, pageID)
		}
		return 0, nil
	}
	return r.descend(pageID)
}

// Read implements io.Reader over the logical (uncompressed) stream,
// advancing the sequential cursor.
func (r *Reader) Read(p []byte) (int, error) {
	if r.cur.pos >= r.footer.UncompressedSize {
		return 0, io.EOF
	}
	if r.gz == nil {
		return 0, io.EOF
	}
	n, err := r.gz.Read(p)
	r.cur.pos += int64(n)
	if err == io.EOF {
		err = nil
		if n == 0 {
			return 0, io.EOF
		}
	}
	return n, err
}

// ReadAt implements io.ReaderAt over the logical stream, independent of and
// without disturbing the sequential cursor — the detached read path.
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 || off >= r.footer.UncompressedSize {
		return 0, io.EOF
	}
	pageSize := r.footer.Tree.PageSize()
	pageID := off >> uint(r.footer.Tree.P)
	offset, err := r.pageOffset(pageID)
	if err != nil {
		return 0, err
	}
	gz, err := openPageReader(r.src, offset, r.srcSize)
	if err != nil {
		return 0, err
	}
	within := off % pageSize
	if _, err := io.CopyN(io.Discard, gz, within); err != nil {
		return 0, err
	}
	total := 0
	for total < len(p) {
		n, err := gz.Read(p[total:])
		total += n
		if err != nil {
			if err == io.EOF {
				break
			}
			return total, err
		}
	}
	if total == 0 {
		return 0, io.EOF
	}
	return total, nil
}

// transferBufSize bounds the internal buffer Transfer copies through, the
// same size the streaming Writer uses for its own bufio layer.
const transferBufSize = 8192

// Transfer copies up to count logical bytes starting at pos into sink,
// through a bounded internal buffer, without disturbing the sequential
// cursor or the page reader Read/ReadAt track — the detached bulk-copy
// path alongside ReadAt's detached single-call path. count is silently
// clamped to the stream's remaining length. Returns the number of bytes
// actually copied.
func (r *Reader) Transfer(sink io.Writer, pos, count int64) (int64, error) {
	if pos < 0 || pos > r.footer.UncompressedSize {
		return 0, fmt.Errorf("%w: transfer position %d out of range [0,%d]", ErrFormat, pos, r.footer.UncompressedSize)
	}
	if count < 0 {
		return 0, fmt.Errorf("%w: transfer count %d must be non-negative", ErrFormat, count)
	}
	remaining := count
	if pos+remaining > r.footer.UncompressedSize {
		remaining = r.footer.UncompressedSize - pos
	}
	if remaining <= 0 {
		return 0, nil
	}

	pageSize := r.footer.Tree.PageSize()
	pageID := pos >> uint(r.footer.Tree.P)
	offset, err := r.pageOffset(pageID)
	if err != nil {
		return 0, err
	}
	gz, err := openPageReader(r.src, offset, r.srcSize)
	if err != nil {
		return 0, err
	}
	within := pos % pageSize
	if _, err := io.CopyN(io.Discard, gz, within); err != nil {
		return 0, err
	}

	var buf [transferBufSize]byte
	var transferred int64
	for remaining > 0 {
		chunk := int64(len(buf))
		if chunk > remaining {
			chunk = remaining
		}
		n, err := gz.Read(buf[:chunk])
		if n > 0 {
			if _, werr := sink.Write(buf[:n]); werr != nil {
				return transferred, werr
			}
			transferred += int64(n)
			remaining -= int64(n)
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return transferred, err
		}
	}
	return transferred, nil
}

// Position returns the current sequential read cursor.
func (r *Reader) Position() int64 { return r.cur.pos }
