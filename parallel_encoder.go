package ragzip

import (
	"container/heap"
	"fmt"
	"io"
	"runtime"
	"sync"

	"github.com/klauspost/pgzip"

	"github.com/ddeschenes-1/ragzip/internal/rzlog"
)

// MaxParallelPageSizeExponent bounds the page size exponent the parallel
// encoder accepts: pages are held fully in memory by the read/zip stages,
// so 2^21 (2 MiB) is as large as a page is allowed to get here, tighter
// than the streaming Writer's general 2^30 ceiling.
const MaxParallelPageSizeExponent = 21

// ParallelEncoderOption configures EncodeParallel.
type ParallelEncoderOption func(*parallelEncoderConfig)

type parallelEncoderConfig struct {
	workers     int
	window      int
	compression int
	logger      *rzlog.Logger
}

// WithWorkers sets the number of concurrent read/zip workers. Defaults to
// runtime.NumCPU().
func WithWorkers(n int) ParallelEncoderOption {
	return func(c *parallelEncoderConfig) { c.workers = n }
}

// WithWindow sets the buffer capacity of the channels between the read, zip
// and order stages. Defaults to 2x workers. It does not limit how far
// reading runs ahead of writing: pages that finish before the next one due
// to be written wait in the ordering stage's heap, which has no size limit.
func WithWindow(n int) ParallelEncoderOption {
	return func(c *parallelEncoderConfig) { c.window = n }
}

// WithEncoderCompressionLevel sets the pgzip compression level used for
// page members.
func WithEncoderCompressionLevel(level int) ParallelEncoderOption {
	return func(c *parallelEncoderConfig) { c.compression = level }
}

// WithEncoderLogger attaches a zap logger; nil means stay silent.
func WithEncoderLogger(l *rzlog.Logger) ParallelEncoderOption {
	return func(c *parallelEncoderConfig) { c.logger = rzlog.NopIfNil(l) }
}

type rawPage struct {
	id   int64
	data []byte
	last bool
}

type zippedPage struct {
	id   int64
	data []byte
	last bool
}

// EncodeParallel reads src (sized size) in fixed 2^P pages, compresses them
// concurrently across several workers, and writes a complete ragzip stream
// to dst in the correct order. The five logical stages — slice, read, zip,
// order, write — run as a pipeline of goroutines connected by channels: a
// slicer hands out page descriptors, a pool of workers reads and compresses
// each page independently, and a single ordering stage holds a min-heap of
// finished pages so it can write them out, and fold their offsets into the
// index tower, strictly in pageId order even though they finish out of
// order. Channels and a heap stand in for the Java reference's
// ReentrantLock/Condition pair and PriorityBlockingQueue for the reordering;
// readers are not held back by how far the ordering stage lags, so pages
// that finish out of order can accumulate in the heap (see WithWindow).
func EncodeParallel(dst io.Writer, src io.ReaderAt, size int64, pageSizeExponent, indexSizeExponent int, opts ...ParallelEncoderOption) error {
	tree := TreeSpec{P: pageSizeExponent, I: indexSizeExponent}
	if err := tree.validate(); err != nil {
		return err
	}
	if pageSizeExponent > MaxParallelPageSizeExponent {
		return fmt.Errorf("%w: parallel encoder page size exponent %d exceeds the in-memory limit of %d", ErrConfiguration, pageSizeExponent, MaxParallelPageSizeExponent)
	}
	if size < 0 {
		return fmt.Errorf("%w: negative source size %d", ErrConfiguration, size)
	}
	if size >= MaxUncompressedSize {
		return fmt.Errorf("%w: source size %d reaches the %d-byte limit", ErrCapacity, size, MaxUncompressedSize)
	}

	cfg := parallelEncoderConfig{workers: runtime.NumCPU(), compression: pgzip.DefaultCompression, logger: rzlog.NopIfNil(nil)}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.workers < 1 {
		cfg.workers = 1
	}
	if cfg.window < 1 {
		cfg.window = cfg.workers * 2
	}

	pageSize := tree.PageSize()
	pageCount := int64(0)
	if size > 0 {
		pageCount = (size-1)/pageSize + 1
	}

	rawCh := make(chan rawPage, cfg.window)
	zippedCh := make(chan zippedPage, cfg.window)

	var stageErrs []*StageError
	var stageErrMu sync.Mutex
	setErr := func(stage string, err error) {
		if err == nil {
			return
		}
		stageErrMu.Lock()
		stageErrs = append(stageErrs, &StageError{Stage: stage, Err: err})
		stageErrMu.Unlock()
	}

	var wgRead sync.WaitGroup
	var wgZip sync.WaitGroup

	// Slicer + readers: pageCount independent ReadAt calls fanned out
	// across cfg.workers goroutines, fed into rawCh.
	pageIDs := make(chan int64, pageCount)
	for i := int64(0); i < pageCount; i++ {
		pageIDs <- i
	}
	close(pageIDs)

	for w := 0; w < cfg.workers; w++ {
		wgRead.Add(1)
		go func() {
			defer wgRead.Done()
			for id := range pageIDs {
				start := id * pageSize
				want := pageSize
				if size-start < want {
					want = size - start
				}
				buf := make([]byte, want)
				if _, err := io.ReadFull(io.NewSectionReader(src, start, want), buf); err != nil {
					setErr("read", fmt.Errorf("page %d: %w", id, err))
					return
				}
				rawCh <- rawPage{id: id, data: buf, last: id == pageCount-1}
			}
		}()
	}
	go func() {
		wgRead.Wait()
		close(rawCh)
	}()

	// Zippers: compress each raw page independently through pgzip.
	for w := 0; w < cfg.workers; w++ {
		wgZip.Add(1)
		go func() {
			defer wgZip.Done()
			for page := range rawCh {
				var buf pgzipBuffer
				zw, err := pgzip.NewWriterLevel(&buf, cfg.compression)
				if err != nil {
					setErr("zip", err)
					return
				}
				if _, err := zw.Write(page.data); err != nil {
					setErr("zip", err)
					return
				}
				if err := zw.Close(); err != nil {
					setErr("zip", err)
					return
				}
				zippedCh <- zippedPage{id: page.id, data: buf.Bytes(), last: page.last}
			}
		}()
	}
	go func() {
		wgZip.Wait()
		close(zippedCh)
	}()

	// Order + index + write: a single goroutine holding a min-heap of
	// finished-but-not-yet-due pages, draining it in pageId order.
	if err := orderIndexAndWrite(dst, zippedCh, tree, size); err != nil {
		setErr("write", err)
	}

	wgRead.Wait()
	wgZip.Wait()

	if len(stageErrs) > 0 {
		return &PipelineError{Stages: stageErrs}
	}
	return nil
}

// pageHeap orders zippedPage by id, the ordering stage's priority queue.
type pageHeap []zippedPage

func (h pageHeap) Len() int            { return len(h) }
func (h pageHeap) Less(i, j int) bool  { return h[i].id < h[j].id }
func (h pageHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *pageHeap) Push(x interface{}) { *h = append(*h, x.(zippedPage)) }
func (h *pageHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func orderIndexAndWrite(dst io.Writer, zippedCh <-chan zippedPage, tree TreeSpec, size int64) error {
	cw := &countWriter{w: dst}
	var levelBuf [MaxLevels + 1][]byte
	indexMaxSize := tree.IndexSize()

	var addRecord func(offset int64, level int) error
	addRecord = func(offset int64, level int) error {
		if level > MaxLevels {
			return fmt.Errorf("%w: index tower exceeded %d levels", ErrCapacity, MaxLevels)
		}
		if levelBuf[level] == nil {
			levelBuf[level] = make([]byte, 0, 8*indexMaxSize)
		} else if len(levelBuf[level]) == 8*indexMaxSize {
			indexOffset := cw.pos
			if _, err := writeMetadataMember(cw, levelBuf[level]); err != nil {
				return err
			}
			levelBuf[level] = levelBuf[level][:0]
			if err := addRecord(indexOffset, level+1); err != nil {
				return err
			}
		}
		var b [8]byte
		beput(b[:], offset)
		levelBuf[level] = append(levelBuf[level], b[:]...)
		return nil
	}

	h := &pageHeap{}
	heap.Init(h)
	nextWanted := int64(0)
	sawLast := false
	pageCount := int64(0)

	flushReady := func() error {
		for h.Len() > 0 && (*h)[0].id == nextWanted {
			page := heap.Pop(h).(zippedPage)
			pageOffset := cw.pos
			if _, err := cw.Write(page.data); err != nil {
				return err
			}
			// Single-page files elide the index tower entirely,
			// matching the streaming writer's parity rule: only
			// start recording once there is a second page.
			if nextWanted > 0 || page.last == false {
				if err := addRecord(pageOffset, 1); err != nil {
					return err
				}
			}
			nextWanted++
			pageCount++
			if page.last {
				sawLast = true
			}
		}
		return nil
	}

	for page := range zippedCh {
		heap.Push(h, page)
		if err := flushReady(); err != nil {
			return err
		}
	}
	if err := flushReady(); err != nil {
		return err
	}
	if !sawLast && size > 0 {
		return fmt.Errorf("%w: pipeline finished without producing the last page", ErrIntegrity)
	}

	// If there was exactly one page, levelBuf[1] was deliberately never
	// started above; otherwise finish the tower the same way the
	// streaming Writer's Close does.
	numberOfLevels := 0
	var topIndexOffset int64
	for level := 1; level <= MaxLevels; level++ {
		if levelBuf[level] == nil {
			break
		}
		numberOfLevels = level
		indexOffset := cw.pos
		topIndexOffset = indexOffset
		if _, err := writeMetadataMember(cw, levelBuf[level]); err != nil {
			return err
		}
		if levelBuf[level+1] != nil {
			if err := addRecord(indexOffset, level+1); err != nil {
				return err
			}
		}
	}

	footer := Footer{
		Version:              Version,
		Tree:                 TreeSpec{Levels: numberOfLevels, I: tree.I, P: tree.P},
		UncompressedSize:      size,
		TopIndexOffset:        topIndexOffset,
		ExtensionsTailOffset:  -1,
	}
	_, err := writeFooter(cw, footer)
	return err
}

func beput(b []byte, v int64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

// pgzipBuffer is a tiny growable buffer, kept separate from bytes.Buffer
// only so pgzip's writer sees a plain io.Writer (it special-cases some
// io.Writer implementations for direct access).
type pgzipBuffer struct {
	buf []byte
}

func (b *pgzipBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *pgzipBuffer) Bytes() []byte { return b.buf }
