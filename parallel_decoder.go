package ragzip

import (
	"compress/gzip"
	"fmt"
	"io"
	"runtime"
	"sync"

	"github.com/ddeschenes-1/ragzip/internal/rzlog"
)

// ParallelDecoderOption configures DecodeParallel.
type ParallelDecoderOption func(*parallelDecoderConfig)

type parallelDecoderConfig struct {
	workers int
	window  int
	logger  *rzlog.Logger
}

// WithDecoderWorkers sets how many goroutines read-and-inflate pages
// concurrently. Defaults to runtime.NumCPU().
func WithDecoderWorkers(n int) ParallelDecoderOption {
	return func(c *parallelDecoderConfig) { c.workers = n }
}

// WithDecoderWindow bounds how many page jobs the tree walk is allowed to
// queue ahead of the workers actually draining them.
func WithDecoderWindow(n int) ParallelDecoderOption {
	return func(c *parallelDecoderConfig) { c.window = n }
}

// WithDecoderLogger attaches a zap logger; nil means stay silent.
func WithDecoderLogger(l *rzlog.Logger) ParallelDecoderOption {
	return func(c *parallelDecoderConfig) { c.logger = rzlog.NopIfNil(l) }
}

type pageJob struct {
	pageID        int64
	gzStart       int64
	gzStop        int64
	logicalStart  int64
	logicalLength int
}

// DecodeParallel inflates every page of a ragzip stream concurrently,
// writing each page's decompressed bytes to its final offset in dst via
// WriteAt. Unlike the encoder, output order doesn't matter here — every
// page's logical position is already fixed by the index tree, so workers
// can write as soon as they finish regardless of completion order, which is
// what makes WriteAt on a shared handle the natural fit (no ordering stage
// needed, unlike EncodeParallel).
//
// The index tree is walked up front (cheaply — index members are small and
// held fully in memory one at a time) to turn it into a flat stream of page
// jobs, each carrying a gzip byte range that starts at that page's member
// and ends at the next offset the index records (the next page, or the
// enclosing index member for its last entry); a range can therefore also
// span a following member, which the inflate step never reads past the
// page's logical length.
func DecodeParallel(dst io.WriterAt, src io.ReaderAt, srcSize int64, opts ...ParallelDecoderOption) error {
	footer, err := readFooter(src, srcSize)
	if err != nil {
		return err
	}

	cfg := parallelDecoderConfig{workers: runtime.NumCPU(), logger: rzlog.NopIfNil(nil)}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.workers < 1 {
		cfg.workers = 1
	}
	if cfg.window < 1 {
		cfg.window = cfg.workers * 4
	}

	if footer.UncompressedSize == 0 {
		return nil
	}

	footerOffset := srcSize - FooterSize
	firstExtensionOffset, err := firstExtensionOffsetOf(src, srcSize, footer)
	if err != nil {
		return err
	}
	tailStop := footerOffset
	if firstExtensionOffset >= 0 {
		tailStop = firstExtensionOffset
	}

	jobs := make(chan pageJob, cfg.window)
	var wg sync.WaitGroup
	var failMu sync.Mutex
	var failErrs []*StageError
	fail := func(stage string, err error) {
		if err == nil {
			return
		}
		failMu.Lock()
		failErrs = append(failErrs, &StageError{Stage: stage, Err: err})
		failMu.Unlock()
	}

	for w := 0; w < cfg.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if err := decodeAndWritePage(dst, src, job); err != nil {
					fail("decode", fmt.Errorf("page %d: %w", job.pageID, err))
				}
			}
		}()
	}

	var walkErr error
	if footer.Tree.Levels >= 1 {
		walkErr = walkIndexTree(src, srcSize, footer.Tree, footer.Tree.Levels, footer.TopIndexOffset, 0, footer.UncompressedSize, jobs)
	} else {
		jobs <- pageJob{
			pageID:        0,
			gzStart:       0,
			gzStop:        tailStop,
			logicalStart:  0,
			logicalLength: int(footer.UncompressedSize),
		}
	}
	close(jobs)
	wg.Wait()

	if walkErr != nil {
		failErrs = append(failErrs, &StageError{Stage: "walk", Err: walkErr})
	}
	if len(failErrs) > 0 {
		return &PipelineError{Stages: failErrs}
	}
	return nil
}

func firstExtensionOffsetOf(src io.ReaderAt, srcSize int64, footer Footer) (int64, error) {
	if footer.ExtensionsTailOffset < 0 {
		return -1, nil
	}
	offset := footer.ExtensionsTailOffset
	first := offset
	for offset >= 0 {
		ext, err := readExtension(src, offset, srcSize)
		if err != nil {
			return -1, err
		}
		first = offset
		offset = ext.PrevOffset
	}
	return first, nil
}

// walkIndexTree recursively descends the index tower starting at
// indexOffset (a level-indexLevel index member), emitting one pageJob per
// leaf entry once it reaches level 1. positionBits accumulates the page id
// across levels the same way descend does in reader.go, shifted left by the
// index size exponent at each level down.
func walkIndexTree(src io.ReaderAt, srcSize int64, tree TreeSpec, indexLevel int, indexOffset int64, positionBits int64, totalUncompressed int64, jobs chan<- pageJob) error {
	payload, err := readMetadataPayload(src, indexOffset, srcSize)
	if err != nil {
		return err
	}
	count := len(payload) / 8
	if indexLevel > 1 {
		for i := 0; i < count; i++ {
			childOffset := beInt64(payload[i*8 : i*8+8])
			if err := walkIndexTree(src, srcSize, tree, indexLevel-1, childOffset, positionBits<<uint(tree.I)|int64(i), totalUncompressed, jobs); err != nil {
				return err
			}
		}
		return nil
	}
	for i := 0; i < count; i++ {
		pageID := positionBits<<uint(tree.I) | int64(i)
		pageOffset := beInt64(payload[i*8 : i*8+8])
		gzStop := indexOffset
		if i+1 < count {
			gzStop = beInt64(payload[(i+1)*8 : (i+1)*8+8])
		}
		logicalStart := pageID << uint(tree.P)
		logicalEnd := logicalStart + tree.PageSize()
		if logicalEnd > totalUncompressed {
			logicalEnd = totalUncompressed
		}
		jobs <- pageJob{
			pageID:        pageID,
			gzStart:       pageOffset,
			gzStop:        gzStop,
			logicalStart:  logicalStart,
			logicalLength: int(logicalEnd - logicalStart),
		}
	}
	return nil
}

func decodeAndWritePage(dst io.WriterAt, src io.ReaderAt, job pageJob) error {
	gz, err := gzip.NewReader(io.NewSectionReader(src, job.gzStart, job.gzStop-job.gzStart))
	if err != nil {
		return fmt.Errorf("%w: opening page %d: %v", ErrFormat, job.pageID, err)
	}
	defer gz.Close()

	buf := make([]byte, job.logicalLength)
	if _, err := io.ReadFull(gz, buf); err != nil {
		return fmt.Errorf("%w: inflating page %d: %v", ErrIntegrity, job.pageID, err)
	}
	if _, err := dst.WriteAt(buf, job.logicalStart); err != nil {
		return err
	}
	return nil
}
