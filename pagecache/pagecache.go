// Package pagecache provides a generic, LRU-bounded read cache over any
// io.ReaderAt, fixed-size-page oriented the same way ragzip's own index
// caches are. It has no knowledge of the ragzip format — it's a standalone
// component any fixed-page source can use, not just ragzip page content.
package pagecache

import (
	"fmt"
	"io"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MinPageSize and MaxPageSize bound the page size a Cache can be configured
// with.
const (
	MinPageSize = 16
	MaxPageSize = 1 << 21
)

// Cache wraps a source io.ReaderAt, serving reads out of a bounded number of
// whole pages kept in an LRU cache, only touching the source when a page
// isn't already resident.
type Cache struct {
	source     io.ReaderAt
	sourceSize int64
	pageSize   int64
	cache      *lru.Cache[int64, []byte]
}

// New builds a Cache over source, whose total readable size is sourceSize,
// caching up to pageCount whole pages of pageSize bytes each.
func New(source io.ReaderAt, sourceSize int64, pageSize int64, pageCount int) (*Cache, error) {
	if pageSize < MinPageSize || pageSize > MaxPageSize {
		return nil, fmt.Errorf("pagecache: page size %d out of range [%d,%d]", pageSize, MinPageSize, MaxPageSize)
	}
	if sourceSize < 0 {
		return nil, fmt.Errorf("pagecache: negative source size %d", sourceSize)
	}
	if pageCount < 1 {
		pageCount = 1
	}
	c, err := lru.New[int64, []byte](pageCount)
	if err != nil {
		return nil, err
	}
	return &Cache{source: source, sourceSize: sourceSize, pageSize: pageSize, cache: c}, nil
}

// Size returns the total readable size of the underlying source.
func (c *Cache) Size() int64 { return c.sourceSize }

func (c *Cache) pageIDFor(position int64) int64 { return position / c.pageSize }

// fetchPage returns the full page covering position, loading and caching it
// from source on a miss.
func (c *Cache) fetchPage(position int64) ([]byte, error) {
	pageID := c.pageIDFor(position)
	if page, ok := c.cache.Get(pageID); ok {
		return page, nil
	}
	start := pageID * c.pageSize
	want := c.pageSize
	if remaining := c.sourceSize - start; remaining < want {
		want = remaining
	}
	buf := make([]byte, want)
	n, err := c.source.ReadAt(buf, start)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("pagecache: reading page at offset %d: %w", start, err)
	}
	if int64(n) != want {
		return nil, fmt.Errorf("pagecache: short read for page at offset %d: got %d want %d", start, n, want)
	}
	c.cache.Add(pageID, buf)
	return buf, nil
}

// ReadAt reads into p starting at off, never reading past a single page
// boundary — callers wanting reads that span pages should loop, the same
// contract the Java original's single-page read(ByteBuffer,long) exposes.
func (c *Cache) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 || off >= c.sourceSize {
		return 0, io.EOF
	}
	page, err := c.fetchPage(off)
	if err != nil {
		return 0, err
	}
	start := int(off % c.pageSize)
	n := len(p)
	if avail := len(page) - start; n > avail {
		n = avail
	}
	copy(p[:n], page[start:start+n])
	return n, nil
}

// WriteTo copies count bytes starting at position to w, spanning as many
// pages as needed.
func (c *Cache) WriteTo(w io.Writer, position, count int64) (int64, error) {
	if count < 0 {
		return 0, nil
	}
	var written int64
	cur := position
	for written < count && cur < c.sourceSize {
		page, err := c.fetchPage(cur)
		if err != nil {
			return written, err
		}
		start := int(cur % c.pageSize)
		want := int64(len(page) - start)
		if left := count - written; want > left {
			want = left
		}
		n, err := w.Write(page[start : start+int(want)])
		written += int64(n)
		if err != nil {
			return written, err
		}
		cur += want
	}
	return written, nil
}
