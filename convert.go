package ragzip

import (
	"compress/gzip"
	"io"
)

// ConvertFromGzip reads an ordinary (single-member or already-concatenated)
// gzip stream from r and re-encodes its decompressed content as a ragzip
// container written to w, using the requested page/index tree shape. The
// source's compression level is inferred from its first member's XFL byte,
// so a recompressed file costs about the same space as the original.
func ConvertFromGzip(w io.Writer, r io.ReadSeeker, pageSizeExponent, indexSizeExponent int) error {
	var head [10]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return err
	}
	level := gzip.DefaultCompression
	switch head[8] {
	case 0x02:
		level = gzip.BestCompression
	case 0x04:
		level = gzip.BestSpeed
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return err
	}

	gz, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gz.Close()

	rw, err := NewWriter(w, pageSizeExponent, indexSizeExponent, WithCompressionLevel(level))
	if err != nil {
		return err
	}
	if _, err := io.Copy(rw, gz); err != nil {
		return err
	}
	return rw.Close()
}
