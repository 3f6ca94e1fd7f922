package ragzip

import (
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
)

// Every gzip member this package hand-writes (metadata members, the
// footer) uses the same fixed 10-byte header: magic, CM=8 (deflate), FLG
// with only FEXTRA set, a zero MTIME (no modification time is meaningful
// for a synthetic, content-less member), XFL=0, OS=255 ("unknown"), exactly
// the same defaults compress/gzip.Writer falls back to for a header with no
// Name/Comment/ModTime set — see gzip.Writer.Write's lazy header encode.
const (
	gzipMagic1   = 0x1f
	gzipMagic2   = 0x8b
	gzipCM       = 8
	gzipFlagExtra = 0x04
	gzipOSUnknown = 255
)

// emptyDeflateBlock is the raw deflate bytes produced by compressing zero
// input bytes with raw deflate (no zlib wrapper) at any compression level
// from 1 to 9: a single final block using the fixed Huffman code that holds
// only the end-of-block symbol. Level 0 (no compression) encodes the same
// empty input as a stored block instead, so these bytes are not what every
// level produces. Verified against Python's zlib.compressobj(level,
// DEFLATED, -15).
var emptyDeflateBlock = []byte{0x03, 0x00}

// metadataMemberOverhead is the fixed byte cost of a hand-written metadata
// member around its RA payload: 10 (header) + 2 (XLEN) + 4 (subfield
// si1/si2/sflen) + 2 (empty deflate block) + 4 (CRC32) + 4 (ISIZE) = 26.
const metadataMemberOverhead = 26

// raPayloadOffset is the fixed distance from the start of any metadata
// member (index member or footer) to the start of its RA payload: 10
// (header) + 2 (XLEN) + 4 (subfield si1/si2/sflen) = 16. Cacheless-direct
// reads rely on this being constant regardless of payload length, which
// holds because every hand-written member carries exactly one subfield.
const raPayloadOffset = 16

// footerPayloadSize is the RA payload size of the footer member: four int32
// fields are not used, instead version(4) + treespec(4) + uncompressedSize(8)
// + topIndexOffset(8) + extensionsTailOffset(8) = 32 content bytes, padded
// with 6 zero bytes so the whole member lands on FooterSize (64) exactly.
const footerPayloadSize = FooterSize - metadataMemberOverhead

// writeMetadataMember hand-encodes one empty-content gzip member carrying a
// single RA extra subfield with the given payload, and returns the number
// of bytes written.
func writeMetadataMember(w io.Writer, payload []byte) (int64, error) {
	if len(payload) > 0xffff-4 {
		return 0, fmt.Errorf("%w: metadata payload %d bytes too large for one extra subfield", ErrCapacity, len(payload))
	}
	var buf [16]byte
	buf[0], buf[1], buf[2], buf[3] = gzipMagic1, gzipMagic2, gzipCM, gzipFlagExtra
	// buf[4:8] MTIME stays zero.
	buf[8] = 0 // XFL
	buf[9] = gzipOSUnknown
	xlen := 4 + len(payload)
	binary.LittleEndian.PutUint16(buf[10:12], uint16(xlen))
	buf[12], buf[13] = raSubFieldID1, raSubFieldID2
	binary.LittleEndian.PutUint16(buf[14:16], uint16(len(payload)))

	n, err := w.Write(buf[:])
	if err != nil {
		return int64(n), err
	}
	total := int64(n)
	if len(payload) > 0 {
		pn, err := w.Write(payload)
		total += int64(pn)
		if err != nil {
			return total, err
		}
	}
	dn, err := w.Write(emptyDeflateBlock)
	total += int64(dn)
	if err != nil {
		return total, err
	}
	var trailer [8]byte
	// CRC32 and ISIZE of zero-length content are both zero.
	tn, err := w.Write(trailer[:])
	total += int64(tn)
	return total, err
}

// memberSize returns the total on-disk size of a metadata member carrying
// the given RA payload.
func memberSize(payloadLen int) int64 {
	return metadataMemberOverhead + int64(payloadLen)
}

// readMetadataPayload reads a metadata member's RA payload directly, using
// compress/gzip only to parse and validate the header (it need not read the
// member's — always empty — body).
func readMetadataPayload(src io.ReaderAt, offset, srcSize int64) ([]byte, error) {
	gz, err := gzip.NewReader(io.NewSectionReader(src, offset, srcSize-offset))
	if err != nil {
		return nil, fmt.Errorf("%w: reading metadata member at offset %d: %v", ErrFormat, offset, err)
	}
	payload, err := raPayload(gz.Header.Extra)
	if err != nil {
		if fe, ok := err.(*FormatError); ok {
			fe.Offset = offset
			return nil, fe
		}
		return nil, fmt.Errorf("%w (offset %d): %v", ErrFormat, offset, err)
	}
	return payload, nil
}

// readRawSlot reads one 8-byte big-endian offset directly out of a metadata
// member without any gzip parsing at all — the cacheless-direct index mode.
func readRawSlot(src io.ReaderAt, memberOffset int64, slot int) (int64, error) {
	var buf [8]byte
	at := memberOffset + raPayloadOffset + int64(slot)*8
	if _, err := src.ReadAt(buf[:], at); err != nil {
		return 0, fmt.Errorf("%w: reading index slot at offset %d: %v", ErrFormat, at, err)
	}
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}

// encodeFooterPayload serializes a Footer into its fixed 38-byte RA payload.
func encodeFooterPayload(f Footer) []byte {
	buf := make([]byte, footerPayloadSize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(f.Version))
	binary.BigEndian.PutUint32(buf[4:8], uint32(f.Tree.Pack()))
	binary.BigEndian.PutUint64(buf[8:16], uint64(f.UncompressedSize))
	binary.BigEndian.PutUint64(buf[16:24], uint64(f.TopIndexOffset))
	binary.BigEndian.PutUint64(buf[24:32], uint64(f.ExtensionsTailOffset))
	// buf[32:38] stays zero padding.
	return buf
}

// decodeFooterPayload parses a footer RA payload back into a Footer,
// validating version and tree shape.
func decodeFooterPayload(payload []byte) (Footer, error) {
	if len(payload) != footerPayloadSize {
		return Footer{}, fmt.Errorf("%w: footer payload is %d bytes, want %d", ErrFormat, len(payload), footerPayloadSize)
	}
	f := Footer{
		Version:              int32(binary.BigEndian.Uint32(payload[0:4])),
		Tree:                 UnpackTreeSpec(int32(binary.BigEndian.Uint32(payload[4:8]))),
		UncompressedSize:      int64(binary.BigEndian.Uint64(payload[8:16])),
		TopIndexOffset:        int64(binary.BigEndian.Uint64(payload[16:24])),
		ExtensionsTailOffset:  int64(binary.BigEndian.Uint64(payload[24:32])),
	}
	if f.Version != Version {
		return Footer{}, fmt.Errorf("%w: unsupported footer version 0x%08x", ErrFormat, uint32(f.Version))
	}
	if err := f.Tree.validate(); err != nil {
		return Footer{}, err
	}
	if f.UncompressedSize < 0 || f.UncompressedSize >= MaxUncompressedSize {
		return Footer{}, fmt.Errorf("%w: uncompressed size %d out of range", ErrFormat, f.UncompressedSize)
	}
	return f, nil
}

// writeFooter appends the footer member to w.
func writeFooter(w io.Writer, f Footer) (int64, error) {
	return writeMetadataMember(w, encodeFooterPayload(f))
}

// readFooter reads the trailing footer member, which always occupies the
// final FooterSize bytes of the file.
func readFooter(src io.ReaderAt, srcSize int64) (Footer, error) {
	if srcSize < FooterSize {
		return Footer{}, fmt.Errorf("%w: file is %d bytes, too short for a footer", ErrFormat, srcSize)
	}
	payload, err := readMetadataPayload(src, srcSize-FooterSize, srcSize)
	if err != nil {
		return Footer{}, err
	}
	return decodeFooterPayload(payload)
}

// Probe reads only the footer of a file and reports what it describes,
// without touching the page tree at all — the cheap, non-destructive "what
// is this file" check, made exact by the fixed trailer every ragzip file
// carries.
func Probe(src io.ReaderAt, size int64) (Footer, error) {
	return readFooter(src, size)
}

// extension wire format: prevOffset(8, big-endian) + flags(1) + id(4,
// big-endian) + data. Always written as the RA payload of its own metadata
// member.
func encodeExtensionPayload(e Extension) []byte {
	buf := make([]byte, 13+len(e.Data))
	binary.BigEndian.PutUint64(buf[0:8], uint64(e.PrevOffset))
	buf[8] = e.Flags
	binary.BigEndian.PutUint32(buf[9:13], uint32(e.ID))
	copy(buf[13:], e.Data)
	return buf
}

func decodeExtensionPayload(payload []byte) (Extension, error) {
	if len(payload) < 13 {
		return Extension{}, fmt.Errorf("%w: extension payload is %d bytes, want at least 13", ErrFormat, len(payload))
	}
	return Extension{
		PrevOffset: int64(binary.BigEndian.Uint64(payload[0:8])),
		Flags:      payload[8],
		ID:         int32(binary.BigEndian.Uint32(payload[9:13])),
		Data:       append([]byte(nil), payload[13:]...),
	}, nil
}

// writeExtension appends one extension member to w.
func writeExtension(w io.Writer, e Extension) (int64, error) {
	return writeMetadataMember(w, encodeExtensionPayload(e))
}

// readExtension reads the extension member at offset.
func readExtension(src io.ReaderAt, offset, srcSize int64) (Extension, error) {
	payload, err := readMetadataPayload(src, offset, srcSize)
	if err != nil {
		return Extension{}, err
	}
	return decodeExtensionPayload(payload)
}

// openPageReader opens a standard gzip reader positioned at a page (or any
// ordinary, non-empty gzip member) start offset. Left with Multistream at
// its default (true): since ragzip's index members are themselves valid,
// zero-content gzip members, reading forward through one transparently
// contributes nothing to the decompressed stream and decoding continues
// into whatever follows — exactly the concatenated-gzip transparency
// property the whole format relies on.
func openPageReader(src io.ReaderAt, offset, srcSize int64) (*gzip.Reader, error) {
	return gzip.NewReader(io.NewSectionReader(src, offset, srcSize-offset))
}

// countWriter wraps an io.Writer to report the number of bytes written
// through it so far, tracking a position alongside a stream that doesn't
// expose one itself.
type countWriter struct {
	w   io.Writer
	pos int64
}

func (c *countWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.pos += int64(n)
	return n, err
}

