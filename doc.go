// Package ragzip implements a random-access, gzip-compatible container
// format for large streams.
//
// # Abstract
//
// A ragzip file is a concatenation of ordinary gzip members — any
// gzip-aware tool can decompress one sequentially and get back the exact
// original stream. What ragzip adds on top is a cascading tree of indexes,
// stored in extra, empty gzip members interleaved with the data, plus a
// fixed 64-byte footer at the end of the file. Together they let a Reader
// jump straight to the gzip member that covers an arbitrary byte offset in
// the decompressed stream, without scanning from the start.
//
// # How to use
//
// Use Writer (or its parallel counterpart, EncodeParallel) to produce a
// ragzip file while streaming data in. Use Reader (or DecodeParallel) to
// read one back, either sequentially or at arbitrary offsets via ReadAt.
// Writer also supports resuming a previous, possibly partial write via
// Resume, at the cost of keeping the last, possibly-partial page as it is
// and starting a fresh one after it.
//
// # Command line tool
//
// This module contains a command line tool called "ragzip":
//
//	$ go install github.com/ddeschenes-1/ragzip/cmd/ragzip@latest
//
// It compresses a file into ragzip form, decompresses one back, or prints
// its footer; compression and decompression can optionally run through the
// parallel pipelines.
//
// # Description of the container
//
// Gzip is a concatenation-friendly format: a compliant decoder keeps reading
// member after member until the underlying stream ends. ragzip exploits that
// the same way multi-member gzip tools do, by flushing and closing a gzip
// member every 2^P decompressed bytes ("pages"), each independently
// decompressible. What ragzip adds is the index tree: every 2^I page
// offsets are grouped into a "level 1" index, stored as the extra field of
// an otherwise-empty gzip member; every 2^I level-1 indexes are grouped into
// a level-2 index the same way, and so on, cascading until a single "top"
// index remains. A 64-byte footer at the end of the file records the tree
// shape and the offset of that top index, so a reader can descend the tree
// in O(levels) steps to reach any page.
package ragzip
