package ragzip

import (
	"bytes"
	"io"
	"math/rand"
	"os"
	"testing"
)

func encodeBytes(t *testing.T, data []byte, pageSizeExponent, indexSizeExponent int) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := NewWriter(&buf, pageSizeExponent, indexSizeExponent)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func decodeAll(t *testing.T, encoded []byte) []byte {
	t.Helper()
	r, err := NewReader(bytes.NewReader(encoded), int64(len(encoded)))
	if err != nil {
		t.Fatal(err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	return got
}

func TestWriterBoundaryScenarios(t *testing.T) {
	const P, I = 10, 5

	t.Run("empty file", func(t *testing.T) {
		encoded := encodeBytes(t, nil, P, I)
		if len(encoded) != FooterSize {
			t.Errorf("empty ragzip file is %d bytes, want exactly %d", len(encoded), FooterSize)
		}
		footer, err := Probe(bytes.NewReader(encoded), int64(len(encoded)))
		if err != nil {
			t.Fatal(err)
		}
		if footer.UncompressedSize != 0 || footer.Tree.Levels != 0 {
			t.Errorf("empty file footer = %+v, want UncompressedSize=0 Levels=0", footer)
		}
	})

	t.Run("one short page", func(t *testing.T) {
		src := make([]byte, 1000)
		rand.New(rand.NewSource(42)).Read(src)
		encoded := encodeBytes(t, src, P, I)
		footer, err := Probe(bytes.NewReader(encoded), int64(len(encoded)))
		if err != nil {
			t.Fatal(err)
		}
		if footer.Tree.Levels != 0 || footer.TopIndexOffset != 0 {
			t.Errorf("single-page footer = %+v, want Levels=0 TopIndexOffset=0", footer)
		}
		r, err := NewReader(bytes.NewReader(encoded), int64(len(encoded)))
		if err != nil {
			t.Fatal(err)
		}
		if err := r.Seek(500); err != nil {
			t.Fatal(err)
		}
		got, err := io.ReadAll(r)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, src[500:]) {
			t.Error("reading from position 500 did not return the expected tail")
		}
	})

	t.Run("two pages", func(t *testing.T) {
		src := make([]byte, 1025)
		rand.New(rand.NewSource(7)).Read(src)
		encoded := encodeBytes(t, src, P, I)
		footer, err := Probe(bytes.NewReader(encoded), int64(len(encoded)))
		if err != nil {
			t.Fatal(err)
		}
		if footer.Tree.Levels != 1 {
			t.Errorf("two-page file has Levels=%d, want 1", footer.Tree.Levels)
		}
		if got := decodeAll(t, encoded); !bytes.Equal(got, src) {
			t.Error("two-page round trip mismatch")
		}
	})

	t.Run("full level-1", func(t *testing.T) {
		src := make([]byte, 0x8000)
		rand.New(rand.NewSource(9)).Read(src)
		encoded := encodeBytes(t, src, P, I)
		footer, err := Probe(bytes.NewReader(encoded), int64(len(encoded)))
		if err != nil {
			t.Fatal(err)
		}
		if footer.Tree.Levels != 1 {
			t.Errorf("full level-1 file has Levels=%d, want 1", footer.Tree.Levels)
		}
		if got := decodeAll(t, encoded); !bytes.Equal(got, src) {
			t.Error("full level-1 round trip mismatch")
		}
	})

	t.Run("crosses level-2", func(t *testing.T) {
		src := make([]byte, 0x8001)
		rand.New(rand.NewSource(11)).Read(src)
		encoded := encodeBytes(t, src, P, I)
		footer, err := Probe(bytes.NewReader(encoded), int64(len(encoded)))
		if err != nil {
			t.Fatal(err)
		}
		if footer.Tree.Levels != 2 {
			t.Errorf("level-2 file has Levels=%d, want 2", footer.Tree.Levels)
		}
		if got := decodeAll(t, encoded); !bytes.Equal(got, src) {
			t.Error("level-2 round trip mismatch")
		}
	})
}

func TestWriterRoundTripProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(1234))
	shapes := []TreeSpec{{P: 9, I: 1}, {P: 10, I: 5}, {P: 13, I: 3}}
	for _, shape := range shapes {
		for _, size := range []int{0, 1, 100, 1 << shape.P, (1 << shape.P) + 1, 5000} {
			src := make([]byte, size)
			rng.Read(src)
			encoded := encodeBytes(t, src, shape.P, shape.I)
			got := decodeAll(t, encoded)
			if !bytes.Equal(got, src) {
				t.Errorf("round trip mismatch for P=%d I=%d size=%d", shape.P, shape.I, size)
			}
		}
	}
}

func TestWriterExtensionsOrderingAndIsSpec(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, 10, 5)
	if err != nil {
		t.Fatal(err)
	}
	e1, _ := NewExtension(0x0a, 1001, []byte("my extension 1001"))
	e2, _ := NewExtension(0x0b, 1002, []byte("my extension 1002"))
	e3 := newSpecExtension(3, []byte("my extension 1003"))
	for _, e := range []Extension{e1, e2, e3} {
		if err := w.AppendExtension(e); err != nil {
			t.Fatal(err)
		}
	}
	src := make([]byte, 1000)
	rand.New(rand.NewSource(3)).Read(src)
	if _, err := w.Write(src); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	exts := r.Extensions()
	if len(exts) != 3 {
		t.Fatalf("got %d extensions, want 3", len(exts))
	}
	if exts[0].ID != 1001 || exts[1].ID != 1002 || exts[2].ID != 3 {
		t.Errorf("extensions not returned in first-added order: %+v", exts)
	}
	for i, want := range []bool{false, false, true} {
		if exts[i].IsSpec() != want {
			t.Errorf("extension %d IsSpec() = %v, want %v", i, exts[i].IsSpec(), want)
		}
	}
}

func TestWriterRandomSeekAgainstSourceBytes(t *testing.T) {
	src := make([]byte, 200000)
	rand.New(rand.NewSource(99)).Read(src)
	encoded := encodeBytes(t, src, 12, 4)

	type mark struct {
		pos int64
		sum []byte
	}
	r, err := NewReader(bytes.NewReader(encoded), int64(len(encoded)))
	if err != nil {
		t.Fatal(err)
	}
	var marks []mark
	rng := rand.New(rand.NewSource(5))
	pos := int64(0)
	for pos < int64(len(src))-64 {
		skip := rng.Int63n(5000) + 1
		pos += skip
		if pos+64 > int64(len(src)) {
			break
		}
		marks = append(marks, mark{pos: pos, sum: append([]byte(nil), src[pos:pos+64]...)})
	}

	perm := rng.Perm(len(marks))
	for _, idx := range perm {
		m := marks[idx]
		if err := r.Seek(m.pos); err != nil {
			t.Fatal(err)
		}
		got := make([]byte, 64)
		if _, err := io.ReadFull(r, got); err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, m.sum) {
			t.Errorf("mismatch at position %d", m.pos)
		}
	}
}

func TestWriterResume(t *testing.T) {
	tmp, err := os.CreateTemp("", "ragzip-resume-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	// part1 is an exact multiple of the 1024-byte page size, so the resumed
	// writer's first new page starts on a page-aligned offset and every
	// page after it lines up with pageID arithmetic exactly.
	part1 := make([]byte, 4096)
	rand.New(rand.NewSource(21)).Read(part1)
	part2 := make([]byte, 3000)
	rand.New(rand.NewSource(22)).Read(part2)

	w1, err := NewSeekableWriter(tmp, 10, 4)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w1.Write(part1); err != nil {
		t.Fatal(err)
	}
	if err := w1.Close(); err != nil {
		t.Fatal(err)
	}

	w2, err := NewSeekableWriter(tmp, 10, 4)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w2.Write(part2); err != nil {
		t.Fatal(err)
	}
	if err := w2.Close(); err != nil {
		t.Fatal(err)
	}

	info, err := tmp.Stat()
	if err != nil {
		t.Fatal(err)
	}
	r, err := NewReader(tmp, info.Size())
	if err != nil {
		t.Fatal(err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	want := append(append([]byte(nil), part1...), part2...)
	if !bytes.Equal(got, want) {
		t.Error("resumed write did not preserve both parts' content")
	}

	// Sequential ReadAll decodes through gzip's multistream transparency and
	// never touches the index tree, so it can't catch a page indexed under
	// the wrong offset. Seek/ReadAt does exercise the tree, at positions
	// that land in the two full pages filled only after the resume.
	for _, pos := range []int64{int64(len(part1)) + 500, int64(len(part1)) + 1524} {
		if err := r.Seek(pos); err != nil {
			t.Fatalf("seek to %d: %v", pos, err)
		}
		gotByte := make([]byte, 1)
		if _, err := io.ReadFull(r, gotByte); err != nil {
			t.Fatalf("read at %d: %v", pos, err)
		}
		if gotByte[0] != want[pos] {
			t.Errorf("random-access byte at %d (post-resume page) = %d, want %d", pos, gotByte[0], want[pos])
		}
	}
}

func TestWriterResumeEmptyRoundTrip(t *testing.T) {
	tmp, err := os.CreateTemp("", "ragzip-resume-empty-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	w, err := NewSeekableWriter(tmp, 10, 4)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	info, err := tmp.Stat()
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != FooterSize {
		t.Errorf("closing a freshly opened seekable writer with no writes produced %d bytes, want exactly %d", info.Size(), FooterSize)
	}
}
