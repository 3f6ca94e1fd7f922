package ragzip

import (
	"bytes"
	"io"
	"math/rand"
	"testing"
)

func TestReaderCacheModesAgree(t *testing.T) {
	src := make([]byte, 50000)
	rand.New(rand.NewSource(55)).Read(src)
	encoded := encodeBytes(t, src, 10, 4)

	modes := []CacheMode{CacheModeCachelessDirect, CacheModeCachelessLoaded, CacheModeCached}
	positions := []int64{0, 1, 1023, 1024, 1025, 40000, int64(len(src)) - 1}

	for _, mode := range modes {
		r, err := NewReader(bytes.NewReader(encoded), int64(len(encoded)), WithCacheMode(mode), WithCacheSize(2))
		if err != nil {
			t.Fatalf("mode %v: %v", mode, err)
		}
		for _, pos := range positions {
			if err := r.Seek(pos); err != nil {
				t.Fatalf("mode %v seek %d: %v", mode, pos, err)
			}
			got := make([]byte, 1)
			if _, err := io.ReadFull(r, got); err != nil {
				t.Fatalf("mode %v read at %d: %v", mode, pos, err)
			}
			if got[0] != src[pos] {
				t.Errorf("mode %v: byte at %d = %d, want %d", mode, pos, got[0], src[pos])
			}
		}
	}
}

func TestReaderReadAtDoesNotDisturbCursor(t *testing.T) {
	src := make([]byte, 20000)
	rand.New(rand.NewSource(66)).Read(src)
	encoded := encodeBytes(t, src, 10, 4)

	r, err := NewReader(bytes.NewReader(encoded), int64(len(encoded)))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Seek(1000); err != nil {
		t.Fatal(err)
	}
	side := make([]byte, 10)
	if _, err := r.ReadAt(side, 15000); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(side, src[15000:15010]) {
		t.Error("ReadAt returned wrong bytes")
	}
	if r.Position() != 1000 {
		t.Errorf("ReadAt moved the sequential cursor to %d, want 1000", r.Position())
	}
	got := make([]byte, 10)
	if _, err := io.ReadFull(r, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, src[1000:1010]) {
		t.Error("sequential read after ReadAt returned wrong bytes")
	}
}

func TestReaderTransfer(t *testing.T) {
	src := make([]byte, 30000)
	rand.New(rand.NewSource(88)).Read(src)
	encoded := encodeBytes(t, src, 10, 4)

	r, err := NewReader(bytes.NewReader(encoded), int64(len(encoded)))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Seek(777); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	n, err := r.Transfer(&out, 2500, 5000)
	if err != nil {
		t.Fatal(err)
	}
	if n != 5000 {
		t.Errorf("Transfer copied %d bytes, want 5000", n)
	}
	if !bytes.Equal(out.Bytes(), src[2500:7500]) {
		t.Error("Transfer returned wrong bytes")
	}
	if r.Position() != 777 {
		t.Errorf("Transfer moved the sequential cursor to %d, want 777", r.Position())
	}

	out.Reset()
	n, err = r.Transfer(&out, int64(len(src))-100, 10000)
	if err != nil {
		t.Fatal(err)
	}
	if n != 100 {
		t.Errorf("Transfer past end of stream copied %d bytes, want clamped to 100", n)
	}
	if !bytes.Equal(out.Bytes(), src[len(src)-100:]) {
		t.Error("Transfer near end of stream returned wrong bytes")
	}
}

func TestReaderIdempotentOpen(t *testing.T) {
	src := make([]byte, 9000)
	rand.New(rand.NewSource(77)).Read(src)
	encoded := encodeBytes(t, src, 10, 4)

	r1, err := NewReader(bytes.NewReader(encoded), int64(len(encoded)))
	if err != nil {
		t.Fatal(err)
	}
	r2, err := NewReader(bytes.NewReader(encoded), int64(len(encoded)))
	if err != nil {
		t.Fatal(err)
	}
	if r1.Footer() != r2.Footer() {
		t.Errorf("repeated opens produced different footers: %+v vs %+v", r1.Footer(), r2.Footer())
	}
	if len(r1.Extensions()) != len(r2.Extensions()) {
		t.Error("repeated opens produced different extension counts")
	}
}
