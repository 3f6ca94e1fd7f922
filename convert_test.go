package ragzip

import (
	"bytes"
	"compress/gzip"
	"io"
	"math/rand"
	"testing"
)

func TestConvertFromGzip(t *testing.T) {
	src := make([]byte, 300*1024)
	rand.New(rand.NewSource(1)).Read(src)

	var plain bytes.Buffer
	gz, err := gzip.NewWriterLevel(&plain, gzip.BestSpeed)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := gz.Write(src); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := ConvertFromGzip(&out, bytes.NewReader(plain.Bytes()), 13, 4); err != nil {
		t.Fatal(err)
	}

	outBytes := out.Bytes()
	r, err := NewReader(bytes.NewReader(outBytes), int64(len(outBytes)))
	if err != nil {
		t.Fatal(err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, src) {
		t.Fatal("round trip through ConvertFromGzip did not preserve content")
	}
}
