package ragzip

import (
	"bytes"
	"testing"
)

func TestMetadataMemberRoundTrip(t *testing.T) {
	payload := []byte{0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 2}
	var buf bytes.Buffer
	n, err := writeMetadataMember(&buf, payload)
	if err != nil {
		t.Fatal(err)
	}
	if n != memberSize(len(payload)) {
		t.Errorf("writeMetadataMember wrote %d bytes, want %d", n, memberSize(len(payload)))
	}
	if int64(buf.Len()) != n {
		t.Errorf("buffer holds %d bytes, writeMetadataMember reported %d", buf.Len(), n)
	}

	got, err := readMetadataPayload(bytes.NewReader(buf.Bytes()), 0, int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("round-tripped payload = %v, want %v", got, payload)
	}

	slot0, err := readRawSlot(bytes.NewReader(buf.Bytes()), 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if slot0 != 1 {
		t.Errorf("raw slot 0 = %d, want 1", slot0)
	}
	slot1, err := readRawSlot(bytes.NewReader(buf.Bytes()), 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if slot1 != 2 {
		t.Errorf("raw slot 1 = %d, want 2", slot1)
	}
}

func TestFooterRoundTrip(t *testing.T) {
	f := Footer{
		Version:              Version,
		Tree:                 TreeSpec{Levels: 2, I: 5, P: 10},
		UncompressedSize:      123456,
		TopIndexOffset:        777,
		ExtensionsTailOffset:  -1,
	}
	var buf bytes.Buffer
	n, err := writeFooter(&buf, f)
	if err != nil {
		t.Fatal(err)
	}
	if n != FooterSize {
		t.Errorf("footer member is %d bytes, want exactly %d", n, FooterSize)
	}

	got, err := readFooter(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	if got != f {
		t.Errorf("round-tripped footer = %+v, want %+v", got, f)
	}
}

func TestFooterRejectsWrongVersion(t *testing.T) {
	f := Footer{Version: 0x7fffffff, Tree: TreeSpec{I: 5, P: 10}}
	var buf bytes.Buffer
	if _, err := writeFooter(&buf, f); err != nil {
		t.Fatal(err)
	}
	if _, err := readFooter(bytes.NewReader(buf.Bytes()), int64(buf.Len())); err == nil {
		t.Error("expected readFooter to reject an unsupported version")
	}
}

func TestExtensionMemberRoundTrip(t *testing.T) {
	ext := Extension{Flags: 0x0a, ID: 1001, Data: []byte("my extension 1001"), PrevOffset: -1}
	var buf bytes.Buffer
	if _, err := writeExtension(&buf, ext); err != nil {
		t.Fatal(err)
	}
	got, err := readExtension(bytes.NewReader(buf.Bytes()), 0, int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	if got.Flags != ext.Flags || got.ID != ext.ID || !bytes.Equal(got.Data, ext.Data) || got.PrevOffset != ext.PrevOffset {
		t.Errorf("round-tripped extension = %+v, want %+v", got, ext)
	}
}

func TestProbeReadsFooterOnly(t *testing.T) {
	f := Footer{Version: Version, Tree: TreeSpec{I: 5, P: 10}, UncompressedSize: 42, TopIndexOffset: 0, ExtensionsTailOffset: -1}
	var buf bytes.Buffer
	if _, err := writeFooter(&buf, f); err != nil {
		t.Fatal(err)
	}
	got, err := Probe(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatal(err)
	}
	if got != f {
		t.Errorf("Probe() = %+v, want %+v", got, f)
	}
}
