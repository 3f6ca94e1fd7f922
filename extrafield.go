package ragzip

import "encoding/binary"

// subField is one SI1/SI2-tagged chunk of a gzip FEXTRA block, laid out per
// RFC 1952 §2.3.1.1: two subfield-id bytes, a little-endian uint16 length,
// then that many payload bytes.
type subField struct {
	si1, si2 byte
	payload  []byte
}

// raSubFieldID1, raSubFieldID2 mark the one subfield ragzip metadata members
// carry: the bytes 'R', 'A'.
const (
	raSubFieldID1 = 'R'
	raSubFieldID2 = 'A'
)

// parseExtra walks a gzip header's raw FEXTRA bytes (gzip.Header.Extra, as
// compress/gzip already decodes it) into the subfields it contains.
func parseExtra(extra []byte) ([]subField, error) {
	var out []subField
	for len(extra) > 0 {
		if len(extra) < 4 {
			return nil, &FormatError{Msg: "truncated gzip extra subfield header"}
		}
		si1, si2 := extra[0], extra[1]
		sflen := int(binary.LittleEndian.Uint16(extra[2:4]))
		extra = extra[4:]
		if len(extra) < sflen {
			return nil, &FormatError{Msg: "gzip extra subfield length exceeds available bytes"}
		}
		out = append(out, subField{si1: si1, si2: si2, payload: extra[:sflen:sflen]})
		extra = extra[sflen:]
	}
	return out, nil
}

// findSubField returns the first subfield matching the given two-byte id.
func findSubField(fields []subField, si1, si2 byte) (subField, bool) {
	for _, f := range fields {
		if f.si1 == si1 && f.si2 == si2 {
			return f, true
		}
	}
	return subField{}, false
}

// encodeExtra serializes subfields back into gzip FEXTRA bytes.
func encodeExtra(fields []subField) []byte {
	var total int
	for _, f := range fields {
		total += 4 + len(f.payload)
	}
	buf := make([]byte, 0, total)
	for _, f := range fields {
		var hdr [4]byte
		hdr[0], hdr[1] = f.si1, f.si2
		binary.LittleEndian.PutUint16(hdr[2:], uint16(len(f.payload)))
		buf = append(buf, hdr[:]...)
		buf = append(buf, f.payload...)
	}
	return buf
}

// raPayload returns the payload of a metadata member's mandatory RA
// subfield, or a FormatError if it is missing.
func raPayload(extra []byte) ([]byte, error) {
	fields, err := parseExtra(extra)
	if err != nil {
		return nil, err
	}
	sf, ok := findSubField(fields, raSubFieldID1, raSubFieldID2)
	if !ok {
		return nil, &FormatError{Msg: "gzip member is missing the RA extra subfield"}
	}
	return sf.payload, nil
}
