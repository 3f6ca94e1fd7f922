package ragzip

import "fmt"

// Version is the only footer version this package writes and the only one
// it accepts on read.
const Version int32 = 0x00010000

// FooterSize is the fixed, on-disk size of the trailing footer gzip member,
// header through trailer. Its RA payload is always exactly
// footerPayloadSize bytes, so this never varies between files.
const FooterSize = 64

// MinPageSizeExponent and MaxPageSizeExponent bound P, the base-2 log of the
// uncompressed page size.
const (
	MinPageSizeExponent = 9
	MaxPageSizeExponent = 30
)

// MinIndexSizeExponent and MaxIndexSizeExponent bound I, the base-2 log of
// the number of entries held by one index member.
const (
	MinIndexSizeExponent = 1
	MaxIndexSizeExponent = 12
)

// MaxLevels is the largest number of cascading index levels a tree can have.
const MaxLevels = 53

// MaxUncompressedSize is the exclusive upper bound on the logical stream
// size ragzip can index: a size must stay strictly below 2^62 so the
// footer's signed int64 field never
// collides with the sign bit under any arithmetic this package performs.
const MaxUncompressedSize = int64(1) << 62

// Extension limits, mirroring the footer's singly-linked extension chain.
const (
	MaxExtensionCount   = 50
	MaxExtensionPayload = 0x8000 // 32 KiB
)

// TreeSpec packs the page/index shape of a ragzip file the same way the
// footer does: reserved(8) | levels(8) | I(8) | P(8), most significant byte
// first.
type TreeSpec struct {
	Levels int // number of cascading index levels, 0 means a single unindexed page
	I      int // index size exponent
	P      int // page size exponent
}

// PageSize is 2^P, the number of uncompressed bytes held by one page.
func (t TreeSpec) PageSize() int64 { return int64(1) << uint(t.P) }

// IndexSize is 2^I, the number of offset slots held by one index member.
func (t TreeSpec) IndexSize() int { return 1 << uint(t.I) }

// Pack encodes the tree shape into the footer's packed int32 layout.
func (t TreeSpec) Pack() int32 {
	return int32(t.Levels)<<16 | int32(t.I)<<8 | int32(t.P)
}

// UnpackTreeSpec decodes a packed treespec int32 back into its fields.
func UnpackTreeSpec(packed int32) TreeSpec {
	return TreeSpec{
		Levels: int((packed >> 16) & 0xff),
		I:      int((packed >> 8) & 0xff),
		P:      int(packed & 0xff),
	}
}

func (t TreeSpec) validate() error {
	if t.P < MinPageSizeExponent || t.P > MaxPageSizeExponent {
		return fmt.Errorf("%w: page size exponent %d out of range [%d,%d]", ErrConfiguration, t.P, MinPageSizeExponent, MaxPageSizeExponent)
	}
	if t.I < MinIndexSizeExponent || t.I > MaxIndexSizeExponent {
		return fmt.Errorf("%w: index size exponent %d out of range [%d,%d]", ErrConfiguration, t.I, MinIndexSizeExponent, MaxIndexSizeExponent)
	}
	if t.Levels < 0 || t.Levels > MaxLevels {
		return fmt.Errorf("%w: %d index levels out of range [0,%d]", ErrFormat, t.Levels, MaxLevels)
	}
	return nil
}

// Footer is the decoded form of the fixed 64-byte trailer every ragzip file
// ends with.
type Footer struct {
	Version              int32
	Tree                 TreeSpec
	UncompressedSize      int64
	TopIndexOffset        int64
	ExtensionsTailOffset  int64 // -1 when there are no extensions
}
