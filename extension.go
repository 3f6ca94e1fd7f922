package ragzip

import "fmt"

// extensionFlagSpec marks an extension as reserved for this package's own
// use; callers constructing custom extensions may not set it.
const extensionFlagSpec = 0x80

// Extension is one link of the footer's singly-linked extension chain: a
// small, named side payload trailing the main tree. Every gzip-compatible
// decoder still sees extensions as ordinary (empty-content) gzip members;
// only a ragzip-aware reader interprets their RA payload.
type Extension struct {
	Flags byte
	ID    int32
	Data  []byte

	// PrevOffset is the file offset of the previous extension in the
	// chain, or -1 if this is the first one written. Populated by Reader
	// when loading a chain, ignored by Writer when appending (Writer
	// tracks it itself).
	PrevOffset int64
}

// IsSpec reports whether this extension was constructed for ragzip's own
// internal use rather than by a caller.
func (e Extension) IsSpec() bool { return e.Flags&extensionFlagSpec != 0 }

// newSpecExtension builds an extension reserved for this package's own use.
// Unexported: callers never get to set the spec flag bit themselves, the
// same restriction the Java original enforces by keeping its equivalent
// constructor package-private.
func newSpecExtension(id int32, data []byte) Extension {
	return Extension{Flags: extensionFlagSpec, ID: id, Data: data}
}

// NewExtension builds a caller-supplied extension. flags must not set the
// reserved high bit.
func NewExtension(flags byte, id int32, data []byte) (Extension, error) {
	if flags&extensionFlagSpec != 0 {
		return Extension{}, fmt.Errorf("%w: extension flags must not set the reserved bit 0x80", ErrConfiguration)
	}
	if len(data) > MaxExtensionPayload {
		return Extension{}, fmt.Errorf("%w: extension payload %d bytes exceeds %d", ErrCapacity, len(data), MaxExtensionPayload)
	}
	return Extension{Flags: flags, ID: id, Data: data}, nil
}
