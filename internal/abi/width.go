// Package abi defines the on-the-wire shape of a wclap bundle's sandbox
// memory: pointer widths, struct field offsets, and the bounds the
// Marshaller enforces when copying variable-length data across the
// sandbox boundary. Nothing here touches wazero; this package is the
// stable contract the rest of the bridge is built against, the same
// role the teacher's wireformat package plays for its JSON boundary.
package abi

import "fmt"

// Width is the pointer width of a bundle's sandbox memory, selected once
// when a Module is opened and threaded through every Marshaller call
// instead of being branched on per field.
type Width int

const (
	// Width32 is used by bundles whose clap_entry global is an i32.
	Width32 Width = 4
	// Width64 is used by bundles whose clap_entry global is an i64; a
	// shared memory such a bundle imports must be 64-bit.
	Width64 Width = 8
)

// String implements fmt.Stringer.
func (w Width) String() string {
	switch w {
	case Width32:
		return "wasm32"
	case Width64:
		return "wasm64"
	default:
		return fmt.Sprintf("width(%d)", int(w))
	}
}

// Size returns the size in bytes of a sandbox pointer of this width.
func (w Width) Size() uint32 { return uint32(w) }

// Align returns the alignment in bytes of a sandbox pointer of this width.
func (w Width) Align() uint32 { return uint32(w) }

// Ptr is a sandbox-word pointer: an address inside the bundle's linear
// memory, always stored as a full uint64 regardless of Width so that
// arithmetic never silently truncates; callers convert to/from the
// bundle's native width only at the memory-access boundary.
type Ptr uint64

// IsNull reports whether p is the sandbox null pointer.
func (p Ptr) IsNull() bool { return p == 0 }

// Add returns p offset by n bytes.
func (p Ptr) Add(n uint32) Ptr { return p + Ptr(n) }

// AlignUp rounds p up to the given alignment (which must be a power of two).
func AlignUp(p Ptr, align uint32) Ptr {
	a := Ptr(align)
	if a <= 1 {
		return p
	}
	return (p + a - 1) &^ (a - 1)
}
