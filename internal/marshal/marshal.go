// Package marshal implements the Marshaller of spec §4.E — the heart
// of the bridge: translating every ABI struct between sandbox memory
// and native Go values, classified into the nine field classes spec.md
// §4.E names (primitive scalar, cookie, string, pointer array, inline
// char array, nested struct, audio buffer, event, function pointer).
//
// Grounded on original_source/source/wclapN/wclap-translation.hxx for
// per-field translation rules, expressed here as functions parameterized
// by abi.Width rather than branching on width per field (spec §9).
package marshal

import (
	"fmt"

	"github.com/wclap-bridge/wclap-bridge-go/internal/abi"
)

// MemoryReader is the minimal read surface a Translator needs from a
// live Instance. Kept separate from arena.Caller so reading alone does
// not require a Malloc-capable caller.
type MemoryReader interface {
	ReadMemory(p abi.Ptr, length uint32) ([]byte, error)
}

// Translator holds the per-Module configuration the Marshaller needs:
// the sandbox's pointer width (selected once at Instance construction,
// never branched on per field) and the descriptor namespacing config.
type Translator struct {
	Width      abi.Width
	IDPrefix   string
	NameSuffix string
}

// New creates a Translator for a bundle of the given width using the
// supplied descriptor namespacing.
func New(width abi.Width, idPrefix, nameSuffix string) Translator {
	return Translator{Width: width, IDPrefix: idPrefix, NameSuffix: nameSuffix}
}

// readWord reads one sandbox-word value (class 1 primitive scalar /
// class 2 cookie) at the translator's width, width-extended to 64 bits.
func (t Translator) readWord(b []byte) (uint64, error) {
	if uint32(len(b)) < t.Width.Size() {
		return 0, fmt.Errorf("marshal: short read for %s word", t.Width)
	}
	switch t.Width {
	case abi.Width32:
		return uint64(le32(b)), nil
	case abi.Width64:
		return le64(b), nil
	default:
		return 0, fmt.Errorf("marshal: unknown width %d", t.Width)
	}
}

// readWordAt reads a sandbox word of the translator's width directly
// out of guest memory at ptr.
func (t Translator) readWordAt(r MemoryReader, ptr abi.Ptr) (uint64, error) {
	b, err := r.ReadMemory(ptr, t.Width.Size())
	if err != nil {
		return 0, err
	}
	return t.readWord(b)
}

// writeWord encodes v as a sandbox word of the translator's width.
func (t Translator) writeWord(v uint64) []byte {
	buf := make([]byte, t.Width.Size())
	switch t.Width {
	case abi.Width32:
		putLE32(buf, uint32(v))
	case abi.Width64:
		putLE64(buf, v)
	}
	return buf
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func le64(b []byte) uint64 {
	return uint64(le32(b)) | uint64(le32(b[4:]))<<32
}

func putLE32(buf []byte, v uint32) {
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v >> 16)
	buf[3] = byte(v >> 24)
}

func putLE64(buf []byte, v uint64) {
	putLE32(buf, uint32(v))
	putLE32(buf[4:], uint32(v>>32))
}

// ReadWord reads one sandbox word directly out of guest memory at ptr,
// at the translator's width, zero-extended to 64 bits. Exposed for
// callers outside this package (the bridge) that walk ABI structs
// consisting of bare pointers and function-table indices — the entry
// record, factory, plugin and host-proxy vtables — without needing a
// typed per-field helper.
func (t Translator) ReadWord(r MemoryReader, ptr abi.Ptr) (uint64, error) {
	return t.readWordAt(r, ptr)
}

// PutWord encodes v as a sandbox word of the translator's width directly
// into buf at off, for callers assembling a struct's raw bytes in native
// memory before a single CopyAcross (rather than one WriteMemory call
// per field).
func (t Translator) PutWord(buf []byte, off uint32, v uint64) {
	word := t.writeWord(v)
	copy(buf[off:], word)
}

// CastCookieToSandbox performs class 2's width-cast: the native side
// holds the full host pointer; the sandbox side only ever sees the low
// w.Size() bytes. Per spec this is an invariant (host pointer width >=
// sandbox pointer width), so truncation here is never lossy in
// practice; a cookie whose high bits don't survive truncation indicates
// a caller bug, not a case the Marshaller needs to guard against.
func CastCookieToSandbox(c abi.Cookie, w abi.Width) uint64 {
	if w == abi.Width32 {
		return uint64(uint32(c))
	}
	return uint64(c)
}

// CastCookieFromSandbox reverses CastCookieToSandbox: a sandbox-word
// integer is zero-extended back into a full Cookie.
func CastCookieFromSandbox(v uint64, w abi.Width) abi.Cookie {
	if w == abi.Width32 {
		return abi.Cookie(uint32(v))
	}
	return abi.Cookie(v)
}
