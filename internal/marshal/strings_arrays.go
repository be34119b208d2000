package marshal

import (
	"bytes"
	"context"
	"fmt"

	"github.com/wclap-bridge/wclap-bridge-go/internal/abi"
	"github.com/wclap-bridge/wclap-bridge-go/internal/arena"
)

// ReadCString walks a NUL-terminated string out of sandbox memory
// (class 3), bounded to maxBytes including the terminator. maxBytes of
// 0 uses abi.DefaultStringBound. A null pointer yields "" with ok=false
// (spec §4.E: "null-in yields null-out").
func (t Translator) ReadCString(r MemoryReader, ptr abi.Ptr, maxBytes uint32) (string, bool, error) {
	if ptr.IsNull() {
		return "", false, nil
	}
	if maxBytes == 0 {
		maxBytes = abi.DefaultStringBound
	}

	const chunk = 256
	var out []byte
	for uint32(len(out)) < maxBytes {
		remaining := maxBytes - uint32(len(out))
		want := uint32(chunk)
		if want > remaining {
			want = remaining
		}
		b, err := r.ReadMemory(ptr.Add(uint32(len(out))), want)
		if err != nil {
			return "", false, fmt.Errorf("marshal: reading string at %#x: %w", uint64(ptr), err)
		}
		if i := bytes.IndexByte(b, 0); i >= 0 {
			out = append(out, b[:i]...)
			return string(out), true, nil
		}
		out = append(out, b...)
	}
	return string(out[:maxBytes]), true, nil
}

// WriteCString writes str, NUL-terminated, into a fresh arena
// allocation bounded to maxBytes (0 uses abi.DefaultStringBound). A
// false ok writes the sandbox null pointer instead (the "null-in
// yields null-out" inverse).
func (t Translator) WriteCString(ctx context.Context, s *arena.Scope, str string, ok bool, maxBytes uint32) (abi.Ptr, error) {
	if !ok {
		return 0, nil
	}
	return s.WriteString(ctx, str, maxBytes)
}

// ReadPointerArray walks a NUL-sentinel array of sandbox pointers
// (class 4, e.g. a feature list), bounded to maxElems (0 uses
// abi.DefaultArrayBound). The walk stops at the first zero-word
// sentinel or at the bound, whichever comes first.
func (t Translator) ReadPointerArray(r MemoryReader, ptr abi.Ptr, maxElems int) ([]abi.Ptr, error) {
	if ptr.IsNull() {
		return nil, nil
	}
	if maxElems == 0 {
		maxElems = abi.DefaultArrayBound
	}

	var out []abi.Ptr
	for i := 0; i < maxElems; i++ {
		elemPtr := ptr.Add(uint32(i) * t.Width.Size())
		v, err := t.readWordAt(r, elemPtr)
		if err != nil {
			return nil, fmt.Errorf("marshal: reading pointer array element %d: %w", i, err)
		}
		if v == 0 {
			return out, nil
		}
		out = append(out, abi.Ptr(v))
	}
	return out, nil
}

// ReadStringArray walks a NUL-sentinel array of C-string pointers
// (e.g. a feature list) into native strings, composing
// ReadPointerArray with ReadCString.
func (t Translator) ReadStringArray(r MemoryReader, ptr abi.Ptr, maxElems int, maxStringBytes uint32) ([]string, error) {
	ptrs, err := t.ReadPointerArray(r, ptr, maxElems)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ptrs))
	for _, p := range ptrs {
		s, ok, err := t.ReadCString(r, p, maxStringBytes)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// WriteStringArray writes a NUL-sentinel array of C strings (class 4):
// one arena allocation per string plus a trailing array of sandbox
// pointers terminated by a null word.
func (t Translator) WriteStringArray(ctx context.Context, s *arena.Scope, values []string, maxStringBytes uint32) (abi.Ptr, error) {
	ptrs := make([]abi.Ptr, 0, len(values)+1)
	for _, v := range values {
		p, err := s.WriteString(ctx, v, maxStringBytes)
		if err != nil {
			return 0, err
		}
		ptrs = append(ptrs, p)
	}
	ptrs = append(ptrs, 0)

	buf := make([]byte, uint32(len(ptrs))*t.Width.Size())
	for i, p := range ptrs {
		copy(buf[uint32(i)*t.Width.Size():], t.writeWord(uint64(p)))
	}
	return s.CopyAcross(ctx, buf)
}
