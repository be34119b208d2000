package marshal

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wclap-bridge/wclap-bridge-go/internal/abi"
	"github.com/wclap-bridge/wclap-bridge-go/internal/arena"
)

// fakeCaller mirrors internal/arena's test double: a linear byte slice
// standing in for sandbox memory.
type fakeCaller struct {
	mem       []byte
	watermark uint32
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{mem: make([]byte, 0)}
}

func (f *fakeCaller) Malloc(ctx context.Context, size uint32) (abi.Ptr, error) {
	ptr := f.watermark
	f.watermark += size
	if uint32(len(f.mem)) < f.watermark {
		grown := make([]byte, f.watermark)
		copy(grown, f.mem)
		f.mem = grown
	}
	return abi.Ptr(ptr), nil
}

func (f *fakeCaller) WriteMemory(p abi.Ptr, data []byte) error {
	copy(f.mem[p:], data)
	return nil
}

func (f *fakeCaller) ReadMemory(p abi.Ptr, length uint32) ([]byte, error) {
	if uint32(len(f.mem)) < uint32(p)+length {
		return nil, fmt.Errorf("fakeCaller: read out of bounds")
	}
	return f.mem[p : p+abi.Ptr(length)], nil
}

func TestCookieWidthCastRoundTrip32(t *testing.T) {
	c := abi.Cookie(0xDEADBEEFCAFE)
	v := CastCookieToSandbox(c, abi.Width32)
	assert.Equal(t, uint64(0xBEEFCAFE), v)
	assert.Equal(t, abi.Cookie(0xBEEFCAFE), CastCookieFromSandbox(v, abi.Width32))
}

func TestCookieWidthCastRoundTrip64(t *testing.T) {
	c := abi.Cookie(0xDEADBEEFCAFE)
	v := CastCookieToSandbox(c, abi.Width64)
	assert.Equal(t, c, CastCookieFromSandbox(v, abi.Width64))
}

func TestDescriptorRoundTrip(t *testing.T) {
	for _, w := range []abi.Width{abi.Width32, abi.Width64} {
		tr := New(w, "org.wclap-bridge.", " (WCLAP)")
		caller := newFakeCaller()
		a := arena.New(caller)
		scope := a.OpenScope()
		ctx := context.Background()

		native := abi.Descriptor{
			ID:       "com.example.gain",
			Name:     "Gain",
			Vendor:   "Example",
			URL:      "https://example.com",
			Version:  "1.0.0",
			Features: []string{"audio-effect", "mono"},
		}

		ptr, err := tr.WriteDescriptor(ctx, scope, abi.Descriptor{
			ID: tr.IDPrefix + native.ID, Name: native.Name + tr.NameSuffix,
			Vendor: native.Vendor, URL: native.URL, Version: native.Version,
			Features: native.Features,
		})
		require.NoError(t, err)
		scope.Commit()

		got, err := tr.ReadDescriptor(caller, ptr)
		require.NoError(t, err)

		assert.Equal(t, tr.IDPrefix+native.ID, got.ID)
		assert.Equal(t, native.Name+tr.NameSuffix, got.Name)
		assert.Equal(t, native.Vendor, got.Vendor)
		assert.Equal(t, native.Features, got.Features)
	}
}

func TestReadCStringNullInYieldsNullOut(t *testing.T) {
	tr := New(abi.Width32, "", "")
	caller := newFakeCaller()
	s, ok, err := tr.ReadCString(caller, 0, 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, s)
}

func TestWriteCStringBoundTruncation(t *testing.T) {
	tr := New(abi.Width32, "", "")
	caller := newFakeCaller()
	a := arena.New(caller)
	scope := a.OpenScope()
	ctx := context.Background()

	ptr, err := tr.WriteCString(ctx, scope, "a very long string indeed", true, 5)
	require.NoError(t, err)
	scope.Commit()

	got, ok, err := tr.ReadCString(caller, ptr, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a ve", got)
	assert.Len(t, got, 4)
}

func TestStringArrayRoundTrip(t *testing.T) {
	tr := New(abi.Width64, "", "")
	caller := newFakeCaller()
	a := arena.New(caller)
	scope := a.OpenScope()
	ctx := context.Background()

	values := []string{"audio-effect", "mono", "stereo"}
	ptr, err := tr.WriteStringArray(ctx, scope, values, 0)
	require.NoError(t, err)
	scope.Commit()

	got, err := tr.ReadStringArray(caller, ptr, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, values, got)
}

func TestStringArrayBoundedWalk(t *testing.T) {
	tr := New(abi.Width32, "", "")
	caller := newFakeCaller()
	a := arena.New(caller)
	scope := a.OpenScope()
	ctx := context.Background()

	values := []string{"a", "b", "c", "d", "e"}
	ptr, err := tr.WriteStringArray(ctx, scope, values, 0)
	require.NoError(t, err)
	scope.Commit()

	got, err := tr.ReadStringArray(caller, ptr, 3, 0)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}
