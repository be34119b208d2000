package arena

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wclap-bridge/wclap-bridge-go/internal/abi"
)

// fakeCaller models enough of Instance to exercise Arena without wazero:
// a linear byte slice standing in for sandbox memory, with Malloc
// bumping a separate watermark.
type fakeCaller struct {
	mem      []byte
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
	return f.mem[p : p+abi.Ptr(length)], nil
}

func TestScopeCopyAcrossAndCommit(t *testing.T) {
	caller := newFakeCaller()
	a := New(caller)

	scope := a.OpenScope()
	ptr, err := scope.CopyAcross(context.Background(), []byte("hello"))
	require.NoError(t, err)
	scope.Commit()

	got, err := caller.ReadMemory(ptr, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestScopeDropRevertsAllocations(t *testing.T) {
	caller := newFakeCaller()
	a := New(caller)

	outer := a.OpenScope()
	_, err := outer.CopyAcross(context.Background(), []byte("outer-data"))
	require.NoError(t, err)

	inner := a.OpenScope()
	_, err = inner.CopyAcross(context.Background(), []byte("inner-data-that-is-dropped"))
	require.NoError(t, err)
	inner.Drop()

	// After dropping the inner scope, a fresh allocation should reuse
	// the exact position the inner scope consumed.
	ptr, err := outer.CopyAcross(context.Background(), []byte("reused"))
	require.NoError(t, err)
	got, err := caller.ReadMemory(ptr, 6)
	require.NoError(t, err)
	assert.Equal(t, "reused", string(got))

	outer.Commit()
}

func TestDropCommittedScopePanics(t *testing.T) {
	caller := newFakeCaller()
	a := New(caller)
	scope := a.OpenScope()
	scope.Commit()
	assert.Panics(t, func() { scope.Drop() })
}

func TestWriteStringTruncatesAtBound(t *testing.T) {
	caller := newFakeCaller()
	a := New(caller)
	scope := a.OpenScope()

	ptr, err := scope.WriteString(context.Background(), "this string is much longer than the bound allows", 10)
	require.NoError(t, err)
	scope.Commit()

	got, err := caller.ReadMemory(ptr, 10)
	require.NoError(t, err)
	assert.Equal(t, byte(0), got[9], "must be NUL-terminated at the bound")
	assert.Len(t, got, 10)
}

func TestPoolRecyclesResetArenas(t *testing.T) {
	caller := newFakeCaller()
	pool := NewPool(caller)

	a := pool.Get()
	scope := a.OpenScope()
	_, err := scope.CopyAcross(context.Background(), []byte("x"))
	require.NoError(t, err)
	scope.Drop()

	assert.True(t, a.AtBase())
	pool.Put(a)

	a2 := pool.Get()
	assert.Same(t, a, a2, "pool must recycle the reset arena rather than allocate a new one")
}

func TestPoolPutPanicsOnNonResetArena(t *testing.T) {
	caller := newFakeCaller()
	pool := NewPool(caller)
	a := pool.Get()
	scope := a.OpenScope()
	_, err := scope.CopyAcross(context.Background(), []byte("x"))
	require.NoError(t, err)
	scope.Commit()

	assert.Panics(t, func() { pool.Put(a) })
}
