package bridge

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wclap-bridge/wclap-bridge-go/internal/abi"
	"github.com/wclap-bridge/wclap-bridge-go/internal/cache"
)

// TestScanBundleCacheHit covers spec's cache-hit-without-load scenario:
// ScanBundle must return the cached descriptors without ever calling
// Open when the cache already has a valid entry for the bundle's
// current module.wasm mtime.
func TestScanBundleCacheHit(t *testing.T) {
	dir := t.TempDir()
	wasmPath := filepath.Join(dir, BundleFileName)
	require.NoError(t, os.WriteFile(wasmPath, []byte("not a real module"), 0o644))

	info, err := os.Stat(wasmPath)
	require.NoError(t, err)

	want := []abi.Descriptor{{ID: "org.wclap-bridge.com.example.gain", Name: "Gain (WCLAP)"}}
	c := cache.New()
	c.Put(cache.Entry{Path: dir, ModuleMtime: info.ModTime().Unix(), Descriptors: want})

	got, err := ScanBundle(context.Background(), dir, Config{}, c, nil)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

// TestScanBundleCacheMissStatError covers the case where module.wasm
// cannot even be stat'd: ScanBundle must fail before ever touching the
// cache or opening anything.
func TestScanBundleCacheMissStatError(t *testing.T) {
	dir := t.TempDir()
	c := cache.New()
	_, err := ScanBundle(context.Background(), dir, Config{}, c, nil)
	assert.Error(t, err)
}

func TestHostSlotRegisterResolveUnregister(t *testing.T) {
	b := &Bridge{hostSlots: map[uint32]*Plugin{}}
	p := &Plugin{}

	_, ok := b.resolveHostSlot(5)
	assert.False(t, ok)

	b.registerHostSlot(5, p)
	got, ok := b.resolveHostSlot(5)
	require.True(t, ok)
	assert.Same(t, p, got)

	b.unregisterHostSlot(5)
	_, ok = b.resolveHostSlot(5)
	assert.False(t, ok)
}
