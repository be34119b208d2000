package bridge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetExtensionCachesAndLatencyReads(t *testing.T) {
	ctx := context.Background()
	sbox := newFakeSandbox()
	p := newTestPlugin(t, sbox, &recordingHost{})

	const extPtr = 100
	const latencyGetIdx = 42
	calls := 0
	sbox.indexFuncs[idxGetExtension] = func(args []uint64) []uint64 {
		calls++
		return []uint64{extPtr}
	}
	sbox.indexFuncs[latencyGetIdx] = func(args []uint64) []uint64 { return []uint64{uint64(256)} }

	ws := p.b.Translator.Width.Size()
	word := make([]byte, ws)
	p.b.Translator.PutWord(word, 0, latencyGetIdx)
	require.NoError(t, sbox.WriteMemory(extPtr, word))

	got, err := p.Latency(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(256), got)
	assert.Equal(t, 1, calls)

	// a second call must hit the cache, not re-invoke get_extension.
	_, err = p.Latency(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestGetExtensionUnsupportedNameErrors(t *testing.T) {
	ctx := context.Background()
	sbox := newFakeSandbox()
	p := newTestPlugin(t, sbox, &recordingHost{})
	_, err := p.GetExtension(ctx, "clap.not-a-real-extension")
	assert.Error(t, err)
}

func TestGetExtensionMissingReturnsNil(t *testing.T) {
	ctx := context.Background()
	sbox := newFakeSandbox()
	p := newTestPlugin(t, sbox, &recordingHost{})
	// idxGetExtension (from newTestPlugin) returns a null pointer.
	ext, err := p.GetExtension(ctx, ExtLatency)
	require.NoError(t, err)
	assert.Nil(t, ext)
}
