package marshal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wclap-bridge/wclap-bridge-go/internal/abi"
	"github.com/wclap-bridge/wclap-bridge-go/internal/arena"
)

func TestAudioBufferRoundTripFloat32Channels(t *testing.T) {
	for _, w := range []abi.Width{abi.Width32, abi.Width64} {
		tr := New(w, "", "")
		caller := newFakeCaller()
		a := arena.New(caller)
		scope := a.OpenScope()
		ctx := context.Background()

		native := abi.AudioBuffer{
			Data32:       [][]float32{{0.1, 0.2, 0.3}, {-0.1, -0.2, -0.3}},
			ChannelCount: 2,
			Latency:      16,
			ConstantMask: 0,
		}

		ptr, err := tr.WriteAudioBuffer(ctx, scope, native)
		require.NoError(t, err)
		scope.Commit()

		got, err := tr.ReadAudioBuffer(caller, ptr, 3)
		require.NoError(t, err)
		assert.Equal(t, native.Data32, got.Data32)
		assert.Equal(t, native.ChannelCount, got.ChannelCount)
		assert.Equal(t, native.Latency, got.Latency)
	}
}

func TestAudioBufferRoundTripFloat64Channels(t *testing.T) {
	tr := New(abi.Width64, "", "")
	caller := newFakeCaller()
	a := arena.New(caller)
	scope := a.OpenScope()
	ctx := context.Background()

	native := abi.AudioBuffer{
		Data64:       [][]float64{{1.5, -2.5}},
		ChannelCount: 1,
	}

	ptr, err := tr.WriteAudioBuffer(ctx, scope, native)
	require.NoError(t, err)
	scope.Commit()

	got, err := tr.ReadAudioBuffer(caller, ptr, 2)
	require.NoError(t, err)
	assert.Equal(t, native.Data64, got.Data64)
}

func TestAudioBufferNullPointerYieldsEmptyBuffer(t *testing.T) {
	tr := New(abi.Width32, "", "")
	caller := newFakeCaller()
	got, err := tr.ReadAudioBuffer(caller, 0, 10)
	require.NoError(t, err)
	assert.Zero(t, got.ChannelCount)
	assert.Nil(t, got.Data32)
}

func TestAudioBufferOutputClippingAppliesPostProcess(t *testing.T) {
	buf := abi.AudioBuffer{Data32: [][]float32{{200, 0.5}}}
	buf.ClipOutputs()
	assert.Equal(t, float32(0), buf.Data32[0][0])
	assert.Equal(t, float32(0.5), buf.Data32[0][1])
}
