package marshal

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bufHostStream struct {
	buf *bytes.Buffer
}

func (s bufHostStream) Read(p []byte) (int, error)  { return s.buf.Read(p) }
func (s bufHostStream) Write(p []byte) (int, error) { return s.buf.Write(p) }

func TestStreamRelayChunksAtBound(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, 3000)
	host := bufHostStream{buf: bytes.NewBuffer(data)}
	relay := NewStreamRelay(host, 1024)

	var collected []byte
	for {
		chunk, err := relay.PullChunk()
		require.NoError(t, err)
		if len(chunk) == 0 {
			break
		}
		assert.LessOrEqual(t, len(chunk), 1024)
		collected = append(collected, chunk...)
	}
	assert.Equal(t, data, collected)
}

func TestStreamRelayPushChunkTruncatesOversizedWrites(t *testing.T) {
	out := &bytes.Buffer{}
	host := bufHostStream{buf: out}
	relay := NewStreamRelay(host, 16)

	n, err := relay.PushChunk(bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)
	assert.Equal(t, 16, n)
	assert.Len(t, out.Bytes(), 16)
}

func TestStreamRelayDefaultChunkSize(t *testing.T) {
	relay := NewStreamRelay(bufHostStream{buf: &bytes.Buffer{}}, 0)
	assert.Equal(t, defaultStreamChunk, relay.chunkSize)
}
