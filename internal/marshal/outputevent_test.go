package marshal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wclap-bridge/wclap-bridge-go/internal/abi"
	"github.com/wclap-bridge/wclap-bridge-go/internal/arena"
)

type fakeSink struct {
	events []any
}

func (s *fakeSink) PushEvent(e any) { s.events = append(s.events, e) }

func TestPushOutputEventFixedSize(t *testing.T) {
	tr := New(abi.Width32, "", "")
	caller := newFakeCaller()
	a := arena.New(caller)
	scope := a.OpenScope()
	ctx := context.Background()

	e := abi.NoteEvent{Header: abi.EventHeader{Type: abi.EventNoteOn}, NoteID: 1, Key: 60}
	buf, err := EncodeEvent(e)
	require.NoError(t, err)
	ptr, err := scope.CopyAcross(ctx, buf)
	require.NoError(t, err)
	scope.Commit()

	sink := &fakeSink{}
	require.NoError(t, tr.PushOutputEvent(caller, ptr, sink))
	require.Len(t, sink.events, 1)
	got, ok := sink.events[0].(abi.NoteEvent)
	require.True(t, ok)
	assert.Equal(t, e.NoteID, got.NoteID)
	assert.Equal(t, e.Key, got.Key)
}

func TestPushOutputEventUntrustedSizeIgnored(t *testing.T) {
	tr := New(abi.Width32, "", "")
	caller := newFakeCaller()
	a := arena.New(caller)
	scope := a.OpenScope()
	ctx := context.Background()

	e := abi.NoteEvent{Header: abi.EventHeader{Type: abi.EventNoteOn, Size: 0xFFFFFFFF}, NoteID: 9}
	buf, err := EncodeEvent(e)
	require.NoError(t, err)
	// Overwrite the encoded size back to something absurd to simulate a
	// misbehaving guest; PushOutputEvent must not trust it.
	buf[0], buf[1], buf[2], buf[3] = 0xFF, 0xFF, 0xFF, 0xFF
	ptr, err := scope.CopyAcross(ctx, buf)
	require.NoError(t, err)
	scope.Commit()

	sink := &fakeSink{}
	require.NoError(t, tr.PushOutputEvent(caller, ptr, sink))
	require.Len(t, sink.events, 1)
}

func TestPushOutputEventUnknownTypeDropped(t *testing.T) {
	tr := New(abi.Width32, "", "")
	caller := newFakeCaller()
	a := arena.New(caller)
	scope := a.OpenScope()
	ctx := context.Background()

	e := abi.NoteEvent{Header: abi.EventHeader{Type: 250}}
	buf, err := EncodeEvent(e)
	require.NoError(t, err)
	ptr, err := scope.CopyAcross(ctx, buf)
	require.NoError(t, err)
	scope.Commit()

	sink := &fakeSink{}
	require.NoError(t, tr.PushOutputEvent(caller, ptr, sink))
	assert.Empty(t, sink.events, "unknown event types must be dropped, not forwarded")
}

func TestPushOutputEventSysex(t *testing.T) {
	tr := New(abi.Width64, "", "")
	caller := newFakeCaller()
	a := arena.New(caller)
	scope := a.OpenScope()
	ctx := context.Background()

	e := abi.SysexEvent{Header: abi.EventHeader{Type: abi.EventMIDISysex}, Buffer: []byte{0xF0, 0x7E, 0xF7}}
	buf, err := EncodeEvent(e)
	require.NoError(t, err)
	ptr, err := scope.CopyAcross(ctx, buf)
	require.NoError(t, err)
	scope.Commit()

	sink := &fakeSink{}
	require.NoError(t, tr.PushOutputEvent(caller, ptr, sink))
	require.Len(t, sink.events, 1)
	got, ok := sink.events[0].(abi.SysexEvent)
	require.True(t, ok)
	assert.Equal(t, e.Buffer, got.Buffer)
}
