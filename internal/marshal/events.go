package marshal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/wclap-bridge/wclap-bridge-go/internal/abi"
)

// EncodeEvent serializes a native event value into its wire form
// (class 8), recomputing the header's Size field to match the encoded
// length rather than trusting whatever the caller set. Note, note-
// expression, param-gesture, transport, midi, and midi2 events
// translate by bitwise copy; param-value/param-mod share a layout;
// sysex events are handled separately because of their variable-length
// payload.
func EncodeEvent(v any) ([]byte, error) {
	switch e := v.(type) {
	case abi.NoteEvent:
		return encodeFixed(&e.Header, &e)
	case abi.NoteExpressionEvent:
		return encodeFixed(&e.Header, &e)
	case abi.ParamGestureEvent:
		return encodeFixed(&e.Header, &e)
	case abi.ParamValueEvent:
		return encodeFixed(&e.Header, &e)
	case abi.TransportEvent:
		return encodeFixed(&e.Header, &e)
	case abi.MIDIEvent:
		return encodeFixed(&e.Header, &e)
	case abi.MIDI2Event:
		return encodeFixed(&e.Header, &e)
	case abi.SysexEvent:
		return encodeSysex(e)
	default:
		return nil, fmt.Errorf("marshal: unsupported event type %T", v)
	}
}

// encodeFixed recomputes header.Size from the struct's actual wire
// size, then bitwise-encodes the whole struct little-endian. header
// must point into the same struct as e so the recomputed size is
// visible through both.
func encodeFixed[T any](header *abi.EventHeader, e *T) ([]byte, error) {
	header.Size = uint32(binary.Size(*e))
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, *e); err != nil {
		return nil, fmt.Errorf("marshal: encoding event: %w", err)
	}
	return buf.Bytes(), nil
}

// headerSize is EventHeader's wire size: Size+Time (4+4) + SpaceID (2)
// + Type (2) + Flags (4).
const headerSize = 16

// DecodeEvent reads the event header to determine the type, then
// decodes the matching struct. An unrecognized type returns an error
// the caller is expected to treat as "drop this event" (spec §4.E
// "Unknown types are dropped").
func DecodeEvent(buf []byte) (any, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("marshal: event buffer shorter than header")
	}
	t := abi.EventType(binary.LittleEndian.Uint16(buf[10:12]))
	r := bytes.NewReader(buf)

	switch t {
	case abi.EventNoteOn, abi.EventNoteOff, abi.EventNoteChoke, abi.EventNoteEnd:
		var e abi.NoteEvent
		return decodeFixed(r, &e)
	case abi.EventNoteExpression:
		var e abi.NoteExpressionEvent
		return decodeFixed(r, &e)
	case abi.EventParamGestureBegin, abi.EventParamGestureEnd:
		var e abi.ParamGestureEvent
		return decodeFixed(r, &e)
	case abi.EventParamValue, abi.EventParamMod:
		var e abi.ParamValueEvent
		return decodeFixed(r, &e)
	case abi.EventTransport:
		var e abi.TransportEvent
		return decodeFixed(r, &e)
	case abi.EventMIDI:
		var e abi.MIDIEvent
		return decodeFixed(r, &e)
	case abi.EventMIDI2:
		var e abi.MIDI2Event
		return decodeFixed(r, &e)
	case abi.EventMIDISysex:
		return decodeSysex(buf)
	default:
		return nil, fmt.Errorf("marshal: unknown event type %d", t)
	}
}

func decodeFixed[T any](r io.Reader, e *T) (T, error) {
	if err := binary.Read(r, binary.LittleEndian, e); err != nil {
		return *e, fmt.Errorf("marshal: decoding event: %w", err)
	}
	return *e, nil
}

// encodeSysex writes a sysex event's fixed prefix followed by its
// payload, capped at abi.SysexCap bytes (spec §4.E "Sysex events carry
// a pointer+size buffer, capped at 1024 bytes").
func encodeSysex(e abi.SysexEvent) ([]byte, error) {
	if len(e.Buffer) > abi.SysexCap {
		return nil, fmt.Errorf("marshal: sysex payload of %d bytes exceeds cap of %d", len(e.Buffer), abi.SysexCap)
	}
	e.Header.Size = headerSize + 2 + 2 + 4 + uint32(len(e.Buffer))

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, e.Header); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, e.PortIndex); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint16(0)); err != nil { // padding
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(e.Buffer))); err != nil {
		return nil, err
	}
	buf.Write(e.Buffer)
	return buf.Bytes(), nil
}

func decodeSysex(b []byte) (abi.SysexEvent, error) {
	var e abi.SysexEvent
	r := bytes.NewReader(b)
	if err := binary.Read(r, binary.LittleEndian, &e.Header); err != nil {
		return e, err
	}
	if err := binary.Read(r, binary.LittleEndian, &e.PortIndex); err != nil {
		return e, err
	}
	var pad uint16
	if err := binary.Read(r, binary.LittleEndian, &pad); err != nil {
		return e, err
	}
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return e, err
	}
	if n > abi.SysexCap {
		return e, fmt.Errorf("marshal: sysex length %d exceeds cap of %d", n, abi.SysexCap)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return e, fmt.Errorf("marshal: short sysex payload: %w", err)
	}
	e.Buffer = data
	return e, nil
}
