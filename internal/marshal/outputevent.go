package marshal

import (
	"encoding/binary"
	"fmt"

	"github.com/wclap-bridge/wclap-bridge-go/internal/abi"
)

func eventSize[T any](v T) int { return binary.Size(v) }

// EventSink receives native events translated out of a sandbox's
// output event list. Implemented by the bridge's per-process output
// queue.
type EventSink interface {
	PushEvent(e any)
}

// PushOutputEvent reads one event off the sandbox's output-event list
// and forwards it to sink (spec §4.E "Output-event push"). The sandbox
// emits an event pointer whose size field the bridge does not trust:
// the header is read first, the type dispatches which fixed-size
// native variant to decode, and only headerSize plus that variant's
// own known size is ever read — an oversized or malicious Size value
// in the sandbox struct cannot make the bridge over-read guest memory.
// Unknown event types are dropped, not forwarded and not an error.
func (t Translator) PushOutputEvent(r MemoryReader, ptr abi.Ptr, sink EventSink) error {
	if ptr.IsNull() {
		return fmt.Errorf("marshal: null output event pointer")
	}

	header, err := r.ReadMemory(ptr, headerSize)
	if err != nil {
		return fmt.Errorf("marshal: reading output event header: %w", err)
	}
	evType := abi.EventType(uint16(header[11])<<8 | uint16(header[10]))
	if !evType.Known() {
		return nil // drop
	}

	size, ok := fixedEventWireSize(evType)
	if !ok {
		// Variable-length (sysex): read the untrusted-but-bounded
		// fixed prefix, then the declared length capped at SysexCap.
		return t.pushSysexOutputEvent(r, ptr, sink)
	}

	buf, err := r.ReadMemory(ptr, size)
	if err != nil {
		return fmt.Errorf("marshal: reading output event body: %w", err)
	}
	ev, err := DecodeEvent(buf)
	if err != nil {
		return fmt.Errorf("marshal: decoding output event: %w", err)
	}
	sink.PushEvent(ev)
	return nil
}

func (t Translator) pushSysexOutputEvent(r MemoryReader, ptr abi.Ptr, sink EventSink) error {
	const sysexPrefix = headerSize + 2 + 2 + 4
	prefix, err := r.ReadMemory(ptr, sysexPrefix)
	if err != nil {
		return fmt.Errorf("marshal: reading sysex output event prefix: %w", err)
	}
	n := binary.LittleEndian.Uint32(prefix[headerSize+2+2:])
	if n > abi.SysexCap {
		n = abi.SysexCap
	}
	full, err := r.ReadMemory(ptr, sysexPrefix+n)
	if err != nil {
		return fmt.Errorf("marshal: reading sysex output event payload: %w", err)
	}
	ev, err := decodeSysex(full)
	if err != nil {
		return fmt.Errorf("marshal: decoding sysex output event: %w", err)
	}
	sink.PushEvent(ev)
	return nil
}

// fixedEventWireSize returns the exact wire size of a fixed-layout
// event's type, or ok=false for the variable-length sysex type.
func fixedEventWireSize(t abi.EventType) (uint32, bool) {
	switch t {
	case abi.EventNoteOn, abi.EventNoteOff, abi.EventNoteChoke, abi.EventNoteEnd:
		return uint32(eventSize(abi.NoteEvent{})), true
	case abi.EventNoteExpression:
		return uint32(eventSize(abi.NoteExpressionEvent{})), true
	case abi.EventParamGestureBegin, abi.EventParamGestureEnd:
		return uint32(eventSize(abi.ParamGestureEvent{})), true
	case abi.EventParamValue, abi.EventParamMod:
		return uint32(eventSize(abi.ParamValueEvent{})), true
	case abi.EventTransport:
		return uint32(eventSize(abi.TransportEvent{})), true
	case abi.EventMIDI:
		return uint32(eventSize(abi.MIDIEvent{})), true
	case abi.EventMIDI2:
		return uint32(eventSize(abi.MIDI2Event{})), true
	default:
		return 0, false
	}
}
