package abi

// EventType is the CLAP event header tag. It is the discriminant the
// Marshaller switches on when translating an event struct in either
// direction; values outside [0,12] are unknown and always translate to
// "drop" (spec §4.E, §9 — no open-ended reflection).
type EventType uint16

const (
	EventNoteOn           EventType = 0
	EventNoteOff          EventType = 1
	EventNoteChoke        EventType = 2
	EventNoteEnd          EventType = 3
	EventNoteExpression   EventType = 4
	EventParamValue       EventType = 5
	EventParamMod         EventType = 6
	EventParamGestureBegin EventType = 7
	EventParamGestureEnd  EventType = 8
	EventTransport        EventType = 9
	EventMIDI             EventType = 10
	EventMIDISysex        EventType = 11
	EventMIDI2            EventType = 12
)

// EventSpaceCore is the reserved event space id for all core event types.
const EventSpaceCore uint16 = 0

// Known reports whether t is one of the 13 recognized event types.
func (t EventType) Known() bool { return t <= EventMIDI2 }

// EventHeader is the fixed-size prefix of every event, bitwise-identical
// in both the native and sandbox layouts.
type EventHeader struct {
	Size     uint32
	Time     uint32 // sample offset within the process() block
	SpaceID  uint16
	Type     EventType
	Flags    uint32
}

// NoteEvent covers NOTE_ON, NOTE_OFF, NOTE_CHOKE, NOTE_END — bitwise copy.
type NoteEvent struct {
	Header     EventHeader
	NoteID     int32
	PortIndex  int16
	Channel    int16
	Key        int16
	Velocity   float64
}

// NoteExpressionEvent carries a per-note modulation value — bitwise copy.
type NoteExpressionEvent struct {
	Header        EventHeader
	ExpressionID  int32
	NoteID        int32
	PortIndex     int16
	Channel       int16
	Key           int16
	Value         float64
}

// ParamGestureEvent marks the start/end of a host-driven parameter
// gesture — bitwise copy.
type ParamGestureEvent struct {
	Header  EventHeader
	ParamID uint32
}

// ParamValueEvent and ParamModEvent share a layout (spec §4.E: "translate
// identically... only the semantic name of one field differs"); Cookie is
// an opaque host-side pointer width-cast across the boundary.
type ParamValueEvent struct {
	Header    EventHeader
	ParamID   uint32
	Cookie    Cookie
	NoteID    int32
	PortIndex int16
	Channel   int16
	Key       int16
	Value     float64
}

// ParamModEvent is field-identical to ParamValueEvent; Value there is the
// absolute value, here it is the modulation amount.
type ParamModEvent = ParamValueEvent

// TransportEvent carries host transport state — bitwise copy.
type TransportEvent struct {
	Header             EventHeader
	Flags              uint32
	SongPosBeats       int64
	SongPosSeconds     int64
	Tempo              float64
	TempoIncrement     float64
	LoopStartBeats     int64
	LoopEndBeats       int64
	LoopStartSeconds   int64
	LoopEndSeconds     int64
	BarStart           int64
	BarNumber          int32
	TimeSigNumerator   int16
	TimeSigDenominator int16
}

// MIDIEvent is a 3-byte MIDI 1.0 message on a given port — bitwise copy.
type MIDIEvent struct {
	Header    EventHeader
	PortIndex uint16
	Data      [3]byte
}

// MIDI2Event is a 4-uint32 MIDI 2.0 universal packet on a given port —
// bitwise copy.
type MIDI2Event struct {
	Header    EventHeader
	PortIndex uint16
	Data      [4]uint32
}

// SysexEvent carries a pointer+size buffer capped at SysexCap bytes.
type SysexEvent struct {
	Header    EventHeader
	PortIndex int16
	Buffer    []byte // native-side only; sandbox side is ptr+size
}

// Cookie is an opaque host-side pointer the sandbox must preserve but
// never dereference (spec glossary). The native side stores the full
// host pointer; the sandbox side stores a sandbox-word integer. Cast is
// a pure width truncation/extension, valid only because host pointer
// size is invariantly >= sandbox pointer size.
type Cookie uint64
