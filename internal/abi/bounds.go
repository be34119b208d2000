package abi

// Bounds are the default limits the Marshaller enforces on variable-length
// data crossing the sandbox boundary (spec §4.E). A misbehaving bundle
// cannot force the bridge to walk or copy an unbounded region.
const (
	// DefaultStringBound is the default maximum length, in bytes
	// including the NUL terminator, of a translated C string.
	DefaultStringBound = 2048

	// DefaultArrayBound is the default maximum element count walked
	// when translating a NUL-sentinel pointer array (e.g. feature lists).
	DefaultArrayBound = 1000

	// SysexCap is the maximum byte length of a sysex event payload.
	SysexCap = 1024

	// StreamChunkBytes bounds a single state stream read/write
	// round-trip so arena consumption during save/load is predictable.
	StreamChunkBytes = 1024

	// OutputClipThreshold is the soft limiter applied to process()
	// output samples: any sample whose magnitude is not strictly below
	// this value (including NaN and Inf) is replaced with 0.
	OutputClipThreshold = 100

	// ArenaBlockBytes is the fixed size of one arena's native and
	// sandbox bump-allocation blocks.
	ArenaBlockBytes = 64 * 1024

	// EpochTickMillis is the interval at which Engine's epoch ticker
	// advances the monotonic epoch used for deadline enforcement.
	EpochTickMillis = 10
)

// DefaultIDPrefix and DefaultNameSuffix namespace translated plugin
// descriptors at the host boundary (spec §4.E, §8). They are overridable
// via BridgeConfig (SPEC_FULL §3).
const (
	DefaultIDPrefix   = "org.wclap-bridge."
	DefaultNameSuffix = " (WCLAP)"
)
