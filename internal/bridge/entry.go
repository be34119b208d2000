package bridge

import (
	"encoding/binary"
	"fmt"

	"github.com/wclap-bridge/wclap-bridge-go/internal/abi"
	"github.com/wclap-bridge/wclap-bridge-go/internal/marshal"
)

// EntryRecord mirrors the sandbox memory struct clap_entry exports a
// global pointer to (spec §6): an inline version triple followed by
// three function-table indices, in the field order the public CLAP
// plugin ABI declares them (clap_version_t, then init, deinit,
// get_factory) — the one piece of on-the-wire struct shape spec.md
// pins down explicitly, everything after it is this bridge's own
// layout (see factory.go, plugin.go, process.go).
type EntryRecord struct {
	Version       abi.Version
	InitIdx       uint64
	DeinitIdx     uint64
	GetFactoryIdx uint64
}

// entryVersionBytes is the fixed size of the inline version triple
// (3 x uint32), the same regardless of sandbox pointer width.
const entryVersionBytes = 12

func readEntryRecord(r marshal.MemoryReader, tr marshal.Translator, ptr abi.Ptr) (EntryRecord, error) {
	verBuf, err := r.ReadMemory(ptr, entryVersionBytes)
	if err != nil {
		return EntryRecord{}, fmt.Errorf("bridge: reading entry version: %w", err)
	}
	ws := tr.Width.Size()
	base := ptr.Add(entryVersionBytes)

	initIdx, err := tr.ReadWord(r, base)
	if err != nil {
		return EntryRecord{}, fmt.Errorf("bridge: reading entry init index: %w", err)
	}
	deinitIdx, err := tr.ReadWord(r, base.Add(ws))
	if err != nil {
		return EntryRecord{}, fmt.Errorf("bridge: reading entry deinit index: %w", err)
	}
	getFactoryIdx, err := tr.ReadWord(r, base.Add(2*ws))
	if err != nil {
		return EntryRecord{}, fmt.Errorf("bridge: reading entry get_factory index: %w", err)
	}

	return EntryRecord{
		Version: abi.Version{
			Major:    binary.LittleEndian.Uint32(verBuf[0:4]),
			Minor:    binary.LittleEndian.Uint32(verBuf[4:8]),
			Revision: binary.LittleEndian.Uint32(verBuf[8:12]),
		},
		InitIdx:       initIdx,
		DeinitIdx:     deinitIdx,
		GetFactoryIdx: getFactoryIdx,
	}, nil
}
