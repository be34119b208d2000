package module

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wclap-bridge/wclap-bridge-go/internal/abi"
)

// uleb encodes v as unsigned LEB128, the integer encoding used throughout
// the WASM binary format.
func uleb(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			break
		}
	}
	return out
}

func wasmName(s string) []byte {
	return append(uleb(uint64(len(s))), []byte(s)...)
}

func wasmSection(id byte, payload []byte) []byte {
	out := []byte{id}
	out = append(out, uleb(uint64(len(payload)))...)
	return append(out, payload...)
}

func wasmHeader() []byte {
	return []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}
}

// buildModule assembles a minimal binary exercising only the sections
// inspectShape reads: one integer funcType (for malloc), one local
// function using it, one funcref table, one memory (export or import per
// caller), and one local, exported global carrying the clap_entry value.
type moduleSpec struct {
	valType        byte // 0x7F i32 or 0x7E i64 or 0x7D f32, for both malloc and clap_entry
	tableMin       uint64
	tableMax       uint64
	memImported    bool
	memShared      bool
	mem64          bool
	mallocArity    int // params count; 1 is correct
	tableHeadroomOK bool
}

func buildModule(spec moduleSpec) []byte {
	// --- type section: one functype matching spec.valType ---
	params := uleb(uint64(spec.mallocArity))
	for i := 0; i < spec.mallocArity; i++ {
		params = append(params, spec.valType)
	}
	typePayload := append(uleb(1), byte(0x60))
	typePayload = append(typePayload, params...)
	typePayload = append(typePayload, uleb(1)...)
	typePayload = append(typePayload, spec.valType)

	var importPayload []byte
	importCount := 0
	if spec.memImported {
		importCount++
		flags := byte(0)
		if spec.mem64 {
			flags |= 0x04
		}
		if spec.memShared {
			flags |= 0x02 | 0x01 // shared memory must declare a max
		} else {
			flags |= 0x01
		}
		importPayload = append(importPayload, wasmName("env")...)
		importPayload = append(importPayload, wasmName("memory")...)
		importPayload = append(importPayload, byte(2)) // kind=mem
		importPayload = append(importPayload, flags)
		importPayload = append(importPayload, uleb(1)...) // min
		importPayload = append(importPayload, uleb(16)...) // max
	}

	// --- function section: one local func of type 0 (malloc) ---
	funcPayload := append(uleb(1), uleb(0)...)

	// --- table section: one funcref table ---
	tableMax := spec.tableMax
	if spec.tableHeadroomOK && tableMax == 0 {
		tableMax = spec.tableMin + 70000
	}
	tablePayload := append(uleb(1), byte(valFuncref))
	tablePayload = append(tablePayload, byte(0x01)) // hasMax
	tablePayload = append(tablePayload, uleb(spec.tableMin)...)
	tablePayload = append(tablePayload, uleb(tableMax)...)

	// --- memory section (only if not imported) ---
	var memPayload []byte
	if !spec.memImported {
		memPayload = append(uleb(1), byte(0x00))
		memPayload = append(memPayload, uleb(1)...)
	}

	// --- global section: one global carrying clap_entry ---
	globalPayload := append(uleb(1), spec.valType, byte(0x00))
	switch spec.valType {
	case valI32:
		globalPayload = append(globalPayload, byte(0x41))
		globalPayload = append(globalPayload, uleb(0)...)
	case valI64:
		globalPayload = append(globalPayload, byte(0x42))
		globalPayload = append(globalPayload, uleb(0)...)
	default: // f32
		globalPayload = append(globalPayload, byte(0x43))
		globalPayload = append(globalPayload, 0, 0, 0, 0)
	}
	globalPayload = append(globalPayload, byte(0x0B))

	// --- export section ---
	numExports := 3
	if !spec.memImported {
		numExports++
	}
	exportPayload := uleb(uint64(numExports))
	exportPayload = append(exportPayload, wasmName("clap_entry")...)
	exportPayload = append(exportPayload, byte(3), uleb(0)...)
	exportPayload = append(exportPayload, wasmName("malloc")...)
	exportPayload = append(exportPayload, byte(0), uleb(0)...)
	exportPayload = append(exportPayload, wasmName("table")...)
	exportPayload = append(exportPayload, byte(1), uleb(0)...)
	if !spec.memImported {
		exportPayload = append(exportPayload, wasmName("memory")...)
		exportPayload = append(exportPayload, byte(2), uleb(0)...)
	}

	out := wasmHeader()
	out = append(out, wasmSection(1, typePayload)...)
	if importCount > 0 {
		out = append(out, wasmSection(2, importPayload)...)
	}
	out = append(out, wasmSection(3, funcPayload)...)
	out = append(out, wasmSection(4, tablePayload)...)
	if len(memPayload) > 0 {
		out = append(out, wasmSection(5, memPayload)...)
	}
	out = append(out, wasmSection(6, globalPayload)...)
	out = append(out, wasmSection(7, exportPayload)...)
	return out
}

func TestInspectShapeValid32BitOwnMemory(t *testing.T) {
	bytes := buildModule(moduleSpec{
		valType:         valI32,
		tableMin:        0,
		mallocArity:     1,
		tableHeadroomOK: true,
	})

	shape, err := inspectShape(bytes)
	require.NoError(t, err)
	assert.Equal(t, abi.Width32, shape.Width)
	assert.False(t, shape.HasSharedMemory)
	assert.Equal(t, "malloc", shape.MallocName)
	assert.Equal(t, "table", shape.FuncTableName)
}

func TestInspectShapeValid64BitSharedMemory(t *testing.T) {
	bytes := buildModule(moduleSpec{
		valType:         valI64,
		tableMin:        0,
		mallocArity:     1,
		memImported:     true,
		memShared:       true,
		mem64:           true,
		tableHeadroomOK: true,
	})

	shape, err := inspectShape(bytes)
	require.NoError(t, err)
	assert.Equal(t, abi.Width64, shape.Width)
	require.True(t, shape.HasSharedMemory)
	assert.Equal(t, "env", shape.SharedMemoryImport.ModuleName)
	assert.Equal(t, "memory", shape.SharedMemoryImport.ExportName)
}

func TestInspectShapeEntryWrongType(t *testing.T) {
	bytes := buildModule(moduleSpec{
		valType:         valF32,
		tableMin:        0,
		mallocArity:     1,
		tableHeadroomOK: true,
	})
	_, err := inspectShape(bytes)
	assert.EqualError(t, err, "clap_entry must be 32-bit or 64-bit memory address")
}

func TestInspectShapeNonSharedMemoryImport(t *testing.T) {
	bytes := buildModule(moduleSpec{
		valType:         valI32,
		tableMin:        0,
		mallocArity:     1,
		memImported:     true,
		memShared:       false,
		tableHeadroomOK: true,
	})
	_, err := inspectShape(bytes)
	assert.EqualError(t, err, "imports non-shared memory")
}

func TestInspectShapeMallocArityMismatch(t *testing.T) {
	bytes := buildModule(moduleSpec{
		valType:         valI32,
		tableMin:        0,
		mallocArity:     2,
		tableHeadroomOK: true,
	})
	_, err := inspectShape(bytes)
	assert.EqualError(t, err, "malloc() function signature mismatch")
}

func TestInspectShapeFuncTableHeadroomTooSmall(t *testing.T) {
	bytes := buildModule(moduleSpec{
		valType:     valI32,
		tableMin:    0,
		tableMax:    100,
		mallocArity: 1,
	})
	_, err := inspectShape(bytes)
	assert.EqualError(t, err, "function table headroom below 65536 elements")
}
