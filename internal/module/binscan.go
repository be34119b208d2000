package module

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// wazero's public CompiledModule API exposes exported/imported functions
// and memories, but not globals or tables (spec §4.B needs both: the
// clap_entry global's value type, and the funcref table's min/max). This
// file reads just enough of the WASM binary format ourselves to answer
// those two questions. It is a deliberate, narrow exception to "use a
// pack library": no library in the retrieved set exposes this
// introspection, and wazero's own public surface stops short of it.

const (
	valI32     = 0x7F
	valI64     = 0x7E
	valF32     = 0x7D
	valFuncref = 0x70
)

type funcType struct {
	params  []byte
	results []byte
}

type globalType struct {
	valType byte
	mutable bool
}

type tableType struct {
	elemType byte
	min, max uint32
	hasMax   bool
}

type memType struct {
	min, max        uint32
	hasMax, shared  bool
	is64            bool
}

// exportRef names the kind+index an export entry points at.
type exportRef struct {
	kind  byte // 0 func, 1 table, 2 mem, 3 global
	index uint32
}

type importRef struct {
	module, name string
	kind         byte
	typeIdx      uint32 // kind==func
	table        tableType
	mem          memType
	global       globalType
}

// shape is the fully-resolved index space needed by inspectShape.
type shape struct {
	types         []funcType
	imports       []importRef
	funcTypeIdx   []uint32 // local functions only, indexes into types
	tables        []tableType // local tables only
	mems          []memType   // local memories only
	globals       []globalType // local globals only
	exports       map[string]exportRef
}

func scanModule(wasmBytes []byte) (*shape, error) {
	r := bytes.NewReader(wasmBytes)

	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("module: truncated header: %w", err)
	}
	if string(header[:4]) != "\x00asm" {
		return nil, fmt.Errorf("module: not a WASM binary")
	}

	s := &shape{exports: map[string]exportRef{}}

	for {
		id, err := r.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		size, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, err
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
		pr := bytes.NewReader(payload)

		switch id {
		case 1: // type
			if err := parseTypeSection(pr, s); err != nil {
				return nil, err
			}
		case 2: // import
			if err := parseImportSection(pr, s); err != nil {
				return nil, err
			}
		case 3: // function
			if err := parseFunctionSection(pr, s); err != nil {
				return nil, err
			}
		case 4: // table
			if err := parseTableSection(pr, s); err != nil {
				return nil, err
			}
		case 5: // memory
			if err := parseMemorySection(pr, s); err != nil {
				return nil, err
			}
		case 6: // global
			if err := parseGlobalSection(pr, s); err != nil {
				return nil, err
			}
		case 7: // export
			if err := parseExportSection(pr, s); err != nil {
				return nil, err
			}
		default:
			// uninteresting section (code, data, custom, start, element...)
		}
	}

	return s, nil
}

func readName(r *bytes.Reader) (string, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func parseTypeSection(r *bytes.Reader, s *shape) error {
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return err
	}
	for i := uint64(0); i < count; i++ {
		form, err := r.ReadByte()
		if err != nil {
			return err
		}
		if form != 0x60 {
			return fmt.Errorf("module: unexpected type form 0x%x", form)
		}
		var ft funcType
		np, err := binary.ReadUvarint(r)
		if err != nil {
			return err
		}
		ft.params = make([]byte, np)
		for j := range ft.params {
			b, err := r.ReadByte()
			if err != nil {
				return err
			}
			ft.params[j] = b
		}
		nr, err := binary.ReadUvarint(r)
		if err != nil {
			return err
		}
		ft.results = make([]byte, nr)
		for j := range ft.results {
			b, err := r.ReadByte()
			if err != nil {
				return err
			}
			ft.results[j] = b
		}
		s.types = append(s.types, ft)
	}
	return nil
}

func readLimits(r *bytes.Reader) (min, max uint32, hasMax, shared, is64 bool, err error) {
	flags, err := r.ReadByte()
	if err != nil {
		return
	}
	hasMax = flags&0x01 != 0
	shared = flags&0x02 != 0
	is64 = flags&0x04 != 0
	m, err := binary.ReadUvarint(r)
	if err != nil {
		return
	}
	min = uint32(m)
	if hasMax {
		mx, err2 := binary.ReadUvarint(r)
		if err2 != nil {
			err = err2
			return
		}
		max = uint32(mx)
	}
	return
}

func parseImportSection(r *bytes.Reader, s *shape) error {
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return err
	}
	for i := uint64(0); i < count; i++ {
		mod, err := readName(r)
		if err != nil {
			return err
		}
		name, err := readName(r)
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		ref := importRef{module: mod, name: name, kind: kind}
		switch kind {
		case 0: // func
			idx, err := binary.ReadUvarint(r)
			if err != nil {
				return err
			}
			ref.typeIdx = uint32(idx)
		case 1: // table
			elemType, err := r.ReadByte()
			if err != nil {
				return err
			}
			min, max, hasMax, _, _, err := readLimits(r)
			if err != nil {
				return err
			}
			ref.table = tableType{elemType: elemType, min: min, max: max, hasMax: hasMax}
		case 2: // memory
			min, max, hasMax, shared, is64, err := readLimits(r)
			if err != nil {
				return err
			}
			ref.mem = memType{min: min, max: max, hasMax: hasMax, shared: shared, is64: is64}
		case 3: // global
			vt, err := r.ReadByte()
			if err != nil {
				return err
			}
			mut, err := r.ReadByte()
			if err != nil {
				return err
			}
			ref.global = globalType{valType: vt, mutable: mut != 0}
		default:
			return fmt.Errorf("module: unknown import kind 0x%x", kind)
		}
		s.imports = append(s.imports, ref)
	}
	return nil
}

func parseFunctionSection(r *bytes.Reader, s *shape) error {
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return err
	}
	for i := uint64(0); i < count; i++ {
		idx, err := binary.ReadUvarint(r)
		if err != nil {
			return err
		}
		s.funcTypeIdx = append(s.funcTypeIdx, uint32(idx))
	}
	return nil
}

func parseTableSection(r *bytes.Reader, s *shape) error {
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return err
	}
	for i := uint64(0); i < count; i++ {
		elemType, err := r.ReadByte()
		if err != nil {
			return err
		}
		min, max, hasMax, _, _, err := readLimits(r)
		if err != nil {
			return err
		}
		s.tables = append(s.tables, tableType{elemType: elemType, min: min, max: max, hasMax: hasMax})
	}
	return nil
}

func parseMemorySection(r *bytes.Reader, s *shape) error {
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return err
	}
	for i := uint64(0); i < count; i++ {
		min, max, hasMax, shared, is64, err := readLimits(r)
		if err != nil {
			return err
		}
		s.mems = append(s.mems, memType{min: min, max: max, hasMax: hasMax, shared: shared, is64: is64})
	}
	return nil
}

func skipConstExpr(r *bytes.Reader) error {
	for {
		op, err := r.ReadByte()
		if err != nil {
			return err
		}
		switch op {
		case 0x0B: // end
			return nil
		case 0x41, 0x42, 0x23, 0xD2: // i32.const, i64.const, global.get, ref.func (all LEB128 operand)
			if _, err := binary.ReadUvarint(r); err != nil {
				return err
			}
		case 0x43: // f32.const
			if _, err := r.Seek(4, io.SeekCurrent); err != nil {
				return err
			}
		case 0x44: // f64.const
			if _, err := r.Seek(8, io.SeekCurrent); err != nil {
				return err
			}
		case 0xD0: // ref.null
			if _, err := r.ReadByte(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("module: unsupported const expr opcode 0x%x", op)
		}
	}
}

func parseGlobalSection(r *bytes.Reader, s *shape) error {
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return err
	}
	for i := uint64(0); i < count; i++ {
		vt, err := r.ReadByte()
		if err != nil {
			return err
		}
		mut, err := r.ReadByte()
		if err != nil {
			return err
		}
		if err := skipConstExpr(r); err != nil {
			return err
		}
		s.globals = append(s.globals, globalType{valType: vt, mutable: mut != 0})
	}
	return nil
}

func parseExportSection(r *bytes.Reader, s *shape) error {
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return err
	}
	for i := uint64(0); i < count; i++ {
		name, err := readName(r)
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		idx, err := binary.ReadUvarint(r)
		if err != nil {
			return err
		}
		s.exports[name] = exportRef{kind: kind, index: uint32(idx)}
	}
	return nil
}

// importedCount returns how many imports of the given kind precede the
// module's own locally-defined entities of that kind, per the WASM index
// space rule (imports always sort before local definitions).
func (s *shape) importedCount(kind byte) int {
	n := 0
	for _, imp := range s.imports {
		if imp.kind == kind {
			n++
		}
	}
	return n
}

func (s *shape) globalAt(idx uint32) (globalType, error) {
	imported := s.importedCount(3)
	if int(idx) < imported {
		i := 0
		for _, imp := range s.imports {
			if imp.kind == 3 {
				if i == int(idx) {
					return imp.global, nil
				}
				i++
			}
		}
	}
	local := int(idx) - imported
	if local < 0 || local >= len(s.globals) {
		return globalType{}, fmt.Errorf("module: global index %d out of range", idx)
	}
	return s.globals[local], nil
}

func (s *shape) tableAt(idx uint32) (tableType, error) {
	imported := s.importedCount(1)
	if int(idx) < imported {
		i := 0
		for _, imp := range s.imports {
			if imp.kind == 1 {
				if i == int(idx) {
					return imp.table, nil
				}
				i++
			}
		}
	}
	local := int(idx) - imported
	if local < 0 || local >= len(s.tables) {
		return tableType{}, fmt.Errorf("module: table index %d out of range", idx)
	}
	return s.tables[local], nil
}

func (s *shape) memAt(idx uint32) (memType, error) {
	imported := s.importedCount(2)
	if int(idx) < imported {
		i := 0
		for _, imp := range s.imports {
			if imp.kind == 2 {
				if i == int(idx) {
					return imp.mem, nil
				}
				i++
			}
		}
	}
	local := int(idx) - imported
	if local < 0 || local >= len(s.mems) {
		return memType{}, fmt.Errorf("module: memory index %d out of range", idx)
	}
	return s.mems[local], nil
}

func (s *shape) funcTypeAt(idx uint32) (funcType, error) {
	imported := s.importedCount(0)
	if int(idx) < imported {
		i := 0
		for _, imp := range s.imports {
			if imp.kind == 0 {
				if i == int(idx) {
					if int(imp.typeIdx) >= len(s.types) {
						return funcType{}, fmt.Errorf("module: type index %d out of range", imp.typeIdx)
					}
					return s.types[imp.typeIdx], nil
				}
				i++
			}
		}
	}
	local := int(idx) - imported
	if local < 0 || local >= len(s.funcTypeIdx) {
		return funcType{}, fmt.Errorf("module: function index %d out of range", idx)
	}
	ti := s.funcTypeIdx[local]
	if int(ti) >= len(s.types) {
		return funcType{}, fmt.Errorf("module: type index %d out of range", ti)
	}
	return s.types[ti], nil
}
