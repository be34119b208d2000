package module

import (
	"fmt"

	"github.com/wclap-bridge/wclap-bridge-go/internal/abi"
)

// SharedMemoryImport names the module/field a bundle imports its shared
// linear memory from, when it uses one (spec §4.B).
type SharedMemoryImport struct {
	ModuleName string
	ExportName string
}

// Shape is the discovered ABI surface of a compiled bundle (spec §4.B).
type Shape struct {
	Width              abi.Width
	HasSharedMemory    bool
	SharedMemoryImport *SharedMemoryImport
	MallocName         string
	FuncTableName      string
	FuncTableMin       uint32
	FuncTableMax       uint32
}

// inspectShape determines a bundle's ABI shape by reading its export and
// import sections. It never instantiates the module.
func inspectShape(wasmBytes []byte) (Shape, error) {
	s, err := scanModule(wasmBytes)
	if err != nil {
		return Shape{}, newConfigurationError(fmt.Sprintf("failed to parse module: %v", err))
	}

	entryExport, ok := s.exports["clap_entry"]
	if !ok || entryExport.kind != 3 {
		return Shape{}, errNoEntry
	}
	entryGlobal, err := s.globalAt(entryExport.index)
	if err != nil {
		return Shape{}, errNoEntry
	}

	var width abi.Width
	switch entryGlobal.valType {
	case valI32:
		width = abi.Width32
	case valI64:
		width = abi.Width64
	default:
		return Shape{}, errEntryWrongType
	}

	shape := Shape{Width: width}

	memExport, hasMemExport := s.exports["memory"]
	if hasMemExport && memExport.kind != 2 {
		hasMemExport = false
	}

	var sharedImport *importRef
	for i := range s.imports {
		if s.imports[i].kind == 2 {
			imp := s.imports[i]
			sharedImport = &imp
			break
		}
	}

	switch {
	case hasMemExport && sharedImport != nil:
		return Shape{}, errBothMemory
	case !hasMemExport && sharedImport == nil:
		return Shape{}, errNoMemory
	case hasMemExport:
		// non-shared, module-owned memory: nothing further to record.
	case sharedImport != nil:
		if !sharedImport.mem.shared {
			return Shape{}, errNonSharedMemory
		}
		importIs64 := sharedImport.mem.is64
		if importIs64 != (width == abi.Width64) {
			return Shape{}, errWidthMismatch
		}
		shape.HasSharedMemory = true
		shape.SharedMemoryImport = &SharedMemoryImport{
			ModuleName: sharedImport.module,
			ExportName: sharedImport.name,
		}
	}

	mallocExport, ok := s.exports["malloc"]
	if !ok || mallocExport.kind != 0 {
		return Shape{}, errMallocMismatch
	}
	mallocType, err := s.funcTypeAt(mallocExport.index)
	if err != nil {
		return Shape{}, errMallocMismatch
	}
	wantType := byte(valI32)
	if width == abi.Width64 {
		wantType = valI64
	}
	if len(mallocType.params) != 1 || len(mallocType.results) != 1 ||
		mallocType.params[0] != wantType || mallocType.results[0] != wantType {
		return Shape{}, errMallocMismatch
	}
	shape.MallocName = "malloc"

	tableName, tableMin, tableMax, err := findFuncTable(s)
	if err != nil {
		return Shape{}, err
	}
	shape.FuncTableName = tableName
	shape.FuncTableMin = tableMin
	shape.FuncTableMax = tableMax

	return shape, nil
}

func findFuncTable(s *shape) (name string, min, max uint32, err error) {
	found := false
	for exportName, ref := range s.exports {
		if ref.kind != 1 {
			continue
		}
		tbl, terr := s.tableAt(ref.index)
		if terr != nil || tbl.elemType != valFuncref {
			continue
		}
		if found {
			return "", 0, 0, errNoFuncTable
		}
		found = true
		name = exportName
		min = tbl.min
		if tbl.hasMax {
			max = tbl.max
		} else {
			max = ^uint32(0)
		}
	}
	if !found {
		return "", 0, 0, errNoFuncTable
	}
	if max < min || max-min < 65536 {
		return "", 0, 0, errFuncTableHeadroom
	}
	return name, min, max, nil
}
