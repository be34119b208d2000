// Package module implements Module.open (spec §4.B): compiling a bundle
// and determining its sandbox ABI shape from its export/import surface.
// Grounded on the teacher's internal/infrastructure/wasm/runtime.go
// Runtime.LoadPlugin, which owns the wazero.Runtime and CompileModule
// call; this package instead binds to a shared engine.Engine and adds
// the shape-inspection step the teacher's compliance-check domain never
// needed.
package module

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"

	"github.com/wclap-bridge/wclap-bridge-go/internal/engine"
)

// Module owns a compiled bundle plus its discovered ABI shape. It
// remains usable (for error reporting) even when shape inspection
// failed; Err is non-nil in that case and Shape is the zero value.
type Module struct {
	eng      *engine.Engine
	compiled wazero.CompiledModule
	path     string

	Shape Shape
	Err   error
}

// Open compiles wasmBytes against eng's runtime and inspects its export
// and import sections to determine the sandbox ABI shape. path is
// recorded for diagnostics and cache correlation only.
//
// Open never returns a nil *Module on a shape error: a ConfigurationError
// is returned both as Module.Err and as the function's error so callers
// that only check the error still observe the failure, while callers
// building a cache entry for a "this bundle cannot load" record can keep
// the Module around.
func Open(ctx context.Context, eng *engine.Engine, path string, wasmBytes []byte) (*Module, error) {
	compiled, err := eng.Runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("module: failed to compile %s: %w", path, err)
	}

	m := &Module{eng: eng, compiled: compiled, path: path}

	shape, shapeErr := inspectShape(wasmBytes)
	if shapeErr != nil {
		m.Err = shapeErr
		return m, shapeErr
	}
	m.Shape = shape

	eng.AcquireModule()
	return m, nil
}

// Compiled returns the underlying wazero.CompiledModule for Instance
// construction.
func (m *Module) Compiled() wazero.CompiledModule { return m.compiled }

// Path returns the bundle path this Module was opened from.
func (m *Module) Path() string { return m.path }

// Usable reports whether the module's shape was successfully inspected.
func (m *Module) Usable() bool { return m.Err == nil }

// Close releases the compiled module and, if shape inspection had
// succeeded, releases this Module's hold on the engine's live-module
// count.
func (m *Module) Close(ctx context.Context) error {
	if m.Usable() {
		m.eng.ReleaseModule()
	}
	return m.compiled.Close(ctx)
}
