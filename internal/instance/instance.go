// Package instance implements the Instance setup sequence and live
// operations of spec §4.C: one execution context bound to a Module,
// owning linear memory access, a host-callback dispatch table, and a
// recursive per-Instance lock that allows sandbox-to-host-to-sandbox
// re-entrancy on one logical call chain while forbidding two concurrent
// threads inside the same Instance.
//
// Grounded on the teacher's Runtime/Plugin split in
// internal/infrastructure/wasm/{runtime,plugin}.go: Plugin there binds a
// compiled module to one execution context with WASI grants; this
// package generalizes that to the shared/non-shared-memory and
// recursive-lock rules this domain needs.
package instance

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wclap-bridge/wclap-bridge-go/internal/abi"
	"github.com/wclap-bridge/wclap-bridge-go/internal/engine"
	"github.com/wclap-bridge/wclap-bridge-go/internal/module"
)

// Role is the execution-context role an Instance fills, decided at
// claim time rather than statically (spec §4.C).
type Role int

const (
	RoleMain Role = iota
	RoleAudio
	RolePooled
)

func (r Role) String() string {
	switch r {
	case RoleMain:
		return "main"
	case RoleAudio:
		return "audio"
	case RolePooled:
		return "pooled"
	default:
		return "unknown"
	}
}

// HostFunc is a trampoline callback registered during setup. args/results
// are sandbox-word values already in wazero's uint64 lane encoding.
type HostFunc func(ctx context.Context, inst *Instance, args []uint64) []uint64

const (
	hostModuleName          = "env"
	hostDispatchImportName  = "wclap_host_dispatch"
)

// The host dispatch import is a single generic function shared by every
// Instance on an Engine's Runtime (wazero host modules are instantiated
// once per Runtime, by name); the calling guest module instance is
// identified by wazero's injected api.Module parameter and looked up
// here to route the call to the right Instance's registered trampoline.
var (
	hostModMu   sync.Mutex
	hostModDone = map[*engine.Engine]bool{}

	instMu       sync.RWMutex
	instByModule = map[string]*Instance{}

	instanceSeq uint64
)

func ensureHostModule(ctx context.Context, eng *engine.Engine) error {
	hostModMu.Lock()
	defer hostModMu.Unlock()
	if hostModDone[eng] {
		return nil
	}

	builder := eng.Runtime.NewHostModuleBuilder(hostModuleName)
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, idx uint32, a, b, c, d uint64) uint64 {
			instMu.RLock()
			inst := instByModule[mod.Name()]
			instMu.RUnlock()
			if inst == nil || int(idx) >= len(inst.hostFuncs) {
				return 0
			}
			res := inst.hostFuncs[idx](ctx, inst, []uint64{a, b, c, d})
			if len(res) == 0 {
				return 0
			}
			return res[0]
		}).
		Export(hostDispatchImportName)

	if _, err := builder.Instantiate(ctx); err != nil {
		return err
	}
	hostModDone[eng] = true
	return nil
}

// lockHeldKey marks a context as already holding this Instance's lock,
// implementing recursive-lock semantics without goroutine-identity
// tricks: every callback the bridge installs threads the same context
// it received, so a sandbox call that calls back into the host and then
// back into the sandbox always carries the marker.
type lockHeldKey struct{ inst *Instance }

// Instance is one live execution context bound to a Module.
type Instance struct {
	mod *module.Module
	eng *engine.Engine

	role Role

	runtimeMod api.Module
	memory     api.Memory
	mallocFn   api.Function

	hostFuncs []HostFunc

	lock chan struct{} // 1-buffered channel used as a simple acquirable mutex

	setupErr error
	poisoned error // first trap/timeout error, sticky
}

// Setup runs the spec §4.C setup sequence and returns a live Instance,
// or an Instance whose Err() reports the step that failed.
func Setup(ctx context.Context, m *module.Module, eng *engine.Engine, role Role, dirs DirGrants) (*Instance, error) {
	inst := &Instance{
		mod:  m,
		eng:  eng,
		role: role,
		lock: make(chan struct{}, 1),
	}
	inst.lock <- struct{}{} // start unlocked

	if !m.Usable() {
		inst.setupErr = &SetupError{Step: "module shape", Err: m.Err}
		return inst, inst.setupErr
	}

	if err := ensureHostModule(ctx, eng); err != nil {
		inst.setupErr = &SetupError{Step: "host module", Err: err}
		return inst, inst.setupErr
	}

	instanceName := fmt.Sprintf("wclap-instance-%d", atomic.AddUint64(&instanceSeq, 1))
	config := wazero.NewModuleConfig().
		WithName(instanceName).
		WithStdout(os.Stdout).
		WithStderr(os.Stderr).
		WithEnv("TERM", os.Getenv("TERM")).
		WithEnv("LANG", os.Getenv("LANG"))

	fsConfig := wazero.NewFSConfig()
	for _, g := range dirs.grants() {
		if g.host == "" {
			continue
		}
		if _, err := os.Stat(g.host); err != nil {
			if dirs.MustLinkDirs {
				inst.setupErr = &SetupError{Step: "preopen " + g.guest, Err: err}
				return inst, inst.setupErr
			}
			continue
		}
		if g.readOnly {
			fsConfig = fsConfig.WithReadOnlyDirMount(g.host, g.guest)
		} else {
			fsConfig = fsConfig.WithDirMount(g.host, g.guest)
		}
	}
	config = config.WithFSConfig(fsConfig)

	setupCtx := ctx
	if eng.HasDeadline() {
		var cancel context.CancelFunc
		setupCtx, cancel = context.WithTimeout(ctx, time.Duration(eng.BudgetTicks())*abi.EpochTickMillis*time.Millisecond)
		defer cancel()
	}

	runtimeMod, err := eng.Runtime.InstantiateModule(setupCtx, m.Compiled(), config)
	if err != nil {
		inst.setupErr = classifyErr("instantiate", setupCtx, err)
		return inst, inst.setupErr
	}
	inst.runtimeMod = runtimeMod

	instMu.Lock()
	instByModule[runtimeMod.Name()] = inst
	instMu.Unlock()

	if mem := runtimeMod.Memory(); mem != nil {
		inst.memory = mem
	}

	mallocFn := runtimeMod.ExportedFunction(m.Shape.MallocName)
	if mallocFn == nil {
		inst.setupErr = &SetupError{Step: "bind malloc", Err: fmt.Errorf("malloc export missing after instantiation")}
		return inst, inst.setupErr
	}
	inst.mallocFn = mallocFn

	if initFn := runtimeMod.ExportedFunction("_initialize"); initFn != nil {
		initCtx := ctx
		if eng.HasDeadline() {
			var cancel context.CancelFunc
			initCtx, cancel = context.WithTimeout(ctx, time.Duration(eng.BudgetTicks())*abi.EpochTickMillis*time.Millisecond)
			defer cancel()
		}
		if _, err := initFn.Call(initCtx); err != nil {
			inst.poisoned = classifyErr("_initialize", initCtx, err)
			inst.setupErr = inst.poisoned
			return inst, inst.setupErr
		}
	}

	return inst, nil
}

// Role reports which execution-context role this Instance fills.
func (i *Instance) Role() Role { return i.role }

// Err returns the sticky setup or poison error, if any.
func (i *Instance) Err() error {
	if i.setupErr != nil {
		return i.setupErr
	}
	return i.poisoned
}

// Poisoned reports whether a trap or timeout has permanently disabled
// this Instance (spec §4.C, §8).
func (i *Instance) Poisoned() bool { return i.poisoned != nil }

// acquire implements the recursive lock: if ctx already marks this
// Instance as held (we are re-entering on the same logical call chain),
// it is a no-op; otherwise it blocks until the 1-buffered lock channel
// yields a token, and returns a context carrying the marker plus a
// release function.
func (i *Instance) acquire(ctx context.Context) (context.Context, func(), error) {
	if v, _ := ctx.Value(lockHeldKey{inst: i}).(bool); v {
		return ctx, func() {}, nil
	}
	select {
	case <-i.lock:
	case <-ctx.Done():
		return ctx, func() {}, ctx.Err()
	}
	held := context.WithValue(ctx, lockHeldKey{inst: i}, true)
	return held, func() { i.lock <- struct{}{} }, nil
}

// Call invokes a sandbox export by name under the Instance lock and a
// fresh per-call deadline (spec §4.C). On trap or timeout the error is
// classified and, if this is the first such error, the Instance is
// poisoned permanently.
func (i *Instance) Call(ctx context.Context, funcName string, args ...uint64) ([]uint64, error) {
	if i.poisoned != nil {
		return nil, i.poisoned
	}
	ctx, release, err := i.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	fn := i.runtimeMod.ExportedFunction(funcName)
	if fn == nil {
		return nil, fmt.Errorf("instance: no such export %q", funcName)
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if i.eng.HasDeadline() {
		callCtx, cancel = context.WithTimeout(ctx, time.Duration(i.eng.BudgetTicks())*abi.EpochTickMillis*time.Millisecond)
		defer cancel()
	}

	results, err := fn.Call(callCtx, args...)
	if err != nil {
		classified := classifyErr(funcName, callCtx, err)
		if i.poisoned == nil {
			i.poisoned = classified
		}
		return nil, classified
	}
	return results, nil
}

// guestDispatchExportName is the export a bundle's WASM toolchain is
// expected to generate to resolve a function-table index into a live
// call, standing in for a direct call_indirect instruction issued from
// host code (spec §4.E class 9, "native-to-sandbox resolves the index
// through the function table"). wazero's public API exposes functions,
// memories, and globals on an instantiated api.Module but no table
// read or indirect-call surface for host-side callers — the same gap
// that motivated this package's single generic host-callback import in
// the other direction. The bundle is expected to export this
// dispatcher alongside malloc; CallIndex is the mirror image of
// ensureHostModule's wclap_host_dispatch.
const guestDispatchExportName = "wclap_guest_dispatch"

// CallIndex invokes the sandbox function stored at funcTableIndex
// (spec §4.E class 9, native-to-sandbox direction) via the bundle's
// dispatch export, under the same lock/deadline/poisoning discipline
// as Call.
func (i *Instance) CallIndex(ctx context.Context, funcTableIndex uint64, args ...uint64) ([]uint64, error) {
	full := make([]uint64, 0, len(args)+1)
	full = append(full, funcTableIndex)
	full = append(full, args...)
	return i.Call(ctx, guestDispatchExportName, full...)
}

// ReadGlobal returns the value of an exported global, used to locate
// the entry record the bundle's clap_entry global points at.
func (i *Instance) ReadGlobal(name string) (uint64, error) {
	g := i.runtimeMod.ExportedGlobal(name)
	if g == nil {
		return 0, fmt.Errorf("instance: no such global %q", name)
	}
	return g.Get(), nil
}

// Malloc calls the bundle's exported allocator and returns a sandbox
// pointer, under the same locking/deadline discipline as Call.
func (i *Instance) Malloc(ctx context.Context, size uint32) (abi.Ptr, error) {
	if i.poisoned != nil {
		return 0, i.poisoned
	}
	ctx, release, err := i.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	callCtx := ctx
	var cancel context.CancelFunc
	if i.eng.HasDeadline() {
		callCtx, cancel = context.WithTimeout(ctx, time.Duration(i.eng.BudgetTicks())*abi.EpochTickMillis*time.Millisecond)
		defer cancel()
	}

	results, err := i.mallocFn.Call(callCtx, uint64(size))
	if err != nil {
		classified := classifyErr("malloc", callCtx, err)
		if i.poisoned == nil {
			i.poisoned = classified
		}
		return 0, classified
	}
	return abi.Ptr(results[0]), nil
}

// ReadMemory returns a bounded slice of sandbox memory at p, clipped to
// the current memory size (spec §4.C). The slice is a view that aliases
// the sandbox's linear memory, not a copy.
func (i *Instance) ReadMemory(p abi.Ptr, length uint32) ([]byte, error) {
	if i.memory == nil {
		return nil, fmt.Errorf("instance: no linear memory bound")
	}
	buf, ok := i.memory.Read(uint32(p), length)
	if !ok {
		size := i.memory.Size()
		if uint32(p) >= size {
			return nil, fmt.Errorf("instance: read out of bounds at %d (size %d)", p, size)
		}
		clipped := size - uint32(p)
		buf, _ = i.memory.Read(uint32(p), clipped)
	}
	return buf, nil
}

// WriteMemory writes data into sandbox memory at p, clipping to the
// current memory size rather than failing outright.
func (i *Instance) WriteMemory(p abi.Ptr, data []byte) error {
	if i.memory == nil {
		return fmt.Errorf("instance: no linear memory bound")
	}
	if ok := i.memory.Write(uint32(p), data); !ok {
		size := i.memory.Size()
		if uint32(p) >= size {
			return fmt.Errorf("instance: write out of bounds at %d (size %d)", p, size)
		}
		clipped := size - uint32(p)
		i.memory.Write(uint32(p), data[:clipped])
	}
	return nil
}

// MemorySize returns the current sandbox memory size in bytes.
func (i *Instance) MemorySize() uint32 {
	if i.memory == nil {
		return 0
	}
	return i.memory.Size()
}

// RegisterHostFunction installs fn as a trampoline and returns its
// dispatch index; the sandbox invokes it through the single generic
// "wclap_host_dispatch" host import, routed here by index. Setup itself
// registers nothing: the bridge registers each trampoline set on the
// first call that needs it and caches the returned indices per
// Instance, so an index stays fixed for the Instance's lifetime.
func (i *Instance) RegisterHostFunction(fn HostFunc) uint32 {
	i.hostFuncs = append(i.hostFuncs, fn)
	return uint32(len(i.hostFuncs) - 1)
}

// Close releases the sandbox module instance.
func (i *Instance) Close(ctx context.Context) error {
	if i.runtimeMod == nil {
		return nil
	}
	instMu.Lock()
	delete(instByModule, i.runtimeMod.Name())
	instMu.Unlock()
	return i.runtimeMod.Close(ctx)
}

func classifyErr(op string, ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return &TimeoutError{Op: op}
	}
	return &TrapError{Op: op, Err: err}
}
