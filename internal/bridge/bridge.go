// Package bridge implements the Bridge of spec §4.F: the Factory and
// per-Plugin objects, the IndexLookup-based host↔plugin resolution, and
// the metadata cache integration, built on top of engine/module/instance
// and the Marshaller.
//
// Grounded on the teacher's Plugin.Describe/Plugin.Observe call shape
// (internal/infrastructure/wasm/plugin.go): borrow or create an
// execution context, call one exported entrypoint, marshal the result,
// release — generalized here from "one JSON entrypoint" to "one
// function-table entry plus a Marshaller round-trip".
package bridge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/wclap-bridge/wclap-bridge-go/internal/abi"
	"github.com/wclap-bridge/wclap-bridge-go/internal/cache"
	"github.com/wclap-bridge/wclap-bridge-go/internal/engine"
	"github.com/wclap-bridge/wclap-bridge-go/internal/indexlookup"
	"github.com/wclap-bridge/wclap-bridge-go/internal/instance"
	"github.com/wclap-bridge/wclap-bridge-go/internal/marshal"
	"github.com/wclap-bridge/wclap-bridge-go/internal/module"
)

// Sandbox is the calling surface the bridge needs from a live execution
// context. *instance.Instance satisfies it structurally; tests substitute
// a fake, the same pattern arena.Caller uses for Arena.
type Sandbox interface {
	Call(ctx context.Context, funcName string, args ...uint64) ([]uint64, error)
	CallIndex(ctx context.Context, funcTableIndex uint64, args ...uint64) ([]uint64, error)
	Malloc(ctx context.Context, size uint32) (abi.Ptr, error)
	ReadMemory(p abi.Ptr, length uint32) ([]byte, error)
	WriteMemory(p abi.Ptr, data []byte) error
	MemorySize() uint32
	ReadGlobal(name string) (uint64, error)
	RegisterHostFunction(fn instance.HostFunc) uint32
	Poisoned() bool
	Err() error
}

var _ Sandbox = (*instance.Instance)(nil)

// BundleFileName is the fixed wasm module name inside a .wclap bundle
// (spec §6 "Bundle on-disk layout").
const BundleFileName = "module.wasm"

// Config bundles the open-time knobs a Bridge needs (spec §3/§6).
type Config struct {
	DeadlineMillis   uint32
	MemoryLimitPages uint32
	IDPrefix         string
	NameSuffix       string
	Dirs             instance.DirGrants
}

// Bridge owns one opened bundle's Module, its main Instance, the
// IndexLookup host↔plugin table, and the lazily-built Factory.
type Bridge struct {
	cfg  Config
	eng  *engine.Engine
	mod  *module.Module
	Main Sandbox

	Translator marshal.Translator
	Entry      EntryRecord

	Index *indexlookup.Table

	path        string
	moduleMtime int64

	mu      sync.Mutex
	factory *Factory

	// hostSlots resolves a sandbox-stored index straight back to the
	// Plugin it names, independent of indexlookup.Table's generation
	// check: clap_host's host_data field is one sandbox word, and on a
	// 32-bit bundle that word cannot also carry a handle generation, so
	// the wire value is the bare slot index. hostSlots is kept current
	// on every Retain/Release alongside the Table and is what host
	// trampolines actually consult (spec §9 "Cyclic host↔plugin
	// references").
	slotMu    sync.RWMutex
	hostSlots map[uint32]*Plugin

	// trampolineIdx caches ensureHostTrampolines' result per Sandbox so
	// RegisterHostFunction, whose indices must stay stable for an
	// Instance's lifetime (spec §4.C), is only ever called once per
	// Instance even though a host proxy is built once per Plugin.
	trampolineIdx map[Sandbox][hostTrampolineCount]uint32

	// procMu/procState/procTrampIdx back the input/output event-list
	// trampolines a process() call installs (process.go); keyed the
	// same way as trampolineIdx and for the same reason.
	procMu       sync.Mutex
	procState    map[Sandbox]*processState
	procTrampIdx map[Sandbox][processTrampolineCount]uint32

	webviewFactory func(p *Plugin) WebviewHost
}

// Open loads bundlePath/module.wasm, compiles and instantiates it as the
// main Instance, and reads its entry record. webviewFactory constructs
// the external GUI collaborator per Plugin (spec §4.F "GUI extension");
// it may be nil if no plugin created from this Bridge will ever expose
// a GUI.
func Open(ctx context.Context, bundlePath string, cfg Config, webviewFactory func(p *Plugin) WebviewHost) (*Bridge, error) {
	eng, err := engine.GlobalInit(ctx, cfg.DeadlineMillis, cfg.MemoryLimitPages)
	if err != nil {
		return nil, fmt.Errorf("bridge: %w", err)
	}

	wasmPath := filepath.Join(bundlePath, BundleFileName)
	info, err := os.Stat(wasmPath)
	if err != nil {
		engine.GlobalDeinit(ctx)
		return nil, fmt.Errorf("bridge: %w", err)
	}
	wasmBytes, err := os.ReadFile(wasmPath)
	if err != nil {
		engine.GlobalDeinit(ctx)
		return nil, fmt.Errorf("bridge: %w", err)
	}

	mod, err := module.Open(ctx, eng, wasmPath, wasmBytes)
	if err != nil {
		engine.GlobalDeinit(ctx)
		return nil, err
	}

	main, err := instance.Setup(ctx, mod, eng, instance.RoleMain, cfg.Dirs)
	if err != nil {
		mod.Close(ctx)
		engine.GlobalDeinit(ctx)
		return nil, err
	}

	idPrefix := cfg.IDPrefix
	if idPrefix == "" {
		idPrefix = abi.DefaultIDPrefix
	}
	nameSuffix := cfg.NameSuffix
	if nameSuffix == "" {
		nameSuffix = abi.DefaultNameSuffix
	}

	tr := marshal.New(mod.Shape.Width, idPrefix, nameSuffix)

	entryGlobal, err := main.ReadGlobal("clap_entry")
	if err != nil {
		main.Close(ctx)
		mod.Close(ctx)
		engine.GlobalDeinit(ctx)
		return nil, fmt.Errorf("bridge: %w", err)
	}
	entry, err := readEntryRecord(main, tr, abi.Ptr(entryGlobal))
	if err != nil {
		main.Close(ctx)
		mod.Close(ctx)
		engine.GlobalDeinit(ctx)
		return nil, err
	}

	if _, err := main.CallIndex(ctx, entry.InitIdx); err != nil {
		main.Close(ctx)
		mod.Close(ctx)
		engine.GlobalDeinit(ctx)
		return nil, err
	}

	b := &Bridge{
		cfg:            cfg,
		eng:            eng,
		mod:            mod,
		Main:           main,
		Translator:     tr,
		Entry:          entry,
		Index:          indexlookup.New(),
		path:           bundlePath,
		moduleMtime:    info.ModTime().Unix(),
		hostSlots:      map[uint32]*Plugin{},
		webviewFactory: webviewFactory,
	}
	return b, nil
}

// Path returns the bundle directory this Bridge was opened from.
func (b *Bridge) Path() string { return b.path }

// ModuleMtime returns module.wasm's mtime at open time, the key the
// metadata cache validates entries against (spec §4.F, §6).
func (b *Bridge) ModuleMtime() int64 { return b.moduleMtime }

// GetFactory resolves factoryID to a Factory, constructing it lazily on
// first call (spec §4.F). Only the plugin factory is supported.
func (b *Bridge) GetFactory(ctx context.Context, factoryID string) (*Factory, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.factory != nil {
		return b.factory, nil
	}
	f, err := newFactory(ctx, b, factoryID)
	if err != nil {
		return nil, err
	}
	b.factory = f
	return f, nil
}

// Close deinitializes the sandbox entry, closes the main Instance and
// Module, and releases this Bridge's hold on the process-wide Engine.
func (b *Bridge) Close(ctx context.Context) error {
	if _, err := b.Main.CallIndex(ctx, b.Entry.DeinitIdx); err != nil {
		// deinit failing does not block teardown; spec has no recovery
		// path for a bundle that traps on its way out.
	}
	if c, ok := b.Main.(interface{ Close(context.Context) error }); ok {
		c.Close(ctx)
	}
	if err := b.mod.Close(ctx); err != nil {
		return err
	}
	return engine.GlobalDeinit(ctx)
}

func (b *Bridge) registerHostSlot(idx uint32, p *Plugin) {
	b.slotMu.Lock()
	b.hostSlots[idx] = p
	b.slotMu.Unlock()
}

func (b *Bridge) unregisterHostSlot(idx uint32) {
	b.slotMu.Lock()
	delete(b.hostSlots, idx)
	b.slotMu.Unlock()
}

func (b *Bridge) resolveHostSlot(idx uint32) (*Plugin, bool) {
	b.slotMu.RLock()
	defer b.slotMu.RUnlock()
	p, ok := b.hostSlots[idx]
	return p, ok
}

// ScanBundle implements the cache-hit-without-load path of spec §4.F /
// §8 scenario 1: if c already has a valid entry for path (matching
// module.wasm's real mtime), its descriptors are returned without ever
// compiling or instantiating the module. Otherwise bundlePath is opened
// fully, its factory is enumerated, the cache entry is refreshed, and
// the Bridge is closed again before returning.
func ScanBundle(ctx context.Context, bundlePath string, cfg Config, c *cache.Cache, webviewFactory func(p *Plugin) WebviewHost) ([]abi.Descriptor, error) {
	wasmPath := filepath.Join(bundlePath, BundleFileName)
	info, err := os.Stat(wasmPath)
	if err != nil {
		return nil, fmt.Errorf("bridge: %w", err)
	}
	mtime := info.ModTime().Unix()

	if entry, ok := c.Lookup(bundlePath, mtime); ok {
		return entry.Descriptors, nil
	}

	b, err := Open(ctx, bundlePath, cfg, webviewFactory)
	if err != nil {
		return nil, err
	}
	defer b.Close(ctx)

	f, err := b.GetFactory(ctx, PluginFactoryID)
	if err != nil {
		return nil, err
	}
	n, err := f.Count(ctx)
	if err != nil {
		return nil, err
	}
	descs := make([]abi.Descriptor, 0, n)
	for i := 0; i < n; i++ {
		d, err := f.Descriptor(ctx, i)
		if err != nil {
			return nil, err
		}
		descs = append(descs, d)
	}
	c.Put(cache.Entry{Path: bundlePath, ModuleMtime: mtime, Descriptors: descs})
	return descs, nil
}
