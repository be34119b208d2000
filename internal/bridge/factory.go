package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/wclap-bridge/wclap-bridge-go/internal/abi"
	"github.com/wclap-bridge/wclap-bridge-go/internal/arena"
)

// PluginFactoryID is the only factory kind this bridge supports.
const PluginFactoryID = "clap.plugin-factory"

// Factory wraps a sandbox clap_plugin_factory: three function-table
// indices in the public CLAP order (get_plugin_count,
// get_plugin_descriptor, create_plugin). Descriptor enumeration happens
// at most once per Factory and is cached for the Module's lifetime
// (spec §4.F).
type Factory struct {
	b   *Bridge
	ptr abi.Ptr

	countIdx      uint64
	descriptorIdx uint64
	createIdx     uint64

	mu          sync.Mutex
	enumerated  bool
	descriptors []abi.Descriptor
}

func newFactory(ctx context.Context, b *Bridge, factoryID string) (*Factory, error) {
	if factoryID != PluginFactoryID {
		return nil, fmt.Errorf("bridge: unsupported factory id %q", factoryID)
	}

	pool := arena.NewPool(b.Main)
	a := pool.Get()
	scope := a.OpenScope()

	idPtr, err := scope.WriteString(ctx, factoryID, 0)
	if err != nil {
		scope.Drop()
		return nil, fmt.Errorf("bridge: writing factory id: %w", err)
	}
	res, err := b.Main.CallIndex(ctx, b.Entry.GetFactoryIdx, uint64(idPtr))
	scope.Drop()
	if err != nil {
		return nil, err
	}
	ptr := abi.Ptr(res[0])
	if ptr.IsNull() {
		return nil, fmt.Errorf("bridge: bundle does not support factory %q", factoryID)
	}

	ws := b.Translator.Width.Size()
	countIdx, err := b.Translator.ReadWord(b.Main, ptr)
	if err != nil {
		return nil, err
	}
	descIdx, err := b.Translator.ReadWord(b.Main, ptr.Add(ws))
	if err != nil {
		return nil, err
	}
	createIdx, err := b.Translator.ReadWord(b.Main, ptr.Add(2*ws))
	if err != nil {
		return nil, err
	}

	return &Factory{b: b, ptr: ptr, countIdx: countIdx, descriptorIdx: descIdx, createIdx: createIdx}, nil
}

func (f *Factory) ensureEnumerated(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enumerated {
		return nil
	}

	res, err := f.b.Main.CallIndex(ctx, f.countIdx)
	if err != nil {
		return err
	}
	n := int(res[0])

	descs := make([]abi.Descriptor, 0, n)
	for i := 0; i < n; i++ {
		res, err := f.b.Main.CallIndex(ctx, f.descriptorIdx, uint64(i))
		if err != nil {
			return err
		}
		dptr := abi.Ptr(res[0])
		if dptr.IsNull() {
			continue
		}
		d, err := f.b.Translator.ReadDescriptor(f.b.Main, dptr)
		if err != nil {
			return err
		}
		descs = append(descs, d)
	}

	f.descriptors = descs
	f.enumerated = true
	return nil
}

// Count returns the number of plugins this bundle's factory advertises.
func (f *Factory) Count(ctx context.Context) (int, error) {
	if err := f.ensureEnumerated(ctx); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.descriptors), nil
}

// Descriptor returns the translated descriptor at index i.
func (f *Factory) Descriptor(ctx context.Context, i int) (abi.Descriptor, error) {
	if err := f.ensureEnumerated(ctx); err != nil {
		return abi.Descriptor{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if i < 0 || i >= len(f.descriptors) {
		return abi.Descriptor{}, fmt.Errorf("bridge: descriptor index %d out of range", i)
	}
	return f.descriptors[i], nil
}

// CreatePlugin asks the sandbox to construct a plugin instance for
// pluginID (a namespaced, prefixed id as returned by Descriptor) and
// wraps the result as a Plugin bound to host (spec §4.F "Plugin
// creation"). audio selects which Instance will run process() and the
// realtime arena, per spec §5's single/multi-threaded bundle rules;
// pass the same Sandbox as control for a single-threaded bundle.
func (f *Factory) CreatePlugin(ctx context.Context, pluginID string, host HostCallbacks, control, audio Sandbox) (*Plugin, error) {
	rawID := f.b.Translator.StripIDPrefix(pluginID)

	p := &Plugin{
		b:       f.b,
		control: control,
		audio:   audio,
		host:    host,
		state:   StateCreated,
		pool:    arena.NewPool(control),
		exts:    map[string]*Extension{},
	}
	if audio != control {
		p.audioPool = arena.NewPool(audio)
	} else {
		p.audioPool = p.pool
	}
	handle := f.b.Index.Retain(p)
	p.handle = handle
	f.b.registerHostSlot(handle.Index, p)

	a := p.pool.Get()
	scope := a.OpenScope()
	idPtr, err := scope.WriteString(ctx, rawID, 0)
	if err != nil {
		scope.Drop()
		p.pool.Put(a)
		f.b.unregisterHostSlot(handle.Index)
		f.b.Index.Release(handle)
		return nil, err
	}
	hostPtr, err := f.b.buildHostProxy(ctx, scope, handle.Index)
	if err != nil {
		scope.Drop()
		p.pool.Put(a)
		f.b.unregisterHostSlot(handle.Index)
		f.b.Index.Release(handle)
		return nil, err
	}

	res, err := control.CallIndex(ctx, f.createIdx, uint64(idPtr), uint64(hostPtr))
	scope.Drop()
	p.pool.Put(a)
	if err != nil {
		f.b.unregisterHostSlot(handle.Index)
		f.b.Index.Release(handle)
		return nil, err
	}
	pluginPtr := abi.Ptr(res[0])
	if pluginPtr.IsNull() {
		f.b.unregisterHostSlot(handle.Index)
		f.b.Index.Release(handle)
		return nil, fmt.Errorf("bridge: create_plugin returned null for %q", pluginID)
	}

	vt, err := readPluginVTable(control, f.b.Translator, pluginPtr)
	if err != nil {
		f.b.unregisterHostSlot(handle.Index)
		f.b.Index.Release(handle)
		return nil, err
	}
	p.ptr = pluginPtr
	p.vtable = vt
	return p, nil
}
