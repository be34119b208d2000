package bridge

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/wclap-bridge/wclap-bridge-go/internal/abi"
	"github.com/wclap-bridge/wclap-bridge-go/internal/arena"
	"github.com/wclap-bridge/wclap-bridge-go/internal/indexlookup"
	"github.com/wclap-bridge/wclap-bridge-go/internal/marshal"
)

// State is a Plugin's position in the lifecycle state machine of spec
// §4.F: "Created -> Initialized -> Activated -> Processing;
// transitions driven by host calls; destroy terminates from any state."
type State int

const (
	StateCreated State = iota
	StateInitialized
	StateActivated
	StateProcessing
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateActivated:
		return "activated"
	case StateProcessing:
		return "processing"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// pluginVTable is a clap_plugin's function-table indices, in the public
// CLAP field order (desc, plugin_data are native-side bookkeeping, not
// replicated here since the descriptor is already cached on Factory and
// the sandbox's plugin_data is opaque to the host).
type pluginVTable struct {
	initIdx            uint64
	destroyIdx         uint64
	activateIdx        uint64
	deactivateIdx      uint64
	startProcessingIdx uint64
	stopProcessingIdx  uint64
	resetIdx           uint64
	processIdx         uint64
	getExtensionIdx    uint64
	onMainThreadIdx    uint64
}

// pluginVTableSkipWords is the number of leading word-sized slots
// readPluginVTable skips (desc, plugin_data), which the bridge never
// reads back out of sandbox memory.
const pluginVTableSkipWords = 2

func readPluginVTable(r marshal.MemoryReader, tr marshal.Translator, ptr abi.Ptr) (pluginVTable, error) {
	ws := tr.Width.Size()
	words := make([]uint64, 10)
	for i := range words {
		v, err := tr.ReadWord(r, ptr.Add(uint32(pluginVTableSkipWords+i)*ws))
		if err != nil {
			return pluginVTable{}, fmt.Errorf("bridge: reading plugin vtable[%d]: %w", i, err)
		}
		words[i] = v
	}
	return pluginVTable{
		initIdx:            words[0],
		destroyIdx:         words[1],
		activateIdx:        words[2],
		deactivateIdx:      words[3],
		startProcessingIdx: words[4],
		stopProcessingIdx:  words[5],
		resetIdx:           words[6],
		processIdx:         words[7],
		getExtensionIdx:    words[8],
		onMainThreadIdx:    words[9],
	}, nil
}

// Plugin wraps one sandbox clap_plugin instance: its IndexLookup slot,
// the Instance(s) its methods dispatch through, and the extension cache
// (spec §4.F).
type Plugin struct {
	b       *Bridge
	control Sandbox // main-thread / control-plane calls
	audio   Sandbox // process() and friends; == control for single-threaded bundles
	host    HostCallbacks

	ptr    abi.Ptr
	vtable pluginVTable
	handle indexlookup.Handle

	pool      *arena.Pool // control-plane scope source (spec "pooled arena for others")
	audioPool *arena.Pool // realtime scope source (spec "realtime arena for audio methods")

	mu    sync.Mutex
	state State

	extMu sync.Mutex
	exts  map[string]*Extension

	destroyWasCalled bool

	gui *GUI
}

func (p *Plugin) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Init calls the plugin's init vtable entry, transitioning
// Created -> Initialized.
func (p *Plugin) Init(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateCreated {
		return fmt.Errorf("bridge: init called in state %s", p.state)
	}
	a := p.pool.Get()
	scope := a.OpenScope()
	_, err := p.control.CallIndex(ctx, p.vtable.initIdx, uint64(p.ptr))
	scope.Drop()
	p.pool.Put(a)
	if err != nil {
		return err
	}
	p.state = StateInitialized
	return nil
}

// Activate calls activate(sampleRate, minFrames, maxFrames), transitioning
// Initialized -> Activated. Per spec §9 "Realtime safety" this is where
// the per-Plugin realtime arena is pre-reserved; callers must not call
// Process before Activate succeeds.
func (p *Plugin) Activate(ctx context.Context, sampleRate float64, minFrames, maxFrames uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateInitialized {
		return fmt.Errorf("bridge: activate called in state %s", p.state)
	}
	ra := p.audioPool.Get()
	rs := ra.OpenScope()
	_, rerr := rs.CopyAcross(ctx, nil) // grows ra to its first block
	rs.Drop()
	p.audioPool.Put(ra)
	if rerr != nil {
		return rerr
	}
	a := p.pool.Get()
	scope := a.OpenScope()
	sampleRateBits := math.Float64bits(sampleRate)
	_, err := p.control.CallIndex(ctx, p.vtable.activateIdx, uint64(p.ptr), sampleRateBits, uint64(minFrames), uint64(maxFrames))
	scope.Drop()
	p.pool.Put(a)
	if err != nil {
		return err
	}
	p.state = StateActivated
	return nil
}

// Deactivate calls deactivate, transitioning Activated -> Initialized.
func (p *Plugin) Deactivate(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateActivated {
		return fmt.Errorf("bridge: deactivate called in state %s", p.state)
	}
	a := p.pool.Get()
	scope := a.OpenScope()
	_, err := p.control.CallIndex(ctx, p.vtable.deactivateIdx, uint64(p.ptr))
	scope.Drop()
	p.pool.Put(a)
	if err != nil {
		return err
	}
	p.state = StateInitialized
	return nil
}

// StartProcessing transitions Activated -> Processing; legal only in
// Activated (spec §4.F "start_processing is legal only in Activated").
func (p *Plugin) StartProcessing(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateActivated {
		return fmt.Errorf("bridge: start_processing called in state %s", p.state)
	}
	a := p.audioPool.Get()
	scope := a.OpenScope()
	_, err := p.audio.CallIndex(ctx, p.vtable.startProcessingIdx, uint64(p.ptr))
	scope.Drop()
	p.audioPool.Put(a)
	if err != nil {
		return err
	}
	p.state = StateProcessing
	return nil
}

// StopProcessing transitions Processing -> Activated.
func (p *Plugin) StopProcessing(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateProcessing {
		return fmt.Errorf("bridge: stop_processing called in state %s", p.state)
	}
	a := p.audioPool.Get()
	scope := a.OpenScope()
	_, err := p.audio.CallIndex(ctx, p.vtable.stopProcessingIdx, uint64(p.ptr))
	scope.Drop()
	p.audioPool.Put(a)
	if err != nil {
		return err
	}
	p.state = StateActivated
	return nil
}

// Reset calls reset; legal in Activated or Processing per the sandboxed
// plugin's own checks (spec §4.F: "Violations are reported by the
// sandboxed plugin, not checked again by the bridge" — Reset is not one
// of the three transitions spec.md names explicitly, so the bridge only
// rejects it before Init and after Destroy).
func (p *Plugin) Reset(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateDestroyed || p.state == StateCreated {
		return fmt.Errorf("bridge: reset called in state %s", p.state)
	}
	a := p.audioPool.Get()
	scope := a.OpenScope()
	_, err := p.audio.CallIndex(ctx, p.vtable.resetIdx, uint64(p.ptr))
	scope.Drop()
	p.audioPool.Put(a)
	return err
}

// OnMainThread calls the plugin's on_main_thread callback, used by the
// host's main-thread task runner after a request_callback.
func (p *Plugin) OnMainThread(ctx context.Context) error {
	a := p.pool.Get()
	scope := a.OpenScope()
	_, err := p.control.CallIndex(ctx, p.vtable.onMainThreadIdx, uint64(p.ptr))
	scope.Drop()
	p.pool.Put(a)
	return err
}

// Destroy calls destroy and releases the Plugin's IndexLookup slot, from
// any state (spec §4.F). Calling Destroy more than once, or letting a
// Plugin go out of scope without ever calling it, is the one invariant
// violation spec §8 says must abort the process rather than degrade.
func (p *Plugin) Destroy(ctx context.Context) error {
	p.mu.Lock()
	if p.destroyWasCalled {
		p.mu.Unlock()
		panic("bridge: destroy called twice on the same Plugin")
	}
	p.destroyWasCalled = true
	p.state = StateDestroyed
	p.mu.Unlock()

	a := p.pool.Get()
	scope := a.OpenScope()
	_, err := p.control.CallIndex(ctx, p.vtable.destroyIdx, uint64(p.ptr))
	scope.Drop()
	p.pool.Put(a)

	p.b.unregisterHostSlot(p.handle.Index)
	p.b.Index.Release(p.handle)
	return err
}

// MustHaveBeenDestroyed aborts the process if this Plugin was released
// without Destroy ever having been called (spec §8 invariant: "For
// every Plugin, destroy is called exactly once before the Plugin is
// released, or the process aborts"). Callers that manage Plugin
// lifetime through a finalizer or explicit release path call this right
// before dropping their last reference.
func (p *Plugin) MustHaveBeenDestroyed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.destroyWasCalled {
		panic("bridge: plugin released without destroy ever being called")
	}
}
