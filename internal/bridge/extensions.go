package bridge

import (
	"context"
	"fmt"

	"github.com/wclap-bridge/wclap-bridge-go/internal/abi"
)

// Extension names spec §4.F lists as the minimum set the bridge must
// handshake (the exact per-extension method layout is this bridge's own
// bespoke ordered-index table, for the same reason process.go's event
// lists are — spec.md defers struct shape to an ABI header set outside
// the delivered materials).
const (
	ExtAudioPorts = "clap.audio-ports"
	ExtGUI        = "clap.gui"
	ExtLatency    = "clap.latency"
	ExtParams     = "clap.params"
	ExtState      = "clap.state"
	ExtWebview    = "clap.webview"
)

// extensionMethodCounts fixes, per supported extension, how many
// consecutive function-table-index words follow the extension pointer.
var extensionMethodCounts = map[string]int{
	ExtAudioPorts: 2, // count, get
	ExtGUI:        len(guiMethodNames),
	ExtLatency:    1, // get
	ExtParams:     5, // count, get_info, get_value, value_to_text, text_to_value
	ExtState:      2, // save, load
	ExtWebview:    2, // pull_chunk, push_chunk (spec.md state-stream relay)
}

// Extension is a cached handshake result: the sandbox extension pointer
// plus the function-table indices found at it, in the fixed order
// extensionMethodCounts implies for its name.
type Extension struct {
	Name      string
	Ptr       abi.Ptr
	MethodIdx []uint64
}

// GetExtension performs the extension handshake of spec §4.F: the
// sandbox's get_extension is called at most once per name per Plugin,
// and the resulting pointer (and the function table it exposes) is
// cached for the Plugin's lifetime. A nil, nil result means the bundle
// does not implement that extension.
func (p *Plugin) GetExtension(ctx context.Context, name string) (*Extension, error) {
	count, known := extensionMethodCounts[name]
	if !known {
		return nil, fmt.Errorf("bridge: unsupported extension %q", name)
	}

	p.extMu.Lock()
	if e, ok := p.exts[name]; ok {
		p.extMu.Unlock()
		return e, nil
	}
	p.extMu.Unlock()

	a := p.pool.Get()
	scope := a.OpenScope()
	namePtr, err := scope.WriteString(ctx, name, 0)
	if err != nil {
		scope.Drop()
		p.pool.Put(a)
		return nil, err
	}
	res, err := p.control.CallIndex(ctx, p.vtable.getExtensionIdx, uint64(p.ptr), uint64(namePtr))
	scope.Drop()
	p.pool.Put(a)
	if err != nil {
		return nil, err
	}

	ptr := abi.Ptr(res[0])
	if ptr.IsNull() {
		p.extMu.Lock()
		p.exts[name] = nil
		p.extMu.Unlock()
		return nil, nil
	}

	ws := p.b.Translator.Width.Size()
	idx := make([]uint64, count)
	for i := range idx {
		v, err := p.b.Translator.ReadWord(p.control, ptr.Add(uint32(i)*ws))
		if err != nil {
			return nil, fmt.Errorf("bridge: reading %s vtable[%d]: %w", name, i, err)
		}
		idx[i] = v
	}

	ext := &Extension{Name: name, Ptr: ptr, MethodIdx: idx}
	p.extMu.Lock()
	p.exts[name] = ext
	p.extMu.Unlock()
	return ext, nil
}

// callExtMethod invokes the methodIdx'th trampoline-reached sandbox
// function on ext, passing ext.Ptr as the implicit "this" argument
// every extension method takes first, per the public CLAP convention.
func (p *Plugin) callExtMethod(ctx context.Context, ext *Extension, method int, args ...uint64) ([]uint64, error) {
	if method < 0 || method >= len(ext.MethodIdx) {
		return nil, fmt.Errorf("bridge: extension %s method %d out of range", ext.Name, method)
	}
	full := make([]uint64, 0, len(args)+1)
	full = append(full, uint64(ext.Ptr))
	full = append(full, args...)
	return p.control.CallIndex(ctx, ext.MethodIdx[method], full...)
}

// Latency returns the plugin's reported latency in samples, or 0 if the
// bundle does not implement clap.latency.
func (p *Plugin) Latency(ctx context.Context) (uint32, error) {
	ext, err := p.GetExtension(ctx, ExtLatency)
	if err != nil {
		return 0, err
	}
	if ext == nil {
		return 0, nil
	}
	res, err := p.callExtMethod(ctx, ext, 0)
	if err != nil {
		return 0, err
	}
	return uint32(res[0]), nil
}
