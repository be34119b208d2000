package bridge

import (
	"context"
	"fmt"
	"math"
)

// guiMethodNames fixes the clap.gui extension's function-table order this
// bridge expects when present in the sandbox: is_api_supported,
// get_preferred_api, create, destroy, set_scale, get_size, can_resize,
// get_resize_hints, adjust_size, set_size, set_parent, set_transient,
// suggest_title, show, hide.
var guiMethodNames = []string{
	"is_api_supported", "get_preferred_api", "create", "destroy",
	"set_scale", "get_size", "can_resize", "get_resize_hints",
	"adjust_size", "set_size", "set_parent", "set_transient",
	"suggest_title", "show", "hide",
}

const (
	guiMethodCreate = 2
	guiMethodDestroy = 3
	guiMethodSetScale = 4
	guiMethodGetSize = 5
	guiMethodSetSize = 9
	guiMethodShow = 13
	guiMethodHide = 14
)

// WebviewHost is the external collaborator that actually renders a
// plugin's UI out-of-process (spec §4.F "GUI extension": "the bridge
// always has a GUI backed by a webview helper; the helper itself is out
// of scope"). The bridge only needs to drive its lifecycle in lockstep
// with the sandboxed plugin's own clap.gui implementation, when present.
type WebviewHost interface {
	Create(ctx context.Context, pluginName string) error
	Destroy(ctx context.Context) error
	SetScale(ctx context.Context, scale float64) error
	Resize(ctx context.Context, width, height uint32) error
	Show(ctx context.Context) error
	Hide(ctx context.Context) error
}

// GUI dual-forwards lifecycle calls to the mandatory WebviewHost and, if
// the sandboxed plugin also implements clap.gui, to the sandbox as well,
// so a plugin that paints its own widgets into a host-provided surface
// and a plugin that knows nothing about being sandboxed both work (spec
// §4.F).
type GUI struct {
	p      *Plugin
	host   WebviewHost
	sbox   *Extension // nil if the sandbox does not implement clap.gui
}

// gui_ lazily constructs the Plugin's GUI, handshaking clap.gui if the
// bundle implements it.
func (p *Plugin) gui_(ctx context.Context) (*GUI, error) {
	p.mu.Lock()
	if p.gui != nil {
		g := p.gui
		p.mu.Unlock()
		return g, nil
	}
	p.mu.Unlock()

	if p.b.webviewFactory == nil {
		return nil, fmt.Errorf("bridge: no webview factory configured for this bridge")
	}

	ext, err := p.GetExtension(ctx, ExtGUI)
	if err != nil {
		return nil, err
	}

	g := &GUI{p: p, host: p.b.webviewFactory(p), sbox: ext}

	p.mu.Lock()
	p.gui = g
	p.mu.Unlock()
	return g, nil
}

// GUI returns this Plugin's GUI, constructing it on first call.
func (p *Plugin) GUI(ctx context.Context) (*GUI, error) {
	return p.gui_(ctx)
}

func (g *GUI) Create(ctx context.Context, title string) error {
	if err := g.host.Create(ctx, title); err != nil {
		return err
	}
	if g.sbox != nil {
		if _, err := g.p.callExtMethod(ctx, g.sbox, guiMethodCreate); err != nil {
			return err
		}
	}
	return nil
}

func (g *GUI) Destroy(ctx context.Context) error {
	if g.sbox != nil {
		if _, err := g.p.callExtMethod(ctx, g.sbox, guiMethodDestroy); err != nil {
			return err
		}
	}
	return g.host.Destroy(ctx)
}

func (g *GUI) SetScale(ctx context.Context, scale float64) error {
	if err := g.host.SetScale(ctx, scale); err != nil {
		return err
	}
	if g.sbox != nil {
		bits := math.Float64bits(scale)
		if _, err := g.p.callExtMethod(ctx, g.sbox, guiMethodSetScale, bits); err != nil {
			return err
		}
	}
	return nil
}

func (g *GUI) Resize(ctx context.Context, width, height uint32) error {
	if err := g.host.Resize(ctx, width, height); err != nil {
		return err
	}
	if g.sbox != nil {
		if _, err := g.p.callExtMethod(ctx, g.sbox, guiMethodSetSize, uint64(width), uint64(height)); err != nil {
			return err
		}
	}
	return nil
}

func (g *GUI) Show(ctx context.Context) error {
	if g.sbox != nil {
		if _, err := g.p.callExtMethod(ctx, g.sbox, guiMethodShow); err != nil {
			return err
		}
	}
	return g.host.Show(ctx)
}

func (g *GUI) Hide(ctx context.Context) error {
	if g.sbox != nil {
		if _, err := g.p.callExtMethod(ctx, g.sbox, guiMethodHide); err != nil {
			return err
		}
	}
	return g.host.Hide(ctx)
}
