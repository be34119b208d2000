// Package capi implements spec §6's outer C ABI: the small, fixed set
// of cgo-exported functions a native CLAP host links against directly
// to open a .wclap bundle and reach its factory. Everything past
// getFactory's returned pointer (the clap_plugin_factory/clap_plugin
// vtables themselves) is the sandbox's own bespoke wire layout that
// internal/bridge already speaks; this package only bridges the very
// outermost handle lifecycle into something a C caller can hold.
//
// Grounded on justyntemme/clapgo's pkg/plugin/exports.go: each exported
// function recovers its receiver from an opaque pointer via
// runtime/cgo.Handle, never keeping a Go pointer on the C side directly.
package capi

/*
#include <stdint.h>
#include <stdbool.h>
#include <stdlib.h>

typedef struct {
	uint32_t major;
	uint32_t minor;
	uint32_t revision;
} wclap_version_t;
*/
import "C"

import (
	"context"
	"runtime/cgo"
	"sync"
	"unsafe"

	"github.com/wclap-bridge/wclap-bridge-go/internal/bridge"
	"github.com/wclap-bridge/wclap-bridge-go/internal/config"
	"github.com/wclap-bridge/wclap-bridge-go/internal/engine"
	"github.com/wclap-bridge/wclap-bridge-go/internal/instance"
)

var (
	errMu   sync.Mutex
	lastErr string

	cfgMu     sync.Mutex
	bridgeCfg config.BridgeConfig
)

// setLastError records err as the failure lastError() will report next.
// Spec §7 asks for a thread-local; a single shared slot is the honest
// simplification here since Go goroutines don't map onto OS threads the
// way the spec's native host model assumes; open/getFactory/close are
// treated as host-serialized calls, same as the real CLAP factory/plugin
// entry points already are.
func setLastError(err error) {
	errMu.Lock()
	defer errMu.Unlock()
	if err == nil {
		lastErr = ""
		return
	}
	lastErr = err.Error()
}

//export globalInit
func globalInit(deadlineMillis C.uint32_t) C.bool {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		setLastError(err)
		return C.bool(false)
	}
	cfg.DeadlineMillis = uint32(deadlineMillis)
	cfgMu.Lock()
	bridgeCfg = cfg
	cfgMu.Unlock()

	// The host's deadlineMillis argument always wins over the config
	// file's: globalInit's own signature (spec §6) has no room for a
	// config path, so the file only supplies what the C ABI call
	// itself cannot express (memoryLimitPages, id prefix, name suffix,
	// mustLinkDirs, bundle search paths).
	if _, err := engine.GlobalInit(context.Background(), uint32(deadlineMillis), cfg.MemoryLimitPages); err != nil {
		setLastError(err)
		return C.bool(false)
	}
	setLastError(nil)
	return C.bool(true)
}

//export globalDeinit
func globalDeinit() {
	if err := engine.GlobalDeinit(context.Background()); err != nil {
		setLastError(err)
	}
}

type handle struct {
	b    *bridge.Bridge
	vers *C.wclap_version_t
}

var (
	handlesMu sync.Mutex
	handles   = map[cgo.Handle]*handle{}
)

//export open
func open(bundlePath *C.char) unsafe.Pointer {
	return openWithDirs(bundlePath, nil, nil, nil)
}

//export openWithDirs
func openWithDirs(bundlePath, presetDir, cacheDir, varDir *C.char) unsafe.Pointer {
	path := C.GoString(bundlePath)

	cfgMu.Lock()
	bc := bridgeCfg
	cfgMu.Unlock()

	cfg := bridge.Config{
		DeadlineMillis:   bc.DeadlineMillis,
		MemoryLimitPages: bc.MemoryLimitPages,
		IDPrefix:         bc.IDPrefix,
		NameSuffix:       bc.NameSuffix,
		Dirs: instance.DirGrants{
			PluginDir:    path,
			PresetDir:    cStringOrEmpty(presetDir),
			CacheDir:     cStringOrEmpty(cacheDir),
			VarDir:       cStringOrEmpty(varDir),
			MustLinkDirs: bc.MustLinkDirs,
		},
	}

	b, err := bridge.Open(context.Background(), path, cfg, nil)
	if err != nil {
		setLastError(err)
		return nil
	}
	setLastError(nil)

	h := cgo.NewHandle(b)
	handlesMu.Lock()
	handles[h] = &handle{b: b}
	handlesMu.Unlock()
	return unsafe.Pointer(h)
}

func cStringOrEmpty(s *C.char) string {
	if s == nil {
		return ""
	}
	return C.GoString(s)
}

func lookup(opaque unsafe.Pointer) (cgo.Handle, *handle, bool) {
	if opaque == nil {
		return 0, nil, false
	}
	h := cgo.Handle(opaque)
	handlesMu.Lock()
	defer handlesMu.Unlock()
	e, ok := handles[h]
	return h, e, ok
}

//export close
func close(opaque unsafe.Pointer) C.bool {
	h, e, ok := lookup(opaque)
	if !ok {
		setLastError(errNotOpen)
		return C.bool(false)
	}
	err := e.b.Close(context.Background())

	handlesMu.Lock()
	delete(handles, h)
	handlesMu.Unlock()
	if e.vers != nil {
		C.free(unsafe.Pointer(e.vers))
	}
	h.Delete()

	if err != nil {
		setLastError(err)
		return C.bool(false)
	}
	setLastError(nil)
	return C.bool(true)
}

//export version
func version(opaque unsafe.Pointer) *C.wclap_version_t {
	_, e, ok := lookup(opaque)
	if !ok {
		setLastError(errNotOpen)
		return nil
	}

	handlesMu.Lock()
	defer handlesMu.Unlock()
	if e.vers == nil {
		v := e.b.Entry.Version
		e.vers = (*C.wclap_version_t)(C.malloc(C.size_t(unsafe.Sizeof(C.wclap_version_t{}))))
		e.vers.major = C.uint32_t(v.Major)
		e.vers.minor = C.uint32_t(v.Minor)
		e.vers.revision = C.uint32_t(v.Revision)
	}
	return e.vers
}

//export getFactory
func getFactory(opaque unsafe.Pointer, factoryID *C.char) unsafe.Pointer {
	_, e, ok := lookup(opaque)
	if !ok {
		setLastError(errNotOpen)
		return nil
	}
	f, err := e.b.GetFactory(context.Background(), C.GoString(factoryID))
	if err != nil {
		setLastError(err)
		return nil
	}
	setLastError(nil)
	return unsafe.Pointer(cgo.NewHandle(f))
}

//export lastError
func lastError() *C.char {
	errMu.Lock()
	defer errMu.Unlock()
	if lastErr == "" {
		return nil
	}
	return C.CString(lastErr)
}

var errNotOpen = &notOpenError{}

type notOpenError struct{}

func (*notOpenError) Error() string { return "capi: opaque handle is not a live bridge" }
