package bridge

import (
	"context"
	"encoding/binary"

	"github.com/wclap-bridge/wclap-bridge-go/internal/abi"
	"github.com/wclap-bridge/wclap-bridge-go/internal/arena"
	"github.com/wclap-bridge/wclap-bridge-go/internal/instance"
	"github.com/wclap-bridge/wclap-bridge-go/internal/marshal"
)

// HostCallbacks is what a Plugin's embedder implements to receive three
// of the four host-proxy callbacks the sandbox can invoke (spec §4.F
// "Plugin creation": "trampoline indices for request_restart,
// request_process, request_callback, get_extension"). The fourth,
// get_extension, is answered by the bridge itself and returns null.
type HostCallbacks interface {
	RequestRestart()
	RequestProcess()
	RequestCallback()
}

// hostProxyNameBytes bounds the four informational strings written into
// every host proxy (name/vendor/url/version); these are read by a
// plugin's UI, never by bridge logic, so a generous shared bound is
// fine.
const hostProxyNameBytes = 128

// hostTrampolineCount is the number of host-callable function-table
// slots a host proxy exposes, in the order written by buildHostProxy:
// get_extension, request_restart, request_process, request_callback.
const hostTrampolineCount = 4

// ensureHostTrampolines registers the four host-callback trampolines on
// sandbox once, returning their dispatch indices in host proxy field
// order. Registration must happen before any host proxy referencing
// them is built, and only once per Instance (RegisterHostFunction's own
// determinism contract — spec §4.C).
func (b *Bridge) ensureHostTrampolines(sandbox Sandbox) [hostTrampolineCount]uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cached, ok := b.trampolineIdx[sandbox]; ok {
		return cached
	}
	if b.trampolineIdx == nil {
		b.trampolineIdx = map[Sandbox][hostTrampolineCount]uint32{}
	}

	var idx [hostTrampolineCount]uint32
	idx[0] = sandbox.RegisterHostFunction(func(ctx context.Context, inst *instance.Instance, args []uint64) []uint64 {
		return []uint64{0} // host exposes no host-side extensions
	})
	idx[1] = sandbox.RegisterHostFunction(func(ctx context.Context, inst *instance.Instance, args []uint64) []uint64 {
		b.dispatchHostCallback(args, func(h HostCallbacks) { h.RequestRestart() })
		return nil
	})
	idx[2] = sandbox.RegisterHostFunction(func(ctx context.Context, inst *instance.Instance, args []uint64) []uint64 {
		b.dispatchHostCallback(args, func(h HostCallbacks) { h.RequestProcess() })
		return nil
	})
	idx[3] = sandbox.RegisterHostFunction(func(ctx context.Context, inst *instance.Instance, args []uint64) []uint64 {
		b.dispatchHostCallback(args, func(h HostCallbacks) { h.RequestCallback() })
		return nil
	})

	b.trampolineIdx[sandbox] = idx
	return idx
}

// dispatchHostCallback resolves args[0] (the host-proxy pointer the
// sandbox passed back to itself) to the owning Plugin via hostSlots and
// invokes fn on its HostCallbacks, ignoring calls from a proxy pointer
// that no longer resolves (already destroyed, or a forged value).
func (b *Bridge) dispatchHostCallback(args []uint64, fn func(HostCallbacks)) {
	if len(args) == 0 {
		return
	}
	hostPtr := abi.Ptr(args[0])
	v, err := b.Translator.ReadWord(b.Main, hostPtr.Add(hostProxyHostDataOffset))
	if err != nil {
		return
	}
	idx := uint32(marshal.CastCookieFromSandbox(v, b.Translator.Width))
	p, ok := b.resolveHostSlot(idx)
	if !ok {
		return
	}
	fn(p.host)
}

// hostProxyHostDataOffset is the host_data field's offset within a host
// proxy: right after the inline version triple.
const hostProxyHostDataOffset = entryVersionBytes

// buildHostProxy assembles a clap_host-shaped struct in scope's arena:
// version triple, host_data (the Plugin's IndexLookup slot index,
// width-cast per spec §9), four informational string pointers, and the
// four trampoline indices in clap_host's public field order
// (get_extension, request_restart, request_process, request_callback).
// The struct is this bridge's own bespoke layout beyond the version
// triple — spec.md defers the exact shape to "the ABI header set",
// which is not part of the delivered materials, so every field below
// occupies one sandbox word (or, for the version triple, 12 fixed
// bytes) rather than mirroring any real packed-C layout.
func (b *Bridge) buildHostProxy(ctx context.Context, s *arena.Scope, slotIndex uint32) (abi.Ptr, error) {
	ws := b.Translator.Width.Size()
	tramp := b.ensureHostTrampolines(b.Main)

	namePtr, err := s.WriteString(ctx, "wclap-bridge", hostProxyNameBytes)
	if err != nil {
		return 0, err
	}
	vendorPtr, err := s.WriteString(ctx, "wclap-bridge", hostProxyNameBytes)
	if err != nil {
		return 0, err
	}
	urlPtr, err := s.WriteString(ctx, "", hostProxyNameBytes)
	if err != nil {
		return 0, err
	}
	versionPtr, err := s.WriteString(ctx, "1.0.0", hostProxyNameBytes)
	if err != nil {
		return 0, err
	}

	total := entryVersionBytes + ws*uint32(5+hostTrampolineCount)
	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[0:4], 1)
	binary.LittleEndian.PutUint32(buf[4:8], 2)
	binary.LittleEndian.PutUint32(buf[8:12], 0)

	off := uint32(entryVersionBytes)
	cookie := marshal.CastCookieToSandbox(abi.Cookie(slotIndex), b.Translator.Width)
	b.Translator.PutWord(buf, off, cookie)
	off += ws
	b.Translator.PutWord(buf, off, uint64(namePtr))
	off += ws
	b.Translator.PutWord(buf, off, uint64(vendorPtr))
	off += ws
	b.Translator.PutWord(buf, off, uint64(urlPtr))
	off += ws
	b.Translator.PutWord(buf, off, uint64(versionPtr))
	off += ws
	for _, idx := range tramp {
		b.Translator.PutWord(buf, off, uint64(idx))
		off += ws
	}

	return s.CopyAcross(ctx, buf)
}
