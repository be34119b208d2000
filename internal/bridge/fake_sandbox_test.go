package bridge

import (
	"context"
	"fmt"

	"github.com/wclap-bridge/wclap-bridge-go/internal/abi"
	"github.com/wclap-bridge/wclap-bridge-go/internal/instance"
)

// fakeSandbox mirrors internal/marshal's fakeCaller: a linear growable
// byte slice standing in for sandbox memory, plus a function-table
// simulation (indexFuncs) and a host-function registry (hostFuncs) so
// tests can drive the bridge without wazero. It satisfies Sandbox
// structurally, the same role arena.Caller's fake plays for Arena.
type fakeSandbox struct {
	mem       []byte
	watermark uint32

	globals    map[string]uint64
	indexFuncs map[uint64]func(args []uint64) []uint64
	hostFuncs  []instance.HostFunc

	poisoned bool
	err      error
}

func newFakeSandbox() *fakeSandbox {
	return &fakeSandbox{
		mem:        make([]byte, 0),
		globals:    map[string]uint64{},
		indexFuncs: map[uint64]func(args []uint64) []uint64{},
	}
}

var _ Sandbox = (*fakeSandbox)(nil)

func (f *fakeSandbox) Call(ctx context.Context, funcName string, args ...uint64) ([]uint64, error) {
	return nil, fmt.Errorf("fakeSandbox: Call(%q) not modeled", funcName)
}

func (f *fakeSandbox) CallIndex(ctx context.Context, idx uint64, args ...uint64) ([]uint64, error) {
	fn, ok := f.indexFuncs[idx]
	if !ok {
		return nil, fmt.Errorf("fakeSandbox: no function registered at index %d", idx)
	}
	return fn(args), nil
}

func (f *fakeSandbox) Malloc(ctx context.Context, size uint32) (abi.Ptr, error) {
	ptr := f.watermark
	f.watermark += size
	if uint32(len(f.mem)) < f.watermark {
		grown := make([]byte, f.watermark)
		copy(grown, f.mem)
		f.mem = grown
	}
	return abi.Ptr(ptr), nil
}

func (f *fakeSandbox) ReadMemory(p abi.Ptr, length uint32) ([]byte, error) {
	if uint32(len(f.mem)) < uint32(p)+length {
		return nil, fmt.Errorf("fakeSandbox: read out of bounds")
	}
	return f.mem[p : uint32(p)+length], nil
}

func (f *fakeSandbox) WriteMemory(p abi.Ptr, data []byte) error {
	end := uint32(p) + uint32(len(data))
	if uint32(len(f.mem)) < end {
		grown := make([]byte, end)
		copy(grown, f.mem)
		f.mem = grown
	}
	copy(f.mem[p:], data)
	return nil
}

func (f *fakeSandbox) MemorySize() uint32 { return uint32(len(f.mem)) }

func (f *fakeSandbox) ReadGlobal(name string) (uint64, error) {
	v, ok := f.globals[name]
	if !ok {
		return 0, fmt.Errorf("fakeSandbox: no global %q", name)
	}
	return v, nil
}

func (f *fakeSandbox) RegisterHostFunction(fn instance.HostFunc) uint32 {
	f.hostFuncs = append(f.hostFuncs, fn)
	return uint32(len(f.hostFuncs) - 1)
}

func (f *fakeSandbox) Poisoned() bool { return f.poisoned }
func (f *fakeSandbox) Err() error     { return f.err }

// callHostFunc invokes a previously-registered trampoline directly, the
// way a real sandbox call would reach it through the wazero import.
func (f *fakeSandbox) callHostFunc(idx uint32, args []uint64) []uint64 {
	return f.hostFuncs[idx](context.Background(), nil, args)
}
