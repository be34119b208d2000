package bridge

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/wclap-bridge/wclap-bridge-go/internal/abi"
	"github.com/wclap-bridge/wclap-bridge-go/internal/arena"
	"github.com/wclap-bridge/wclap-bridge-go/internal/instance"
	"github.com/wclap-bridge/wclap-bridge-go/internal/marshal"
)

// ProcessStatus mirrors clap_process_status's public values.
type ProcessStatus int32

const (
	ProcessError              ProcessStatus = 0
	ProcessContinue           ProcessStatus = 1
	ProcessContinueIfNotQuiet ProcessStatus = 2
	ProcessTail               ProcessStatus = 3
	ProcessSleep              ProcessStatus = 4
)

// ProcessBlock is one process() call's native-side inputs.
type ProcessBlock struct {
	FramesCount  uint32
	SteadyTime   int64
	Transport    *abi.TransportEvent
	AudioIn      []abi.AudioBuffer
	AudioOut     []abi.AudioBuffer
	InputEvents  []any
}

// ProcessResult is one process() call's native-side outputs. AudioOut
// carries the post-process, clipped sample data (spec §8 "Output
// clipping"); OutputEvents are in sandbox emission order (spec §5).
type ProcessResult struct {
	AudioOut     []abi.AudioBuffer
	OutputEvents []any
	Status       ProcessStatus
}

// processState is the per-call state the host-side input/output event
// list trampolines consult. Only one process() call is ever in flight
// per Instance (the Instance lock serializes it, recursion notwithstanding
// — spec §5), so a single pending state per Sandbox is sufficient.
type processState struct {
	inPtrs []abi.Ptr
	out    []any
}

const processTrampolineCount = 3 // in.size, in.get, out.try_push

// ensureProcessTrampolines registers the three event-list callback
// trampolines on sandbox once; see hostproxy.go's ensureHostTrampolines
// for why this must happen at most once per Instance.
func (b *Bridge) ensureProcessTrampolines(sandbox Sandbox) [processTrampolineCount]uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cached, ok := b.procTrampIdx[sandbox]; ok {
		return cached
	}
	if b.procTrampIdx == nil {
		b.procTrampIdx = map[Sandbox][processTrampolineCount]uint32{}
	}

	var idx [processTrampolineCount]uint32
	idx[0] = sandbox.RegisterHostFunction(func(ctx context.Context, inst *instance.Instance, args []uint64) []uint64 {
		st := b.activeProcessState(sandbox)
		if st == nil {
			return []uint64{0}
		}
		return []uint64{uint64(len(st.inPtrs))}
	})
	idx[1] = sandbox.RegisterHostFunction(func(ctx context.Context, inst *instance.Instance, args []uint64) []uint64 {
		st := b.activeProcessState(sandbox)
		if st == nil || len(args) < 2 {
			return []uint64{0}
		}
		i := int(args[1])
		if i < 0 || i >= len(st.inPtrs) {
			return []uint64{0}
		}
		return []uint64{uint64(st.inPtrs[i])}
	})
	idx[2] = sandbox.RegisterHostFunction(func(ctx context.Context, inst *instance.Instance, args []uint64) []uint64 {
		st := b.activeProcessState(sandbox)
		if st == nil || len(args) < 2 {
			return []uint64{0}
		}
		sink := &processEventSink{}
		if err := b.Translator.PushOutputEvent(sandbox, abi.Ptr(args[1]), sink); err != nil {
			return []uint64{0}
		}
		st.out = append(st.out, sink.events...)
		return []uint64{1}
	})

	b.procTrampIdx[sandbox] = idx
	return idx
}

type processEventSink struct{ events []any }

func (s *processEventSink) PushEvent(e any) { s.events = append(s.events, e) }

func (b *Bridge) setProcessState(sandbox Sandbox, st *processState) {
	b.procMu.Lock()
	defer b.procMu.Unlock()
	if b.procState == nil {
		b.procState = map[Sandbox]*processState{}
	}
	b.procState[sandbox] = st
}

func (b *Bridge) clearProcessState(sandbox Sandbox) {
	b.procMu.Lock()
	defer b.procMu.Unlock()
	delete(b.procState, sandbox)
}

func (b *Bridge) activeProcessState(sandbox Sandbox) *processState {
	b.procMu.Lock()
	defer b.procMu.Unlock()
	return b.procState[sandbox]
}

// Process translates block into the sandbox's process() call and
// translates its audio/event output back (spec §4.F, §5, §8 scenarios
// 2-3). Legal only in StateProcessing.
func (p *Plugin) Process(ctx context.Context, block ProcessBlock) (ProcessResult, error) {
	p.mu.Lock()
	if p.state != StateProcessing {
		st := p.state
		p.mu.Unlock()
		return ProcessResult{}, fmt.Errorf("bridge: process called in state %s", st)
	}
	p.mu.Unlock()

	tramp := p.b.ensureProcessTrampolines(p.audio)

	a := p.audioPool.Get()
	scope := a.OpenScope()
	defer func() {
		scope.Drop()
		p.audioPool.Put(a)
	}()

	inPtrs := make([]abi.Ptr, 0, len(block.InputEvents))
	for _, e := range block.InputEvents {
		encoded, err := marshal.EncodeEvent(e)
		if err != nil {
			return ProcessResult{}, err
		}
		ptr, err := scope.CopyAcross(ctx, encoded)
		if err != nil {
			return ProcessResult{}, err
		}
		inPtrs = append(inPtrs, ptr)
	}

	st := &processState{inPtrs: inPtrs}
	p.b.setProcessState(p.audio, st)
	defer p.b.clearProcessState(p.audio)

	var transportPtr abi.Ptr
	if block.Transport != nil {
		tbytes, err := marshal.EncodeEvent(*block.Transport)
		if err != nil {
			return ProcessResult{}, err
		}
		transportPtr, err = scope.CopyAcross(ctx, tbytes)
		if err != nil {
			return ProcessResult{}, err
		}
	}

	inBufPtrs, err := p.writeBuffers(ctx, scope, block.AudioIn)
	if err != nil {
		return ProcessResult{}, err
	}
	outBufPtrs, err := p.writeBuffers(ctx, scope, block.AudioOut)
	if err != nil {
		return ProcessResult{}, err
	}

	ws := p.b.Translator.Width.Size()
	inEventsPtr, err := p.buildWordStruct(ctx, scope, []uint64{0, uint64(tramp[0]), uint64(tramp[1])})
	if err != nil {
		return ProcessResult{}, err
	}
	outEventsPtr, err := p.buildWordStruct(ctx, scope, []uint64{0, uint64(tramp[2])})
	if err != nil {
		return ProcessResult{}, err
	}

	procPtr, err := p.buildProcessStruct(ctx, scope, block, transportPtr, inBufPtrs, outBufPtrs, inEventsPtr, outEventsPtr, ws)
	if err != nil {
		return ProcessResult{}, err
	}

	res, err := p.audio.CallIndex(ctx, p.vtable.processIdx, uint64(p.ptr), uint64(procPtr))
	if err != nil {
		return ProcessResult{}, err
	}
	status := ProcessStatus(int32(res[0]))

	outBuffers := make([]abi.AudioBuffer, len(outBufPtrs))
	for i, ptr := range outBufPtrs {
		buf, err := p.b.Translator.ReadAudioBuffer(p.audio, ptr, int(block.FramesCount))
		if err != nil {
			return ProcessResult{}, err
		}
		buf.ClipOutputs()
		outBuffers[i] = buf
	}

	return ProcessResult{AudioOut: outBuffers, OutputEvents: st.out, Status: status}, nil
}

func (p *Plugin) writeBuffers(ctx context.Context, scope *arena.Scope, bufs []abi.AudioBuffer) ([]abi.Ptr, error) {
	ptrs := make([]abi.Ptr, 0, len(bufs))
	for _, buf := range bufs {
		ptr, err := p.b.Translator.WriteAudioBuffer(ctx, scope, buf)
		if err != nil {
			return nil, err
		}
		ptrs = append(ptrs, ptr)
	}
	return ptrs, nil
}

// buildWordStruct assembles a contiguous struct of n sandbox words, used
// for the bespoke event-list structs (see the EntryRecord doc comment in
// entry.go for why these layouts are this bridge's own, not a mirror of
// any external header).
func (p *Plugin) buildWordStruct(ctx context.Context, scope *arena.Scope, words []uint64) (abi.Ptr, error) {
	ws := p.b.Translator.Width.Size()
	buf := make([]byte, uint32(len(words))*ws)
	for i, w := range words {
		p.b.Translator.PutWord(buf, uint32(i)*ws, w)
	}
	return scope.CopyAcross(ctx, buf)
}

func (p *Plugin) buildPtrArray(ctx context.Context, scope *arena.Scope, ptrs []abi.Ptr) (abi.Ptr, error) {
	words := make([]uint64, len(ptrs))
	for i, ptr := range ptrs {
		words[i] = uint64(ptr)
	}
	return p.buildWordStruct(ctx, scope, words)
}

func (p *Plugin) buildProcessStruct(ctx context.Context, scope *arena.Scope, block ProcessBlock, transportPtr abi.Ptr, inBufPtrs, outBufPtrs []abi.Ptr, inEventsPtr, outEventsPtr abi.Ptr, ws uint32) (abi.Ptr, error) {
	inArrPtr, err := p.buildPtrArray(ctx, scope, inBufPtrs)
	if err != nil {
		return 0, err
	}
	outArrPtr, err := p.buildPtrArray(ctx, scope, outBufPtrs)
	if err != nil {
		return 0, err
	}

	total := 20 + 5*ws
	buf := make([]byte, total)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(block.SteadyTime))
	binary.LittleEndian.PutUint32(buf[8:12], block.FramesCount)

	off := uint32(12)
	p.b.Translator.PutWord(buf, off, uint64(transportPtr))
	off += ws
	p.b.Translator.PutWord(buf, off, uint64(inArrPtr))
	off += ws
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(inBufPtrs)))
	off += 4
	p.b.Translator.PutWord(buf, off, uint64(outArrPtr))
	off += ws
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(outBufPtrs)))
	off += 4
	p.b.Translator.PutWord(buf, off, uint64(inEventsPtr))
	off += ws
	p.b.Translator.PutWord(buf, off, uint64(outEventsPtr))

	return scope.CopyAcross(ctx, buf)
}
