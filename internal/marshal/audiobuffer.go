package marshal

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/wclap-bridge/wclap-bridge-go/internal/abi"
	"github.com/wclap-bridge/wclap-bridge-go/internal/arena"
)

// audio buffer field offsets: data32 ptr, data64 ptr, channel_count
// (u32), latency (u32), constant_mask (u64) — two optional
// channel-pointer arrays followed by three fixed scalars (spec §4.E
// class 7).
func (t Translator) audioBufferFieldOffsets() (data32, data64, channelCount, latency, constantMask uint32) {
	w := t.Width.Size()
	data32 = 0
	data64 = w
	channelCount = 2 * w
	latency = channelCount + 4
	constantMask = latency + 4
	return
}

// ReadAudioBuffer translates one clap_audio_buffer out of sandbox
// memory. framesCount is the number of samples per channel, carried
// separately by process() rather than the buffer itself.
func (t Translator) ReadAudioBuffer(r MemoryReader, ptr abi.Ptr, framesCount int) (abi.AudioBuffer, error) {
	var buf abi.AudioBuffer
	if ptr.IsNull() {
		return buf, nil
	}

	data32Off, data64Off, channelCountOff, latencyOff, constantMaskOff := t.audioBufferFieldOffsets()

	data32Ptr, err := t.readWordAt(r, ptr.Add(data32Off))
	if err != nil {
		return buf, err
	}
	data64Ptr, err := t.readWordAt(r, ptr.Add(data64Off))
	if err != nil {
		return buf, err
	}

	ccBytes, err := r.ReadMemory(ptr.Add(channelCountOff), 4)
	if err != nil {
		return buf, err
	}
	buf.ChannelCount = binary.LittleEndian.Uint32(ccBytes)

	latBytes, err := r.ReadMemory(ptr.Add(latencyOff), 4)
	if err != nil {
		return buf, err
	}
	buf.Latency = binary.LittleEndian.Uint32(latBytes)

	cmBytes, err := r.ReadMemory(ptr.Add(constantMaskOff), 8)
	if err != nil {
		return buf, err
	}
	buf.ConstantMask = binary.LittleEndian.Uint64(cmBytes)

	if data32Ptr != 0 {
		chans, err := t.readChannels32(r, abi.Ptr(data32Ptr), buf.ChannelCount, framesCount)
		if err != nil {
			return buf, err
		}
		buf.Data32 = chans
	}
	if data64Ptr != 0 {
		chans, err := t.readChannels64(r, abi.Ptr(data64Ptr), buf.ChannelCount, framesCount)
		if err != nil {
			return buf, err
		}
		buf.Data64 = chans
	}
	return buf, nil
}

func (t Translator) readChannels32(r MemoryReader, arrayPtr abi.Ptr, channelCount uint32, framesCount int) ([][]float32, error) {
	out := make([][]float32, channelCount)
	for ch := uint32(0); ch < channelCount; ch++ {
		chPtrWord, err := t.readWordAt(r, arrayPtr.Add(ch*t.Width.Size()))
		if err != nil {
			return nil, fmt.Errorf("marshal: reading float32 channel %d pointer: %w", ch, err)
		}
		b, err := r.ReadMemory(abi.Ptr(chPtrWord), uint32(framesCount)*4)
		if err != nil {
			return nil, fmt.Errorf("marshal: reading float32 channel %d samples: %w", ch, err)
		}
		samples := make([]float32, framesCount)
		for i := range samples {
			samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
		}
		out[ch] = samples
	}
	return out, nil
}

func (t Translator) readChannels64(r MemoryReader, arrayPtr abi.Ptr, channelCount uint32, framesCount int) ([][]float64, error) {
	out := make([][]float64, channelCount)
	for ch := uint32(0); ch < channelCount; ch++ {
		chPtrWord, err := t.readWordAt(r, arrayPtr.Add(ch*t.Width.Size()))
		if err != nil {
			return nil, fmt.Errorf("marshal: reading float64 channel %d pointer: %w", ch, err)
		}
		b, err := r.ReadMemory(abi.Ptr(chPtrWord), uint32(framesCount)*8)
		if err != nil {
			return nil, fmt.Errorf("marshal: reading float64 channel %d samples: %w", ch, err)
		}
		samples := make([]float64, framesCount)
		for i := range samples {
			samples[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
		}
		out[ch] = samples
	}
	return out, nil
}

// WriteAudioBuffer allocates per-channel arrays in s and writes a
// clap_audio_buffer struct pointing at them (the reverse direction,
// used to hand host-owned audio into the sandbox for process()).
func (t Translator) WriteAudioBuffer(ctx context.Context, s *arena.Scope, buf abi.AudioBuffer) (abi.Ptr, error) {
	data32Off, data64Off, channelCountOff, latencyOff, constantMaskOff := t.audioBufferFieldOffsets()
	total := constantMaskOff + 8
	out := make([]byte, total)

	var data32Ptr, data64Ptr abi.Ptr
	var err error
	if len(buf.Data32) > 0 {
		data32Ptr, err = t.writeChannels32(ctx, s, buf.Data32)
		if err != nil {
			return 0, err
		}
	}
	if len(buf.Data64) > 0 {
		data64Ptr, err = t.writeChannels64(ctx, s, buf.Data64)
		if err != nil {
			return 0, err
		}
	}

	copy(out[data32Off:], t.writeWord(uint64(data32Ptr)))
	copy(out[data64Off:], t.writeWord(uint64(data64Ptr)))
	binary.LittleEndian.PutUint32(out[channelCountOff:], buf.ChannelCount)
	binary.LittleEndian.PutUint32(out[latencyOff:], buf.Latency)
	binary.LittleEndian.PutUint64(out[constantMaskOff:], buf.ConstantMask)

	return s.CopyAcross(ctx, out)
}

func (t Translator) writeChannels32(ctx context.Context, s *arena.Scope, chans [][]float32) (abi.Ptr, error) {
	ptrs := make([]abi.Ptr, len(chans))
	for i, ch := range chans {
		b := make([]byte, len(ch)*4)
		for j, v := range ch {
			binary.LittleEndian.PutUint32(b[j*4:], math.Float32bits(v))
		}
		p, err := s.CopyAcross(ctx, b)
		if err != nil {
			return 0, err
		}
		ptrs[i] = p
	}
	return t.writePointerArray(ctx, s, ptrs)
}

func (t Translator) writeChannels64(ctx context.Context, s *arena.Scope, chans [][]float64) (abi.Ptr, error) {
	ptrs := make([]abi.Ptr, len(chans))
	for i, ch := range chans {
		b := make([]byte, len(ch)*8)
		for j, v := range ch {
			binary.LittleEndian.PutUint64(b[j*8:], math.Float64bits(v))
		}
		p, err := s.CopyAcross(ctx, b)
		if err != nil {
			return 0, err
		}
		ptrs[i] = p
	}
	return t.writePointerArray(ctx, s, ptrs)
}

func (t Translator) writePointerArray(ctx context.Context, s *arena.Scope, ptrs []abi.Ptr) (abi.Ptr, error) {
	buf := make([]byte, uint32(len(ptrs))*t.Width.Size())
	for i, p := range ptrs {
		copy(buf[uint32(i)*t.Width.Size():], t.writeWord(uint64(p)))
	}
	return s.CopyAcross(ctx, buf)
}
