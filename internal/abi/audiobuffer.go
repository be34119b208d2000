package abi

// AudioBuffer mirrors clap_audio_buffer: two optional channel-pointer
// arrays (32-bit and 64-bit float), a channel count, latency, and a
// constant-value bitmask. Exactly one of Data32/Data64 is populated on
// the native side per spec §4.E class 7.
type AudioBuffer struct {
	Data32       [][]float32 // len(Data32) == ChannelCount when populated
	Data64       [][]float64 // len(Data64) == ChannelCount when populated
	ChannelCount uint32
	Latency      uint32
	ConstantMask uint64
}

// FramesCount returns the number of samples per channel, or 0 if the
// buffer carries no channels.
func (b AudioBuffer) FramesCount() int {
	switch {
	case len(b.Data32) > 0:
		return len(b.Data32[0])
	case len(b.Data64) > 0:
		return len(b.Data64[0])
	default:
		return 0
	}
}

// ClipOutputs applies the soft output limiter (spec §4.E "Audio buffer
// checking"): any sample whose magnitude is not strictly below
// OutputClipThreshold — including NaN and +/-Inf — is replaced with 0.
func (b AudioBuffer) ClipOutputs() {
	for _, ch := range b.Data32 {
		for i, v := range ch {
			if !(absFloat32(v) < OutputClipThreshold) {
				ch[i] = 0
			}
		}
	}
	for _, ch := range b.Data64 {
		for i, v := range ch {
			if !(absFloat64(v) < OutputClipThreshold) {
				ch[i] = 0
			}
		}
	}
}

func absFloat32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

func absFloat64(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
