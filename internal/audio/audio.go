package audio

import "time"

// Sample is a single mono audio value.
type Sample = float32

const (
	SampleRate   = 48000
	TickRate     = 100                    // engine ticks per second
	TickDuration = time.Second / TickRate // 10ms
	BlockSize    = SampleRate / TickRate  // samples per terminal per tick

	// Monitor output is duplicated to stereo for listeners.
	MonitorChannels = 2
	MonitorSamples  = BlockSize * MonitorChannels // interleaved int16 samples per block
)

// NewBlock allocates one zeroed sample block.
func NewBlock() []Sample {
	return make([]Sample, BlockSize)
}

// Fill writes v into every sample of block.
func Fill(block []Sample, v Sample) {
	for i := range block {
		block[i] = v
	}
}

// Peak returns the largest absolute sample value in block.
func Peak(block []Sample) Sample {
	var peak Sample
	for _, s := range block {
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}
