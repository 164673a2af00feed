package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os/exec"
)

// DecodeFile runs FFmpeg to decode an audio file to mono float samples at
// SampleRate.
func DecodeFile(ctx context.Context, path string) ([]Sample, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", path,
		"-f", "f32le",
		"-acodec", "pcm_f32le",
		"-ar", "48000",
		"-ac", "1",
		"-loglevel", "error",
		"pipe:1",
	)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode %s: %w", path, err)
	}

	return BytesToSamples(out), nil
}

// BytesToSamples converts little-endian f32 bytes into samples. Trailing
// bytes that do not form a whole sample are ignored.
func BytesToSamples(b []byte) []Sample {
	samples := make([]Sample, len(b)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4 : i*4+4]))
	}
	return samples
}
