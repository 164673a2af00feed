package audio

import "encoding/binary"

// ToPCM converts a mono float block into interleaved stereo int16 PCM,
// clipping to the int16 range. dst is reused when it has enough capacity.
func ToPCM(dst []int16, block []Sample) []int16 {
	if cap(dst) < len(block)*MonitorChannels {
		dst = make([]int16, len(block)*MonitorChannels)
	}
	dst = dst[:len(block)*MonitorChannels]

	for i, s := range block {
		v := float64(s) * 32767
		// Clip to int16 range
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		for c := 0; c < MonitorChannels; c++ {
			dst[i*MonitorChannels+c] = int16(v)
		}
	}
	return dst
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
