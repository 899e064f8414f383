// Package audio provides the pure sample-rate and encoding conversions used
// on the packet-processing path. Every function is stateless so conversions
// can run inline in a session goroutine without synchronization.
package audio

import (
	"encoding/binary"
	"fmt"
)

// Upsample2x doubles the sample rate of 16-bit S16LE mono PCM by inserting
// the integer average of each adjacent pair between them. The last sample
// is duplicated. Used for the 8kHz call leg -> 16kHz upstream direction.
func Upsample2x(in []byte) ([]byte, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("upsample: empty buffer")
	}
	if len(in)%2 != 0 {
		return nil, fmt.Errorf("upsample: odd byte count %d", len(in))
	}

	inSamples := len(in) / 2
	out := make([]byte, inSamples*2*2)

	for i := 0; i < inSamples; i++ {
		s0 := readSample(in, i)
		s1 := s0
		if i+1 < inSamples {
			s1 = readSample(in, i+1)
		}
		mid := int16((int32(s0) + int32(s1)) / 2)

		binary.LittleEndian.PutUint16(out[i*4:], uint16(s0))
		binary.LittleEndian.PutUint16(out[i*4+2:], uint16(mid))
	}

	return out, nil
}

// Downsample reduces the sample rate of 16-bit S16LE mono PCM by the given
// integer ratio, averaging each ratio-sized window into one output sample.
// Averaging rather than plain decimation keeps aliasing artifacts down on
// speech. A final partial window is averaged over however many samples remain.
func Downsample(in []byte, ratio int) ([]byte, error) {
	if ratio <= 0 {
		return nil, fmt.Errorf("downsample: invalid ratio %d", ratio)
	}
	if len(in) == 0 {
		return nil, fmt.Errorf("downsample: empty buffer")
	}
	if len(in)%2 != 0 {
		return nil, fmt.Errorf("downsample: odd byte count %d", len(in))
	}

	inSamples := len(in) / 2
	outSamples := (inSamples + ratio - 1) / ratio
	out := make([]byte, outSamples*2)

	for i := 0; i < outSamples; i++ {
		start := i * ratio
		end := start + ratio
		if end > inSamples {
			end = inSamples
		}

		var sum int32
		for j := start; j < end; j++ {
			sum += int32(readSample(in, j))
		}
		avg := int16(sum / int32(end-start))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(avg))
	}

	return out, nil
}

func readSample(buf []byte, idx int) int16 {
	return int16(binary.LittleEndian.Uint16(buf[idx*2:]))
}
