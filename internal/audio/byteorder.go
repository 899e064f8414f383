package audio

import "fmt"

// SwapBytes flips the endianness of every 16-bit sample in the buffer and
// returns a new slice. The raw framed telephony transport carries big-endian
// PCM on the wire while the DSP routines expect little-endian.
func SwapBytes(in []byte) ([]byte, error) {
	if len(in)%2 != 0 {
		return nil, fmt.Errorf("byteswap: odd byte count %d", len(in))
	}
	out := make([]byte, len(in))
	for i := 0; i < len(in); i += 2 {
		out[i] = in[i+1]
		out[i+1] = in[i]
	}
	return out, nil
}
