package audio

import (
	"fmt"

	"github.com/zaf/g711"
)

// EncodeUlaw compresses 16-bit S16LE mono PCM to 8-bit G.711 mu-law.
// Output is half the input length.
func EncodeUlaw(pcm []byte) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("ulaw encode: empty buffer")
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("ulaw encode: odd byte count %d", len(pcm))
	}
	return g711.EncodeUlaw(pcm), nil
}

// DecodeUlaw expands 8-bit G.711 mu-law to 16-bit S16LE mono PCM.
// Output is twice the input length.
func DecodeUlaw(ulaw []byte) ([]byte, error) {
	if len(ulaw) == 0 {
		return nil, fmt.Errorf("ulaw decode: empty buffer")
	}
	return g711.DecodeUlaw(ulaw), nil
}
