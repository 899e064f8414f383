package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

// sineWave produces n samples of a sine at the given frequency and rate,
// encoded as S16LE bytes.
func sineWave(n int, freq, rate float64, amplitude int16) []byte {
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		s := int16(float64(amplitude) * math.Sin(2*math.Pi*freq*float64(i)/rate))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func samplesOf(buf []byte) []int16 {
	out := make([]int16, len(buf)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
	}
	return out
}

func TestUpsample2xLength(t *testing.T) {
	in := sineWave(160, 400, 8000, 8000)
	out, err := Upsample2x(in)
	if err != nil {
		t.Fatalf("Upsample2x: %v", err)
	}
	if len(out) != len(in)*2 {
		t.Errorf("got %d bytes, want %d", len(out), len(in)*2)
	}
}

func TestUpsample2xMidpoints(t *testing.T) {
	in := make([]byte, 6)
	for i, v := range []int16{100, -300, 500} {
		binary.LittleEndian.PutUint16(in[i*2:], uint16(v))
	}

	out, err := Upsample2x(in)
	if err != nil {
		t.Fatalf("Upsample2x: %v", err)
	}

	got := samplesOf(out)
	want := []int16{100, -100, -300, 100, 500, 500}
	if len(got) != len(want) {
		t.Fatalf("got %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestDownsamplePartialWindow(t *testing.T) {
	// 5 samples at ratio 3: one full window, one partial of 2.
	in := make([]byte, 10)
	vals := []int16{300, 600, 900, -100, -300}
	for i, v := range vals {
		binary.LittleEndian.PutUint16(in[i*2:], uint16(v))
	}

	out, err := Downsample(in, 3)
	if err != nil {
		t.Fatalf("Downsample: %v", err)
	}

	got := samplesOf(out)
	want := []int16{600, -200}
	if len(got) != len(want) {
		t.Fatalf("got %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestUpsampleDownsampleRoundTripRMS(t *testing.T) {
	// A 200Hz tone at 8kHz, upsampled x2 then decimated back, should stay
	// close to the original. Linear interpolation plus window averaging
	// loses a little high-frequency energy, so allow a modest RMS bound.
	in := sineWave(800, 200, 8000, 10000)

	up, err := Upsample2x(in)
	if err != nil {
		t.Fatalf("Upsample2x: %v", err)
	}
	down, err := Downsample(up, 2)
	if err != nil {
		t.Fatalf("Downsample: %v", err)
	}
	if len(down) != len(in) {
		t.Fatalf("round trip length: got %d, want %d", len(down), len(in))
	}

	orig := samplesOf(in)
	rt := samplesOf(down)

	var sumSq float64
	for i := range orig {
		d := float64(orig[i]) - float64(rt[i])
		sumSq += d * d
	}
	rms := math.Sqrt(sumSq / float64(len(orig)))

	// 5% of full amplitude.
	if limit := 500.0; rms > limit {
		t.Errorf("round trip RMS error %.1f exceeds %.1f", rms, limit)
	}
}

func TestUlawRoundTripQuantization(t *testing.T) {
	// Mu-law is logarithmic: quantization error grows with magnitude.
	// decode(encode(x)) must stay within the step size for x's segment,
	// which is bounded by |x|/16 + a small constant for G.711.
	for _, v := range []int16{0, 1, -1, 63, -64, 1000, -1000, 8000, -8000, 30000, -30000, 32635, -32635} {
		in := make([]byte, 2)
		binary.LittleEndian.PutUint16(in, uint16(v))

		enc, err := EncodeUlaw(in)
		if err != nil {
			t.Fatalf("EncodeUlaw(%d): %v", v, err)
		}
		if len(enc) != 1 {
			t.Fatalf("EncodeUlaw(%d): got %d bytes, want 1", v, len(enc))
		}

		dec, err := DecodeUlaw(enc)
		if err != nil {
			t.Fatalf("DecodeUlaw(%d): %v", v, err)
		}
		got := int16(binary.LittleEndian.Uint16(dec))

		bound := int32(v)/16 + 64
		if bound < 0 {
			bound = -bound
		}
		diff := int32(v) - int32(got)
		if diff < 0 {
			diff = -diff
		}
		if diff > bound {
			t.Errorf("value %d: decoded %d, error %d exceeds bound %d", v, got, diff, bound)
		}
	}
}

func TestUlawEncodeDecodeEncodeStable(t *testing.T) {
	// Once a sample has passed through the codec, re-encoding the decoded
	// value reproduces the same mu-law byte.
	for b := 0; b < 256; b++ {
		dec, err := DecodeUlaw([]byte{byte(b)})
		if err != nil {
			t.Fatalf("DecodeUlaw(0x%02x): %v", b, err)
		}
		re, err := EncodeUlaw(dec)
		if err != nil {
			t.Fatalf("EncodeUlaw after decode 0x%02x: %v", b, err)
		}
		redec, err := DecodeUlaw(re)
		if err != nil {
			t.Fatalf("DecodeUlaw(re) 0x%02x: %v", b, err)
		}
		if dec[0] != redec[0] || dec[1] != redec[1] {
			t.Errorf("byte 0x%02x: decode not stable across re-encode", b)
		}
	}
}

func TestSwapBytes(t *testing.T) {
	in := []byte{0x01, 0x02, 0xAA, 0xBB}
	out, err := SwapBytes(in)
	if err != nil {
		t.Fatalf("SwapBytes: %v", err)
	}
	want := []byte{0x02, 0x01, 0xBB, 0xAA}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("byte %d: got 0x%02x, want 0x%02x", i, out[i], want[i])
		}
	}

	back, err := SwapBytes(out)
	if err != nil {
		t.Fatalf("SwapBytes back: %v", err)
	}
	for i := range in {
		if back[i] != in[i] {
			t.Errorf("double swap changed byte %d", i)
		}
	}
}

func TestErrorsOnBadInput(t *testing.T) {
	if _, err := Upsample2x(nil); err == nil {
		t.Error("Upsample2x(nil): expected error")
	}
	if _, err := Upsample2x([]byte{0x01}); err == nil {
		t.Error("Upsample2x(odd): expected error")
	}
	if _, err := Downsample(nil, 3); err == nil {
		t.Error("Downsample(nil): expected error")
	}
	if _, err := Downsample([]byte{0, 0}, 0); err == nil {
		t.Error("Downsample(ratio 0): expected error")
	}
	if _, err := EncodeUlaw([]byte{0x01}); err == nil {
		t.Error("EncodeUlaw(odd): expected error")
	}
	if _, err := DecodeUlaw(nil); err == nil {
		t.Error("DecodeUlaw(nil): expected error")
	}
	if _, err := SwapBytes([]byte{0x01}); err == nil {
		t.Error("SwapBytes(odd): expected error")
	}
}
