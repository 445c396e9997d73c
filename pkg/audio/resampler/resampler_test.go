package resampler_test

import (
	"math"
	"testing"

	"github.com/lumenkind/sona/pkg/audio/resampler"
)

func sine(rate, freq, n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(0.5 * 32767 * math.Sin(2*math.Pi*float64(freq)*float64(i)/float64(rate)))
	}
	return out
}

func TestNewValidation(t *testing.T) {
	if _, err := resampler.New(0, 48000); err == nil {
		t.Fatal("expected error for zero source rate")
	}
	if _, err := resampler.New(24000, -1); err == nil {
		t.Fatal("expected error for negative destination rate")
	}
}

func TestPassthrough(t *testing.T) {
	r, err := resampler.New(48000, 48000)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	in := sine(48000, 440, 480)
	out, err := r.Process(in)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("passthrough changed length: %d -> %d", len(in), len(out))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("passthrough changed sample %d", i)
		}
	}
}

// Upsampling 24 kHz model audio to the 48 kHz analysis rate roughly
// doubles the sample count once the filter has warmed up.
func TestUpsampleRatio(t *testing.T) {
	r, err := resampler.New(24000, 48000)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var inTotal, outTotal int
	for i := 0; i < 20; i++ {
		in := sine(24000, 440, 240)
		out, err := r.Process(in)
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		inTotal += len(in)
		outTotal += len(out)
	}

	ratio := float64(outTotal) / float64(inTotal)
	if ratio < 1.8 || ratio > 2.2 {
		t.Fatalf("ratio = %v, want ~2.0 (in %d, out %d)", ratio, inTotal, outTotal)
	}
}

func TestProcessEmptyChunk(t *testing.T) {
	r, err := resampler.New(24000, 48000)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := r.Process(nil)
	if err != nil {
		t.Fatalf("Process(nil): %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("Process(nil) produced %d samples", len(out))
	}
}

func TestDownmix(t *testing.T) {
	stereo := []int16{100, 200, -100, -200, 32767, 32767, 5}
	mono := resampler.Downmix(stereo)
	want := []int16{150, -150, 32767}
	if len(mono) != len(want) {
		t.Fatalf("len = %d, want %d", len(mono), len(want))
	}
	for i := range want {
		if mono[i] != want[i] {
			t.Fatalf("mono[%d] = %d, want %d", i, mono[i], want[i])
		}
	}
}
