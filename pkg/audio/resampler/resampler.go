// Package resampler converts model speech audio (24 kHz mono) to the
// analysis rate used by the feature pipeline. It operates on int16 sample
// slices in memory, never on I/O streams, so it is safe to call from the
// per-frame render path.
package resampler

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resampler converts mono 16-bit audio between sample rates. Not safe for
// concurrent use; each audio connection owns its own instance.
type Resampler struct {
	srcRate int
	dstRate int
	inner   resampling.Resampler

	in  []float64
	out []int16
}

// New creates a mono resampler from srcRate to dstRate. Equal rates yield
// a passthrough.
func New(srcRate, dstRate int) (*Resampler, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("resampler: rates must be positive, got %d -> %d", srcRate, dstRate)
	}
	r := &Resampler{srcRate: srcRate, dstRate: dstRate}
	if srcRate != dstRate {
		inner, err := resampling.New(&resampling.Config{
			InputRate:  float64(srcRate),
			OutputRate: float64(dstRate),
			Channels:   1,
			Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
		})
		if err != nil {
			return nil, fmt.Errorf("resampler: %w", err)
		}
		r.inner = inner
	}
	return r, nil
}

// Process converts one chunk of mono samples to the destination rate. The
// returned slice is reused across calls; callers must not retain it.
func (r *Resampler) Process(samples []int16) ([]int16, error) {
	if r.inner == nil {
		return samples, nil
	}
	if len(samples) == 0 {
		return nil, nil
	}

	if cap(r.in) < len(samples) {
		r.in = make([]float64, len(samples))
	}
	r.in = r.in[:len(samples)]
	for i, s := range samples {
		r.in[i] = float64(s) / 32768.0
	}

	out, err := r.inner.Process(r.in)
	if err != nil {
		return nil, fmt.Errorf("resampler: process: %w", err)
	}

	if cap(r.out) < len(out) {
		r.out = make([]int16, len(out))
	}
	r.out = r.out[:len(out)]
	for i, s := range out {
		switch {
		case s >= 1.0:
			r.out[i] = 32767
		case s <= -1.0:
			r.out[i] = -32768
		default:
			r.out[i] = int16(s * 32767.0)
		}
	}
	return r.out, nil
}

// Downmix averages interleaved stereo 16-bit samples into mono. A
// trailing odd sample is dropped.
func Downmix(stereo []int16) []int16 {
	mono := make([]int16, len(stereo)/2)
	for i := range mono {
		l := int32(stereo[i*2])
		r := int32(stereo[i*2+1])
		mono[i] = int16((l + r) / 2)
	}
	return mono
}
