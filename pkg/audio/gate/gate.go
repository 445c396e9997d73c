// Package gate smooths raw feature vectors over time and suppresses
// extraction noise below a gated threshold.
//
// One Smoother serves one audio source (user microphone or remote-model
// audio) and must not be shared across sources or connections. Process never
// fails: out-of-range input is clamped, never propagated as an error, so the
// consuming renderer always has a usable vector.
package gate

import (
	"fmt"
	"math"

	"github.com/lumenkind/sona/pkg/audio/feature"
)

// Config controls smoothing and gating behavior. Alphas are chosen fast
// enough to feel responsive and slow enough to avoid visual jitter.
type Config struct {
	// Smoothing factors per field, each in (0, 1].
	AmplitudeAlpha float64 // default 0.1
	FrequencyAlpha float64 // default 0.15
	HarmonicAlpha  float64 // default 0.2

	// Threshold is the gate level as an absolute amplitude. Smoothed
	// amplitude below it snaps to the baseline amplitude. It must sit
	// above Baseline.Amplitude so the idle vector itself stays gated.
	Threshold float64 // default 0.1 (10% of unit scale)

	// TransitionBand is the width above Threshold over which output blends
	// linearly from baseline to the smoothed value. The blend keeps the
	// output continuous; a hard cut would read as a jarring jump.
	TransitionBand float64 // default 0.04

	// Baseline is the idle vector, normally Extractor.Baseline().
	Baseline feature.Vector

	// MaxAmplitude bounds clamping of raw input (default 1.0).
	MaxAmplitude float64
}

// DefaultConfig returns standard smoothing parameters for the given
// baseline vector.
func DefaultConfig(baseline feature.Vector) Config {
	return Config{
		AmplitudeAlpha: 0.1,
		FrequencyAlpha: 0.15,
		HarmonicAlpha:  0.2,
		Threshold:      0.1,
		TransitionBand: 0.05,
		Baseline:       baseline,
		MaxAmplitude:   1.0,
	}
}

func (c Config) validate() error {
	for _, a := range []struct {
		name string
		v    float64
	}{
		{"AmplitudeAlpha", c.AmplitudeAlpha},
		{"FrequencyAlpha", c.FrequencyAlpha},
		{"HarmonicAlpha", c.HarmonicAlpha},
	} {
		if a.v <= 0 || a.v > 1 {
			return fmt.Errorf("gate: %s %g outside (0, 1]", a.name, a.v)
		}
	}
	if c.Threshold < 0 {
		return fmt.Errorf("gate: Threshold must not be negative, got %g", c.Threshold)
	}
	if c.TransitionBand < 0 {
		return fmt.Errorf("gate: TransitionBand must not be negative, got %g", c.TransitionBand)
	}
	if c.MaxAmplitude <= 0 {
		return fmt.Errorf("gate: MaxAmplitude must be positive, got %g", c.MaxAmplitude)
	}
	if c.Baseline.Amplitude > c.Threshold {
		return fmt.Errorf("gate: baseline amplitude %g above threshold %g", c.Baseline.Amplitude, c.Threshold)
	}
	return nil
}

// Smoother applies per-field exponential smoothing and the noise gate.
// Not safe for concurrent use; the owning connection's event loop is the
// single writer.
type Smoother struct {
	cfg    Config
	cur    feature.Vector
	primed bool
}

// NewSmoother creates a Smoother with the given config.
func NewSmoother(cfg Config) (*Smoother, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Smoother{cfg: cfg}, nil
}

// Current returns the last smoothed vector, or the baseline before the
// first Process call.
func (s *Smoother) Current() feature.Vector {
	if !s.primed {
		return s.cfg.Baseline
	}
	return s.cur
}

// Reset clears smoothing state back to the baseline.
func (s *Smoother) Reset() {
	s.cur = feature.Vector{}
	s.primed = false
}

// Process smooths a raw vector and applies the noise gate. Malformed input
// values are clamped silently; Process never panics.
func (s *Smoother) Process(raw feature.Vector) feature.Vector {
	raw = s.sanitize(raw)

	if !s.primed {
		// First observation seeds the filter from the baseline so the
		// trajectory starts continuous rather than jumping to raw.
		s.cur = s.cfg.Baseline
		s.primed = true
	}

	a := s.cfg.AmplitudeAlpha
	s.cur.Amplitude = s.cur.Amplitude*(1-a) + raw.Amplitude*a

	f := s.cfg.FrequencyAlpha
	s.cur.DominantFrequencyHz = s.cur.DominantFrequencyHz*(1-f) + raw.DominantFrequencyHz*f

	h := s.cfg.HarmonicAlpha
	for i := range s.cur.HarmonicBands {
		s.cur.HarmonicBands[i] = s.cur.HarmonicBands[i]*(1-h) + raw.HarmonicBands[i]*h
	}

	s.cur.SmoothedAmplitude = s.gateAmplitude(s.cur.Amplitude)
	out := s.cur
	return out
}

// gateAmplitude snaps sub-threshold amplitude to the baseline and blends
// linearly across the transition band above it.
func (s *Smoother) gateAmplitude(amp float64) float64 {
	base := s.cfg.Baseline.Amplitude
	th := s.cfg.Threshold
	band := s.cfg.TransitionBand

	switch {
	case amp < th:
		return base
	case band > 0 && amp < th+band:
		t := (amp - th) / band
		return base*(1-t) + amp*t
	default:
		return amp
	}
}

// sanitize clamps raw fields into their valid ranges, replacing NaN/Inf
// with baseline values.
func (s *Smoother) sanitize(raw feature.Vector) feature.Vector {
	raw.Amplitude = clampOr(raw.Amplitude, 0, s.cfg.MaxAmplitude, s.cfg.Baseline.Amplitude)
	raw.DominantFrequencyHz = clampOr(raw.DominantFrequencyHz,
		feature.MinFrequencyHz, feature.MaxFrequencyHz, feature.BaselineFrequencyHz)
	for i := range raw.HarmonicBands {
		raw.HarmonicBands[i] = clampOr(raw.HarmonicBands[i], 0, 1, 0)
	}
	return raw
}

// clampOr clamps v into [lo, hi]; non-finite values become fallback.
func clampOr(v, lo, hi, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
