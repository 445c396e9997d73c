// Package feature converts fixed-size windows of audio samples into small
// perceptual feature vectors (amplitude, dominant frequency, harmonic bands)
// used to drive visual feedback.
//
// The extraction is tuned for visual smoothness, not acoustic accuracy:
// dominant frequency is a rough estimate (spectral peak or zero-crossing
// rate) and the harmonic bands are a coarse 8-segment energy profile for
// rendering wave complexity. None of this is suitable for acoustic
// classification.
//
// Default parameters match the browser analyser convention:
//
//	SampleRate:        48000
//	Gain:              1.0
//	MaxAmplitude:      1.0
//	BaselineAmplitude: 0.08
package feature

import (
	"fmt"
	"math"
)

// NumBands is the fixed number of harmonic band segments in a Vector.
const NumBands = 8

// Frequency clamp range in Hz. Estimates outside this range are pinned to
// the nearest bound so the renderer's mapping stays in a usable band.
const (
	MinFrequencyHz = 80.0
	MaxFrequencyHz = 2000.0

	// BaselineFrequencyHz is the dominant frequency reported when no
	// input is available.
	BaselineFrequencyHz = 440.0
)

// Vector is the per-tick numeric summary of an audio window.
// It is immutable once produced and never persisted.
type Vector struct {
	// Amplitude is the raw blended RMS/peak magnitude, in [0, MaxAmplitude].
	Amplitude float64 `json:"amplitude"`

	// DominantFrequencyHz is the estimated dominant frequency,
	// clamped to [MinFrequencyHz, MaxFrequencyHz].
	DominantFrequencyHz float64 `json:"dominantFrequencyHz"`

	// HarmonicBands is a coarse 8-segment energy profile in [0, 1].
	HarmonicBands [NumBands]float64 `json:"harmonicBands"`

	// SmoothedAmplitude is filled by the gate/smoother stage. Extractors
	// set it equal to Amplitude.
	SmoothedAmplitude float64 `json:"smoothedAmplitude"`
}

// Config controls feature extraction parameters.
type Config struct {
	SampleRate        int     // audio sample rate in Hz (default 48000)
	Gain              float64 // amplitude gain applied before capping (default 1.0)
	MaxAmplitude      float64 // amplitude cap (default 1.0)
	BaselineAmplitude float64 // idle amplitude reported with no input (default 0.08)
}

// DefaultConfig returns the standard config for browser analyser input.
func DefaultConfig() Config {
	return Config{
		SampleRate:        48000,
		Gain:              1.0,
		MaxAmplitude:      1.0,
		BaselineAmplitude: 0.08,
	}
}

// validate checks ranges at construction time.
func (c Config) validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("feature: SampleRate must be positive, got %d", c.SampleRate)
	}
	if c.Gain <= 0 {
		return fmt.Errorf("feature: Gain must be positive, got %g", c.Gain)
	}
	if c.MaxAmplitude <= 0 {
		return fmt.Errorf("feature: MaxAmplitude must be positive, got %g", c.MaxAmplitude)
	}
	if c.BaselineAmplitude < 0 || c.BaselineAmplitude > c.MaxAmplitude {
		return fmt.Errorf("feature: BaselineAmplitude %g outside [0, %g]", c.BaselineAmplitude, c.MaxAmplitude)
	}
	return nil
}

// Extractor computes feature vectors from audio windows.
// One Extractor serves one connection; it holds no per-call state and its
// methods are pure functions of their input.
type Extractor struct {
	cfg      Config
	baseline Vector
}

// New creates an Extractor with the given config.
func New(cfg Config) (*Extractor, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	e := &Extractor{cfg: cfg}
	e.baseline = Vector{
		Amplitude:           cfg.BaselineAmplitude,
		DominantFrequencyHz: BaselineFrequencyHz,
		SmoothedAmplitude:   cfg.BaselineAmplitude,
	}
	// Fixed decaying harmonic profile for the idle vector.
	for i := 0; i < NumBands; i++ {
		e.baseline.HarmonicBands[i] = cfg.BaselineAmplitude / float64(i+1)
	}
	return e, nil
}

// Config returns the extractor's configuration.
func (e *Extractor) Config() Config { return e.cfg }

// Baseline returns the fixed idle vector. Callers receive this whenever no
// input is available, so they never observe a zero vector.
func (e *Extractor) Baseline() Vector { return e.baseline }

// ExtractSpectrum computes a vector from spectral magnitudes, typically a
// live analyser's frequency-domain output normalized to [0, 1]. Bin i
// covers frequency i * nyquist / len(mag).
//
// Returns the baseline vector for empty input.
func (e *Extractor) ExtractSpectrum(mag []float32) Vector {
	if len(mag) == 0 {
		return e.baseline
	}

	v := Vector{}
	v.Amplitude = e.amplitude(mag)

	// Dominant frequency: strongest bin, skipping the first two bins to
	// avoid DC bias, mapped to Hz via the Nyquist limit.
	maxBin, maxMag := 2, float32(0)
	for i := 2; i < len(mag); i++ {
		if mag[i] > maxMag {
			maxMag = mag[i]
			maxBin = i
		}
	}
	nyquist := float64(e.cfg.SampleRate) / 2
	v.DominantFrequencyHz = clampFrequency(float64(maxBin) * nyquist / float64(len(mag)))

	// Harmonic bands: mean magnitude per equal segment, scaled by gain.
	seg := len(mag) / NumBands
	if seg == 0 {
		seg = 1
	}
	for b := 0; b < NumBands; b++ {
		start := b * seg
		if start >= len(mag) {
			break
		}
		end := start + seg
		if b == NumBands-1 || end > len(mag) {
			end = len(mag)
		}
		sum := 0.0
		for i := start; i < end; i++ {
			sum += float64(mag[i])
		}
		v.HarmonicBands[b] = clamp(sum/float64(end-start)*e.cfg.Gain, 0, 1)
	}

	v.SmoothedAmplitude = v.Amplitude
	return v
}

// ExtractSamples computes a vector from raw time-domain samples in [-1, 1],
// used for remote-model audio where no spectral data is available. Dominant
// frequency is estimated from the zero-crossing rate and the harmonic bands
// from per-segment variance.
//
// Returns the baseline vector for empty input.
func (e *Extractor) ExtractSamples(samples []float32) Vector {
	if len(samples) == 0 {
		return e.baseline
	}

	v := Vector{}
	v.Amplitude = e.amplitude(samples)

	// Zero-crossing frequency estimate: crossings/2 cycles over the window.
	crossings := 0
	for i := 1; i < len(samples); i++ {
		if (samples[i-1] < 0) != (samples[i] < 0) {
			crossings++
		}
	}
	est := float64(crossings) / 2 * float64(e.cfg.SampleRate) / float64(len(samples))
	v.DominantFrequencyHz = clampFrequency(est)

	// Per-segment variance, square-rooted so the profile tracks local
	// energy rather than raw spread.
	seg := len(samples) / NumBands
	if seg == 0 {
		seg = 1
	}
	for b := 0; b < NumBands; b++ {
		start := b * seg
		if start >= len(samples) {
			break
		}
		end := start + seg
		if b == NumBands-1 || end > len(samples) {
			end = len(samples)
		}
		mean := 0.0
		for i := start; i < end; i++ {
			mean += float64(samples[i])
		}
		mean /= float64(end - start)
		varSum := 0.0
		for i := start; i < end; i++ {
			d := float64(samples[i]) - mean
			varSum += d * d
		}
		v.HarmonicBands[b] = clamp(math.Sqrt(varSum/float64(end-start))*e.cfg.Gain, 0, 1)
	}

	v.SmoothedAmplitude = v.Amplitude
	return v
}

// ExtractInt16 is a convenience wrapper converting little-endian int16 PCM
// bytes to float32 samples before extraction.
func (e *Extractor) ExtractInt16(pcm []byte) Vector {
	n := len(pcm) / 2
	if n == 0 {
		return e.baseline
	}
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		samples[i] = float32(s) / 32768.0
	}
	return e.ExtractSamples(samples)
}

// amplitude blends RMS and peak magnitude over the buffer, applies gain and
// caps at MaxAmplitude.
func (e *Extractor) amplitude(buf []float32) float64 {
	sumSq, peak := 0.0, 0.0
	for _, s := range buf {
		f := math.Abs(float64(s))
		sumSq += f * f
		if f > peak {
			peak = f
		}
	}
	rms := math.Sqrt(sumSq / float64(len(buf)))
	a := (0.7*rms + 0.3*peak) * e.cfg.Gain
	return clamp(a, 0, e.cfg.MaxAmplitude)
}

func clampFrequency(hz float64) float64 {
	if math.IsNaN(hz) {
		return BaselineFrequencyHz
	}
	return clamp(hz, MinFrequencyHz, MaxFrequencyHz)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
