package gate

import "time"

// Detector is a voice-activity detector with hysteresis over raw amplitude
// observations. It debounces flicker across the gate threshold so the
// animation state machine only sees stable activity edges: a few frames of
// speech to start, a sustained quiet window to stop.
//
// Like Smoother, one Detector serves one audio source and is driven by the
// connection's event loop only.
type Detector struct {
	cfg DetectorConfig

	active       bool
	activeCount  int
	silenceCount int
}

// DetectorConfig controls activity detection thresholds.
type DetectorConfig struct {
	// ActivateThreshold is the amplitude at or above which a frame counts
	// as speech (default: the gate threshold).
	ActivateThreshold float64

	// ReleaseThreshold is the amplitude below which a frame counts as
	// silence. Keeping it under ActivateThreshold prevents flicker.
	ReleaseThreshold float64

	// ActivateFrames is how many consecutive speech frames switch the
	// detector on (default 3, ~50 ms at 60 Hz).
	ActivateFrames int

	// ReleaseAfter is the quiet window before the detector switches off
	// (default 2500 ms, within the 2-3 s debounce the renderer expects).
	ReleaseAfter time.Duration

	// FrameInterval is the observation cadence used to convert
	// ReleaseAfter into a frame count (default ~16.7 ms, 60 Hz).
	FrameInterval time.Duration
}

// DefaultDetectorConfig returns thresholds matched to DefaultConfig's gate.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		ActivateThreshold: 0.1,
		ReleaseThreshold:  0.08,
		ActivateFrames:    3,
		ReleaseAfter:      2500 * time.Millisecond,
		FrameInterval:     time.Second / 60,
	}
}

// NewDetector creates a Detector. Zero-valued config fields take defaults.
func NewDetector(cfg DetectorConfig) *Detector {
	def := DefaultDetectorConfig()
	if cfg.ActivateThreshold <= 0 {
		cfg.ActivateThreshold = def.ActivateThreshold
	}
	if cfg.ReleaseThreshold <= 0 || cfg.ReleaseThreshold > cfg.ActivateThreshold {
		cfg.ReleaseThreshold = cfg.ActivateThreshold * 0.8
	}
	if cfg.ActivateFrames <= 0 {
		cfg.ActivateFrames = def.ActivateFrames
	}
	if cfg.ReleaseAfter <= 0 {
		cfg.ReleaseAfter = def.ReleaseAfter
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = def.FrameInterval
	}
	return &Detector{cfg: cfg}
}

// releaseFrames converts the quiet window into a consecutive frame count.
func (d *Detector) releaseFrames() int {
	n := int(d.cfg.ReleaseAfter / d.cfg.FrameInterval)
	if n < 1 {
		n = 1
	}
	return n
}

// Observe feeds one raw amplitude observation and reports whether the
// activity state changed on this frame.
func (d *Detector) Observe(amplitude float64) (changed bool) {
	if d.active {
		if amplitude < d.cfg.ReleaseThreshold {
			d.silenceCount++
			if d.silenceCount >= d.releaseFrames() {
				d.active = false
				d.silenceCount = 0
				return true
			}
		} else {
			d.silenceCount = 0
		}
		return false
	}

	if amplitude >= d.cfg.ActivateThreshold {
		d.activeCount++
		if d.activeCount >= d.cfg.ActivateFrames {
			d.active = true
			d.activeCount = 0
			return true
		}
	} else {
		d.activeCount = 0
	}
	return false
}

// Active reports whether speech is currently detected.
func (d *Detector) Active() bool { return d.active }

// Reset clears all hysteresis state.
func (d *Detector) Reset() {
	d.active = false
	d.activeCount = 0
	d.silenceCount = 0
}
