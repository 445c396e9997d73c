// Package audio is an umbrella for the audio analysis sub-packages:
//
//   - feature: perceptual feature extraction (amplitude, dominant
//     frequency, harmonic bands) for visual feedback
//   - gate: noise gate, smoothing, and voice-activity detection
//   - resampler: sample-rate conversion between capture and model rates
package audio
