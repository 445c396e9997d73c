// Package anim tracks the visual animation state of one live connection:
// whether the companion is idle, listening, processing, speaking, or in an
// error state.
//
// The machine records requested transitions immediately and publishes them
// on a bounded channel. Consumers performing visual interpolation must
// treat every transition as taking at least Config.MinTransition; the
// machine never requires that dwell itself. Rapid flicker across the voice
// gate is debounced upstream by the gate package, not here.
package anim

import "encoding/json"

// State is the animation state of a connection. Exactly one state is
// current at any time.
type State int

const (
	StateIdle State = iota
	StateListening
	StateProcessing
	StateSpeaking
	StateError
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *State) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	switch name {
	case "idle":
		*s = StateIdle
	case "listening":
		*s = StateListening
	case "processing":
		*s = StateProcessing
	case "speaking":
		*s = StateSpeaking
	case "error":
		*s = StateError
	default:
		*s = StateIdle
	}
	return nil
}
