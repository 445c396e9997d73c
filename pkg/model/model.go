// Package model adapts a realtime speech-to-speech model session to the
// relay. The transport speaks the realtime events protocol over a
// websocket; the relay consumes a reduced event stream carrying only what
// drives animation state and transcript assembly.
package model

import "context"

// EventType classifies stream events.
type EventType int

const (
	// EventProcessingStarted fires when the model begins generating a
	// response to committed input.
	EventProcessingStarted EventType = iota

	// EventAudioDelta carries one chunk of model speech audio, 24 kHz
	// mono s16le PCM.
	EventAudioDelta

	// EventAudioDone fires when the model's speech for one response has
	// fully arrived.
	EventAudioDone

	// EventUserTranscript carries the transcription of one user turn.
	EventUserTranscript

	// EventAssistantTranscript carries a fragment of the assistant's
	// spoken text.
	EventAssistantTranscript

	// EventError carries a transport or model failure. The stream is
	// unusable afterward.
	EventError
)

// Event is one reduced stream event.
type Event struct {
	Type  EventType
	Audio []byte
	Text  string
	Err   error
}

// Stream is a live model session. One stream serves one audio
// connection; it is not shared.
type Stream interface {
	// AppendAudio forwards user microphone audio to the model,
	// 24 kHz mono s16le PCM.
	AppendAudio(pcm []byte) error

	// CommitInput marks the end of the user's turn and requests a
	// response.
	CommitInput() error

	// CancelResponse interrupts the in-flight response, used on barge-in.
	CancelResponse() error

	// Events returns the reduced event stream. The channel closes when
	// the session ends; an EventError is always the final event on
	// failure.
	Events() <-chan Event

	// Close tears down the session.
	Close() error
}

// Dialer opens model streams. The relay holds a Dialer so tests can
// substitute a fake without a network.
type Dialer interface {
	Dial(ctx context.Context) (Stream, error)
}
