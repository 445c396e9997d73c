// Package relay is the websocket transport between clients and the
// session core. Each connection owns its feature pipeline and animation
// state machine; session operations are request/response pairs whose
// failures cross the boundary only as generic user-safe messages.
package relay

import (
	"encoding/json"
	"time"

	"github.com/lumenkind/sona/pkg/anim"
	"github.com/lumenkind/sona/pkg/audio/feature"
	"github.com/lumenkind/sona/pkg/therapy"
)

// Client request types. Binary websocket messages carry user microphone
// audio (s16le mono PCM at the configured sample rate) and have no JSON
// envelope.
const (
	TypeStartSession    = "startSession"
	TypeCompleteSession = "completeSession"
	TypeGetUserContext  = "getUserContext"
	TypeGetDashboard    = "getDashboard"
	TypeEndTurn         = "endTurn"
)

// Server message types.
const (
	TypeResponse   = "response"
	TypeFrame      = "frame"
	TypeTransition = "transition"
)

// ClientMessage is the envelope for client requests.
type ClientMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// StartSessionParams starts a session. An empty userId mints an anonymous
// user.
type StartSessionParams struct {
	UserID    string                 `json:"userId,omitempty"`
	Emotional therapy.EmotionalState `json:"emotionalState"`
}

// CompleteSessionParams completes a session. Transcript may be empty; the
// relay then uses the transcript it assembled from the model stream.
type CompleteSessionParams struct {
	SessionID  string                     `json:"sessionId"`
	UserID     string                     `json:"userId"`
	Transcript string                     `json:"transcript,omitempty"`
	Final      therapy.EmotionalState     `json:"finalEmotionalState"`
	Metrics    therapy.TherapeuticMetrics `json:"therapeuticMetrics"`
	Consent    bool                       `json:"userConsent"`
}

// UserParams addresses a request at one user.
type UserParams struct {
	UserID string `json:"userId"`
}

// Response answers one client request. Error carries only user-safe text.
type Response struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// Frame is one render-cadence delivery of smoothed features and the
// current animation state. The renderer interpolates transitions over
// MinTransitionMs; the relay never animates for it.
type Frame struct {
	Type            string         `json:"type"`
	Vector          feature.Vector `json:"vector"`
	State           anim.State     `json:"state"`
	MinTransitionMs int64          `json:"minTransitionMs"`
	At              time.Time      `json:"at"`
}

// TransitionNote notifies the client of one state machine transition.
type TransitionNote struct {
	Type string     `json:"type"`
	From anim.State `json:"from"`
	To   anim.State `json:"to"`
	At   time.Time  `json:"at"`
}
