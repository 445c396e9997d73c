// Package therapy defines the domain records for therapeutic sessions:
// users, sessions, emotional state captures, summaries, and
// recommendations. Records are msgpack-encoded for persistence and
// json-tagged for the relay protocol.
//
// Emotional-state values are self-reported 0-10 scalars, not diagnostic
// measurements.
package therapy

import "time"

// Mood scale bounds for all self-reported scalars.
const (
	MoodScaleMin = 0
	MoodScaleMax = 10
)

// EmotionalState captures self-reported state at session boundaries.
// Initial fields are required at session start; final fields are added at
// completion.
type EmotionalState struct {
	InitialMood          int      `json:"initialMood" msgpack:"im"`
	FinalMood            *int     `json:"finalMood,omitempty" msgpack:"fm,omitempty"`
	StressLevel          int      `json:"stressLevel" msgpack:"sl"`
	AnxietyLevel         int      `json:"anxietyLevel" msgpack:"al"`
	CalmingEffectiveness *int     `json:"calmingEffectiveness,omitempty" msgpack:"ce,omitempty"`
	DominantEmotions     []string `json:"dominantEmotions,omitempty" msgpack:"de,omitempty"`
}

// ValidScale reports whether v is within the self-report scale.
func ValidScale(v int) bool {
	return v >= MoodScaleMin && v <= MoodScaleMax
}

// TherapeuticMetrics holds numeric voice-quality and engagement fields
// accumulated over one session.
type TherapeuticMetrics struct {
	VoiceStability    float64 `json:"voiceStability" msgpack:"vs"`
	SpeechPaceWPM     float64 `json:"speechPaceWpm" msgpack:"sp"`
	SilenceRatio      float64 `json:"silenceRatio" msgpack:"sr"`
	EngagementScore   float64 `json:"engagementScore" msgpack:"es"`
	InterruptionCount int     `json:"interruptionCount" msgpack:"ic"`
}

// EncryptedTranscript is the persisted form of a session transcript. Data
// is the encoded encryption envelope (nonce || tag || ciphertext); the
// algorithm tag and key version are stored out of band from the byte
// string so keys can rotate without reparsing old envelopes.
type EncryptedTranscript struct {
	Algorithm  string `json:"algorithm" msgpack:"alg"`
	KeyVersion int    `json:"keyVersion" msgpack:"kv"`
	Data       string `json:"data" msgpack:"d"`
}

// Summary is the derived conversation summary: advisory data, safe to
// replace with a neutral default when derivation fails.
type Summary struct {
	Text              string   `json:"text" msgpack:"t"`
	Topics            []string `json:"topics,omitempty" msgpack:"tp,omitempty"`
	EmotionalInsights []string `json:"emotionalInsights,omitempty" msgpack:"ei,omitempty"`
	ProgressNotes     []string `json:"progressNotes,omitempty" msgpack:"pn,omitempty"`
	Challenges        []string `json:"challenges,omitempty" msgpack:"ch,omitempty"`
	Breakthroughs     []string `json:"breakthroughs,omitempty" msgpack:"bt,omitempty"`
}

// Recommendation is one next-session suggestion.
type Recommendation struct {
	Kind string `json:"kind" msgpack:"k"`
	Text string `json:"text" msgpack:"t"`
}

// Session is one bounded therapeutic interaction. It is created at session
// start with no end time, mutated exactly once at completion, and never
// thereafter. The session orchestrator is its sole owner.
//
// Invariant: EndTime is set if and only if DurationSeconds and
// Emotional.FinalMood are set.
type Session struct {
	ID              string              `json:"sessionId" msgpack:"id"`
	UserID          string              `json:"userId" msgpack:"uid"`
	StartTime       time.Time           `json:"startTime" msgpack:"st"`
	EndTime         *time.Time          `json:"endTime,omitempty" msgpack:"et,omitempty"`
	DurationSeconds *int                `json:"durationSeconds,omitempty" msgpack:"ds,omitempty"`
	Emotional       EmotionalState      `json:"emotionalState" msgpack:"em"`
	Transcript      EncryptedTranscript `json:"transcriptCiphertext" msgpack:"tc"`
	Summary         *Summary            `json:"conversationSummary,omitempty" msgpack:"cs,omitempty"`
	Metrics         TherapeuticMetrics  `json:"therapeuticMetrics" msgpack:"tm"`
	Theme           string              `json:"theme" msgpack:"th"`
	Abandoned       bool                `json:"abandoned,omitempty" msgpack:"ab,omitempty"`
}

// Completed reports whether the session reached atomic completion.
func (s *Session) Completed() bool {
	return s.EndTime != nil && s.DurationSeconds != nil && s.Emotional.FinalMood != nil
}

// Preferences holds theme and accessibility settings for a user.
type Preferences struct {
	Theme           string `json:"theme,omitempty" msgpack:"th,omitempty"`
	ReducedMotion   bool   `json:"reducedMotion,omitempty" msgpack:"rm,omitempty"`
	CaptionsEnabled bool   `json:"captionsEnabled,omitempty" msgpack:"ce,omitempty"`
}

// User is created on first contact. TotalSessions and LastActiveAt are
// maintained by the continuity engine after each completed session.
type User struct {
	ID            string      `json:"userId" msgpack:"id"`
	IsAnonymous   bool        `json:"isAnonymous" msgpack:"an"`
	Preferences   Preferences `json:"preferences" msgpack:"pr"`
	TotalSessions int         `json:"totalSessions" msgpack:"ts"`
	LastActiveAt  time.Time   `json:"lastActiveAt" msgpack:"la"`
	CreatedAt     time.Time   `json:"createdAt" msgpack:"ca"`
}
