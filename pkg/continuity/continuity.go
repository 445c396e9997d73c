// Package continuity derives cross-session trend signals for a user:
// mood trend, attendance consistency, and a personalized greeting. All of
// its outputs are advisory. Callers treat a continuity failure as a
// degraded read, never as a fatal error.
package continuity

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/lumenkind/sona/pkg/therapy"
	"github.com/lumenkind/sona/pkg/therapy/repo"
)

// MoodTrend classifies the short moving average of recent mood deltas.
type MoodTrend string

const (
	TrendImproving MoodTrend = "improving"
	TrendStable    MoodTrend = "stable"
	TrendDeclining MoodTrend = "declining"
)

// Trend computation constants.
const (
	// trendWindow is how many recent completed sessions feed the moving
	// average of mood deltas.
	trendWindow = 5

	// trendThreshold is the mean mood delta beyond which the trend leaves
	// the stable band. Deltas are on the 0-10 self-report scale.
	trendThreshold = 0.5

	// engagementWeight splits the consistency score between attendance
	// regularity and in-session engagement.
	engagementWeight = 0.3
)

// Progress holds the derived trend signals for one user.
type Progress struct {
	MoodTrend MoodTrend `json:"moodTrend"`
	// ConsistencyScore is in [0, 1]. More regular attendance and higher
	// engagement always raise it.
	ConsistencyScore float64 `json:"consistencyScore"`
}

// Context is everything the session orchestrator needs to personalize a
// new session for a user.
type Context struct {
	User            *therapy.User `json:"user"`
	IsReturning     bool          `json:"isReturningUser"`
	TotalSessions   int           `json:"totalSessions"`
	Progress        Progress      `json:"recentProgress"`
	Recommendations []string      `json:"recommendations,omitempty"`
	Greeting        string        `json:"personalizedGreeting"`
}

// Engine reads prior sessions and maintains the per-user progress fields.
type Engine struct {
	repo *repo.Repo
	log  *slog.Logger
	now  func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the engine's logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// New creates an Engine over the given repository.
func New(r *repo.Repo, opts ...Option) *Engine {
	e := &Engine{repo: r, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	e.log = e.log.With("component", "continuity")
	return e
}

// GetUserContext loads the user and computes trend signals from their
// recent sessions. Errors wrap therapy.ErrAdvisory except for the missing
// user, which wraps repo.ErrNotFound.
func (e *Engine) GetUserContext(ctx context.Context, userID string) (*Context, error) {
	user, err := e.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("continuity: get user: %w", err)
	}

	sessions, err := e.repo.SessionsByUser(ctx, userID, trendWindow)
	if err != nil {
		return nil, fmt.Errorf("continuity: %w: recent sessions: %v", therapy.ErrAdvisory, err)
	}

	progress := deriveProgress(sessions)
	uc := &Context{
		User:            user,
		IsReturning:     user.TotalSessions > 0,
		TotalSessions:   user.TotalSessions,
		Progress:        progress,
		Recommendations: recommendFocus(progress, user.TotalSessions),
		Greeting:        greeting(user, progress),
	}
	return uc, nil
}

// UpdateUserProgress records a completed session's outcome on the user:
// it bumps totalSessions and lastActiveAt. The summary parameter is
// accepted so future trend inputs can be captured without an interface
// change; the trend itself is recomputed from session records on read.
func (e *Engine) UpdateUserProgress(ctx context.Context, userID, sessionID string, summary *therapy.Summary) error {
	user, err := e.repo.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("continuity: update progress: %w", err)
	}
	user.TotalSessions++
	user.LastActiveAt = e.now()
	if err := e.repo.PutUser(ctx, user); err != nil {
		return fmt.Errorf("continuity: update progress: %w", err)
	}
	e.log.Debug("progress updated",
		"user", userID, "session", sessionID, "totalSessions", user.TotalSessions)
	return nil
}

// deriveProgress computes the mood trend and consistency score from the
// user's recent sessions, newest first.
func deriveProgress(sessions []*therapy.Session) Progress {
	p := Progress{MoodTrend: TrendStable}

	var deltas []float64
	for _, s := range sessions {
		if !s.Completed() {
			continue
		}
		deltas = append(deltas, float64(*s.Emotional.FinalMood-s.Emotional.InitialMood))
	}
	if len(deltas) > 0 {
		var sum float64
		for _, d := range deltas {
			sum += d
		}
		mean := sum / float64(len(deltas))
		switch {
		case mean > trendThreshold:
			p.MoodTrend = TrendImproving
		case mean < -trendThreshold:
			p.MoodTrend = TrendDeclining
		}
	}

	p.ConsistencyScore = consistencyScore(sessions)
	return p
}

// consistencyScore maps attendance regularity and engagement into [0, 1].
// Regularity is the inverse of the standard deviation of session-to-session
// gaps measured in days, so evenly spaced sessions score higher than
// clustered ones regardless of the absolute cadence. Engagement is the mean
// of the per-session engagement metric.
func consistencyScore(sessions []*therapy.Session) float64 {
	if len(sessions) == 0 {
		return 0
	}

	var engagement float64
	for _, s := range sessions {
		engagement += clamp01(s.Metrics.EngagementScore)
	}
	engagement /= float64(len(sessions))

	if len(sessions) < 2 {
		return (1 - engagementWeight) + engagementWeight*engagement
	}

	gaps := make([]float64, 0, len(sessions)-1)
	for i := 0; i < len(sessions)-1; i++ {
		// Sessions arrive newest first.
		gap := sessions[i].StartTime.Sub(sessions[i+1].StartTime).Hours() / 24
		gaps = append(gaps, gap)
	}
	var mean float64
	for _, g := range gaps {
		mean += g
	}
	mean /= float64(len(gaps))
	var variance float64
	for _, g := range gaps {
		variance += (g - mean) * (g - mean)
	}
	variance /= float64(len(gaps))
	regularity := 1 / (1 + math.Sqrt(variance))

	return (1-engagementWeight)*regularity + engagementWeight*engagement
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// recommendFocus derives focus suggestions for the next session from the
// trend signals.
func recommendFocus(p Progress, totalSessions int) []string {
	var recs []string
	switch p.MoodTrend {
	case TrendImproving:
		recs = append(recs, "keep building on what has been working in recent sessions")
	case TrendDeclining:
		recs = append(recs, "consider shorter, more frequent check-ins for a while")
	}
	if totalSessions >= 2 && p.ConsistencyScore < 0.3 {
		recs = append(recs, "a steadier session rhythm may help progress settle in")
	}
	return recs
}

// greeting builds the opening line for the session, calibrated to how well
// the system knows the user.
func greeting(user *therapy.User, p Progress) string {
	if user.TotalSessions == 0 {
		return "Welcome. This is a space to talk at your own pace."
	}
	switch p.MoodTrend {
	case TrendImproving:
		return "Welcome back. Things have been trending up lately, let's keep that going."
	case TrendDeclining:
		return "Welcome back. The last few sessions sounded heavier, so we can take it slowly today."
	default:
		return "Welcome back. Good to hear from you again."
	}
}
