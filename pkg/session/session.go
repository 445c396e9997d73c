// Package session orchestrates a therapeutic session's life from
// creation through completion. It is the only writer of session records:
// transcripts are encrypted at this boundary before persistence, summary
// derivation degrades to a fixed default on any failure, and completion
// is a single atomic record update.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lumenkind/sona/pkg/continuity"
	"github.com/lumenkind/sona/pkg/summarize"
	"github.com/lumenkind/sona/pkg/therapy"
	"github.com/lumenkind/sona/pkg/therapy/repo"
	"github.com/lumenkind/sona/pkg/vault"
)

// Visual themes, recommended at session start.
const (
	ThemeCalming   = "calming"
	ThemeUplifting = "uplifting"
	ThemeGentle    = "gentle"
	ThemeDefault   = "default"
)

// Theme rule thresholds on the 0-10 self-report scale.
const (
	highStressThreshold = 7
	lowMoodThreshold    = 4
)

// Evening window for the gentle-theme rule, in local hours.
const (
	eveningStartHour = 19
	eveningEndHour   = 6
)

// Config wires the orchestrator's dependencies.
type Config struct {
	Repo       *repo.Repo
	Vault      *vault.Service
	Continuity *continuity.Engine

	// Summarizer derives conversation summaries. Nil means every session
	// gets the default summary.
	Summarizer summarize.Summarizer

	// AbandonAfter is how long a session may stay open before the sweeper
	// finalizes it as abandoned. Defaults to 30 minutes.
	AbandonAfter time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

func (c *Config) validate() error {
	if c.Repo == nil {
		return fmt.Errorf("session: repo is required")
	}
	if c.Vault == nil {
		return fmt.Errorf("session: vault is required")
	}
	if c.Continuity == nil {
		return fmt.Errorf("session: continuity engine is required")
	}
	if c.AbandonAfter <= 0 {
		c.AbandonAfter = 30 * time.Minute
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Orchestrator owns session lifecycle operations. Independent sessions
// are fully independent; no cross-session locking exists here.
type Orchestrator struct {
	repo         *repo.Repo
	vault        *vault.Service
	continuity   *continuity.Engine
	summarizer   summarize.Summarizer
	abandonAfter time.Duration
	log          *slog.Logger
	now          func() time.Time
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Orchestrator{
		repo:         cfg.Repo,
		vault:        cfg.Vault,
		continuity:   cfg.Continuity,
		summarizer:   cfg.Summarizer,
		abandonAfter: cfg.AbandonAfter,
		log:          cfg.Logger.With("component", "session"),
		now:          cfg.Now,
	}, nil
}

// InitResult is the outcome of session initialization.
type InitResult struct {
	SessionID        string              `json:"sessionId"`
	UserContext      *continuity.Context `json:"userContext"`
	ContextSummary   string              `json:"personalizedContextSummary"`
	RecommendedTheme string              `json:"recommendedTheme"`
}

// InitializeSession creates a new session record for the user. An empty
// userID mints a new anonymous user. Continuity reads are advisory: if
// they fail the session still starts, with a neutral context.
func (o *Orchestrator) InitializeSession(ctx context.Context, userID string, initial therapy.EmotionalState) (*InitResult, error) {
	if !therapy.ValidScale(initial.InitialMood) ||
		!therapy.ValidScale(initial.StressLevel) ||
		!therapy.ValidScale(initial.AnxietyLevel) {
		return nil, fmt.Errorf("session: %w: emotional state out of 0-10 scale", therapy.ErrValidation)
	}

	user, err := o.ensureUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	uc, err := o.continuity.GetUserContext(ctx, user.ID)
	if err != nil {
		o.log.Warn("continuity context unavailable", "user", user.ID, "error", err)
		uc = &continuity.Context{
			User:     user,
			Progress: continuity.Progress{MoodTrend: continuity.TrendStable},
			Greeting: "Welcome. This is a space to talk at your own pace.",
		}
	}

	sess := &therapy.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		StartTime: o.now(),
		Emotional: initial,
		Theme:     o.recommendTheme(initial, user),
	}
	if err := o.repo.PutSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("session: %w: create session: %v", therapy.ErrTransient, err)
	}

	o.log.Info("session started",
		"session", sess.ID, "user", user.ID, "theme", sess.Theme, "anonymous", user.IsAnonymous)
	return &InitResult{
		SessionID:        sess.ID,
		UserContext:      uc,
		ContextSummary:   uc.Greeting,
		RecommendedTheme: sess.Theme,
	}, nil
}

// ensureUser loads the user or creates one on first contact. An empty ID
// mints an anonymous user.
func (o *Orchestrator) ensureUser(ctx context.Context, userID string) (*therapy.User, error) {
	anonymous := userID == ""
	if anonymous {
		userID = uuid.NewString()
	} else {
		user, err := o.repo.GetUser(ctx, userID)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("session: %w: load user: %v", therapy.ErrTransient, err)
		}
	}
	user := &therapy.User{
		ID:           userID,
		IsAnonymous:  anonymous,
		CreatedAt:    o.now(),
		LastActiveAt: o.now(),
	}
	if err := o.repo.PutUser(ctx, user); err != nil {
		return nil, fmt.Errorf("session: %w: create user: %v", therapy.ErrTransient, err)
	}
	return user, nil
}

// recommendTheme applies the theme priority rules in fixed order. The
// first matching rule wins.
func (o *Orchestrator) recommendTheme(initial therapy.EmotionalState, user *therapy.User) string {
	switch {
	case initial.StressLevel > highStressThreshold || initial.AnxietyLevel > highStressThreshold:
		return ThemeCalming
	case initial.InitialMood < lowMoodThreshold:
		return ThemeUplifting
	case isEvening(o.now()):
		return ThemeGentle
	case user.Preferences.Theme != "":
		return user.Preferences.Theme
	default:
		return ThemeDefault
	}
}

func isEvening(t time.Time) bool {
	h := t.Hour()
	return h >= eveningStartHour || h < eveningEndHour
}

// CompleteRequest carries the inputs for session completion.
type CompleteRequest struct {
	SessionID  string
	UserID     string
	Transcript string
	Final      therapy.EmotionalState
	Metrics    therapy.TherapeuticMetrics

	// Consent gates transcript enrichment. Without it the transcript is
	// never sent to the summarizer and the default summary is used. The
	// transcript is still encrypted and persisted.
	Consent bool
}

// CompleteResult is the outcome of session completion.
type CompleteResult struct {
	Summary         *therapy.Summary         `json:"summary"`
	Recommendations []therapy.Recommendation `json:"recommendations"`
}

// CompleteSession finalizes a session exactly once: derive the summary
// (advisory), encrypt the transcript, then write the completed record in
// a single update. Persistence failures propagate; advisory failures
// degrade to defaults.
func (o *Orchestrator) CompleteSession(ctx context.Context, req CompleteRequest) (*CompleteResult, error) {
	sess, err := o.repo.GetSession(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("session: %w: unknown session", therapy.ErrValidation)
		}
		return nil, fmt.Errorf("session: %w: load session: %v", therapy.ErrTransient, err)
	}
	if sess.UserID != req.UserID {
		return nil, fmt.Errorf("session: %w: session does not belong to user", therapy.ErrValidation)
	}
	if sess.Completed() {
		return nil, fmt.Errorf("session: %w: session already completed", therapy.ErrValidation)
	}
	if req.Final.FinalMood == nil || !therapy.ValidScale(*req.Final.FinalMood) {
		return nil, fmt.Errorf("session: %w: final mood out of 0-10 scale", therapy.ErrValidation)
	}

	summary := o.deriveSummary(ctx, sess, req)

	envelope, err := o.vault.Encrypt(ctx, req.Transcript)
	if err != nil {
		return nil, fmt.Errorf("session: %w: encrypt transcript: %v", therapy.ErrTransient, err)
	}

	end := o.now()
	dur := int(end.Sub(sess.StartTime).Seconds())
	sess.EndTime = &end
	sess.DurationSeconds = &dur
	sess.Emotional.FinalMood = req.Final.FinalMood
	sess.Emotional.CalmingEffectiveness = req.Final.CalmingEffectiveness
	if len(req.Final.DominantEmotions) > 0 {
		sess.Emotional.DominantEmotions = req.Final.DominantEmotions
	}
	sess.Metrics = req.Metrics
	sess.Summary = summary
	sess.Transcript = therapy.EncryptedTranscript{
		Algorithm:  envelope.Algorithm,
		KeyVersion: envelope.KeyVersion,
		Data:       envelope.Encode(),
	}

	// The single write below is the atomic completion point. Nothing
	// before it mutates the stored record.
	if err := o.repo.PutSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("session: %w: persist completion: %v", therapy.ErrTransient, err)
	}

	if err := o.continuity.UpdateUserProgress(ctx, req.UserID, sess.ID, summary); err != nil {
		o.log.Warn("continuity update failed", "session", sess.ID, "error", err)
	}

	recs := o.recommend(ctx, sess, summary)
	o.log.Info("session completed",
		"session", sess.ID, "user", req.UserID, "duration_s", dur, "consent", req.Consent)
	return &CompleteResult{Summary: summary, Recommendations: recs}, nil
}

// deriveSummary returns the conversation summary for a completing
// session, or the fixed default when consent is withheld, no summarizer
// is configured, or derivation fails.
func (o *Orchestrator) deriveSummary(ctx context.Context, sess *therapy.Session, req CompleteRequest) *therapy.Summary {
	if !req.Consent || o.summarizer == nil {
		return summarize.DefaultSummary()
	}
	summary, err := o.summarizer.Summarize(ctx, summarize.Request{
		Transcript: req.Transcript,
		Initial:    sess.Emotional,
		Final:      req.Final,
	})
	if err != nil {
		o.log.Warn("summary derivation failed, using default", "session", sess.ID, "error", err)
		return summarize.DefaultSummary()
	}
	return summary
}

// recommend builds the next-session recommendation list from a fixed rule
// set. The list is never empty.
func (o *Orchestrator) recommend(ctx context.Context, sess *therapy.Session, summary *therapy.Summary) []therapy.Recommendation {
	var recs []therapy.Recommendation
	if len(summary.Challenges) > 0 {
		recs = append(recs, therapy.Recommendation{
			Kind: "challenge",
			Text: "spend time on the challenges that came up: " + summary.Challenges[0],
		})
	}
	if len(summary.Breakthroughs) > 0 {
		recs = append(recs, therapy.Recommendation{
			Kind: "breakthrough",
			Text: "reinforce the breakthrough from this session: " + summary.Breakthroughs[0],
		})
	}
	if sess.Emotional.FinalMood != nil {
		if *sess.Emotional.FinalMood > sess.Emotional.InitialMood {
			recs = append(recs, therapy.Recommendation{
				Kind: "approach",
				Text: "continue with current approach",
			})
		} else {
			recs = append(recs, therapy.Recommendation{
				Kind: "approach",
				Text: "explore alternative strategies next time",
			})
		}
	}
	if uc, err := o.continuity.GetUserContext(ctx, sess.UserID); err == nil && len(uc.Recommendations) > 0 {
		recs = append(recs, therapy.Recommendation{
			Kind: "continuity",
			Text: uc.Recommendations[0],
		})
	}
	if len(recs) == 0 {
		recs = append(recs, therapy.Recommendation{
			Kind: "default",
			Text: "continue regular sessions",
		})
	}
	return recs
}
