package session_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lumenkind/sona/pkg/continuity"
	"github.com/lumenkind/sona/pkg/kv"
	"github.com/lumenkind/sona/pkg/session"
	"github.com/lumenkind/sona/pkg/summarize"
	"github.com/lumenkind/sona/pkg/therapy"
	"github.com/lumenkind/sona/pkg/therapy/repo"
	"github.com/lumenkind/sona/pkg/vault"
)

// afternoon keeps the evening theme rule out of tests that exercise the
// other rules.
var afternoon = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

type fakeSummarizer struct {
	summary *therapy.Summary
	err     error
	calls   int
	lastReq summarize.Request
}

func (f *fakeSummarizer) Summarize(_ context.Context, req summarize.Request) (*therapy.Summary, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.summary, nil
}

type fixture struct {
	orch *session.Orchestrator
	repo *repo.Repo
	sum  *fakeSummarizer
	now  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: afternoon}
	f.repo = repo.New(kv.NewMemory(nil))
	v, err := vault.New(context.Background(), vault.Config{LocalSecret: "test-secret"})
	if err != nil {
		t.Fatalf("vault.New: %v", err)
	}
	clock := func() time.Time { return f.now }
	f.sum = &fakeSummarizer{summary: &therapy.Summary{
		Text:          "talked through a stressful week at work",
		Topics:        []string{"work"},
		Challenges:    []string{"sleep has been poor"},
		Breakthroughs: []string{"named the main stressor"},
	}}
	f.orch, err = session.New(session.Config{
		Repo:         f.repo,
		Vault:        v,
		Continuity:   continuity.New(f.repo, continuity.WithClock(clock)),
		Summarizer:   f.sum,
		AbandonAfter: 30 * time.Minute,
		Now:          clock,
	})
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	return f
}

func intPtr(v int) *int { return &v }

func TestInitializeValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.InitializeSession(context.Background(), "", therapy.EmotionalState{InitialMood: 11})
	if !errors.Is(err, therapy.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestInitializeMintsAnonymousUser(t *testing.T) {
	f := newFixture(t)
	res, err := f.orch.InitializeSession(context.Background(), "", therapy.EmotionalState{InitialMood: 5, StressLevel: 3, AnxietyLevel: 3})
	if err != nil {
		t.Fatalf("InitializeSession: %v", err)
	}
	if res.SessionID == "" {
		t.Fatal("no session ID")
	}
	if !res.UserContext.User.IsAnonymous {
		t.Fatal("expected anonymous user")
	}
	if res.UserContext.IsReturning {
		t.Fatal("fresh anonymous user cannot be returning")
	}
	if res.ContextSummary == "" {
		t.Fatal("expected a personalized greeting")
	}

	sess, err := f.repo.GetSession(context.Background(), res.SessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.EndTime != nil || sess.Completed() {
		t.Fatal("new session must have no end time")
	}
}

// Theme rules apply in fixed order: stress/anxiety, then mood, then time
// of day, then user preference.
func TestRecommendedTheme(t *testing.T) {
	tests := []struct {
		name  string
		state therapy.EmotionalState
		hour  int
		pref  string
		want  string
	}{
		{"high stress wins", therapy.EmotionalState{InitialMood: 4, StressLevel: 8, AnxietyLevel: 8}, 14, "", session.ThemeCalming},
		{"high anxiety alone", therapy.EmotionalState{InitialMood: 6, StressLevel: 2, AnxietyLevel: 8}, 14, "", session.ThemeCalming},
		{"stress beats low mood", therapy.EmotionalState{InitialMood: 2, StressLevel: 9, AnxietyLevel: 1}, 14, "", session.ThemeCalming},
		{"low mood", therapy.EmotionalState{InitialMood: 3, StressLevel: 5, AnxietyLevel: 5}, 14, "", session.ThemeUplifting},
		{"evening", therapy.EmotionalState{InitialMood: 6, StressLevel: 3, AnxietyLevel: 3}, 21, "", session.ThemeGentle},
		{"late night", therapy.EmotionalState{InitialMood: 6, StressLevel: 3, AnxietyLevel: 3}, 2, "", session.ThemeGentle},
		{"user preference", therapy.EmotionalState{InitialMood: 6, StressLevel: 3, AnxietyLevel: 3}, 14, "ocean", "ocean"},
		{"default", therapy.EmotionalState{InitialMood: 6, StressLevel: 3, AnxietyLevel: 3}, 14, "", session.ThemeDefault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.now = time.Date(2026, 3, 2, tt.hour, 0, 0, 0, time.UTC)

			userID := ""
			if tt.pref != "" {
				u := &therapy.User{ID: "pref-user", Preferences: therapy.Preferences{Theme: tt.pref}, CreatedAt: f.now, LastActiveAt: f.now}
				if err := f.repo.PutUser(context.Background(), u); err != nil {
					t.Fatalf("PutUser: %v", err)
				}
				userID = u.ID
			}

			res, err := f.orch.InitializeSession(context.Background(), userID, tt.state)
			if err != nil {
				t.Fatalf("InitializeSession: %v", err)
			}
			if res.RecommendedTheme != tt.want {
				t.Fatalf("theme = %s, want %s", res.RecommendedTheme, tt.want)
			}
		})
	}
}

// Initializing with mood 4, stress 8, anxiety 8 selects calming;
// completing with final mood 7 and consent recommends continuing the
// current approach.
func TestStressfulSessionFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.orch.InitializeSession(ctx, "", therapy.EmotionalState{InitialMood: 4, StressLevel: 8, AnxietyLevel: 8})
	if err != nil {
		t.Fatalf("InitializeSession: %v", err)
	}
	if res.RecommendedTheme != session.ThemeCalming {
		t.Fatalf("theme = %s, want calming", res.RecommendedTheme)
	}

	f.now = f.now.Add(20 * time.Minute)
	out, err := f.orch.CompleteSession(ctx, session.CompleteRequest{
		SessionID:  res.SessionID,
		UserID:     res.UserContext.User.ID,
		Transcript: "we worked through the deadline pressure",
		Final:      therapy.EmotionalState{FinalMood: intPtr(7)},
		Metrics:    therapy.TherapeuticMetrics{EngagementScore: 0.8},
		Consent:    true,
	})
	if err != nil {
		t.Fatalf("CompleteSession: %v", err)
	}
	if out.Summary.Text != f.sum.summary.Text {
		t.Fatalf("summary = %q, want derived summary", out.Summary.Text)
	}

	var found bool
	for _, r := range out.Recommendations {
		if strings.Contains(r.Text, "continue with current approach") {
			found = true
		}
	}
	if !found {
		t.Fatalf("recommendations %v missing 'continue with current approach'", out.Recommendations)
	}

	sess, err := f.repo.GetSession(ctx, res.SessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !sess.Completed() {
		t.Fatal("session not atomically completed")
	}
	if *sess.DurationSeconds != 20*60 {
		t.Fatalf("duration = %d, want 1200", *sess.DurationSeconds)
	}
	if sess.Transcript.Data == "" || sess.Transcript.Algorithm == "" {
		t.Fatal("transcript not persisted encrypted")
	}
	if strings.Contains(sess.Transcript.Data, "deadline") {
		t.Fatal("transcript stored in the clear")
	}
}

func TestCompleteWithoutConsent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.orch.InitializeSession(ctx, "", therapy.EmotionalState{InitialMood: 4, StressLevel: 8, AnxietyLevel: 8})
	if err != nil {
		t.Fatalf("InitializeSession: %v", err)
	}
	out, err := f.orch.CompleteSession(ctx, session.CompleteRequest{
		SessionID:  res.SessionID,
		UserID:     res.UserContext.User.ID,
		Transcript: "private content",
		Final:      therapy.EmotionalState{FinalMood: intPtr(7)},
		Consent:    false,
	})
	if err != nil {
		t.Fatalf("CompleteSession: %v", err)
	}
	if f.sum.calls != 0 {
		t.Fatal("transcript was sent for enrichment without consent")
	}
	if out.Summary.Text != summarize.DefaultSummary().Text {
		t.Fatalf("summary = %q, want fixed default", out.Summary.Text)
	}
	if len(out.Summary.Topics) != 0 {
		t.Fatal("default summary must not carry transcript-derived content")
	}
}

func TestCompleteSummarizerFailureDegrades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sum.err = errors.New("model timeout")

	res, err := f.orch.InitializeSession(ctx, "", therapy.EmotionalState{InitialMood: 5, StressLevel: 5, AnxietyLevel: 5})
	if err != nil {
		t.Fatalf("InitializeSession: %v", err)
	}
	out, err := f.orch.CompleteSession(ctx, session.CompleteRequest{
		SessionID:  res.SessionID,
		UserID:     res.UserContext.User.ID,
		Transcript: "some transcript",
		Final:      therapy.EmotionalState{FinalMood: intPtr(5)},
		Consent:    true,
	})
	if err != nil {
		t.Fatalf("CompleteSession must not fail on summarizer error: %v", err)
	}
	if out.Summary.Text != summarize.DefaultSummary().Text {
		t.Fatalf("summary = %q, want fixed default", out.Summary.Text)
	}
}

func TestCompleteValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.orch.InitializeSession(ctx, "", therapy.EmotionalState{InitialMood: 5, StressLevel: 5, AnxietyLevel: 5})
	if err != nil {
		t.Fatalf("InitializeSession: %v", err)
	}
	userID := res.UserContext.User.ID

	complete := func(sessionID, uid string, final *int) error {
		_, err := f.orch.CompleteSession(ctx, session.CompleteRequest{
			SessionID: sessionID, UserID: uid, Transcript: "t",
			Final: therapy.EmotionalState{FinalMood: final}, Consent: true,
		})
		return err
	}

	if err := complete("no-such-session", userID, intPtr(5)); !errors.Is(err, therapy.ErrValidation) {
		t.Fatalf("unknown session: expected ErrValidation, got %v", err)
	}
	if err := complete(res.SessionID, "other-user", intPtr(5)); !errors.Is(err, therapy.ErrValidation) {
		t.Fatalf("wrong user: expected ErrValidation, got %v", err)
	}
	if err := complete(res.SessionID, userID, nil); !errors.Is(err, therapy.ErrValidation) {
		t.Fatalf("missing final mood: expected ErrValidation, got %v", err)
	}

	// Failed completions leave the record untouched.
	sess, err := f.repo.GetSession(ctx, res.SessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.EndTime != nil || sess.DurationSeconds != nil || sess.Emotional.FinalMood != nil {
		t.Fatal("failed completion left a partial update")
	}

	if err := complete(res.SessionID, userID, intPtr(6)); err != nil {
		t.Fatalf("CompleteSession: %v", err)
	}
	if err := complete(res.SessionID, userID, intPtr(6)); !errors.Is(err, therapy.ErrValidation) {
		t.Fatalf("double completion: expected ErrValidation, got %v", err)
	}
}

func TestCompleteUpdatesContinuity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.orch.InitializeSession(ctx, "", therapy.EmotionalState{InitialMood: 5, StressLevel: 5, AnxietyLevel: 5})
	if err != nil {
		t.Fatalf("InitializeSession: %v", err)
	}
	userID := res.UserContext.User.ID
	if _, err := f.orch.CompleteSession(ctx, session.CompleteRequest{
		SessionID: res.SessionID, UserID: userID, Transcript: "t",
		Final: therapy.EmotionalState{FinalMood: intPtr(6)}, Consent: true,
	}); err != nil {
		t.Fatalf("CompleteSession: %v", err)
	}

	user, err := f.repo.GetUser(ctx, userID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if user.TotalSessions != 1 {
		t.Fatalf("totalSessions = %d, want 1", user.TotalSessions)
	}
}

func TestInsightsNeverFail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := f.orch.GetSessionInsights(ctx, "no-such-user", 5)
	if in == nil {
		t.Fatal("insights must never be nil")
	}
	if len(in.Sessions) != 0 {
		t.Fatalf("neutral insights carry no sessions, got %d", len(in.Sessions))
	}
	if in.Progress.MoodTrend != continuity.TrendStable {
		t.Fatalf("neutral trend = %s", in.Progress.MoodTrend)
	}

	res, err := f.orch.InitializeSession(ctx, "", therapy.EmotionalState{InitialMood: 5, StressLevel: 5, AnxietyLevel: 5})
	if err != nil {
		t.Fatalf("InitializeSession: %v", err)
	}
	userID := res.UserContext.User.ID
	if _, err := f.orch.CompleteSession(ctx, session.CompleteRequest{
		SessionID: res.SessionID, UserID: userID, Transcript: "t",
		Final: therapy.EmotionalState{FinalMood: intPtr(7)}, Consent: true,
	}); err != nil {
		t.Fatalf("CompleteSession: %v", err)
	}

	in = f.orch.GetSessionInsights(ctx, userID, 5)
	if len(in.Sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(in.Sessions))
	}
	if in.TotalSessions != 1 {
		t.Fatalf("totalSessions = %d, want 1", in.TotalSessions)
	}
	d := in.Sessions[0]
	if d.FinalMood == nil || *d.FinalMood != 7 {
		t.Fatalf("digest final mood = %v", d.FinalMood)
	}
	if d.SummaryText == "" {
		t.Fatal("digest missing summary text")
	}
}

func TestAbandonStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.orch.InitializeSession(ctx, "", therapy.EmotionalState{InitialMood: 5, StressLevel: 5, AnxietyLevel: 5})
	if err != nil {
		t.Fatalf("InitializeSession: %v", err)
	}
	fresh, err := f.orch.InitializeSession(ctx, "", therapy.EmotionalState{InitialMood: 5, StressLevel: 5, AnxietyLevel: 5})
	if err != nil {
		t.Fatalf("InitializeSession: %v", err)
	}

	// Only the first session crosses the abandon timeout.
	f.now = f.now.Add(31 * time.Minute)
	later, err := f.orch.InitializeSession(ctx, "", therapy.EmotionalState{InitialMood: 5, StressLevel: 5, AnxietyLevel: 5})
	if err != nil {
		t.Fatalf("InitializeSession: %v", err)
	}
	_ = fresh

	closed, err := f.orch.AbandonStale(ctx)
	if err != nil {
		t.Fatalf("AbandonStale: %v", err)
	}
	if closed != 2 {
		t.Fatalf("closed = %d, want 2", closed)
	}

	sess, err := f.repo.GetSession(ctx, res.SessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !sess.Abandoned || !sess.Completed() {
		t.Fatal("stale session not finalized as abandoned")
	}
	if *sess.Emotional.FinalMood != sess.Emotional.InitialMood {
		t.Fatal("abandoned session should carry initial mood forward")
	}

	still, err := f.repo.GetSession(ctx, later.SessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if still.EndTime != nil {
		t.Fatal("fresh session must stay open")
	}
}
