package session

import (
	"context"
	"time"

	"github.com/lumenkind/sona/pkg/continuity"
)

// SessionDigest is the transcript-free view of one session used in
// insights and dashboards.
type SessionDigest struct {
	SessionID       string    `json:"sessionId"`
	StartTime       time.Time `json:"startTime"`
	DurationSeconds int       `json:"durationSeconds,omitempty"`
	InitialMood     int       `json:"initialMood"`
	FinalMood       *int      `json:"finalMood,omitempty"`
	Theme           string    `json:"theme"`
	SummaryText     string    `json:"summaryText,omitempty"`
}

// Insights aggregates recent sessions with continuity trend data.
type Insights struct {
	Sessions      []SessionDigest     `json:"sessions"`
	Progress      continuity.Progress `json:"progress"`
	TotalSessions int                 `json:"totalSessions"`
}

// GetSessionInsights returns recent-session aggregation for a user. It
// never returns an error: insights are advisory, so any internal failure
// yields the neutral empty shape.
func (o *Orchestrator) GetSessionInsights(ctx context.Context, userID string, limit int) *Insights {
	neutral := &Insights{
		Sessions: []SessionDigest{},
		Progress: continuity.Progress{MoodTrend: continuity.TrendStable},
	}

	uc, err := o.continuity.GetUserContext(ctx, userID)
	if err != nil {
		o.log.Warn("insights unavailable", "user", userID, "error", err)
		return neutral
	}

	sessions, err := o.repo.SessionsByUser(ctx, userID, limit)
	if err != nil {
		o.log.Warn("insights session scan failed", "user", userID, "error", err)
		return neutral
	}

	out := &Insights{
		Sessions:      make([]SessionDigest, 0, len(sessions)),
		Progress:      uc.Progress,
		TotalSessions: uc.TotalSessions,
	}
	for _, s := range sessions {
		d := SessionDigest{
			SessionID:   s.ID,
			StartTime:   s.StartTime,
			InitialMood: s.Emotional.InitialMood,
			FinalMood:   s.Emotional.FinalMood,
			Theme:       s.Theme,
		}
		if s.DurationSeconds != nil {
			d.DurationSeconds = *s.DurationSeconds
		}
		if s.Summary != nil {
			d.SummaryText = s.Summary.Text
		}
		out.Sessions = append(out.Sessions, d)
	}
	return out
}
