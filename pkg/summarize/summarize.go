// Package summarize derives conversation summaries from session
// transcripts using an LLM backend. Summaries are advisory data: every
// caller must be prepared to fall back to DefaultSummary when derivation
// fails, and no failure here may abort a session completion.
package summarize

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/lumenkind/sona/pkg/therapy"
)

// Request carries the inputs for summary derivation. The transcript is
// plaintext here; encryption happens at the persistence boundary, after
// summarization.
type Request struct {
	Transcript string
	Initial    therapy.EmotionalState
	Final      therapy.EmotionalState
}

// Summarizer derives a summary from a completed session.
type Summarizer interface {
	Summarize(ctx context.Context, req Request) (*therapy.Summary, error)
}

// DefaultSummary is the fixed fallback used when derivation fails or the
// user declined transcript processing. It carries no transcript-derived
// content.
func DefaultSummary() *therapy.Summary {
	return &therapy.Summary{
		Text: "Session completed. A detailed summary is not available.",
	}
}

// summaryPayload is the structured output contract shared by all
// backends.
type summaryPayload struct {
	Text              string   `json:"text"`
	Topics            []string `json:"topics"`
	EmotionalInsights []string `json:"emotionalInsights"`
	ProgressNotes     []string `json:"progressNotes"`
	Challenges        []string `json:"challenges"`
	Breakthroughs     []string `json:"breakthroughs"`
}

func (p *summaryPayload) summary() *therapy.Summary {
	return &therapy.Summary{
		Text:              p.Text,
		Topics:            p.Topics,
		EmotionalInsights: p.EmotionalInsights,
		ProgressNotes:     p.ProgressNotes,
		Challenges:        p.Challenges,
		Breakthroughs:     p.Breakthroughs,
	}
}

// summarySchema builds the JSON schema for the structured output.
func summarySchema() (*jsonschema.Schema, error) {
	return jsonschema.For[summaryPayload](nil)
}

const systemPrompt = `You summarize voice-based therapeutic support sessions.
Write in a warm, factual tone. Identify the topics discussed, emotional
insights, signs of therapeutic progress, remaining challenges, and any
breakthroughs. Never invent content that is not supported by the
transcript. Respond with JSON only.`

// buildPrompt renders the user-turn prompt for a request.
func buildPrompt(req Request) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Mood at start: %d/10, stress %d/10, anxiety %d/10.\n",
		req.Initial.InitialMood, req.Initial.StressLevel, req.Initial.AnxietyLevel)
	if req.Final.FinalMood != nil {
		fmt.Fprintf(&sb, "Mood at end: %d/10.\n", *req.Final.FinalMood)
	}
	sb.WriteString("\nTranscript:\n")
	sb.WriteString(req.Transcript)
	return sb.String()
}

// decodeSummary parses a backend's JSON text into a Summary, repairing
// malformed JSON when possible. An empty summary text is treated as a
// derivation failure.
func decodeSummary(text string) (*therapy.Summary, error) {
	var payload summaryPayload
	if err := unmarshalJSON([]byte(text), &payload); err != nil {
		return nil, fmt.Errorf("summarize: decode: %w", err)
	}
	if payload.Text == "" {
		return nil, fmt.Errorf("summarize: empty summary text")
	}
	return payload.summary(), nil
}
