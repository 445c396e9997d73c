package cli_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/lumenkind/sona/pkg/cli"
)

func TestFormatSeconds(t *testing.T) {
	tests := []struct {
		secs int
		want string
	}{
		{0, "0s"},
		{45, "45s"},
		{60, "1m00s"},
		{125, "2m05s"},
		{3600, "1h00m"},
		{3725, "1h02m"},
	}
	for _, tt := range tests {
		if got := cli.FormatSeconds(tt.secs); got != tt.want {
			t.Fatalf("FormatSeconds(%d) = %q, want %q", tt.secs, got, tt.want)
		}
	}
}

func TestOutputYAMLAndJSON(t *testing.T) {
	v := map[string]any{"theme": "calming", "mood": 7}

	var buf bytes.Buffer
	if err := cli.Output(&buf, v, cli.FormatYAML); err != nil {
		t.Fatalf("Output yaml: %v", err)
	}
	if !strings.Contains(buf.String(), "theme: calming") {
		t.Fatalf("yaml output = %q", buf.String())
	}

	buf.Reset()
	if err := cli.Output(&buf, v, cli.FormatJSON); err != nil {
		t.Fatalf("Output json: %v", err)
	}
	if !strings.Contains(buf.String(), `"theme": "calming"`) {
		t.Fatalf("json output = %q", buf.String())
	}

	if err := cli.Output(&buf, v, "csv"); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestCardRenderContainsRows(t *testing.T) {
	card := cli.Card{
		Styles: cli.NewStyles(cli.DefaultTheme),
		Title:  "Progress",
		Rows: []cli.Row{
			{Label: "Trend", Value: "improving"},
			{Label: "Sessions", Value: "12"},
		},
		Tail: []string{"keep up the regular sessions"},
	}
	out := card.Render(60)
	for _, want := range []string{"Progress", "Trend", "improving", "Sessions", "12", "keep up"} {
		if !strings.Contains(out, want) {
			t.Fatalf("render missing %q:\n%s", want, out)
		}
	}
	lines := strings.Split(out, "\n")
	if len(lines) < 6 {
		t.Fatalf("unexpectedly short render: %d lines", len(lines))
	}
}

func TestMoodBar(t *testing.T) {
	final := 8
	got := cli.MoodBar(3, &final)
	if !strings.Contains(got, "3 → 8") {
		t.Fatalf("MoodBar = %q", got)
	}
	open := cli.MoodBar(5, nil)
	if strings.Contains(open, "→") {
		t.Fatalf("open-session bar should have no arrow: %q", open)
	}
}
