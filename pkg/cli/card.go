package cli

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme defines the color scheme for rendered cards.
type Theme struct {
	Primary lipgloss.Color // accent color for titles and borders
	Dim     lipgloss.Color // dimmed text
}

// DefaultTheme is a calm teal on gray.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#5fd7c7"),
	Dim:     lipgloss.Color("#6e7681"),
}

// Styles holds the lipgloss styles derived from a theme.
type Styles struct {
	Title  lipgloss.Style
	Label  lipgloss.Style
	Border lipgloss.Style
	Dim    lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Title:  lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Label:  lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Border: lipgloss.NewStyle().Foreground(t.Primary),
		Dim:    lipgloss.NewStyle().Foreground(t.Dim),
	}
}

// Row is one labeled line in a card.
type Row struct {
	Label string
	Value string
}

// Card is a bordered, titled block of labeled rows with an optional
// free-form tail section.
type Card struct {
	Styles Styles
	Title  string
	Rows   []Row
	Tail   []string
}

// Render draws the card at the given total width. Width below a usable
// minimum is widened.
func (c Card) Render(width int) string {
	if width < 24 {
		width = 24
	}
	inner := width - 4
	bc := c.Styles.Border

	var lines []string
	lines = append(lines, bc.Render("╭"+strings.Repeat("─", width-2)+"╮"))

	title := c.Styles.Title.Render(c.Title)
	lines = append(lines, c.boxLine(title, inner))
	lines = append(lines, c.boxLine("", inner))

	labelWidth := 0
	for _, r := range c.Rows {
		if len(r.Label) > labelWidth {
			labelWidth = len(r.Label)
		}
	}
	for _, r := range c.Rows {
		label := c.Styles.Label.Render(padRight(r.Label, labelWidth))
		lines = append(lines, c.boxLine(label+"  "+r.Value, inner))
	}

	if len(c.Tail) > 0 {
		lines = append(lines, c.boxLine("", inner))
		for _, t := range c.Tail {
			lines = append(lines, c.boxLine(c.Styles.Dim.Render(t), inner))
		}
	}

	lines = append(lines, bc.Render("╰"+strings.Repeat("─", width-2)+"╯"))
	return strings.Join(lines, "\n")
}

func (c Card) boxLine(content string, inner int) string {
	bc := c.Styles.Border
	w := lipgloss.Width(content)
	if w > inner {
		content = truncate(content, inner-1) + "…"
		w = lipgloss.Width(content)
	}
	return bc.Render("│") + " " + content + strings.Repeat(" ", inner-w) + " " + bc.Render("│")
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// truncate shortens a string to the given display width, handling
// multi-byte characters.
func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	runes := []rune(s)
	current := 0
	for i, r := range runes {
		w := lipgloss.Width(string(r))
		if current+w > width {
			return string(runes[:i])
		}
		current += w
	}
	return s
}

// MoodBar renders a compact before/after mood line on the 0-10 scale,
// e.g. "4 → 7  ▂▂▂▂▅▅▅▅▅▅".
func MoodBar(initial int, final *int) string {
	blocks := []rune("▁▂▃▄▅▆▇█")
	level := func(v int) rune {
		if v < 0 {
			v = 0
		}
		if v > 10 {
			v = 10
		}
		return blocks[v*(len(blocks)-1)/10]
	}
	var b strings.Builder
	if final == nil {
		for i := 0; i < 10; i++ {
			b.WriteRune(level(initial))
		}
		return strconv.Itoa(initial) + "      " + b.String()
	}
	for i := 0; i < 5; i++ {
		b.WriteRune(level(initial))
	}
	for i := 0; i < 5; i++ {
		b.WriteRune(level(*final))
	}
	return strconv.Itoa(initial) + " → " + strconv.Itoa(*final) + "  " + b.String()
}
