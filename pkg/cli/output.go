// Package cli provides terminal output helpers for the sona CLI:
// structured result emission (YAML or JSON) and lipgloss-styled cards
// for human-facing views.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// OutputFormat selects the structured output encoding.
type OutputFormat string

const (
	// FormatYAML is the default terminal-friendly encoding.
	FormatYAML OutputFormat = "yaml"
	// FormatJSON is for machine consumption.
	FormatJSON OutputFormat = "json"
)

// Output writes result to w in the given format. An empty format means
// YAML; a nil writer means stdout.
func Output(w io.Writer, result any, format OutputFormat) error {
	if w == nil {
		w = os.Stdout
	}
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case FormatYAML, "":
		data, err := yaml.Marshal(result)
		if err != nil {
			return fmt.Errorf("cli: format output: %w", err)
		}
		_, err = w.Write(data)
		return err
	default:
		return fmt.Errorf("cli: unsupported output format %q", format)
	}
}
