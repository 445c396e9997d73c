package vault

import "regexp"

// Redaction patterns for common personal identifiers. Matching is
// pattern-based and lossy: it catches the common shapes, not every
// possible spelling, and must not be treated as a privacy guarantee.
var sanitizePatterns = []struct {
	re          *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`), "[email]"},
	{regexp.MustCompile(`\+?\d{0,3}[-. (]*\d{3}[-. )]*\d{3}[-. ]*\d{4}\b`), "[phone]"},
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[national-id]"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[card-number]"},
	{regexp.MustCompile(`\b\d{1,5}\s+(?:[A-Z][a-z]+\s+){1,3}(?:Street|St|Avenue|Ave|Boulevard|Blvd|Drive|Dr|Lane|Ln|Road|Rd|Court|Ct|Way|Place|Pl)\b`), "[address]"},
}

// Sanitize redacts emails, phone numbers, national IDs, card numbers, and
// street addresses from text. Applied before encryption when the service
// is configured with SanitizeBeforeEncrypt.
func Sanitize(text string) string {
	for _, p := range sanitizePatterns {
		text = p.re.ReplaceAllString(text, p.replacement)
	}
	return text
}
