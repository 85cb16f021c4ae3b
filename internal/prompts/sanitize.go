package prompts

import (
	"regexp"
	"unicode/utf8"
)

// MaxInputLength caps user text before it is embedded in a prompt.
const MaxInputLength = 2000

const (
	removedMarker   = "[REMOVED]"
	truncatedSuffix = "... [TRUNCATED]"
)

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(ignore|disregard|forget).*?(previous|above|prior).*?instructions?`),
	regexp.MustCompile(`(?i)(new|different|change).*?instructions?`),
	regexp.MustCompile(`(?i)system\s*prompt`),
	regexp.MustCompile(`(?i)you are now`),
	regexp.MustCompile(`(?i)act as`),
	regexp.MustCompile(`(?i)pretend to be`),
}

// Sanitize neutralizes common prompt-injection phrases and caps the length of
// user input. The second result reports whether the input was changed.
func Sanitize(input string) (string, bool) {
	out := input
	for _, re := range injectionPatterns {
		out = re.ReplaceAllLiteralString(out, removedMarker)
	}

	if utf8.RuneCountInString(out) > MaxInputLength {
		out = string([]rune(out)[:MaxInputLength]) + truncatedSuffix
	}
	return out, out != input
}
