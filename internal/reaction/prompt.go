package reaction

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"mirror/internal/domain"
	"mirror/internal/providers/replicate"
)

const maxLineRunes = 120

var lineBreaks = regexp.MustCompile(`[\r\n]+`)

// SanitizeLine flattens a line for embedding in a video prompt.
func SanitizeLine(s string) string {
	s = lineBreaks.ReplaceAllString(s, " ")
	runes := []rune(s)
	if len(runes) > maxLineRunes {
		s = string(runes[:maxLineRunes])
	}
	return s
}

// Palette picks the gradient colors for a mood.
func Palette(mood domain.Mood) string {
	switch mood {
	case domain.MoodUpbeat:
		return "teal/cyan"
	case domain.MoodSleepy:
		return "indigo/navy"
	default:
		return "lilac/gray"
	}
}

// VideoPrompt describes the reaction clip rendered around line.
func VideoPrompt(line string, mood domain.Mood) string {
	return fmt.Sprintf(
		`Vertical 5s reaction clip. Animated %s gradient. Kinetic captions: "%s". Rounded bold font with outline. Subtle sparkles. Wholesome vibe.`,
		Palette(mood), SanitizeLine(line),
	)
}

var capacityPattern = regexp.MustCompile(`(?i)queue is full|at capacity|capacity|too many requests|rate limit|high demand|overloaded|\b429\b`)

// IsCapacity reports whether err looks like upstream saturation, the only
// failure class that earns an automatic retry.
func IsCapacity(err error) bool {
	if err == nil || errors.Is(err, domain.ErrNoResultURL) {
		return false
	}
	var apiErr *replicate.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == 429 {
		return true
	}
	return capacityPattern.MatchString(strings.TrimSpace(err.Error()))
}
