package mirror

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"

	"mirror/internal/domain"
)

var toneRules = map[domain.Tone]string{
	domain.ToneCompliment: "Wholesome, short hype compliment (max 12 words). Be clever, not boring.",
	domain.ToneRoast:      "Savage, witty, 12 words max. PG-13. Mock outfit, vibe, or confidence.",
	domain.ToneCoach:      "Chaotic life coach wisdom. Sound delusional but motivational.",
}

// AbsurdityLevels is indexed by clamped intensity.
var AbsurdityLevels = [domain.MaxIntensity + 1]string{"none", "subtle", "noticeable", "bold"}

// ToneRule returns the style instruction for tone, defaulting to coach.
func ToneRule(tone domain.Tone) string {
	if rule, ok := toneRules[tone]; ok {
		return rule
	}
	return toneRules[domain.ToneCoach]
}

// BuildPrompt assembles the single instruction sent to the text model.
func BuildPrompt(tone domain.Tone, intensity int, caption string) string {
	return fmt.Sprintf(`SYSTEM: You are Blue Mirror, a witty, self-aware AI mirror.
RULES:
- Output one short, clever line (max 12 words)
- PG-13 humor, never cruel
- Focus on outfit, expression, or energy
- Tone options: Sweet / Savage / Delulu Coach
STYLE: Internet-native, sarcastic but smart
TONE: %s
ABSURDITY: %s

USER:
Based on this image: "%s"`, ToneRule(tone), AbsurdityLevels[domain.ClampIntensity(intensity)], caption)
}

var (
	spaceRun          = regexp.MustCompile(`\s+`)
	spaceBeforePunct  = regexp.MustCompile(`\s+([.,!?;:])`)
	missingSpaceAfter = regexp.MustCompile(`([.,!?;:])(\p{L})`)
)

func collapseSpaces(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

// Normalize cleans model text into a single display line of at most
// MaxMessageRunes runes.
func Normalize(s string) string {
	s = collapseSpaces(s)
	s = strings.Trim(s, `"'`)
	s = spaceBeforePunct.ReplaceAllString(s, "$1")
	s = missingSpaceAfter.ReplaceAllString(s, "$1 $2")
	return truncate(strings.TrimSpace(s), MaxMessageRunes)
}

var (
	upbeatWords = []string{"smile", "happy", "cheerful", "confident"}
	sleepyWords = []string{"tired", "sleepy", "messy"}
)

// MoodFromCaption maps caption keywords onto a mood.
func MoodFromCaption(caption string) domain.Mood {
	// A Caser holds state, so each call gets its own.
	folded := cases.Fold().String(caption)
	if containsAny(folded, upbeatWords) {
		return domain.MoodUpbeat
	}
	if containsAny(folded, sleepyWords) {
		return domain.MoodSleepy
	}
	return domain.MoodNeutral
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
