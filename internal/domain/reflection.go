package domain

import "strings"

// Tone selects the style rule used for generated lines.
type Tone string

const (
	ToneCompliment Tone = "compliment"
	ToneRoast      Tone = "roast"
	ToneCoach      Tone = "coach"
)

// ParseTone normalizes a tone; unknown values fall back to ToneCoach.
func ParseTone(raw string) Tone {
	switch t := Tone(strings.ToLower(strings.TrimSpace(raw))); t {
	case ToneCompliment, ToneRoast, ToneCoach:
		return t
	}
	return ToneCoach
}

// Mood is a coarse affect label derived from the image caption.
type Mood string

const (
	MoodUpbeat  Mood = "upbeat"
	MoodSleepy  Mood = "sleepy"
	MoodNeutral Mood = "neutral"
)

// ParseMood accepts any casing; unknown values are neutral.
func ParseMood(raw string) Mood {
	switch m := Mood(strings.ToLower(strings.TrimSpace(raw))); m {
	case MoodUpbeat, MoodSleepy:
		return m
	}
	return MoodNeutral
}

// MaxIntensity is the top of the absurdity scale.
const MaxIntensity = 3

// ClampIntensity bounds intensity to [0, MaxIntensity].
func ClampIntensity(v int) int {
	if v < 0 {
		return 0
	}
	if v > MaxIntensity {
		return MaxIntensity
	}
	return v
}
