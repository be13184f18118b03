// Package mirror turns a webcam frame into a one-line reflection.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"mirror/internal/domain"
	"mirror/internal/frame"
	"mirror/internal/providers/replicate"
)

// FallbackMessage is returned whenever generation fails.
const FallbackMessage = "You've got this, coffee and curiosity should help."

const (
	// MaxCaptionRunes bounds the caption fed into the line prompt.
	MaxCaptionRunes = 160
	// MaxMessageRunes bounds the returned message.
	MaxMessageRunes = 160
	defaultCaption  = "uncertain appearance"
	captionPrompt   = "Describe the person's visible expression, posture, and outfit briefly (max 12 words)."
)

var errEmptyMessage = errors.New("text model returned an empty line")

// Request is one reflection request.
type Request struct {
	Image     frame.Image
	Tone      domain.Tone
	Intensity int
}

// Result always carries a usable message. Error is set when the message is
// the fallback.
type Result struct {
	Message string
	Mood    domain.Mood
	Error   string
}

// Options selects the models used for captioning and line generation.
type Options struct {
	CaptionModel string
	TextModel    string
	Logger       zerolog.Logger
}

// Reflector captions a frame and writes a short line about it.
type Reflector struct {
	models       replicate.Invoker
	captionModel string
	textModel    string
	logger       zerolog.Logger
}

func NewReflector(models replicate.Invoker, opts Options) *Reflector {
	return &Reflector{
		models:       models,
		captionModel: opts.CaptionModel,
		textModel:    opts.TextModel,
		logger:       opts.Logger,
	}
}

// Reflect never fails: any model error downgrades to FallbackMessage with a
// neutral mood.
func (r *Reflector) Reflect(ctx context.Context, req Request) Result {
	tone := domain.ParseTone(string(req.Tone))
	intensity := domain.ClampIntensity(req.Intensity)

	msg, mood, err := r.generate(ctx, req.Image, tone, intensity)
	if err != nil {
		r.logger.Warn().Err(err).Str("tone", string(tone)).Int("intensity", intensity).Msg("reflection fell back")
		return Result{Message: FallbackMessage, Mood: domain.MoodNeutral, Error: err.Error()}
	}
	r.logger.Info().Str("tone", string(tone)).Str("mood", string(mood)).Msg("reflection generated")
	return Result{Message: msg, Mood: mood}
}

func (r *Reflector) generate(ctx context.Context, img frame.Image, tone domain.Tone, intensity int) (string, domain.Mood, error) {
	if len(img.Data) == 0 {
		return "", "", domain.Invalid("imageBase64", "required")
	}
	small, err := frame.Downscale(img, frame.MaxEdge)
	if err != nil {
		r.logger.Debug().Err(err).Msg("frame downscale skipped")
		small = img
	}

	caption, err := r.caption(ctx, small)
	if err != nil {
		return "", "", err
	}
	prompt := BuildPrompt(tone, intensity, caption)
	out, err := r.models.Invoke(ctx, r.textModel, map[string]any{
		"prompt":      prompt,
		"temperature": 0.2,
		"max_tokens":  60,
		"top_p":       0.9,
	})
	if err != nil {
		return "", "", fmt.Errorf("generate line: %w", err)
	}
	text, err := replicate.DecodeText(out)
	if err != nil {
		return "", "", fmt.Errorf("generate line: %w", err)
	}
	msg := Normalize(text)
	if msg == "" {
		return "", "", errEmptyMessage
	}
	return msg, MoodFromCaption(caption), nil
}

func (r *Reflector) caption(ctx context.Context, img frame.Image) (string, error) {
	out, err := r.models.Invoke(ctx, r.captionModel, map[string]any{
		"image":      img.DataURI(),
		"prompt":     captionPrompt,
		"max_tokens": 100,
	})
	if err != nil {
		return "", fmt.Errorf("caption frame: %w", err)
	}
	text, err := replicate.DecodeText(out)
	if err != nil {
		return "", fmt.Errorf("caption frame: %w", err)
	}
	caption := truncate(collapseSpaces(text), MaxCaptionRunes)
	if caption == "" {
		caption = defaultCaption
	}
	return caption, nil
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max]))
}
