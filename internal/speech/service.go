// Package speech synthesizes short spoken lines with a hosted TTS model.
package speech

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"mirror/internal/domain"
	"mirror/internal/providers/replicate"
)

const DefaultVoice = "English_PlayfulGirl"

// Fetcher downloads a generated artifact.
type Fetcher interface {
	Download(ctx context.Context, url string) ([]byte, string, error)
}

type Options struct {
	Model        string
	DefaultVoice string
	Logger       zerolog.Logger
}

type Service struct {
	models replicate.Invoker
	fetch  Fetcher
	model  string
	voice  string
	logger zerolog.Logger
}

func NewService(models replicate.Invoker, fetch Fetcher, opts Options) *Service {
	voice := strings.TrimSpace(opts.DefaultVoice)
	if voice == "" {
		voice = DefaultVoice
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "minimax/speech-02-hd"
	}
	return &Service{models: models, fetch: fetch, model: model, voice: voice, logger: opts.Logger}
}

// SynthesizeURL runs the TTS model and returns the hosted audio URL.
func (s *Service) SynthesizeURL(ctx context.Context, text, voice string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", domain.Invalid("text", "Text is required")
	}
	voice = strings.TrimSpace(voice)
	if voice == "" {
		voice = s.voice
	}
	out, err := s.models.Invoke(ctx, s.model, map[string]any{
		"text":                  text,
		"voice_id":              voice,
		"speed":                 1.0,
		"volume":                1.0,
		"pitch":                 0,
		"sample_rate":           32000,
		"bitrate":               128000,
		"channel":               "mono",
		"english_normalization": true,
	})
	if err != nil {
		return "", fmt.Errorf("synthesize speech: %w", err)
	}
	audioURL, shape, err := replicate.DecodeURL(out)
	if err != nil {
		return "", fmt.Errorf("synthesize speech: %w", err)
	}
	s.logger.Debug().Str("model", s.model).Str("voice", voice).Str("shape", string(shape)).Msg("speech synthesized")
	return audioURL, nil
}

// Synthesize returns the generated audio bytes.
func (s *Service) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	audioURL, err := s.SynthesizeURL(ctx, text, voice)
	if err != nil {
		return nil, err
	}
	data, _, err := s.fetch.Download(ctx, audioURL)
	if err != nil {
		return nil, fmt.Errorf("fetch generated audio: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("fetch generated audio: empty body")
	}
	return data, nil
}
