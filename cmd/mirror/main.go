package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mirror/internal/client"
	"mirror/internal/infra"
)

func main() {
	_ = godotenv.Load()

	var (
		apiFlag       string
		imageFlag     string
		toneFlag      string
		intensityFlag int
		modeFlag      string
		voiceFlag     string
		audioOutFlag  string
		intervalFlag  time.Duration
		attemptsFlag  int
		noSpeechFlag  bool
	)
	flag.StringVar(&apiFlag, "api", envOr("MIRROR_API_URL", "http://localhost:8080"), "mirror API base URL")
	flag.StringVar(&imageFlag, "image", "", "path to a jpeg or png frame")
	flag.StringVar(&toneFlag, "tone", "coach", "compliment, roast or coach")
	flag.IntVar(&intensityFlag, "intensity", 1, "absurdity level 0-3")
	flag.StringVar(&modeFlag, "mode", "seedance", "seedance or avatar")
	flag.StringVar(&voiceFlag, "voice", "", "speech voice id")
	flag.StringVar(&audioOutFlag, "audio-out", "", "write the spoken line to this file")
	flag.DurationVar(&intervalFlag, "poll-interval", client.DefaultPollInterval, "delay between status queries")
	flag.IntVar(&attemptsFlag, "attempts", client.DefaultMaxAttempts, "status queries before giving up")
	flag.BoolVar(&noSpeechFlag, "no-speech", false, "skip the text-to-speech call")
	flag.Parse()

	if imageFlag == "" {
		fmt.Fprintln(os.Stderr, "usage: mirror -image frame.jpg [-tone roast] [-mode avatar]")
		os.Exit(2)
	}
	logger := infra.NewLogger(envOr("APP_ENV", "development"))

	image, err := loadDataURI(imageFlag)
	if err != nil {
		logger.Fatal().Err(err).Msg("read image")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := client.NewClient(client.Options{BaseURL: apiFlag, Logger: logger})
	poller := &client.Poller{Source: api, Interval: intervalFlag, MaxAttempts: attemptsFlag, Logger: logger}
	session := client.NewSession(api, poller, client.SessionOptions{
		Tone:       toneFlag,
		Intensity:  intensityFlag,
		Mode:       modeFlag,
		Voice:      voiceFlag,
		SkipSpeech: noSpeechFlag,
		Logger:     logger,
		OnChange: func(st client.State) {
			if st.Message != "" {
				logger.Debug().Str("message", st.Message).Str("job_id", st.JobID).Bool("video_pending", st.VideoPending).Msg("state")
			}
		},
	})

	st, err := session.Capture(ctx, image)
	if err != nil {
		logger.Error().Err(err).Msg("capture failed")
	}
	if audioOutFlag != "" && len(st.Audio) > 0 {
		if err := os.WriteFile(audioOutFlag, st.Audio, 0o644); err != nil {
			logger.Error().Err(err).Msg("write audio")
		}
	}

	out := map[string]any{
		"message":      st.Message,
		"mood":         st.Mood,
		"jobId":        st.JobID,
		"outcome":      st.Outcome,
		"videoPending": st.VideoPending,
		"videoUrl":     st.VideoURL,
		"error":        st.Error,
		"audioBytes":   len(st.Audio),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
	if err != nil || st.Outcome == client.OutcomeFailed {
		os.Exit(1)
	}
}

func loadDataURI(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	mediaType := http.DetectContentType(data)
	if !strings.HasPrefix(mediaType, "image/") {
		return "", fmt.Errorf("%s is %s, not an image", path, mediaType)
	}
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
