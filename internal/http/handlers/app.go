package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"mirror/internal/db"
	"mirror/internal/domain"
	"mirror/internal/mirror"
	"mirror/internal/reaction"
)

// MaxBodyBytes caps request bodies; frames arrive base64 encoded.
const MaxBodyBytes = 10 << 20

type Reflector interface {
	Reflect(ctx context.Context, req mirror.Request) mirror.Result
}

type JobStarter interface {
	StartJob(ctx context.Context, req reaction.StartRequest) (reaction.Handle, error)
	InFlight() int
}

type Speaker interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

type StatsSource interface {
	Stats(ctx context.Context) (db.ReactionJobStats, error)
}

// Credentials reports whether model calls can be made at all.
type Credentials interface {
	HasCredentials() bool
}

// App holds the dependencies shared by every handler.
type App struct {
	Jobs      domain.JobStore
	Reflector Reflector
	Processor JobStarter
	Speech    Speaker
	Stats     StatsSource
	Models    Credentials
	Logger    zerolog.Logger
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, message string) {
	a.json(w, code, map[string]string{"error": message})
}

// decode reads a JSON body. An empty body decodes to the zero value.
func (a *App) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return domain.Invalid("body", "request body too large")
	}
	return domain.Invalid("body", "invalid JSON payload")
}

// requireModels answers 500 when no model token is configured.
func (a *App) requireModels(w http.ResponseWriter) bool {
	if a.Models == nil || !a.Models.HasCredentials() {
		a.error(w, http.StatusInternalServerError, "Missing REPLICATE_API_TOKEN")
		return false
	}
	return true
}

// fail maps domain errors onto status codes.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	var v *domain.ValidationError
	switch {
	case errors.As(err, &v):
		a.error(w, http.StatusBadRequest, v.Error())
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrMissingConfig):
		a.error(w, http.StatusInternalServerError, err.Error())
	case errors.Is(err, reaction.ErrShuttingDown):
		a.error(w, http.StatusServiceUnavailable, err.Error())
	default:
		a.log(r).Error().Err(err).Msg("request failed")
		a.error(w, http.StatusInternalServerError, err.Error())
	}
}

// log prefers the request scoped logger installed by middleware.Logger.
func (a *App) log(r *http.Request) *zerolog.Logger {
	if l := zerolog.Ctx(r.Context()); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &a.Logger
}
