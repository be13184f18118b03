package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"mirror/internal/http/handlers"
	"mirror/internal/middleware"
)

// Options configures the router beyond the handlers themselves.
type Options struct {
	Logger zerolog.Logger
	// RateLimitPerMin bounds model-backed routes per client IP; zero disables it.
	RateLimitPerMin int
	// Static serves locally stored artifacts under /static when set.
	Static http.Handler
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS,
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/stats", app.StatsSummary)

	// Status polling is cheap and frequent; it stays outside the limiter.
	r.Get("/job-status", app.JobStatus)
	r.Post("/job-status", app.JobStatus)
	r.Get("/v1/jobs/{jobID}", app.JobStatus)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
		r.Post("/reflect", app.Reflect)
		r.Post("/reaction-video", app.StartReaction)
		r.Post("/text-to-speech", app.TextToSpeech)
	})

	if opts.Static != nil {
		r.Handle("/static/*", http.StripPrefix("/static/", opts.Static))
	}
	return r
}
