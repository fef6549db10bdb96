package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"viralfaces/internal/http/handlers"
	"viralfaces/internal/middleware"
)

// Options tunes the router's middleware.
type Options struct {
	AllowedOrigins []string
	GenerateLimit  int
}

func NewRouter(app *handlers.App, logger zerolog.Logger, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(logger),
		middleware.CORS(opts.AllowedOrigins),
	)

	// Health
	r.Get("/v1/healthz", app.Health)

	r.Route("/api", func(r chi.Router) {
		r.With(middleware.RateLimit(opts.GenerateLimit, time.Minute)).Post("/generate", app.Generate)
		r.Get("/templates", app.TemplatesList)
		r.Get("/results/{resultId}", app.Result)
		r.Post("/webhooks/stripe", app.StripeWebhook)
	})

	r.Get("/files/{bucket}/*", app.Download)

	return r
}
