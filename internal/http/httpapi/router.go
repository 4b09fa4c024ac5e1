package httpapi

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"itera/internal/http/handlers"
	"itera/internal/metrics"
	"itera/internal/middleware"
)

type Options struct {
	Logger          zerolog.Logger
	Metrics         *metrics.Metrics
	AllowedOrigins  []string
	RateLimitPerMin int
	DefaultLocale   string
}

func NewRouter(app *handlers.App, opts Options) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(
		chimw.RealIP,
		middleware.RequestID,
		middleware.Logger(opts.Logger, opts.Metrics),
		chimw.Recoverer,
		middleware.CORS(opts.AllowedOrigins),
		middleware.I18N(opts.DefaultLocale),
	)

	r.Get("/healthz", app.Health)
	r.Handle("/metrics", opts.Metrics.Handler())

	r.Get("/status/{jobId}", app.Status)
	r.Get("/proxy", app.Proxy)
	r.Get("/assets/*", app.Assets)
	r.Get("/samples/*", app.Samples)

	// Vendor-backed endpoints are rate limited per client.
	limiter := middleware.NewRateLimiter(opts.RateLimitPerMin, func(*stdhttp.Request) {
		opts.Metrics.RateLimited()
	})
	r.Group(func(r chi.Router) {
		r.Use(limiter.Handler)
		r.Post("/brief", app.Brief)
		r.Post("/edit", app.Edit)
		r.Post("/generate", app.Generate)
		r.Post("/image-generate", app.ImageGenerate)
		r.Post("/export", app.Export)
	})

	return r
}
