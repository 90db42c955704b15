package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/davidkvd/nomnom-studio/internal/http/handlers"
	"github.com/davidkvd/nomnom-studio/internal/locale"
	"github.com/davidkvd/nomnom-studio/internal/middleware"
)

type Options struct {
	JWTSecret       string
	WorkerSecret    string
	CORSOrigins     []string
	RateLimitPerMin int
	CountryLookup   middleware.CountryLookup
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
		cors.New(cors.Options{
			AllowedOrigins:   opts.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Locale", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
			AllowCredentials: true,
			MaxAge:           300,
		}).Handler,
		middleware.I18N(locale.Default, opts.CountryLookup),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/files/*", app.ServeFile)

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.AuthJWT(opts.JWTSecret))
		r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))

		r.Route("/batches", func(r chi.Router) {
			r.Post("/", app.SubmitBatch)
			r.Get("/", app.ListBatches)
			r.Get("/{id}", app.GetBatch)
			r.Delete("/{id}", app.DeleteBatch)
			r.Post("/{id}/bundle", app.BundleBatch)
		})
		r.Get("/wallet", app.Wallet)
		r.Get("/wallet/ledger", app.WalletLedger)
		r.Get("/notifications", app.ListNotifications)
	})

	r.Route("/internal/worker", func(r chi.Router) {
		r.Use(middleware.WorkerSecret(opts.WorkerSecret))
		r.Post("/process", app.WorkerProcess)
	})

	return r
}
