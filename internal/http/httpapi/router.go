package httpapi

import (
	"net/http"
	"time"

	"fluxtune/internal/http/handlers"
	"fluxtune/internal/infra"
	mw "fluxtune/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type RouterOptions struct {
	Logger          *infra.Logger
	RateLimitPerMin int
}

func NewRouter(app *handlers.App, opts RouterOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = infra.NopLogger()
	}

	r := chi.NewRouter()
	r.Use(
		mw.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		mw.Logger(*logger),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/finetunes", app.ListFinetunes)

		// Job submissions hold the connection open until the remote job ends.
		r.Group(func(r chi.Router) {
			r.Use(mw.RateLimit(opts.RateLimitPerMin, time.Minute))
			r.Post("/finetunes", app.CreateFinetune)
			r.Post("/images", app.GenerateImage)
		})
	})

	return r
}
