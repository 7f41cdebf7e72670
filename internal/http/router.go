package http

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"pictrans/internal/http/handlers"
	"pictrans/internal/middleware"
)

// RouterOptions tunes the cross-cutting middleware.
type RouterOptions struct {
	AllowedOrigins    []string
	UploadLimitPerMin int
}

// NewRouter assembles the public API surface.
func NewRouter(app *handlers.App, opts RouterOptions) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimw.RealIP, chimw.Recoverer)
	r.Use(middleware.Logger(app.Logger))
	if len(opts.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(opts.AllowedOrigins))
	}

	uploadLimit := opts.UploadLimitPerMin
	if uploadLimit <= 0 {
		uploadLimit = 30
	}

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/docs/enums", app.DocsEnums)

	r.Route("/v1/images", func(r chi.Router) {
		r.With(middleware.RateLimit(uploadLimit, time.Minute)).Post("/", app.ImagesUpload)
		r.Get("/{bucket}/{filename}", app.ImagesFetch)
	})

	r.Route("/v1/services", func(r chi.Router) {
		r.Post("/", app.ServicesCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", app.ServicesGet)
			r.Get("/status", app.ServicesStatus)
			r.Post("/areas", app.ServicesAreas)
			r.Post("/translate", app.ServicesTranslate)
			r.Post("/compose", app.ServicesCompose)
			r.Post("/retry", app.ServicesRetry)
			r.Route("/areas/{areaID}", func(r chi.Router) {
				r.Patch("/origin-text", app.AreasUpdateOriginText)
				r.Patch("/translated-text", app.AreasUpdateTranslatedText)
				r.Delete("/", app.AreasDelete)
			})
		})
	})

	return r
}
