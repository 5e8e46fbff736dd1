package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/water-kiosk/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса авторизации налива.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/", h.Status)
	r.Get("/healthz", h.Health)
	r.Post("/dispense-verification", h.DispenseVerification)

	if h.adminEnabled() {
		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/test-database", h.TestDatabase)

			r.Route("/database", func(r chi.Router) {
				r.Post("/query", h.QueryDocuments)
				r.Post("/create", h.CreateDocument)
				r.Post("/update", h.UpdateDocument)
			})
		})
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
