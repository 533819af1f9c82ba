package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzhttp"
)

func newRouter(s *server) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		withLogging,
		withCORS,
	)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/personas", s.handlePersonas)
		r.Post("/sessions", s.handleCreateSession)

		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Use(s.withSession)
			r.Get("/", s.handleGetSession)
			r.Put("/images/{slot}", s.handleUpload)
			r.Put("/persona", s.handleSelectPersona)
			r.Post("/composite", s.handleStartComposite)
			r.Post("/restyle", s.handleStartRestyle)
			r.Get("/artifacts/{stage}", s.handleArtifact)
			r.Get("/bundle", s.handleBundle)
			r.Get("/history", s.handleHistory)
		})
	})

	return gzhttp.GzipHandler(r)
}
