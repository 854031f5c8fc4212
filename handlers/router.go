package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
)

// Router holds the handlers served by the HTTP API.
type Router struct {
	Faces          *FaceHandler
	Scan           *ScanHandler
	Preview        *ImagePreviewHandler
	Debug          *DebugHandler
	Images         http.Handler
	Metrics        http.Handler
	AllowedOrigins []string
}

// Handler builds the chi router.
func (rt Router) Handler() http.Handler {
	r := chi.NewRouter()

	corsOptions := cors.Options{
		AllowedOrigins:   rt.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	corsHandler := cors.New(corsOptions)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsHandler.Handler)

	// streaming route, outside the request timeout
	r.Get("/api/faces/ws", rt.Faces.StreamFaces)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Route("/api", func(r chi.Router) {
			r.Route("/scan", func(r chi.Router) {
				r.Post("/", rt.Scan.StartScan)
				r.Get("/", rt.Scan.GetScanStatus)
			})
			r.Route("/faces", func(r chi.Router) {
				r.Get("/", rt.Faces.ListFaces)
				r.Put("/tag", rt.Faces.UpdateTag)
			})
			if rt.Images != nil {
				r.Get("/images/*", rt.Images.ServeHTTP)
			}
		})

		r.Route("/debug", func(r chi.Router) {
			// GET /debug/image_with_faces?id=/abs/path/to/image.jpg
			r.Get("/image_with_faces", rt.Preview.ServeImageWithFaces)
			if rt.Debug != nil {
				// GET /debug/detect?path=relative/path/to/image.jpg
				r.Get("/detect", rt.Debug.DetectImage)
			}
		})

		if rt.Metrics != nil {
			r.Handle("/metrics", rt.Metrics)
		}
	})

	return r
}
