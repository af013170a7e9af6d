package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// NewRouter builds the HTTP handler. A positive requestTimeout bounds every request's context.
func NewRouter(apiHandler *APIHandler, logger zerolog.Logger, corsOrigins []string, requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(hlog.NewHandler(logger))
	r.Use(hlog.RemoteAddrHandler("ip"))
	r.Use(accessLog())
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling
	if requestTimeout > 0 {
		r.Use(middleware.Timeout(requestTimeout))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Group(func(r chi.Router) {
			if apiHandler.verifier != nil {
				r.Use(apiHandler.AuthMiddleware)
			}

			// Chat routes
			r.Get("/chats/{userId}", apiHandler.ListChatsHandler)
			r.Get("/chats/thread/{chatId}", apiHandler.GetThreadHandler)
			r.Post("/chats", apiHandler.PostMessageHandler)

			// User routes
			r.Post("/users", apiHandler.CreateUserHandler)
			r.Get("/users/{userId}", apiHandler.GetUserHandler)
			r.Put("/users/{userId}", apiHandler.UpdateUserHandler)
		})
	})

	return r
}
