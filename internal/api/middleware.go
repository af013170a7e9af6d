package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/hlog"

	"gwi.com/apex-chat/internal/auth"
)

// AuthMiddleware requires a bearer token and stores the verified userId in the request context.
func (h *APIHandler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || tokenString == "" {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Authorization header is required"})
			return
		}

		userID, err := h.verifier.Verify(r.Context(), tokenString)
		if err != nil {
			hlog.FromRequest(r).Warn().Err(err).Msg("Rejected bearer token")
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Invalid token"})
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), userID)))
	})
}

// accessLog writes one line per request through the request-scoped zerolog logger.
func accessLog() func(http.Handler) http.Handler {
	return hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	})
}
