package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"gwi.com/apex-chat/internal/core"
	"gwi.com/apex-chat/internal/store"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps err onto the error taxonomy. notFoundMsg and internalMsg are the messages shown
// for 404 and 500 responses; client errors show the error text itself.
func writeError(w http.ResponseWriter, r *http.Request, err error, notFoundMsg, internalMsg string) {
	var dup *store.DuplicateFieldError
	switch {
	case errors.As(err, &dup):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("Duplicate found: %s already exists", dup.Field)})
	case errors.Is(err, core.ErrValidation):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, core.ErrForbidden):
		writeJSON(w, http.StatusForbidden, ErrorResponse{Error: "Forbidden"})
	case errors.Is(err, store.ErrNotFound):
		if notFoundMsg == "" {
			notFoundMsg = "Not found"
		}
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: notFoundMsg})
	default:
		if internalMsg == "" {
			internalMsg = "Internal server error"
		}
		hlog.FromRequest(r).Error().Err(err).Bool("downstream", errors.Is(err, core.ErrDownstream)).Msg(internalMsg)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: internalMsg, Details: err.Error()})
	}
}
