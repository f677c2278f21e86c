package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"overunder/internal/domain"
	"overunder/internal/storage"
)

type errorBody struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto a status: client errors are 400 with their
// message, missing rows 404, anything else 500 without details.
func writeError(w http.ResponseWriter, logger *log.Logger, route string, err error) {
	switch {
	case domain.IsClientError(err):
		writeJSON(w, http.StatusBadRequest, errorBody{Message: err.Error()})
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Message: "not found"})
	default:
		logger.Printf("%s: %v", route, err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Message: "internal server error"})
	}
}
