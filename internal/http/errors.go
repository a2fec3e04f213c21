package http

import (
	"encoding/json"
	"net/http"

	"github.com/robertarktes/booking-holds/internal/domain"
	"github.com/robertarktes/booking-holds/internal/observability"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var statusByKind = map[string]int{
	"not_found":                http.StatusNotFound,
	"illegal_transition":       http.StatusConflict,
	"conflicting_hold":         http.StatusConflict,
	"insufficient_competitors": http.StatusUnprocessableEntity,
	"invalid_request_state":    http.StatusConflict,
	"concurrent_modification":  http.StatusConflict,
	"invalid_input":            http.StatusBadRequest,
	"forbidden":                http.StatusForbidden,
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError maps a domain error kind to its status and stable code.
// Unclassified errors are logged and reported without detail.
func writeError(w http.ResponseWriter, r *http.Request, logger observability.Logger, err error) {
	kind := domain.Kind(err)
	status, ok := statusByKind[kind]
	if !ok {
		LoggerFrom(r.Context(), logger).WithField("error", err.Error()).Error("request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: kind})
		return
	}
	if kind == "concurrent_modification" {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Code: kind})
}
