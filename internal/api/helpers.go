// Package api implements a small local HTTP API for inspecting and editing
// the hot corner state. It is disabled unless the daemon is given --http.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linuxdeepin/dde-zone/internal/events"
	"github.com/linuxdeepin/dde-zone/internal/zone"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	zone   Zone
	events EventBus
}

// Zone is the interface the handlers use to interact with the corner state.
type Zone interface {
	Snapshot() zone.Snapshot
	Action(c zone.Corner) string
	SetAction(c zone.Corner, action string)
	Save() error
}

// EventBus is the interface for subscribing to state change events.
type EventBus interface {
	Subscribe(id string) <-chan events.Event
	Unsubscribe(id string)
}

// apiError is the JSON error body.
type apiError struct {
	Code    string `json:"error"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *apiError) Error() string { return e.Message }

func errNotFound(msg string) *apiError {
	return &apiError{Code: "NOT_FOUND", Message: msg, Status: http.StatusNotFound}
}

func errBadRequest(msg string) *apiError {
	return &apiError{Code: "BAD_REQUEST", Message: msg, Status: http.StatusBadRequest}
}

func errInternal(msg string) *apiError {
	return &apiError{Code: "INTERNAL", Message: msg, Status: http.StatusInternalServerError}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes err as a JSON response.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apiError
	if !errors.As(err, &appErr) {
		appErr = errInternal(err.Error())
	}
	writeJSON(w, appErr.Status, appErr)
}

// cornerParam resolves the {key} path parameter to a corner.
func cornerParam(r *http.Request) (zone.Corner, string, error) {
	key := chi.URLParam(r, "key")
	c, ok := zone.CornerForKey(key)
	if !ok {
		return 0, key, errNotFound("unknown corner " + key)
	}
	return c, key, nil
}
