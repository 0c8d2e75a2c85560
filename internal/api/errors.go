package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/MrWong99/mockinterview/internal/app"
	"github.com/MrWong99/mockinterview/internal/interview"
	"github.com/MrWong99/mockinterview/internal/observe"
	"github.com/MrWong99/mockinterview/internal/resilience"
)

var (
	// errBadRequest marks malformed request bodies and path values.
	errBadRequest = errors.New("api: bad request")

	// errNotFound marks keys without an open session.
	errNotFound = errors.New("api: not found")
)

// StatusFor maps an error returned by a controller to an HTTP status.
// An open circuit is reported as 503 rather than 502 so that clients can
// tell a shed call from a failed one.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, interview.ErrBackend):
		return http.StatusBadGateway
	case errors.Is(err, interview.ErrStore):
		return http.StatusServiceUnavailable
	case errors.Is(err, interview.ErrWrongStage),
		errors.Is(err, interview.ErrNotLoaded),
		errors.Is(err, interview.ErrExpired):
		return http.StatusConflict
	case errors.Is(err, interview.ErrBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, interview.ErrNoProblem), errors.Is(err, errNotFound):
		return http.StatusNotFound
	case errors.Is(err, interview.ErrInvalid),
		errors.Is(err, interview.ErrNoOptions),
		errors.Is(err, app.ErrInvalidKey),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Warn("api: request failed", "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("api: encode response", "err", err)
	}
}

// decodeJSON reads a single JSON value from the request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return nil
}
