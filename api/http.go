package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"
)

type httpError struct {
	cause  error
	status int
}

func (e *httpError) Error() string {
	return e.cause.Error()
}

func (e *httpError) Unwrap() error {
	return e.cause
}

func badRequest(cause error) error {
	return &httpError{cause: cause, status: http.StatusBadRequest}
}

// handlerFunc is an http.HandlerFunc that reports failure by returning an error.
type handlerFunc func(http.ResponseWriter, *http.Request) error

// wrap converts f into an http.HandlerFunc. An *httpError selects the status,
// any other error is a 500.
func wrap(log zerolog.Logger, f handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := f(w, r)
		if err == nil {
			return
		}
		var he *httpError
		if errors.As(err, &he) {
			http.Error(w, he.cause.Error(), he.status)
			return
		}
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

const jsonContentType = "application/json; charset=utf-8"

func writeJSON(w http.ResponseWriter, obj any) error {
	return writeJSONStatus(w, http.StatusOK, obj)
}

// writeJSONStatus sets the content type before the status line goes out.
func writeJSONStatus(w http.ResponseWriter, status int, obj any) error {
	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(obj)
}

// parseJSON decodes a request body in strict mode.
func parseJSON(r io.Reader, v any) error {
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}
