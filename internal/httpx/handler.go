// Package httpx is a convenience wrapper around net/http that allows handlers
// to return errors, and classifies errors returned by upstream services.
// see https://blog.questionable.services/article/http-handler-error-handling-revisited/ for more details.
package httpx

import (
	"errors"
	"net/http"

	"github.com/go-json-experiment/json"
	"golang.org/x/exp/slog"
)

// Error is a convenience function for returning an error with an associated HTTP status code.
func Error(code int, err error) error {
	return &StatusError{code, err}
}

// StatusError represents an error with an associated HTTP status code.
type StatusError struct {
	Code int
	Err  error
}

// Allows StatusError to satisfy the error interface.
func (se *StatusError) Error() string {
	return se.Err.Error()
}

// Unwrap returns the underlying error.
func (se *StatusError) Unwrap() error {
	return se.Err
}

// Returns our HTTP status code.
func (se *StatusError) Status() int {
	return se.Code
}

// HandlerFunc adapts a function that returns an error to an http.HandlerFunc.
// Errors are logged with the default slog logger and rendered as a JSON
// object with a single error key.
func HandlerFunc[E any](envFn func(r *http.Request) *E, fn func(*E, http.ResponseWriter, *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		env := envFn(r)
		err := fn(env, w, r)
		if err == nil {
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if se := new(StatusError); errors.As(err, &se) {
			slog.Info("HTTP", "method", r.Method, "path", r.URL.Path, "status", se.Status(), "error", err)
			w.WriteHeader(se.Status())
			json.MarshalFull(w, map[string]any{
				"error": se.Error(),
			})
			return
		}
		slog.Error("HTTP", "method", r.Method, "path", r.URL.Path, "status", http.StatusInternalServerError, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		json.MarshalFull(w, map[string]any{
			"error": http.StatusText(http.StatusInternalServerError),
		})
	}
}

// Redirect returns a 302 redirect to the specified URI.
func Redirect(w http.ResponseWriter, uri string) error {
	w.Header().Set("Location", uri)
	w.WriteHeader(http.StatusFound)
	return nil
}
