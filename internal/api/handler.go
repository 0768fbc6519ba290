// Package api holds the HTTP plumbing shared by every route: the
// error-returning handler adapter, the response shape, and middleware.
package api

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/homeaudio/sonos-gateway/internal/apperrors"
)

// Handler adapts handlers that return errors into http.Handler.
type Handler func(w http.ResponseWriter, r *http.Request) error

// ServeHTTP implements http.Handler.
func (handler Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := handler(w, r); err != nil {
		WriteError(w, err)
	}
}

// Recoverer converts panics into 500 responses.
func Recoverer(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if recovered := recover(); recovered != nil {
					logger.Error().Interface("panic", recovered).Str("path", r.URL.Path).Msg("panic recovered")
					WriteError(w, apperrors.Internal(nil))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
