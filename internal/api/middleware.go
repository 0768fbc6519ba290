package api

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/homeaudio/sonos-gateway/internal/apperrors"
)

// CORS always allows cross-origin access; the gateway serves a trusted LAN.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// BasicAuth enforces HTTP basic auth when credentials are configured.
// Exempt paths (health, OAuth callback) and peers inside a trusted CIDR
// skip the check.
func BasicAuth(username, password string, trustedCIDRs []string, exemptPaths []string, logger zerolog.Logger) func(http.Handler) http.Handler {
	var trusted []*net.IPNet
	for _, cidr := range trustedCIDRs {
		_, network, err := net.ParseCIDR(strings.TrimSpace(cidr))
		if err != nil {
			logger.Warn().Str("cidr", cidr).Msg("ignoring invalid trusted network")
			continue
		}
		trusted = append(trusted, network)
	}

	exempt := make(map[string]bool, len(exemptPaths))
	for _, p := range exemptPaths {
		exempt[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if username == "" || exempt[r.URL.Path] || fromTrusted(r, trusted) {
				next.ServeHTTP(w, r)
				return
			}

			user, pass, ok := r.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(user), []byte(username)) != 1 ||
				subtle.ConstantTimeCompare([]byte(pass), []byte(password)) != 1 {
				w.Header().Set("WWW-Authenticate", `Basic realm="sonos-gateway"`)
				WriteError(w, apperrors.AuthRequired())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func fromTrusted(r *http.Request, trusted []*net.IPNet) bool {
	if len(trusted) == 0 {
		return false
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, network := range trusted {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// AccessLog logs each request at debug level.
func AccessLog(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote", r.RemoteAddr).
				Str("requestId", GetRequestID(r)).
				Msg("request")
			next.ServeHTTP(w, r)
		})
	}
}
