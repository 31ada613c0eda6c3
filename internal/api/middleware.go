// Package api implements the catatan REST API using chi.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type ctxKey int

const (
	ownerKey ctxKey = iota
	clientKey
)

// Client session transport.
const (
	SessionCookie = "catatan_session"
	SessionHeader = "X-Client-Session"
)

// AuthMiddleware returns middleware that validates a Bearer token and
// attaches user as the owner of the request.
// If enabled is false, all requests pass through as user.
func AuthMiddleware(enabled bool, token, user string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if enabled {
				auth := r.Header.Get("Authorization")
				if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != token {
					writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey, user)))
		})
	}
}

// ClientSessionMiddleware resolves the client browsing session from the
// header or cookie, issuing a new session cookie when there is neither.
// The cookie has no expiry so it ends with the browser session.
func ClientSessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(SessionHeader)
		if id == "" {
			if c, err := r.Cookie(SessionCookie); err == nil {
				id = c.Value
			}
		}
		if id == "" {
			id = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     SessionCookie,
				Value:    id,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientKey, id)))
	})
}

// Owner returns the authenticated owner of the request.
func Owner(r *http.Request) string {
	s, _ := r.Context().Value(ownerKey).(string)
	return s
}

// ClientSession returns the client browsing session of the request.
func ClientSession(r *http.Request) string {
	s, _ := r.Context().Value(clientKey).(string)
	return s
}
