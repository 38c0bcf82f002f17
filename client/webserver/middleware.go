// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package webserver

import (
	"context"
	"net/http"
)

// securityMiddleware adds security headers to the server responses.
func securityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-frame-options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; script-src 'self'; img-src 'self' data:; style-src 'self'; font-src 'self'; connect-src 'self'")
		next.ServeHTTP(w, r)
	})
}

// authMiddleware checks incoming requests for the auth token cookie.
func (s *WebServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		locked := s.core.IsLocked()
		ctx := context.WithValue(r.Context(), ctxKeyUserInfo, &userInfo{
			// A locked vault invalidates every session.
			Authed: !locked && s.isAuthed(r),
			Locked: locked,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireLogin ensures that the user is authenticated (has logged in) before
// allowing the incoming request to proceed.
func (s *WebServer) requireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := extractUserInfo(r)
		if !user.Authed {
			writeJSONWithStatus(w, &standardResponse{Msg: "not logged in"}, http.StatusUnauthorized, s.indent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
