package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/codezoo/codezoo/internal/store"
)

// LoginPath is where unauthenticated browser requests are sent.
const LoginPath = "/auth/login"

type contextKey struct{}

// WithUser returns a context carrying u.
func WithUser(ctx context.Context, u store.User) context.Context {
	return context.WithValue(ctx, contextKey{}, u)
}

// UserFrom returns the signed-in user stored by Middleware or RequireUser.
func UserFrom(ctx context.Context) (store.User, bool) {
	u, ok := ctx.Value(contextKey{}).(store.User)
	return u, ok
}

// Middleware attaches the signed-in user, if any, to the request context.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserFrom(r.Context()); !ok {
			if u, ok := s.Authenticate(r); ok {
				r = r.WithContext(WithUser(r.Context(), u))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireUser rejects requests without a live session. API and websocket
// requests get a 401 JSON body; page requests are redirected to the login
// page.
func (s *Service) RequireUser(next http.Handler) http.Handler {
	return s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserFrom(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}
		if wantsJSON(r) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "authentication required"})
			return
		}
		http.Redirect(w, r, LoginPath, http.StatusSeeOther)
	}))
}

func wantsJSON(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") || strings.HasPrefix(r.URL.Path, "/ws/") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
