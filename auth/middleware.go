// Package auth gates the HTTP routes behind a static bearer token or basic
// credentials loaded from a file, and scopes basic users to one project.
package auth

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

type contextKey struct{}

// Identity is the authenticated caller.
type Identity struct {
	Username string
	Project  string
}

// IsAdmin reports whether the identity may access every project.
func (i Identity) IsAdmin() bool {
	return i.Project == ProjectAll
}

// CanAccess reports whether the identity may access project.
func (i Identity) CanAccess(project string) bool {
	return i.IsAdmin() || i.Project == project
}

// admin is the identity of bearer token holders and of every caller when
// authentication is disabled.
var admin = Identity{Username: "admin", Project: ProjectAll}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity stored by the middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

type Authenticator struct {
	token string
	users map[string]Credential
	log   *slog.Logger
}

// New creates an authenticator. With an empty token and no users every
// request passes as admin.
func New(token string, users map[string]Credential, log *slog.Logger) *Authenticator {
	return &Authenticator{
		token: token,
		users: users,
		log:   log,
	}
}

// Enabled reports whether any credential is configured.
func (a *Authenticator) Enabled() bool {
	return a.token != "" || len(a.users) > 0
}

// Middleware authenticates the request and stores the caller identity in
// the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), admin)))
			return
		}

		id, ok := a.authenticate(r)
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

func (a *Authenticator) authenticate(r *http.Request) (Identity, bool) {
	header := r.Header.Get("Authorization")
	switch {
	case header == "":
		a.log.Debug("Authentication failed: missing Authorization header")
		return Identity{}, false

	case strings.HasPrefix(header, "Bearer "):
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if a.token == "" || token == "" {
			a.log.Debug("Authentication failed: bearer token not accepted")
			return Identity{}, false
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(a.token)) != 1 {
			a.log.Warn("Authentication failed: invalid bearer token")
			return Identity{}, false
		}
		return admin, true

	case strings.HasPrefix(header, "Basic "):
		username, password, ok := r.BasicAuth()
		if !ok {
			a.log.Debug("Authentication failed: malformed basic credentials")
			return Identity{}, false
		}
		user, exists := a.users[username]
		if !exists {
			a.log.Warn("Authentication failed: unknown user", "username", username)
			return Identity{}, false
		}
		match, err := VerifyPassword(password, user.PasswordHash)
		if err != nil {
			a.log.Error("Failed to verify password", "username", username, "err", err)
			return Identity{}, false
		}
		if !match {
			a.log.Warn("Authentication failed: wrong password", "username", username)
			return Identity{}, false
		}
		a.log.Debug("User authenticated", "username", username, "project", user.Project)
		return Identity{Username: user.Username, Project: user.Project}, true

	default:
		a.log.Debug("Authentication failed: unsupported Authorization scheme")
		return Identity{}, false
	}
}

// RequireProject rejects callers that may not access the project returned
// by project for the request.
func RequireProject(project func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			name := project(r)
			if name == "" {
				http.Error(w, "Bad Request: Missing project name", http.StatusBadRequest)
				return
			}
			id, ok := FromContext(r.Context())
			if !ok {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if !id.CanAccess(name) {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin rejects callers without access to every project.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := FromContext(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if !id.IsAdmin() {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
