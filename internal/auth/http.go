// ABOUTME: HTTP middleware resolving the caller's identity
// ABOUTME: Bearer JWTs, bridge acting-user delegation and an open development mode

package auth

import (
	"log/slog"
	"net/http"
	"strings"
)

// ActingUserHeader names the user a bridge (or a dev-mode caller) acts for.
const ActingUserHeader = "X-Acting-User"

// ActingNameHeader optionally carries the acting user's display name.
const ActingNameHeader = "X-Acting-Name"

// extractBearerToken reads the token from the Authorization header, falling
// back to the access_token query parameter that EventSource clients need.
// Returns the token and an error message (empty if successful).
func extractBearerToken(r *http.Request) (string, string) {
	header := r.Header.Get("Authorization")
	if header == "" {
		if q := r.URL.Query().Get("access_token"); q != "" {
			return q, ""
		}
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}

// Middleware attaches an Identity to every request it lets through.
//
// With a nil verifier the server is in development mode: the caller is
// whoever X-Acting-User (or the user query parameter) names. Otherwise a valid bearer token is required;
// user tokens act for their subject and bridge tokens act for X-Acting-User.
func Middleware(verifier *JWTVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With("component", "auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			acting := strings.TrimSpace(r.Header.Get(ActingUserHeader))

			if verifier == nil {
				if acting == "" {
					acting = strings.TrimSpace(r.URL.Query().Get("user"))
				}
				if acting == "" {
					writeAuthError(w, http.StatusUnauthorized, "missing "+ActingUserHeader+" header")
					return
				}
				id := &Identity{UserID: acting, DisplayName: r.Header.Get(ActingNameHeader)}
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
				return
			}

			token, errMsg := extractBearerToken(r)
			if errMsg != "" {
				writeAuthError(w, http.StatusUnauthorized, errMsg)
				return
			}

			claims, err := verifier.Verify(token)
			if err != nil {
				logger.Debug("rejected token", "error", err, "path", r.URL.Path)
				writeAuthError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			var id *Identity
			switch claims.Kind {
			case KindBridge:
				if acting == "" {
					writeAuthError(w, http.StatusBadRequest, "bridge tokens require "+ActingUserHeader)
					return
				}
				id = &Identity{
					UserID:      acting,
					DisplayName: r.Header.Get(ActingNameHeader),
					Via:         claims.Subject,
				}
			default:
				if acting != "" && acting != claims.Subject {
					writeAuthError(w, http.StatusForbidden, "user tokens cannot act for other users")
					return
				}
				id = &Identity{UserID: claims.Subject, DisplayName: claims.Name}
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
