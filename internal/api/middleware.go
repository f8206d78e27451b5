package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"pollchat/internal/auth"
	"pollchat/internal/db"
	"pollchat/internal/presence"
)

type contextKey string

const identityKey contextKey = "identity"

var errSessionRevoked = errors.New("session revoked")

// SessionCookieName carries the session token for cookie-based clients.
const SessionCookieName = "pollchat_session"

// Identity is the authenticated caller.
type Identity struct {
	UserID    int64
	Username  string
	TokenID   string
	ExpiresAt time.Time
}

type AuthMiddleware struct {
	sessions *auth.SessionService
	revoked  *db.RevokedTokenRepository
	presence *presence.Tracker
}

func NewAuthMiddleware(sessions *auth.SessionService, revoked *db.RevokedTokenRepository, tracker *presence.Tracker) *AuthMiddleware {
	return &AuthMiddleware{sessions: sessions, revoked: revoked, presence: tracker}
}

// RequireAuth rejects requests without a valid, unrevoked session.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := sessionToken(r)
		if !ok {
			unauthorized(w, "Not authenticated")
			return
		}

		id, err := m.authenticate(r.Context(), token)
		switch {
		case err == nil:
		case errors.Is(err, auth.ErrTokenExpired):
			writeError(w, http.StatusUnauthorized, ErrCodeAuthExpired, "Session expired")
			return
		case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, errSessionRevoked):
			writeError(w, http.StatusUnauthorized, ErrCodeAuthFailed, "Invalid session")
			return
		default:
			slog.Error("error authenticating request", "error", err)
			internalError(w)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
	})
}

// OptionalAuth attaches the identity when a valid session is present and
// lets the request through either way.
func (m *AuthMiddleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token, ok := sessionToken(r); ok {
			if id, err := m.authenticate(r.Context(), token); err == nil {
				r = r.WithContext(context.WithValue(r.Context(), identityKey, id))
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (m *AuthMiddleware) authenticate(ctx context.Context, token string) (*Identity, error) {
	claims, err := m.sessions.Validate(token)
	if err != nil {
		return nil, err
	}

	revoked, err := m.revoked.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("checking session revocation: %w", err)
	}
	if revoked {
		return nil, errSessionRevoked
	}

	m.presence.Touch(claims.Username)

	id := &Identity{
		UserID:   claims.UserID,
		Username: claims.Username,
		TokenID:  claims.ID,
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

// sessionToken prefers the Authorization header over the cookie.
func sessionToken(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
			return "", false
		}
		return strings.TrimSpace(token), true
	}

	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

func GetIdentity(r *http.Request) *Identity {
	if id, ok := r.Context().Value(identityKey).(*Identity); ok {
		return id
	}
	return nil
}
