package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"pollchat/internal/auth"
	"pollchat/internal/db"
	"pollchat/internal/models"
	"pollchat/internal/presence"
)

type AuthHandler struct {
	users        *db.UserRepository
	revoked      *db.RevokedTokenRepository
	sessions     *auth.SessionService
	presence     *presence.Tracker
	cookieSecure bool
}

func NewAuthHandler(
	users *db.UserRepository,
	revoked *db.RevokedTokenRepository,
	sessions *auth.SessionService,
	tracker *presence.Tracker,
	cookieSecure bool,
) *AuthHandler {
	return &AuthHandler{
		users:        users,
		revoked:      revoked,
		sessions:     sessions,
		presence:     tracker,
		cookieSecure: cookieSecure,
	}
}

type RegisterRequest struct {
	Username string `json:"username" validate:"required,username"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// POST /api/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	hash, err := auth.HashPassword(req.Password)
	if errors.Is(err, auth.ErrPasswordLength) {
		badRequest(w, err.Error())
		return
	}
	if err != nil {
		slog.Error("error hashing password", "error", err)
		internalError(w)
		return
	}

	user, err := h.users.Create(r.Context(), req.Username, req.Email, hash)
	var dup *db.DuplicateError
	if errors.As(err, &dup) {
		conflict(w, dup.Error())
		return
	}
	if err != nil {
		slog.Error("error creating user", "error", err)
		internalError(w)
		return
	}

	slog.Info("user registered", "user_id", user.ID, "username", user.Username)
	writeJSON(w, http.StatusCreated, user)
}

type LoginRequest struct {
	Username string `json:"username" validate:"required,max=32"`
	Password string `json:"password" validate:"required,max=72"`
}

// dummyHash keeps unknown-user logins as slow as wrong-password ones.
var dummyHash = sync.OnceValue(func() string {
	hash, _ := auth.HashPassword("not-a-real-password")
	return hash
})

// POST /api/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	user, err := h.users.FindByUsername(r.Context(), strings.TrimSpace(req.Username))
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		slog.Error("error finding user", "error", err)
		internalError(w)
		return
	}

	hash := dummyHash()
	if user != nil {
		hash = user.PasswordHash
	}
	match, err := auth.CheckPassword(hash, req.Password)
	if err != nil {
		slog.Error("error checking password", "error", err)
		internalError(w)
		return
	}
	if user == nil || !match || !user.IsActive {
		writeError(w, http.StatusUnauthorized, ErrCodeInvalidCredentials, "Invalid username or password")
		return
	}

	session, err := h.sessions.Issue(user)
	if err != nil {
		slog.Error("error issuing session", "error", err)
		internalError(w)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		MaxAge:   int(time.Until(session.ExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	h.presence.Touch(user.Username)

	writeJSON(w, http.StatusOK, models.LoginResponse{AccessToken: session.Token, Username: user.Username})
}

// POST /api/logout revokes the presented session.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	id := GetIdentity(r)
	if id == nil {
		unauthorized(w, "Not authenticated")
		return
	}

	expiresAt := id.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(h.sessions.TTL())
	}
	if err := h.revoked.Revoke(r.Context(), id.TokenID, id.UserID, expiresAt); err != nil {
		slog.Error("error revoking session", "error", err, "user_id", id.UserID)
		internalError(w)
		return
	}

	h.presence.Forget(id.Username)
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}
