package api

import (
	"errors"
	"log/slog"
	"net/http"

	"pollchat/internal/db"
	"pollchat/internal/models"
	"pollchat/internal/presence"
)

type UserHandler struct {
	users    *db.UserRepository
	presence *presence.Tracker
}

func NewUserHandler(users *db.UserRepository, tracker *presence.Tracker) *UserHandler {
	return &UserHandler{users: users, presence: tracker}
}

// GET /api/users/me
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	id := GetIdentity(r)
	if id == nil {
		unauthorized(w, "Not authenticated")
		return
	}

	user, err := h.users.FindByID(r.Context(), id.UserID)
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "User not found")
		return
	}
	if err != nil {
		slog.Error("error finding user", "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// GET /api/online-users
func (h *UserHandler) OnlineUsers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, models.OnlineUsers{OnlineUsers: h.presence.Online()})
}
