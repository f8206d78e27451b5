package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pollchat/internal/blob"
	"pollchat/internal/db"
	"pollchat/internal/metrics"
	"pollchat/internal/models"
)

type MessageHandler struct {
	messages    *db.MessageRepository
	idempotency *Idempotency
	blobCleanup *blob.CleanupService
	metrics     *metrics.Server
}

func NewMessageHandler(
	messages *db.MessageRepository,
	idempotency *Idempotency,
	blobCleanup *blob.CleanupService,
	m *metrics.Server,
) *MessageHandler {
	return &MessageHandler{
		messages:    messages,
		idempotency: idempotency,
		blobCleanup: blobCleanup,
		metrics:     m,
	}
}

type contentRequest struct {
	Content string `json:"content"`
}

// POST /api/messages
func (h *MessageHandler) Create(w http.ResponseWriter, r *http.Request) {
	id := GetIdentity(r)
	if id == nil {
		unauthorized(w, "Not authenticated")
		return
	}

	key, ok := idempotencyKey(r)
	if !ok {
		badRequest(w, "Invalid Idempotency-Key header")
		return
	}

	var req contentRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	content := cleanContent(req.Content)
	if content == "" {
		writeError(w, http.StatusBadRequest, ErrCodeMessageEmpty, "Message content is required")
		return
	}
	if contentTooLong(content) {
		writeError(w, http.StatusBadRequest, ErrCodeMessageTooLong, "Message is too long")
		return
	}

	h.idempotency.serve(w, r, id.UserID, key, func(ctx context.Context) apiResult {
		msg, err := h.messages.Create(ctx, id.UserID, db.NewMessage{Content: content})
		if err != nil {
			slog.Error("error creating message", "error", err, "user_id", id.UserID)
			return internalResult()
		}
		h.count("create")
		return apiResult{status: http.StatusCreated, body: models.MutationResponse{MessageID: msg.ID, Message: msg}}
	})
}

// PUT /api/messages/{messageID}
func (h *MessageHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := GetIdentity(r)
	if id == nil {
		unauthorized(w, "Not authenticated")
		return
	}

	messageID, ok := parseMessageID(chi.URLParam(r, "messageID"))
	if !ok {
		badRequest(w, "Invalid message ID")
		return
	}

	var req contentRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	existing, ok := h.ownedMessage(w, r, id, messageID, "edit")
	if !ok {
		return
	}

	content := cleanContent(req.Content)
	if content == "" && existing.Attachment == nil {
		writeError(w, http.StatusBadRequest, ErrCodeMessageEmpty, "Message content is required")
		return
	}
	if contentTooLong(content) {
		writeError(w, http.StatusBadRequest, ErrCodeMessageTooLong, "Message is too long")
		return
	}

	updated, err := h.messages.UpdateContent(r.Context(), messageID, content)
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "Message not found")
		return
	}
	if err != nil {
		slog.Error("error updating message", "error", err, "message_id", messageID)
		internalError(w)
		return
	}

	h.count("edit")
	writeJSON(w, http.StatusOK, models.MutationResponse{Message: updated})
}

// DELETE /api/messages/{messageID}
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := GetIdentity(r)
	if id == nil {
		unauthorized(w, "Not authenticated")
		return
	}

	messageID, ok := parseMessageID(chi.URLParam(r, "messageID"))
	if !ok {
		badRequest(w, "Invalid message ID")
		return
	}

	if _, ok := h.ownedMessage(w, r, id, messageID, "delete"); !ok {
		return
	}

	blobID, err := h.messages.Delete(r.Context(), messageID)
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "Message not found")
		return
	}
	if err != nil {
		slog.Error("error deleting message", "error", err, "message_id", messageID)
		internalError(w)
		return
	}

	h.removeBlobs(r.Context(), blobID)
	h.count("delete")
	writeJSON(w, http.StatusOK, models.MutationResponse{DeletedID: messageID})
}

// DELETE /api/messages removes every message the caller wrote.
func (h *MessageHandler) Clear(w http.ResponseWriter, r *http.Request) {
	id := GetIdentity(r)
	if id == nil {
		unauthorized(w, "Not authenticated")
		return
	}

	count, blobIDs, err := h.messages.DeleteByUser(r.Context(), id.UserID)
	if err != nil {
		slog.Error("error clearing messages", "error", err, "user_id", id.UserID)
		internalError(w)
		return
	}

	h.removeBlobs(r.Context(), blobIDs...)
	h.count("clear")
	writeJSON(w, http.StatusOK, models.MutationResponse{DeletedCount: &count})
}

func (h *MessageHandler) ownedMessage(w http.ResponseWriter, r *http.Request, id *Identity, messageID int64, verb string) (*models.Message, bool) {
	msg, err := h.messages.FindByID(r.Context(), messageID)
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "Message not found")
		return nil, false
	}
	if err != nil {
		slog.Error("error finding message", "error", err, "message_id", messageID)
		internalError(w)
		return nil, false
	}
	if msg.AuthorID != id.UserID {
		forbidden(w, "Can only "+verb+" your own messages")
		return nil, false
	}
	return msg, true
}

// removeBlobs is best effort; the cleanup sweep catches anything left behind.
func (h *MessageHandler) removeBlobs(ctx context.Context, blobIDs ...string) {
	if h.blobCleanup == nil {
		return
	}
	for _, blobID := range blobIDs {
		if blobID == "" {
			continue
		}
		if err := h.blobCleanup.Remove(ctx, blobID); err != nil {
			slog.Warn("error removing message blob", "error", err, "blob_id", blobID)
		}
	}
}

func (h *MessageHandler) count(op string) {
	if h.metrics != nil {
		h.metrics.Messages.WithLabelValues(op).Inc()
	}
}
