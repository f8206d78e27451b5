package api

import (
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"pollchat/internal/blob"
	"pollchat/internal/db"
	"pollchat/internal/models"
)

type MediaHandler struct {
	repo  *db.BlobRepository
	blobs *blob.Service
}

func NewMediaHandler(repo *db.BlobRepository, blobs *blob.Service) *MediaHandler {
	return &MediaHandler{repo: repo, blobs: blobs}
}

// GET /api/media/{blobID} serves an attachment. Images and videos open
// inline unless ?download=1; everything else is a download.
func (h *MediaHandler) GetBlob(w http.ResponseWriter, r *http.Request) {
	blobID := strings.TrimSpace(chi.URLParam(r, "blobID"))
	if blobID == "" {
		notFound(w, "Media not found")
		return
	}

	stored, err := h.repo.FindByID(r.Context(), blobID)
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "Media not found")
		return
	}
	if err != nil {
		slog.Error("error finding blob", "error", err, "blob_id", blobID)
		internalError(w)
		return
	}

	file, err := h.blobs.Open(stored.StoragePath)
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("blob row without file", "blob_id", blobID)
		notFound(w, "Media not found")
		return
	}
	if err != nil {
		slog.Error("error opening blob", "error", err, "blob_id", blobID)
		internalError(w)
		return
	}
	defer file.Close()

	// Blob IDs are never reused, so the bytes behind one never change.
	w.Header().Set("Cache-Control", "private, max-age=31536000, immutable")
	w.Header().Set("ETag", strconv.Quote(stored.ID))
	w.Header().Set("Content-Type", stored.MimeType)
	w.Header().Set("Content-Disposition", contentDisposition(stored, wantsDownload(r)))

	http.ServeContent(w, r, stored.OriginalName, stored.CreatedAt, file)
}

func contentDisposition(b *models.Blob, download bool) string {
	disposition := "attachment"
	if !download && models.KindForMIME(b.MimeType) != models.AttachmentFile {
		disposition = "inline"
	}

	name := strings.TrimSpace(b.OriginalName)
	if name == "" {
		name = "download"
	}
	if v := mime.FormatMediaType(disposition, map[string]string{"filename": name}); v != "" {
		return v
	}
	return disposition
}

func wantsDownload(r *http.Request) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get("download"))
	return err == nil && v
}
