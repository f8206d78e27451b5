package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"pollchat/internal/blob"
	"pollchat/internal/db"
	"pollchat/internal/mediaurl"
	"pollchat/internal/metrics"
	"pollchat/internal/models"
)

// multipartMemory is how much of a form is held in memory before spilling
// file parts to disk.
const multipartMemory = 1 << 20

type UploadHandler struct {
	blobs       *blob.Service
	blobRepo    *db.BlobRepository
	blobCleanup *blob.CleanupService
	messages    *db.MessageRepository
	idempotency *Idempotency
	metrics     *metrics.Server
	baseURL     string
	maxFiles    int
}

func NewUploadHandler(
	blobs *blob.Service,
	blobRepo *db.BlobRepository,
	blobCleanup *blob.CleanupService,
	messages *db.MessageRepository,
	idempotency *Idempotency,
	m *metrics.Server,
	baseURL string,
	maxFiles int,
) *UploadHandler {
	return &UploadHandler{
		blobs:       blobs,
		blobRepo:    blobRepo,
		blobCleanup: blobCleanup,
		messages:    messages,
		idempotency: idempotency,
		metrics:     m,
		baseURL:     baseURL,
		maxFiles:    maxFiles,
	}
}

// requestLimit bounds the whole multipart body: every file at its maximum
// plus room for the caption and part headers.
func (h *UploadHandler) requestLimit() int64 {
	return h.blobs.MaxUploadBytes()*int64(h.maxFiles) + multipartMemory
}

// POST /api/upload creates one message per file, all carrying the caption.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
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

	files, caption, cleanup, ok := readMultiFileUpload(w, r, h.requestLimit(), h.maxFiles)
	if !ok {
		return
	}
	defer cleanup()

	caption = cleanContent(caption)
	if contentTooLong(caption) {
		writeError(w, http.StatusBadRequest, ErrCodeMessageTooLong, "Caption is too long")
		return
	}

	h.idempotency.serve(w, r, id.UserID, key, func(ctx context.Context) apiResult {
		return h.store(ctx, id.UserID, caption, files)
	})
}

func (h *UploadHandler) store(ctx context.Context, userID int64, caption string, files []*multipart.FileHeader) apiResult {
	saved := make([]*models.Blob, 0, len(files))
	rollback := func() {
		for _, b := range saved {
			if err := h.blobCleanup.Remove(ctx, b.ID); err != nil {
				slog.Warn("error rolling back upload blob", "error", err, "blob_id", b.ID)
			}
		}
	}

	pending := make([]db.NewMessage, 0, len(files))
	for _, fh := range files {
		stored, res, ok := h.saveOne(ctx, userID, fh)
		if !ok {
			rollback()
			return res
		}
		saved = append(saved, stored)

		kind := models.KindForMIME(stored.MimeType)
		content := caption
		if content == "" {
			content = fmt.Sprintf("Sent a %s", kind)
		}
		pending = append(pending, db.NewMessage{
			Content: content,
			BlobID:  stored.ID,
			Attachment: &models.Attachment{
				URL:  mediaurl.Blob(h.baseURL, stored.ID),
				Kind: kind,
				Name: stored.OriginalName,
				Size: stored.SizeBytes,
			},
		})
	}

	created, err := h.messages.CreateBatch(ctx, userID, pending)
	if err != nil {
		rollback()
		slog.Error("error creating upload messages", "error", err, "user_id", userID)
		return internalResult()
	}

	if h.metrics != nil {
		h.metrics.Messages.WithLabelValues("upload").Add(float64(len(created)))
	}
	return apiResult{status: http.StatusCreated, body: models.MutationResponse{Messages: created}}
}

func (h *UploadHandler) saveOne(ctx context.Context, userID int64, fh *multipart.FileHeader) (*models.Blob, apiResult, bool) {
	file, err := fh.Open()
	if err != nil {
		slog.Error("error opening upload part", "error", err)
		return nil, internalResult(), false
	}
	defer file.Close()

	stored, err := h.blobs.Save(ctx, fh.Filename, file)
	if res, ok := blobSaveResult(err, fh.Filename); !ok {
		return nil, res, false
	}

	stored.UploaderID = userID
	if err := h.blobRepo.Create(ctx, stored); err != nil {
		_ = h.blobs.Delete(stored.StoragePath)
		slog.Error("error creating blob record", "error", err)
		return nil, internalResult(), false
	}
	return stored, apiResult{}, true
}

func readMultiFileUpload(
	w http.ResponseWriter,
	r *http.Request,
	maxBytes int64,
	maxFiles int,
) ([]*multipart.FileHeader, string, func(), bool) {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}

	err := r.ParseMultipartForm(multipartMemory)
	if err != nil {
		if isBodyTooLargeError(err) {
			payloadTooLarge(w, "Upload exceeds maximum size")
		} else {
			badRequest(w, "Invalid multipart upload")
		}
		return nil, "", func() {}, false
	}

	cleanup := func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		cleanup()
		badRequest(w, "File field 'files' is required")
		return nil, "", func() {}, false
	}
	if maxFiles > 0 && len(files) > maxFiles {
		cleanup()
		badRequest(w, fmt.Sprintf("At most %d files per upload", maxFiles))
		return nil, "", func() {}, false
	}
	for _, fh := range files {
		if fh == nil || strings.TrimSpace(fh.Filename) == "" {
			cleanup()
			badRequest(w, "File name is required")
			return nil, "", func() {}, false
		}
	}

	return files, r.FormValue("content"), cleanup, true
}

func blobSaveResult(err error, name string) (apiResult, bool) {
	switch {
	case err == nil:
		return apiResult{}, true
	case errors.Is(err, blob.ErrFileTooLarge):
		return errorResult(http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, name+" exceeds maximum upload size"), false
	case errors.Is(err, blob.ErrEmptyFile):
		return errorResult(http.StatusBadRequest, ErrCodeAttachmentInvalid, name+" is empty"), false
	case errors.Is(err, blob.ErrDisallowedType):
		return errorResult(http.StatusBadRequest, ErrCodeAttachmentInvalid, name+" has an unsupported file type"), false
	case errors.Is(err, blob.ErrExecutableFile):
		return errorResult(http.StatusBadRequest, ErrCodeAttachmentInvalid, "Executable files are not allowed"), false
	}

	slog.Error("error saving blob", "error", err)
	return internalResult(), false
}

func isBodyTooLargeError(err error) bool {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "request body too large")
}
