package api

import (
	"net/http"

	"pollchat/internal/models"
)

type ServerInfoHandler struct {
	info models.ServerInfo
}

func NewServerInfoHandler(name string, uploadMaxBytes int64, uploadMaxFiles int) *ServerInfoHandler {
	return &ServerInfoHandler{info: models.ServerInfo{
		Name:           name,
		UploadMaxBytes: uploadMaxBytes,
		UploadMaxFiles: uploadMaxFiles,
	}}
}

// GET /api/server/info
func (h *ServerInfoHandler) GetInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.info)
}
