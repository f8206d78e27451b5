package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"pollchat/internal/constants"
)

// GET /api/messages
func (h *MessageHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit, beforeID, validationMessage, ok := parseHistoryQuery(r)
	if !ok {
		badRequest(w, validationMessage)
		return
	}

	messages, err := h.messages.List(r.Context(), beforeID, limit)
	if err != nil {
		slog.Error("error listing messages", "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, messages)
}

func parseHistoryQuery(r *http.Request) (int, int64, string, bool) {
	limitStr := strings.TrimSpace(r.URL.Query().Get("limit"))
	beforeStr := strings.TrimSpace(r.URL.Query().Get("before"))

	limit := constants.MessageHistoryDefaultLimit
	if limitStr != "" {
		parsedLimit, err := strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, "Query parameter 'limit' must be an integer", false
		}
		if parsedLimit <= 0 || parsedLimit > constants.MessageHistoryMaxLimit {
			return 0, 0, fmt.Sprintf("Query parameter 'limit' must be between 1 and %d", constants.MessageHistoryMaxLimit), false
		}
		limit = parsedLimit
	}

	var beforeID int64
	if beforeStr != "" {
		id, ok := parseMessageID(beforeStr)
		if !ok {
			return 0, 0, "Query parameter 'before' must be a valid message ID", false
		}
		beforeID = id
	}

	return limit, beforeID, "", true
}

func parseMessageID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
