package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"pollchat/internal/constants"
)

func TestParseHistoryQuery(t *testing.T) {
	tests := []struct {
		name        string
		query       string
		wantLimit   int
		wantBefore  int64
		wantMessage string
		wantOK      bool
	}{
		{
			name:      "defaults",
			query:     "",
			wantLimit: constants.MessageHistoryDefaultLimit,
			wantOK:    true,
		},
		{
			name:       "valid_limit_and_before",
			query:      "limit=25&before=120",
			wantLimit:  25,
			wantBefore: 120,
			wantOK:     true,
		},
		{
			name:        "invalid_limit_non_integer",
			query:       "limit=abc",
			wantMessage: "Query parameter 'limit' must be an integer",
		},
		{
			name:        "invalid_limit_out_of_range",
			query:       fmt.Sprintf("limit=%d", constants.MessageHistoryMaxLimit+1),
			wantMessage: fmt.Sprintf("Query parameter 'limit' must be between 1 and %d", constants.MessageHistoryMaxLimit),
		},
		{
			name:        "invalid_before",
			query:       "before=msg_01",
			wantMessage: "Query parameter 'before' must be a valid message ID",
		},
		{
			name:        "zero_before",
			query:       "before=0",
			wantMessage: "Query parameter 'before' must be a valid message ID",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/messages?"+tt.query, nil)
			limit, beforeID, message, ok := parseHistoryQuery(req)

			if ok != tt.wantOK {
				t.Fatalf("parseHistoryQuery() ok = %v, want %v", ok, tt.wantOK)
			}
			if message != tt.wantMessage {
				t.Fatalf("parseHistoryQuery() message = %q, want %q", message, tt.wantMessage)
			}
			if limit != tt.wantLimit {
				t.Fatalf("parseHistoryQuery() limit = %d, want %d", limit, tt.wantLimit)
			}
			if beforeID != tt.wantBefore {
				t.Fatalf("parseHistoryQuery() beforeID = %d, want %d", beforeID, tt.wantBefore)
			}
		})
	}
}
