package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentVideo AttachmentKind = "video"
	AttachmentFile  AttachmentKind = "file"
)

// KindForMIME maps a MIME type to the attachment category shown by clients.
func KindForMIME(mimeType string) AttachmentKind {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return AttachmentImage
	case strings.HasPrefix(mimeType, "video/"):
		return AttachmentVideo
	default:
		return AttachmentFile
	}
}

type Attachment struct {
	URL  string
	Kind AttachmentKind
	Name string
	Size int64
}

type Message struct {
	ID         int64
	AuthorID   int64
	Author     string
	Content    string
	Attachment *Attachment
	CreatedAt  time.Time
	EditedAt   *time.Time
}

// SameRendering reports whether two versions of a message would render identically.
func (m Message) SameRendering(other Message) bool {
	if m.ID != other.ID || m.Author != other.Author || m.Content != other.Content {
		return false
	}
	if (m.EditedAt == nil) != (other.EditedAt == nil) {
		return false
	}
	if m.EditedAt != nil && !m.EditedAt.Equal(*other.EditedAt) {
		return false
	}
	if (m.Attachment == nil) != (other.Attachment == nil) {
		return false
	}
	if m.Attachment != nil && *m.Attachment != *other.Attachment {
		return false
	}
	return true
}

// wireMessage is the JSON shape exchanged with the message log server. File
// fields are flattened and file_size travels as a decimal string.
type wireMessage struct {
	ID        int64      `json:"id"`
	Content   string     `json:"content"`
	Username  string     `json:"username"`
	UserID    int64      `json:"user_id"`
	CreatedAt time.Time  `json:"created_at"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`
	FileURL   *string    `json:"file_url"`
	FileName  *string    `json:"file_name"`
	FileSize  *fileSize  `json:"file_size"`
	FileType  *string    `json:"file_type"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{
		ID:        m.ID,
		Content:   m.Content,
		Username:  m.Author,
		UserID:    m.AuthorID,
		CreatedAt: m.CreatedAt,
		EditedAt:  m.EditedAt,
	}
	if a := m.Attachment; a != nil {
		kind := string(a.Kind)
		size := fileSize(a.Size)
		w.FileURL = &a.URL
		w.FileName = &a.Name
		w.FileSize = &size
		w.FileType = &kind
	}
	return json.Marshal(w)
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*m = Message{
		ID:        w.ID,
		AuthorID:  w.UserID,
		Author:    w.Username,
		Content:   w.Content,
		CreatedAt: w.CreatedAt,
		EditedAt:  w.EditedAt,
	}
	if w.FileURL != nil && *w.FileURL != "" {
		a := &Attachment{URL: *w.FileURL, Kind: AttachmentFile}
		if w.FileName != nil {
			a.Name = *w.FileName
		}
		if w.FileSize != nil {
			a.Size = int64(*w.FileSize)
		}
		if w.FileType != nil && *w.FileType != "" {
			a.Kind = AttachmentKind(*w.FileType)
		}
		m.Attachment = a
	}
	return nil
}

type fileSize int64

func (s fileSize) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatInt(int64(s), 10))
}

func (s *fileSize) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == `""` {
		*s = 0
		return nil
	}
	raw = strings.Trim(raw, `"`)
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid file_size %q", raw)
	}
	*s = fileSize(n)
	return nil
}

// MutationResponse is the body returned by the message log for create, upload,
// edit, delete and clear requests. Only the fields relevant to the request are set.
type MutationResponse struct {
	MessageID    int64     `json:"message_id,omitempty"`
	Message      *Message  `json:"message,omitempty"`
	Messages     []Message `json:"messages,omitempty"`
	DeletedID    int64     `json:"deleted_id,omitempty"`
	DeletedCount *int64    `json:"deleted_count,omitempty"`
}

// All returns every message carried by the response.
func (r MutationResponse) All() []Message {
	out := make([]Message, 0, len(r.Messages)+1)
	if r.Message != nil {
		out = append(out, *r.Message)
	}
	return append(out, r.Messages...)
}
