package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pollchat/internal/constants"
	"pollchat/internal/models"
)

// NewMessage is one row to insert. Attachment and BlobID are set together for
// file messages.
type NewMessage struct {
	Content    string
	Attachment *models.Attachment
	BlobID     string
}

type MessageRepository struct {
	db *DB
}

func NewMessageRepository(db *DB) *MessageRepository {
	return &MessageRepository{db: db}
}

const selectMessage = `SELECT m.id, m.user_id, u.username, m.content, m.created_at, m.edited_at,
		m.file_url, m.file_name, m.file_size, m.file_type
	FROM messages m
	JOIN users u ON m.user_id = u.id`

func (r *MessageRepository) Create(ctx context.Context, userID int64, msg NewMessage) (*models.Message, error) {
	created, err := r.CreateBatch(ctx, userID, []NewMessage{msg})
	if err != nil {
		return nil, err
	}
	return &created[0], nil
}

// CreateBatch inserts all messages in one transaction, in order, so their IDs
// are consecutive and either all or none become visible.
func (r *MessageRepository) CreateBatch(ctx context.Context, userID int64, msgs []NewMessage) ([]models.Message, error) {
	if len(msgs) == 0 {
		return nil, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting message insert: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	ids := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		var fileURL, fileName, fileSize, fileType sql.NullString
		if a := m.Attachment; a != nil {
			fileURL = nullString(a.URL)
			fileName = nullString(a.Name)
			fileSize = nullString(strconv.FormatInt(a.Size, 10))
			fileType = nullString(string(a.Kind))
		}

		result, err := tx.ExecContext(ctx,
			`INSERT INTO messages (user_id, content, created_at, blob_id, file_url, file_name, file_size, file_type)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			userID, m.Content, now, nullString(m.BlobID), fileURL, fileName, fileSize, fileType,
		)
		if err != nil {
			return nil, fmt.Errorf("creating message: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("reading message id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing messages: %w", err)
	}

	out := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		m, err := r.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, nil
}

// List returns up to limit messages with IDs below beforeID (or the newest
// when beforeID is 0), in ascending ID order.
func (r *MessageRepository) List(ctx context.Context, beforeID int64, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > constants.MessageHistoryMaxLimit {
		limit = constants.MessageHistoryDefaultLimit
	}

	query := selectMessage
	var args []any
	if beforeID > 0 {
		query += ` WHERE m.id < ?`
		args = append(args, beforeID)
	}
	query += ` ORDER BY m.id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *MessageRepository) FindByID(ctx context.Context, id int64) (*models.Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx, selectMessage+` WHERE m.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// UpdateContent replaces the text and stamps edited_at.
func (r *MessageRepository) UpdateContent(ctx context.Context, id int64, content string) (*models.Message, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE messages SET content = ?, edited_at = ? WHERE id = ?`,
		content, time.Now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("updating message: %w", err)
	}
	if err := checkRowsAffected(result); err != nil {
		return nil, err
	}
	return r.FindByID(ctx, id)
}

// Delete removes the message and returns the ID of its blob, if any.
func (r *MessageRepository) Delete(ctx context.Context, id int64) (string, error) {
	var blobID sql.NullString
	err := r.db.QueryRowContext(ctx, `DELETE FROM messages WHERE id = ? RETURNING blob_id`, id).Scan(&blobID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("deleting message: %w", err)
	}
	return blobID.String, nil
}

// DeleteByUser removes every message written by userID and returns how many
// went and the blobs they referenced.
func (r *MessageRepository) DeleteByUser(ctx context.Context, userID int64) (int64, []string, error) {
	rows, err := r.db.QueryContext(ctx, `DELETE FROM messages WHERE user_id = ? RETURNING blob_id`, userID)
	if err != nil {
		return 0, nil, fmt.Errorf("deleting messages: %w", err)
	}
	defer rows.Close()

	var count int64
	var blobIDs []string
	for rows.Next() {
		var blobID sql.NullString
		if err := rows.Scan(&blobID); err != nil {
			return 0, nil, fmt.Errorf("scanning deleted message: %w", err)
		}
		count++
		if blobID.Valid && blobID.String != "" {
			blobIDs = append(blobIDs, blobID.String)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("deleting messages: %w", err)
	}
	return count, blobIDs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var m models.Message
	var editedAt sql.NullTime
	var fileURL, fileName, fileSize, fileType sql.NullString

	err := row.Scan(&m.ID, &m.AuthorID, &m.Author, &m.Content, &m.CreatedAt, &editedAt,
		&fileURL, &fileName, &fileSize, &fileType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}

	m.CreatedAt = m.CreatedAt.UTC()
	m.EditedAt = nullTimeToPtr(editedAt)
	if fileURL.Valid && fileURL.String != "" {
		a := &models.Attachment{
			URL:  fileURL.String,
			Name: fileName.String,
			Kind: models.AttachmentKind(fileType.String),
		}
		if a.Kind == "" {
			a.Kind = models.AttachmentFile
		}
		if n, err := strconv.ParseInt(strings.TrimSpace(fileSize.String), 10, 64); err == nil {
			a.Size = n
		}
		m.Attachment = a
	}
	return &m, nil
}
