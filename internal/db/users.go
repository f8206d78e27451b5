package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"pollchat/internal/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate entry")
)

// DuplicateError says which unique field collided.
type DuplicateError struct {
	Field string
}

func (e *DuplicateError) Error() string {
	return e.Field + " already registered"
}

func (e *DuplicateError) Unwrap() error { return ErrDuplicate }

type UserRepository struct {
	db *DB
}

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, username, email, passwordHash string) (*models.User, error) {
	now := time.Now().UTC()

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO users (username, email, password_hash, is_active, created_at) VALUES (?, ?, ?, 1, ?)`,
		username, email, passwordHash, now,
	)
	if err != nil {
		if IsUniqueConstraintError(err) {
			field := "username"
			if strings.HasSuffix(uniqueColumn(err), ".email") {
				field = "email"
			}
			return nil, &DuplicateError{Field: field}
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading user id: %w", err)
	}

	return &models.User{
		ID:           id,
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		IsActive:     true,
		CreatedAt:    now,
	}, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id int64) (*models.User, error) {
	return r.findOne(ctx, `SELECT id, username, email, password_hash, is_active, created_at FROM users WHERE id = ?`, id)
}

func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.findOne(ctx, `SELECT id, username, email, password_hash, is_active, created_at FROM users WHERE username = ?`, username)
}

func (r *UserRepository) findOne(ctx context.Context, query string, args ...any) (*models.User, error) {
	var u models.User

	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&u.IsActive,
		&u.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}
