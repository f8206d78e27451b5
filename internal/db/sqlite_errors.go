package db

import (
	"errors"
	"strings"

	sqlite3 "github.com/mattn/go-sqlite3"
)

func IsUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}

	if sqliteErr.Code != sqlite3.ErrConstraint {
		return false
	}

	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// uniqueColumn names the column behind a UNIQUE violation, e.g. "users.email".
func uniqueColumn(err error) string {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return ""
	}
	_, column, found := strings.Cut(sqliteErr.Error(), "UNIQUE constraint failed: ")
	if !found {
		return ""
	}
	return column
}
