package db

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// GenerateID returns prefix_ followed by a lowercase ULID, so IDs sort by
// creation time.
func GenerateID(prefix string) string {
	return prefix + "_" + strings.ToLower(ulid.Make().String())
}
