package models

import "time"

// Blob is a stored upload. StoragePath is relative to the storage root.
type Blob struct {
	ID           string
	UploaderID   int64
	StoragePath  string
	MimeType     string
	SizeBytes    int64
	OriginalName string
	CreatedAt    time.Time
}
