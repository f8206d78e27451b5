package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"pollchat/internal/db"
	"pollchat/internal/models"
)

// headLen is how much of an upload is buffered for type detection.
const headLen = 3072

const maxNameLen = 255

var (
	ErrFileTooLarge   = errors.New("blob file too large")
	ErrEmptyFile      = errors.New("blob file is empty")
	ErrDisallowedType = errors.New("disallowed blob mime type")
	ErrExecutableFile = errors.New("executable files are not allowed")
	ErrInvalidPath    = errors.New("invalid blob path")
)

// Native binaries and scripts. Matching walks the detected type's parents, so
// ELF subtypes such as shared libraries are caught too.
var executableTypes = []string{
	"application/vnd.microsoft.portable-executable",
	"application/x-elf",
	"application/x-mach-binary",
	"text/x-shellscript",
	"application/x-msdownload",
}

// Content a browser would run if it were served back from the media route.
var activeContentTypes = []string{
	"image/svg+xml",
	"text/html",
	"application/xhtml+xml",
	"application/javascript",
	"text/javascript",
	"application/x-httpd-php",
	"text/x-php",
}

// Service keeps attachment bytes on local disk. Metadata is the caller's job.
type Service struct {
	rootDir        string
	maxUploadBytes int64
}

func NewService(rootDir string, maxUploadBytes int64) (*Service, error) {
	if strings.TrimSpace(rootDir) == "" {
		return nil, errors.New("blob root directory is required")
	}
	if maxUploadBytes <= 0 {
		return nil, errors.New("max upload bytes must be > 0")
	}
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob root directory: %w", err)
	}
	return &Service{rootDir: rootDir, maxUploadBytes: maxUploadBytes}, nil
}

func (s *Service) MaxUploadBytes() int64 {
	return s.maxUploadBytes
}

// Ready reports whether the storage root is still a usable directory.
func (s *Service) Ready() error {
	info, err := os.Stat(s.rootDir)
	if err != nil {
		return fmt.Errorf("checking blob root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("blob root %s is not a directory", s.rootDir)
	}
	return nil
}

// Save classifies src by content, then writes it under a fresh blob ID.
// UploaderID is left for the caller.
func (s *Service) Save(ctx context.Context, originalName string, src io.Reader) (*models.Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	head, err := readHead(src)
	if err != nil {
		return nil, err
	}
	detected := mimetype.Detect(head)
	if err := screen(detected, head); err != nil {
		return nil, err
	}

	id := db.GenerateID("blb")
	rel := storagePath(id)
	dst, err := s.resolveStoragePath(rel)
	if err != nil {
		return nil, err
	}

	size, err := s.writeAtomic(dst, io.MultiReader(bytes.NewReader(head), src))
	if err != nil {
		return nil, err
	}

	return &models.Blob{
		ID:           id,
		StoragePath:  rel,
		MimeType:     baseType(detected.String()),
		SizeBytes:    size,
		OriginalName: cleanName(originalName),
		CreatedAt:    time.Now().UTC(),
	}, nil
}

func (s *Service) Open(storagePath string) (*os.File, error) {
	p, err := s.resolveStoragePath(storagePath)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

// Delete removes the file. A missing file is not an error.
func (s *Service) Delete(storagePath string) error {
	p, err := s.resolveStoragePath(storagePath)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting blob file: %w", err)
	}
	return nil
}

// writeAtomic copies r into a temp file beside dst and renames it into place
// once the size limit has been checked.
func (s *Service) writeAtomic(dst string, r io.Reader) (int64, error) {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("creating blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(dst)+".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("creating temporary blob file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	n, err := io.Copy(tmp, io.LimitReader(r, s.maxUploadBytes+1))
	if err != nil {
		return 0, fmt.Errorf("writing blob file: %w", err)
	}
	if n > s.maxUploadBytes {
		return 0, ErrFileTooLarge
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("closing temporary blob file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return 0, fmt.Errorf("finalizing blob file: %w", err)
	}
	return n, nil
}

func (s *Service) resolveStoragePath(storagePath string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(storagePath))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", ErrInvalidPath
	}
	return filepath.Join(s.rootDir, clean), nil
}

func readHead(src io.Reader) ([]byte, error) {
	head := make([]byte, headLen)
	n, err := io.ReadFull(src, head)
	switch {
	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
	case err != nil:
		return nil, fmt.Errorf("reading blob data: %w", err)
	}
	if n == 0 {
		return nil, ErrEmptyFile
	}
	return head[:n], nil
}

// screen rejects executables and active content. Scripts whose interpreter
// mimetype does not know are still caught by their shebang.
func screen(detected *mimetype.MIME, head []byte) error {
	for m := detected; m != nil; m = m.Parent() {
		if mimetype.EqualsAny(m.String(), executableTypes...) {
			return ErrExecutableFile
		}
		if mimetype.EqualsAny(m.String(), activeContentTypes...) {
			return ErrDisallowedType
		}
	}
	if bytes.HasPrefix(head, []byte("#!")) {
		return ErrExecutableFile
	}
	return nil
}

// storagePath shards by the last two ID characters; ULIDs lead with time, so
// the tail is the random part.
func storagePath(id string) string {
	shard := "xx"
	if tail := strings.TrimPrefix(id, "blb_"); len(tail) >= 2 {
		shard = tail[len(tail)-2:]
	}
	return path.Join("chat", shard, id)
}

func cleanName(name string) string {
	name = strings.TrimSpace(filepath.Base(filepath.FromSlash(name)))
	switch name {
	case "", ".", string(filepath.Separator):
		return "upload.bin"
	}
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}
	return name
}

func baseType(contentType string) string {
	t, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(t))
}
