package blob

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"
	"testing"
)

func newTestService(t *testing.T, maxBytes int64) *Service {
	t.Helper()
	svc, err := NewService(t.TempDir(), maxBytes)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc
}

func TestSaveRejectsExecutableSignature(t *testing.T) {
	svc := newTestService(t, 1024*1024)

	_, err := svc.Save(context.Background(), "payload.png", bytes.NewReader([]byte("MZ\x90\x00\x03\x00")))
	if !errors.Is(err, ErrExecutableFile) {
		t.Fatalf("Save() error = %v, want ErrExecutableFile", err)
	}
}

func TestSaveAllowsUnknownBinary(t *testing.T) {
	svc := newTestService(t, 1024*1024)

	stored, err := svc.Save(context.Background(), "blob.bin", bytes.NewReader([]byte{0x00, 0x01, 0x02, 0x03, 0x04}))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if stored.MimeType != "application/octet-stream" {
		t.Fatalf("stored.MimeType = %q, want application/octet-stream", stored.MimeType)
	}
	if stored.SizeBytes != 5 {
		t.Fatalf("stored.SizeBytes = %d, want 5", stored.SizeBytes)
	}
	if !strings.HasPrefix(stored.ID, "blb_") {
		t.Fatalf("stored.ID = %q, want blb_ prefix", stored.ID)
	}
}

func TestSaveDetectsImageFromContent(t *testing.T) {
	svc := newTestService(t, 1024*1024)

	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})

	buf := bytes.NewBuffer(nil)
	if err := png.Encode(buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}

	stored, err := svc.Save(context.Background(), "picture.dat", bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if stored.MimeType != "image/png" {
		t.Fatalf("stored.MimeType = %q, want image/png", stored.MimeType)
	}
	if stored.OriginalName != "picture.dat" {
		t.Fatalf("stored.OriginalName = %q, want picture.dat", stored.OriginalName)
	}
}

func TestSaveRejectsHTML(t *testing.T) {
	svc := newTestService(t, 1024*1024)

	_, err := svc.Save(context.Background(), "page.txt", strings.NewReader("<!DOCTYPE html><html><body>hi</body></html>"))
	if !errors.Is(err, ErrDisallowedType) {
		t.Fatalf("Save() error = %v, want ErrDisallowedType", err)
	}
}

func TestSaveRejectsOversizedAndEmpty(t *testing.T) {
	svc := newTestService(t, 8)

	if _, err := svc.Save(context.Background(), "big.txt", strings.NewReader("0123456789")); !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("Save(big) error = %v, want ErrFileTooLarge", err)
	}
	if _, err := svc.Save(context.Background(), "empty.txt", strings.NewReader("")); !errors.Is(err, ErrEmptyFile) {
		t.Fatalf("Save(empty) error = %v, want ErrEmptyFile", err)
	}
}

func TestSaveOpenDelete(t *testing.T) {
	svc := newTestService(t, 1024)

	stored, err := svc.Save(context.Background(), "../../etc/notes.txt", strings.NewReader("hello there"))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if stored.OriginalName != "notes.txt" {
		t.Fatalf("stored.OriginalName = %q, want notes.txt", stored.OriginalName)
	}

	f, err := svc.Open(stored.StoragePath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	data, _ := io.ReadAll(f)
	_ = f.Close()
	if string(data) != "hello there" {
		t.Fatalf("Open() content = %q", data)
	}

	if err := svc.Delete(stored.StoragePath); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := svc.Delete(stored.StoragePath); err != nil {
		t.Fatalf("Delete() twice error = %v", err)
	}
}

func TestResolveStoragePathRejectsEscapes(t *testing.T) {
	svc := newTestService(t, 1024)

	for _, p := range []string{"../x", "/etc/passwd", "."} {
		if _, err := svc.Open(p); !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("Open(%q) error = %v, want ErrInvalidPath", p, err)
		}
	}
}

func TestSaveRejectsScriptsAndBinaries(t *testing.T) {
	svc := newTestService(t, 1024*1024)

	tests := []struct {
		name string
		data []byte
	}{
		{name: "elf", data: append([]byte{0x7f, 'E', 'L', 'F', 2, 1, 1}, make([]byte, 64)...)},
		{name: "shell", data: []byte("#!/bin/sh\necho hi\n")},
		{name: "unknown interpreter", data: []byte("#!/opt/tool/run\nstuff\n")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Save(context.Background(), "notes.txt", bytes.NewReader(tt.data))
			if !errors.Is(err, ErrExecutableFile) {
				t.Fatalf("Save() error = %v, want ErrExecutableFile", err)
			}
		})
	}
}

func TestStoragePathShardsByIDTail(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{id: "blb_01hzzzzzzzzzzzzzzzzzzzzzab", want: "chat/ab/blb_01hzzzzzzzzzzzzzzzzzzzzzab"},
		{id: "blb_x", want: "chat/xx/blb_x"},
	}
	for _, tt := range tests {
		if got := storagePath(tt.id); got != tt.want {
			t.Fatalf("storagePath(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}
}
