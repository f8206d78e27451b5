package api

import (
	"testing"

	"pollchat/internal/models"
)

func TestContentDisposition(t *testing.T) {
	tests := []struct {
		name     string
		blob     models.Blob
		download bool
		want     string
	}{
		{
			name: "image_inline",
			blob: models.Blob{MimeType: "image/png", OriginalName: "cat.png"},
			want: `inline; filename=cat.png`,
		},
		{
			name:     "image_forced_download",
			blob:     models.Blob{MimeType: "image/png", OriginalName: "cat.png"},
			download: true,
			want:     `attachment; filename=cat.png`,
		},
		{
			name: "file_is_attachment",
			blob: models.Blob{MimeType: "application/pdf", OriginalName: "report.pdf"},
			want: `attachment; filename=report.pdf`,
		},
		{
			name: "quoted_name",
			blob: models.Blob{MimeType: "video/mp4", OriginalName: "my clip.mp4"},
			want: `inline; filename="my clip.mp4"`,
		},
		{
			name: "empty_name",
			blob: models.Blob{MimeType: "text/plain"},
			want: `attachment; filename=download`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := contentDisposition(&tt.blob, tt.download); got != tt.want {
				t.Fatalf("contentDisposition() = %q, want %q", got, tt.want)
			}
		})
	}
}
