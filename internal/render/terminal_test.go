package render

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"pollchat/internal/models"
	"pollchat/internal/staging"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local)

func newTerminal() (*Terminal, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewTerminal(&buf, WithStyles(PlainStyles()), WithNow(func() time.Time { return fixedNow })), &buf
}

func lines(buf *bytes.Buffer) []string {
	return strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
}

func TestRenderNewThenUpdated(t *testing.T) {
	term, buf := newTerminal()
	m := models.Message{ID: 3, Author: "ann", Content: "hi", CreatedAt: fixedNow.Add(-time.Minute)}

	term.RenderNewOrUpdatedMessage(m)
	m.Content = "hi there"
	term.RenderNewOrUpdatedMessage(m)

	assert.Equal(t, []string{
		"#3 11:59 ann: hi",
		"#3 11:59 ann: hi there (updated)",
	}, lines(buf))
}

func TestRenderAttachmentAndEdited(t *testing.T) {
	term, buf := newTerminal()
	edited := fixedNow
	term.RenderNewOrUpdatedMessage(models.Message{
		ID: 4, Author: "bob", CreatedAt: fixedNow,
		Attachment: &models.Attachment{Name: "cat.png", Size: 2048, Kind: models.AttachmentImage},
		EditedAt:   &edited,
	})

	assert.Equal(t, "#4 12:00 bob:  [cat.png (image, 2.0 kB)] (edited)", lines(buf)[0])
}

func TestRemoveAndClear(t *testing.T) {
	term, buf := newTerminal()
	term.RenderNewOrUpdatedMessage(models.Message{ID: 1, Author: "ann", Content: "a", CreatedAt: fixedNow})

	term.RemoveRenderedMessage(1)
	term.RemoveRenderedMessage(1)
	term.ClearAllRendered()

	assert.Equal(t, []string{
		"#1 12:00 ann: a",
		"#1 ann: a (deleted)",
		"--- chat cleared ---",
	}, lines(buf))
}

func TestProgressPrintsTenPercentSteps(t *testing.T) {
	term, buf := newTerminal()

	for _, f := range []float64{0, 0.01, 0.04, 0.5, 0.52, 1} {
		term.ShowUploadProgress(f)
	}
	term.HideUploadProgress()

	assert.Equal(t, []string{
		"uploading [....................]   0%",
		"uploading [##########..........]  50%",
		"uploading [####################] 100%",
	}, lines(buf))
}

func TestOnlineUsersOnlyOnChange(t *testing.T) {
	term, buf := newTerminal()

	term.RenderOnlineUsers([]string{"ann"})
	term.RenderOnlineUsers([]string{"ann"})
	term.RenderOnlineUsers([]string{"ann", "bob"})

	assert.Equal(t, []string{"online (1): ann", "online (2): ann, bob"}, lines(buf))
}

func TestRedrawIsOrdered(t *testing.T) {
	term, buf := newTerminal()
	term.RenderNewOrUpdatedMessage(models.Message{ID: 9, Author: "b", Content: "late", CreatedAt: fixedNow})
	term.RenderNewOrUpdatedMessage(models.Message{ID: 2, Author: "a", Content: "early", CreatedAt: fixedNow})
	buf.Reset()

	term.Redraw()

	assert.Equal(t, []string{"#2 12:00 a: early", "#9 12:00 b: late"}, lines(buf))
}

func TestStaged(t *testing.T) {
	term, buf := newTerminal()

	term.Staged([]staging.File{
		{Name: "a.txt", Size: 1500, Category: models.AttachmentFile},
		{Name: "pipe", Size: -1, Category: models.AttachmentFile},
	})

	assert.Equal(t, []string{
		"[0] a.txt (file, 1.5 kB)",
		"[1] pipe (file, size unknown)",
	}, lines(buf))
}

func TestTimestampOlderThanToday(t *testing.T) {
	got := Timestamp(fixedNow.Add(-48*time.Hour), fixedNow)

	assert.Equal(t, "2 days ago", got)
}
