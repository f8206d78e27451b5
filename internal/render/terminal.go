// Package render draws the chat view as a line-oriented terminal log.
//
// The terminal cannot rewrite earlier lines, so an updated or removed message is
// printed again with a marker. Redraw prints the whole current view.
package render

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"pollchat/internal/models"
	"pollchat/internal/staging"
)

var (
	Accent  = lipgloss.Color("#8BC34A")
	Muted   = lipgloss.Color("#6b7280")
	Warning = lipgloss.Color("#FFC107")
	Danger  = lipgloss.Color("#e53935")
	Info    = lipgloss.Color("#2196F3")
)

// Styles holds the lipgloss styles used for each kind of line.
type Styles struct {
	Author     lipgloss.Style
	Self       lipgloss.Style
	Timestamp  lipgloss.Style
	ID         lipgloss.Style
	Edited     lipgloss.Style
	Attachment lipgloss.Style
	Notice     lipgloss.Style
	Removed    lipgloss.Style
	Presence   lipgloss.Style
	Progress   lipgloss.Style
}

func DefaultStyles() Styles {
	return Styles{
		Author:     lipgloss.NewStyle().Bold(true).Foreground(Info),
		Self:       lipgloss.NewStyle().Bold(true).Foreground(Accent),
		Timestamp:  lipgloss.NewStyle().Foreground(Muted),
		ID:         lipgloss.NewStyle().Foreground(Muted),
		Edited:     lipgloss.NewStyle().Italic(true).Foreground(Muted),
		Attachment: lipgloss.NewStyle().Foreground(Accent),
		Notice:     lipgloss.NewStyle().Foreground(Warning),
		Removed:    lipgloss.NewStyle().Strikethrough(true).Foreground(Danger),
		Presence:   lipgloss.NewStyle().Foreground(Muted),
		Progress:   lipgloss.NewStyle().Foreground(Accent),
	}
}

// PlainStyles renders without colour, for pipes and tests.
func PlainStyles() Styles {
	s := lipgloss.NewStyle()
	return Styles{s, s, s, s, s, s, s, s, s, s}
}

const progressWidth = 20

type Terminal struct {
	out    io.Writer
	styles Styles
	self   string
	now    func() time.Time

	mu       sync.Mutex
	view     map[int64]models.Message
	online   []string
	progress int
}

type Option func(*Terminal)

func WithStyles(s Styles) Option {
	return func(t *Terminal) { t.styles = s }
}

// WithSelf highlights messages written by username.
func WithSelf(username string) Option {
	return func(t *Terminal) { t.self = username }
}

func WithNow(now func() time.Time) Option {
	return func(t *Terminal) { t.now = now }
}

func NewTerminal(out io.Writer, opts ...Option) *Terminal {
	t := &Terminal{
		out:      out,
		styles:   DefaultStyles(),
		now:      time.Now,
		view:     make(map[int64]models.Message),
		progress: -1,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Terminal) RenderNewOrUpdatedMessage(m models.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, seen := t.view[m.ID]
	t.view[m.ID] = m
	line := t.formatMessage(m)
	if seen {
		line += " " + t.styles.Edited.Render("(updated)")
	}
	t.println(line)
}

func (t *Terminal) RemoveRenderedMessage(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	m, ok := t.view[id]
	if !ok {
		return
	}
	delete(t.view, id)
	t.println(t.styles.Removed.Render(fmt.Sprintf("#%d %s: %s", id, m.Author, summary(m))) + " " +
		t.styles.Edited.Render("(deleted)"))
}

func (t *Terminal) ClearAllRendered() {
	t.mu.Lock()
	defer t.mu.Unlock()

	clear(t.view)
	t.println(t.styles.Notice.Render("--- chat cleared ---"))
}

// ScrollToLatest is a no-op: a line log always ends at the latest message.
func (t *Terminal) ScrollToLatest() {}

func (t *Terminal) ShowUploadProgress(fraction float64) {
	pct := int(fraction*100 + 0.5)
	pct = min(max(pct, 0), 100)

	t.mu.Lock()
	defer t.mu.Unlock()
	// Print whole-ten steps only so a fast upload does not flood the log.
	step := pct / 10
	if step == t.progress {
		return
	}
	t.progress = step
	t.println(t.styles.Progress.Render(ProgressBar(fraction, progressWidth)))
}

func (t *Terminal) HideUploadProgress() {
	t.mu.Lock()
	t.progress = -1
	t.mu.Unlock()
}

func (t *Terminal) RenderOnlineUsers(users []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if slices.Equal(users, t.online) {
		return
	}
	t.online = slices.Clone(users)
	t.println(t.styles.Presence.Render(fmt.Sprintf("online (%d): %s", len(users), strings.Join(users, ", "))))
}

func (t *Terminal) Notify(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.println(t.styles.Notice.Render("! " + text))
}

// Redraw prints every message currently in the view in ID order.
func (t *Terminal) Redraw() {
	t.mu.Lock()
	defer t.mu.Unlock()

	msgs := make([]models.Message, 0, len(t.view))
	for _, m := range t.view {
		msgs = append(msgs, m)
	}
	slices.SortFunc(msgs, func(a, b models.Message) int { return cmp.Compare(a.ID, b.ID) })
	for _, m := range msgs {
		t.println(t.formatMessage(m))
	}
}

// Staged prints the pending attachment list.
func (t *Terminal) Staged(files []staging.File) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(files) == 0 {
		t.println(t.styles.Presence.Render("no attachments staged"))
		return
	}
	for i, f := range files {
		t.println(t.styles.Attachment.Render(fmt.Sprintf("[%d] %s", i, FileLabel(f.Name, f.Size, f.Category))))
	}
}

func (t *Terminal) formatMessage(m models.Message) string {
	author := t.styles.Author
	if t.self != "" && m.Author == t.self {
		author = t.styles.Self
	}

	var b strings.Builder
	b.WriteString(t.styles.ID.Render(fmt.Sprintf("#%d", m.ID)))
	b.WriteByte(' ')
	b.WriteString(t.styles.Timestamp.Render(Timestamp(m.CreatedAt, t.now())))
	b.WriteByte(' ')
	b.WriteString(author.Render(m.Author))
	b.WriteString(": ")
	b.WriteString(m.Content)
	if a := m.Attachment; a != nil {
		b.WriteByte(' ')
		b.WriteString(t.styles.Attachment.Render("[" + FileLabel(a.Name, a.Size, a.Kind) + "]"))
	}
	if m.EditedAt != nil {
		b.WriteByte(' ')
		b.WriteString(t.styles.Edited.Render("(edited)"))
	}
	return b.String()
}

func (t *Terminal) println(s string) {
	_, _ = fmt.Fprintln(t.out, s)
}

func summary(m models.Message) string {
	if m.Content != "" {
		return m.Content
	}
	if m.Attachment != nil {
		return m.Attachment.Name
	}
	return ""
}

// FileLabel formats an attachment as "name (kind, 1.2 MB)". A negative size is
// shown as unknown.
func FileLabel(name string, size int64, kind models.AttachmentKind) string {
	if size < 0 {
		return fmt.Sprintf("%s (%s, size unknown)", name, kind)
	}
	return fmt.Sprintf("%s (%s, %s)", name, kind, humanize.Bytes(uint64(size)))
}

// Timestamp shows a clock time for today and a relative date otherwise.
func Timestamp(ts, now time.Time) string {
	if ts.IsZero() {
		return "--:--"
	}
	local := ts.Local()
	y1, m1, d1 := local.Date()
	y2, m2, d2 := now.Local().Date()
	if y1 == y2 && m1 == m2 && d1 == d2 {
		return local.Format("15:04")
	}
	return humanize.RelTime(ts, now, "ago", "from now")
}

// ProgressBar draws fraction as a fixed-width bar with a percentage.
func ProgressBar(fraction float64, width int) string {
	fraction = min(max(fraction, 0), 1)
	filled := int(fraction*float64(width) + 0.5)
	return fmt.Sprintf("uploading [%s%s] %3d%%",
		strings.Repeat("#", filled),
		strings.Repeat(".", width-filled),
		int(fraction*100+0.5))
}
