// Package edit runs the lifecycle of a single in-place message edit.
//
// At most one session is active. While it is active its target is guarded, so
// polling never re-renders the message underneath the user. A session ends by
// cancel, by a successful save, by a failed save (the pre-edit snapshot is put
// back exactly) or by being superseded when another edit starts.
//
// The manager never calls the view while holding its own lock.
package edit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"pollchat/internal/models"
	"pollchat/internal/mutation"
)

var (
	ErrNoSession   = errors.New("no active edit")
	ErrNotRendered = errors.New("message is not rendered")
)

type State int

const (
	Idle State = iota
	Editing
	Saving
)

func (s State) String() string {
	switch s {
	case Editing:
		return "editing"
	case Saving:
		return "saving"
	default:
		return "idle"
	}
}

// SaveOutcome says how a Save ended.
type SaveOutcome int

const (
	Saved SaveOutcome = iota + 1
	// Cancelled means the edit was empty and treated as a cancel.
	Cancelled
	// Failed means the server rejected the edit or was unreachable; the
	// snapshot was restored.
	Failed
	// Superseded means another edit started (or this one was cancelled) while
	// the request was in flight. The view was left alone.
	Superseded
)

type View interface {
	Rendered(id int64) (models.Message, bool)
	Replace(id int64, content string) bool
	Restore(msg models.Message)
	Merge(msgs ...models.Message)
	Fence()
}

type Saver interface {
	EditMessage(ctx context.Context, id int64, content string) (mutation.Result, error)
}

type session struct {
	id       int64
	state    State
	snapshot models.Message
	captured bool
}

type Manager struct {
	view   View
	saver  Saver
	notify func(string)
	log    *slog.Logger

	mu      sync.Mutex
	current *session
}

type Option func(*Manager)

func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithNotifier sets the function used for user-visible notices.
func WithNotifier(fn func(string)) Option {
	return func(m *Manager) { m.notify = fn }
}

func NewManager(view View, saver Saver, opts ...Option) *Manager {
	m := &Manager{
		view:   view,
		saver:  saver,
		notify: func(string) {},
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Guarded reports whether id is the target of the active session.
func (m *Manager) Guarded(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil && m.current.id == id
}

// Active returns the target and state of the current session.
func (m *Manager) Active() (int64, State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return 0, Idle, false
	}
	return m.current.id, m.current.state, true
}

// Start begins editing id and returns the message as it was before the edit.
// Any existing session is cancelled first and its snapshot restored.
func (m *Manager) Start(id int64) (models.Message, error) {
	s := &session{id: id, state: Editing}

	m.mu.Lock()
	prev := m.current
	m.current = s
	m.mu.Unlock()

	if prev != nil && prev.captured {
		m.view.Restore(prev.snapshot)
	}

	snap, ok := m.view.Rendered(id)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != s {
		return models.Message{}, ErrNoSession
	}
	if !ok {
		m.current = nil
		return models.Message{}, fmt.Errorf("edit %d: %w", id, ErrNotRendered)
	}
	s.snapshot = snap
	s.captured = true
	return snap, nil
}

// Cancel ends the active session and restores its snapshot. Cancelling with no
// session is a no-op.
func (m *Manager) Cancel() {
	m.mu.Lock()
	s := m.current
	m.current = nil
	m.mu.Unlock()

	if s != nil && s.captured {
		m.view.Restore(s.snapshot)
	}
}

// Save submits content for the active session. The target stays guarded while
// the request is in flight.
func (m *Manager) Save(ctx context.Context, content string) (SaveOutcome, error) {
	m.mu.Lock()
	s := m.current
	if s == nil || s.state != Editing || !s.captured {
		m.mu.Unlock()
		return 0, ErrNoSession
	}
	if strings.TrimSpace(content) == "" {
		m.current = nil
		m.mu.Unlock()
		m.view.Restore(s.snapshot)
		return Cancelled, nil
	}
	s.state = Saving
	m.mu.Unlock()

	res, err := m.saver.EditMessage(ctx, s.id, content)

	m.mu.Lock()
	current := m.current == s
	if current {
		m.current = nil
	}
	m.mu.Unlock()

	if !current {
		m.log.Debug("edit superseded while saving", "component", "edit", "message_id", s.id)
		return Superseded, nil
	}

	if mutation.IsValidation(err) {
		m.view.Restore(s.snapshot)
		return Cancelled, nil
	}
	if err != nil || !res.OK() {
		if err == nil {
			err = res.Err
		}
		m.log.Warn("edit failed", "component", "edit", "message_id", s.id, "status", res.Status, "error", err)
		m.view.Restore(s.snapshot)
		m.notify(failureNotice(res))
		return Failed, nil
	}

	m.view.Fence()
	if saved, ok := savedMessage(res, s.id); ok {
		m.view.Merge(saved)
	} else {
		m.view.Replace(s.id, strings.TrimSpace(content))
	}
	return Saved, nil
}

// savedMessage picks the server's copy of id out of an edit response. The
// server may store the text differently from what was typed.
func savedMessage(res mutation.Result, id int64) (models.Message, bool) {
	for _, msg := range res.Messages {
		if msg.ID == id {
			return msg, true
		}
	}
	return models.Message{}, false
}

func failureNotice(res mutation.Result) string {
	var se *mutation.ServerError
	if errors.As(res.Err, &se) && se.Message != "" {
		return "Could not save edit: " + se.Message
	}
	if res.Outcome == mutation.TransportError {
		return "Could not save edit: server unreachable"
	}
	return "Could not save edit"
}
