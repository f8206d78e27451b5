// Package syncengine keeps the locally rendered message view in step with the
// server's message log.
//
// Each Tick fetches the recent log and renders only what is new (ID above the
// high-water mark) or changed (already rendered but different). Rendering is
// keyed by ID so applying the same response twice has no visible effect.
// Messages guarded by an active edit are never re-rendered underneath it.
//
// Overlapping ticks are ordered by a sequence number taken when the fetch
// starts: a response is applied only if no later tick has applied already and
// no Fence happened after it started.
//
// The renderer is called with the engine lock held and must not call back into
// the engine. Guard implementations may take their own locks but must not call
// the engine either.
package syncengine

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"pollchat/internal/metrics"
	"pollchat/internal/models"
)

type Fetcher interface {
	FetchMessages(ctx context.Context) ([]models.Message, error)
}

type Renderer interface {
	RenderNewOrUpdatedMessage(msg models.Message)
	RemoveRenderedMessage(id int64)
	ClearAllRendered()
	ScrollToLatest()
}

// Guard reports message IDs that must not be re-rendered, such as the target
// of an in-progress edit.
type Guard interface {
	Guarded(id int64) bool
}

type noGuard struct{}

func (noGuard) Guarded(int64) bool { return false }

type Engine struct {
	fetcher  Fetcher
	renderer Renderer
	log      *slog.Logger
	metrics  *metrics.Client

	mu          sync.Mutex
	guard       Guard
	view        map[int64]models.Message
	hwm         int64
	nextSeq     uint64
	lastApplied uint64
	fenceAt     uint64
}

type Option func(*Engine)

func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func WithMetrics(m *metrics.Client) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithHighWaterMark sets the starting mark. Messages at or below it are
// treated as already seen and never rendered.
func WithHighWaterMark(id int64) Option {
	return func(e *Engine) {
		if id > 0 {
			e.hwm = id
		}
	}
}

func WithGuard(g Guard) Option {
	return func(e *Engine) { e.guard = g }
}

func New(fetcher Fetcher, renderer Renderer, opts ...Option) *Engine {
	e := &Engine{
		fetcher:  fetcher,
		renderer: renderer,
		log:      slog.Default(),
		guard:    noGuard{},
		view:     make(map[int64]models.Message),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetGuard installs the edit guard once both sides are constructed.
func (e *Engine) SetGuard(g Guard) {
	if g == nil {
		g = noGuard{}
	}
	e.mu.Lock()
	e.guard = g
	e.mu.Unlock()
}

// Tick runs one fetch-and-merge cycle. A fetch error is logged and returned;
// the view is left untouched and nothing is retried.
func (e *Engine) Tick(ctx context.Context) error {
	e.mu.Lock()
	e.nextSeq++
	seq := e.nextSeq
	e.mu.Unlock()

	msgs, err := e.fetcher.FetchMessages(ctx)
	if err != nil {
		e.log.Warn("fetch messages failed", "component", "syncengine", "error", err)
		e.countTick("fetch_error")
		return fmt.Errorf("fetching messages: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if seq <= e.lastApplied || seq <= e.fenceAt {
		e.log.Debug("discarding stale fetch", "component", "syncengine",
			"seq", seq, "last_applied", e.lastApplied, "fence", e.fenceAt)
		e.countTick("stale")
		return nil
	}
	e.lastApplied = seq

	sorted := sortedByID(msgs)
	e.applyLocked(sorted)
	e.reconcileLocked(sorted)
	e.countTick("applied")
	return nil
}

// Merge shows authoritative messages obtained outside a tick, such as the
// body of a mutation response. The high-water mark does not move: only a
// fetch of the log can vouch that nothing below a message was missed. Removal
// reconciliation does not run.
func (e *Engine) Merge(msgs ...models.Message) {
	if len(msgs) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	added := 0
	for _, m := range sortedByID(msgs) {
		cur, shown := e.view[m.ID]
		switch {
		case !shown && m.ID <= e.hwm:
			// already seen and since removed, or older than the starting mark
			continue
		case shown && (cur.SameRendering(m) || e.guard.Guarded(m.ID)):
			continue
		}
		e.view[m.ID] = m
		e.renderer.RenderNewOrUpdatedMessage(m)
		if shown {
			e.countRender("changed")
			continue
		}
		e.countRender("new")
		added++
	}

	if added > 0 {
		e.renderer.ScrollToLatest()
	}
}

// applyLocked folds one fetch into the view. Every message above the mark
// advances it; one already shown by Merge is only re-rendered if it changed.
func (e *Engine) applyLocked(msgs []models.Message) {
	added := 0
	for _, m := range msgs {
		cur, shown := e.view[m.ID]

		if m.ID > e.hwm {
			e.hwm = m.ID
			if shown && (cur.SameRendering(m) || e.guard.Guarded(m.ID)) {
				continue
			}
			e.view[m.ID] = m
			e.renderer.RenderNewOrUpdatedMessage(m)
			if shown {
				e.countRender("changed")
				continue
			}
			e.countRender("new")
			added++
			continue
		}

		if !shown || cur.SameRendering(m) || e.guard.Guarded(m.ID) {
			continue
		}
		e.view[m.ID] = m
		e.renderer.RenderNewOrUpdatedMessage(m)
		e.countRender("changed")
	}

	if added > 0 {
		e.renderer.ScrollToLatest()
	}
}

// reconcileLocked removes rendered messages that fall inside the fetched ID
// window but are missing from it. An empty response carries no window and
// removes nothing.
func (e *Engine) reconcileLocked(msgs []models.Message) {
	if len(msgs) == 0 {
		return
	}
	lo, hi := msgs[0].ID, msgs[len(msgs)-1].ID

	present := make(map[int64]struct{}, len(msgs))
	for _, m := range msgs {
		present[m.ID] = struct{}{}
	}

	var gone []int64
	for id := range e.view {
		if id < lo || id > hi {
			continue
		}
		if _, ok := present[id]; ok || e.guard.Guarded(id) {
			continue
		}
		gone = append(gone, id)
	}
	slices.Sort(gone)

	for _, id := range gone {
		delete(e.view, id)
		e.renderer.RemoveRenderedMessage(id)
		e.countRender("removed")
	}
}

// Fence discards every fetch that started before this call.
func (e *Engine) Fence() {
	e.mu.Lock()
	e.fenceAt = e.nextSeq
	e.mu.Unlock()
}

// Rendered returns the message as currently shown.
func (e *Engine) Rendered(id int64) (models.Message, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.view[id]
	return m, ok
}

// Replace swaps the content of a rendered message and re-renders it. It
// reports false when id is not rendered.
func (e *Engine) Replace(id int64, content string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.view[id]
	if !ok {
		return false
	}
	m.Content = content
	e.view[id] = m
	e.renderer.RenderNewOrUpdatedMessage(m)
	e.countRender("changed")
	return true
}

// Remove drops id from the view and returns what was rendered.
func (e *Engine) Remove(id int64) (models.Message, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.view[id]
	if !ok {
		return models.Message{}, false
	}
	delete(e.view, id)
	e.renderer.RemoveRenderedMessage(id)
	e.countRender("removed")
	return m, true
}

// Restore puts msg back exactly as given, used to roll back a failed edit or
// delete. The high-water mark is not changed.
func (e *Engine) Restore(msg models.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.view[msg.ID] = msg
	e.renderer.RenderNewOrUpdatedMessage(msg)
	e.countRender("restored")
}

// ClearAll empties the view, resets the high-water mark to zero and fences
// off any fetch already in flight.
func (e *Engine) ClearAll() {
	e.mu.Lock()
	defer e.mu.Unlock()

	clear(e.view)
	e.hwm = 0
	e.fenceAt = e.nextSeq
	e.renderer.ClearAllRendered()
}

func (e *Engine) HighWaterMark() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hwm
}

// Snapshot returns the rendered messages in ID order.
func (e *Engine) Snapshot() []models.Message {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]models.Message, 0, len(e.view))
	for _, m := range e.view {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b models.Message) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func (e *Engine) countTick(result string) {
	if e.metrics != nil {
		e.metrics.Ticks.WithLabelValues(result).Inc()
	}
}

func (e *Engine) countRender(kind string) {
	if e.metrics != nil {
		e.metrics.RenderedUpdates.WithLabelValues(kind).Inc()
	}
}

func sortedByID(msgs []models.Message) []models.Message {
	out := slices.Clone(msgs)
	slices.SortStableFunc(out, func(a, b models.Message) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}
