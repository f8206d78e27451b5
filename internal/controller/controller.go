// Package controller wires the sync engine, edit manager, attachment staging and
// mutation client together and drives the polling cadence.
//
// A Controller is one chat session: construct it after login, Start it, and
// Logout (or Stop) when done. All state lives on the instance.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"pollchat/internal/edit"
	"pollchat/internal/metrics"
	"pollchat/internal/models"
	"pollchat/internal/mutation"
	"pollchat/internal/staging"
	"pollchat/internal/syncengine"
)

const (
	DefaultPollInterval  = 2 * time.Second
	DefaultClearCooldown = 10 * time.Second
	DefaultRefreshDelay  = 300 * time.Millisecond
)

var (
	ErrUploadInFlight = errors.New("an upload is already in progress")
	ErrAlreadyStarted = errors.New("controller already started")
)

// Fetcher reads the message log and presence list.
type Fetcher interface {
	syncengine.Fetcher
	OnlineUsers(ctx context.Context) ([]string, error)
}

type Renderer interface {
	syncengine.Renderer
	ShowUploadProgress(fraction float64)
	HideUploadProgress()
	RenderOnlineUsers(users []string)
	Notify(text string)
}

type Mutator interface {
	SendText(ctx context.Context, content string) (mutation.Result, error)
	SendWithAttachments(ctx context.Context, content string, files []staging.File, onProgress func(float64)) (mutation.Result, error)
	EditMessage(ctx context.Context, id int64, content string) (mutation.Result, error)
	DeleteMessage(ctx context.Context, id int64) (mutation.Result, error)
	ClearAll(ctx context.Context) (mutation.Result, error)
}

// Session ends the server session and forgets the local one.
type Session interface {
	Logout(ctx context.Context) error
	Clear() error
}

type Config struct {
	PollInterval       time.Duration
	ClearCooldown      time.Duration
	RefreshDelay       time.Duration
	StartHighWaterMark int64
}

func (c *Config) setDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ClearCooldown <= 0 {
		c.ClearCooldown = DefaultClearCooldown
	}
	if c.RefreshDelay <= 0 {
		c.RefreshDelay = DefaultRefreshDelay
	}
}

type Deps struct {
	Fetcher  Fetcher
	Renderer Renderer
	Mutator  Mutator
	Session  Session
	Clock    Clock
	Logger   *slog.Logger
	Metrics  *metrics.Client
}

type Controller struct {
	cfg      Config
	clock    Clock
	log      *slog.Logger
	fetcher  Fetcher
	renderer Renderer
	mutator  Mutator
	session  Session

	engine *syncengine.Engine
	edits  *edit.Manager
	staged *staging.Set

	uploading atomic.Bool

	mu        sync.Mutex
	runCtx    context.Context
	cancel    context.CancelFunc
	stopped   bool
	suspended bool
	cooldown  Timer
	timers    map[Timer]struct{}
	wg        sync.WaitGroup
}

func New(cfg Config, deps Deps) *Controller {
	cfg.setDefaults()
	if deps.Clock == nil {
		deps.Clock = SystemClock()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	c := &Controller{
		cfg:      cfg,
		clock:    deps.Clock,
		log:      deps.Logger,
		fetcher:  deps.Fetcher,
		renderer: deps.Renderer,
		mutator:  deps.Mutator,
		session:  deps.Session,
		staged:   staging.New(),
		timers:   make(map[Timer]struct{}),
	}
	c.engine = syncengine.New(deps.Fetcher, deps.Renderer,
		syncengine.WithHighWaterMark(cfg.StartHighWaterMark),
		syncengine.WithLogger(deps.Logger),
		syncengine.WithMetrics(deps.Metrics),
	)
	c.edits = edit.NewManager(c.engine, deps.Mutator,
		edit.WithLogger(deps.Logger),
		edit.WithNotifier(deps.Renderer.Notify),
	)
	c.engine.SetGuard(c.edits)
	return c
}

func (c *Controller) Engine() *syncengine.Engine { return c.engine }
func (c *Controller) Edits() *edit.Manager       { return c.edits }

// Start polls once immediately and then every PollInterval until ctx is done
// or Stop is called.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.runCtx != nil || c.stopped {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.runCtx = runCtx
	c.cancel = cancel
	c.wg.Add(1)
	c.mu.Unlock()

	go c.loop(runCtx)
	return nil
}

func (c *Controller) loop(ctx context.Context) {
	defer c.wg.Done()

	c.poll(ctx)

	ticker := c.clock.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if !c.isSuspended() {
				c.poll(ctx)
			}
		}
	}
}

// poll runs one messages + online users fetch pair. Failures are logged by the
// engine or here and otherwise ignored.
func (c *Controller) poll(ctx context.Context) {
	var g errgroup.Group
	g.Go(func() error {
		return c.engine.Tick(ctx)
	})
	g.Go(func() error {
		users, err := c.fetcher.OnlineUsers(ctx)
		if err != nil {
			c.log.Debug("fetch online users failed", "component", "controller", "error", err)
			return err
		}
		c.renderer.RenderOnlineUsers(users)
		return nil
	})
	_ = g.Wait()
}

// Refresh runs an immediate fetch pair unless polling is suspended.
func (c *Controller) Refresh(ctx context.Context) {
	if c.isSuspended() {
		return
	}
	c.poll(ctx)
}

func (c *Controller) isSuspended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.suspended
}

// afterDelay runs fn on the clock after d unless the controller has stopped.
func (c *Controller) afterDelay(d time.Duration, fn func(ctx context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || c.runCtx == nil {
		return
	}

	var t Timer
	t = c.clock.AfterFunc(d, func() {
		c.mu.Lock()
		delete(c.timers, t)
		if c.stopped {
			c.mu.Unlock()
			return
		}
		ctx := c.runCtx
		c.wg.Add(1)
		c.mu.Unlock()

		defer c.wg.Done()
		fn(ctx)
	})
	c.timers[t] = struct{}{}
}

func (c *Controller) scheduleRefresh() {
	c.afterDelay(c.cfg.RefreshDelay, func(ctx context.Context) {
		if c.isSuspended() {
			return
		}
		_ = c.engine.Tick(ctx)
	})
}

func (c *Controller) suspendPolling() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}

	c.suspended = true
	if c.cooldown != nil {
		c.cooldown.Stop()
	}
	var t Timer
	t = c.clock.AfterFunc(c.cfg.ClearCooldown, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.cooldown == t {
			c.suspended = false
			c.cooldown = nil
			c.log.Debug("polling resumed", "component", "controller")
		}
	})
	c.cooldown = t
}

// Stop ends polling and waits for background work to finish. It is safe to
// call more than once.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	if c.cancel != nil {
		c.cancel()
	}
	if c.cooldown != nil {
		c.cooldown.Stop()
		c.cooldown = nil
	}
	for t := range c.timers {
		t.Stop()
	}
	clear(c.timers)
	c.mu.Unlock()

	c.wg.Wait()
}

// Send posts content, with the staged attachments if there are any. Staged
// files are discarded once handed off, whatever the outcome.
func (c *Controller) Send(ctx context.Context, content string) error {
	if c.staged.Len() == 0 {
		res, err := c.mutator.SendText(ctx, content)
		if err != nil {
			return err
		}
		return c.afterCreate("send", res)
	}

	if !c.uploading.CompareAndSwap(false, true) {
		return ErrUploadInFlight
	}
	defer c.uploading.Store(false)

	files := c.staged.Take()
	c.renderer.ShowUploadProgress(0)
	defer c.renderer.HideUploadProgress()

	res, err := c.mutator.SendWithAttachments(ctx, content, files, c.renderer.ShowUploadProgress)
	if err != nil {
		return err
	}
	return c.afterCreate("upload", res)
}

func (c *Controller) afterCreate(op string, res mutation.Result) error {
	if !res.OK() {
		c.renderer.Notify(rejectionNotice(op, res))
		return fmt.Errorf("%s: %w", op, res.Err)
	}
	c.engine.Merge(res.Messages...)
	c.scheduleRefresh()
	return nil
}

func (c *Controller) StartEdit(id int64) (models.Message, error) {
	return c.edits.Start(id)
}

func (c *Controller) CancelEdit() {
	c.edits.Cancel()
}

func (c *Controller) SaveEdit(ctx context.Context, content string) (edit.SaveOutcome, error) {
	outcome, err := c.edits.Save(ctx, content)
	if err == nil && outcome == edit.Saved {
		c.scheduleRefresh()
	}
	return outcome, err
}

// Delete removes id from the view immediately and restores it if the server
// refuses. A message already gone on either side counts as deleted.
func (c *Controller) Delete(ctx context.Context, id int64) error {
	if c.edits.Guarded(id) {
		c.edits.Cancel()
	}

	prev, wasRendered := c.engine.Remove(id)

	res, _ := c.mutator.DeleteMessage(ctx, id)
	if !res.OK() {
		if wasRendered {
			c.engine.Restore(prev)
		}
		c.renderer.Notify(rejectionNotice("delete", res))
		return fmt.Errorf("delete %d: %w", id, res.Err)
	}

	c.engine.Fence()
	c.scheduleRefresh()
	return nil
}

// ClearAll deletes the user's messages, empties the view and suspends polling
// for the cooldown window.
func (c *Controller) ClearAll(ctx context.Context) error {
	c.edits.Cancel()

	res, _ := c.mutator.ClearAll(ctx)
	if !res.OK() {
		c.renderer.Notify(rejectionNotice("clear", res))
		return fmt.Errorf("clear all: %w", res.Err)
	}

	c.suspendPolling()
	c.engine.ClearAll()
	return nil
}

// Logout tears the session down. The controller cannot be restarted.
func (c *Controller) Logout(ctx context.Context) error {
	c.edits.Cancel()
	c.staged.Clear()
	c.Stop()

	if c.session == nil {
		return nil
	}
	var errs []error
	if err := c.session.Logout(ctx); err != nil {
		c.log.Warn("server logout failed", "component", "controller", "error", err)
		errs = append(errs, fmt.Errorf("server logout: %w", err))
	}
	if err := c.session.Clear(); err != nil {
		errs = append(errs, fmt.Errorf("clearing session: %w", err))
	}
	return errors.Join(errs...)
}

func (c *Controller) AddFiles(files ...staging.File) { c.staged.AddFiles(files...) }
func (c *Controller) RemoveAttachment(i int)         { c.staged.RemoveAt(i) }
func (c *Controller) ClearAttachments()              { c.staged.Clear() }
func (c *Controller) Attachments() []staging.File    { return c.staged.Snapshot() }

func rejectionNotice(op string, res mutation.Result) string {
	var se *mutation.ServerError
	switch {
	case errors.As(res.Err, &se) && se.Message != "":
		return fmt.Sprintf("Could not %s: %s", op, se.Message)
	case res.Outcome == mutation.TransportError:
		return fmt.Sprintf("Could not %s: server unreachable", op)
	default:
		return fmt.Sprintf("Could not %s", op)
	}
}
