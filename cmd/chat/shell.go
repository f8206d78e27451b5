package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"pollchat/internal/controller"
	"pollchat/internal/edit"
	"pollchat/internal/models"
	"pollchat/internal/mutation"
	"pollchat/internal/staging"
)

type chatController interface {
	Send(ctx context.Context, content string) error
	StartEdit(id int64) (models.Message, error)
	SaveEdit(ctx context.Context, content string) (edit.SaveOutcome, error)
	CancelEdit()
	Delete(ctx context.Context, id int64) error
	ClearAll(ctx context.Context) error
	Refresh(ctx context.Context)
	Logout(ctx context.Context) error
	AddFiles(files ...staging.File)
	RemoveAttachment(i int)
	ClearAttachments()
	Attachments() []staging.File
}

type chatView interface {
	Redraw()
	Staged(files []staging.File)
	Notify(text string)
}

var stageFromPath = staging.FromPath

const helpText = `commands:
  <text>              send a message (with staged attachments, if any)
  /attach <path>...   stage files
  /detach <n>         unstage file n
  /files              list staged files
  /unstage            drop all staged files
  /edit <id>          start editing a message
  /save <text>        save the edit (empty text cancels)
  /cancel             cancel the edit
  /delete <id>        delete a message
  /clear              delete all your messages
  /refresh            poll now
  /list               redraw the conversation
  /logout             log out and quit
  /quit               quit`

// shell turns input lines into controller actions. Sends with attachments run
// in the background so the prompt stays usable while uploading.
type shell struct {
	ctrl  chatController
	view  chatView
	out   io.Writer
	stage func(path string) (staging.File, error)

	wg sync.WaitGroup
}

// dispatch handles one line and reports whether the session should end.
func (s *shell) dispatch(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		s.send(ctx, line)
		return false
	}

	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch name {
	case "/help":
		fmt.Fprintln(s.out, helpText)
	case "/attach":
		s.attach(rest)
	case "/detach":
		if i, ok := s.index(rest); ok {
			s.ctrl.RemoveAttachment(i)
			s.view.Staged(s.ctrl.Attachments())
		}
	case "/files":
		s.view.Staged(s.ctrl.Attachments())
	case "/unstage":
		s.ctrl.ClearAttachments()
	case "/edit":
		id, ok := s.messageID(rest)
		if !ok {
			return false
		}
		msg, err := s.ctrl.StartEdit(id)
		if err != nil {
			s.view.Notify(err.Error())
			return false
		}
		fmt.Fprintf(s.out, "editing #%d: %s\n(/save <text> or /cancel)\n", msg.ID, msg.Content)
	case "/save":
		outcome, err := s.ctrl.SaveEdit(ctx, rest)
		switch {
		case errors.Is(err, edit.ErrNoSession):
			s.view.Notify("nothing is being edited")
		case err != nil:
			s.view.Notify(err.Error())
		case outcome == edit.Cancelled:
			fmt.Fprintln(s.out, "edit cancelled")
		}
	case "/cancel":
		s.ctrl.CancelEdit()
	case "/delete":
		if id, ok := s.messageID(rest); ok {
			_ = s.ctrl.Delete(ctx, id)
		}
	case "/clear":
		_ = s.ctrl.ClearAll(ctx)
	case "/refresh":
		s.ctrl.Refresh(ctx)
	case "/list":
		s.view.Redraw()
	case "/logout":
		s.wait()
		if err := s.ctrl.Logout(ctx); err != nil {
			s.view.Notify(err.Error())
		}
		return true
	case "/quit", "/exit":
		s.wait()
		return true
	default:
		s.view.Notify("unknown command " + name + ", try /help")
	}
	return false
}

func (s *shell) send(ctx context.Context, content string) {
	if len(s.ctrl.Attachments()) == 0 {
		s.report(s.ctrl.Send(ctx, content))
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.report(s.ctrl.Send(ctx, content))
	}()
}

// report surfaces errors the controller has not already shown.
func (s *shell) report(err error) {
	switch {
	case err == nil:
	case mutation.IsValidation(err):
		s.view.Notify("nothing to send")
	case errors.Is(err, controller.ErrUploadInFlight):
		s.view.Notify("wait for the current upload to finish")
	}
}

func (s *shell) attach(args string) {
	paths := strings.Fields(args)
	if len(paths) == 0 {
		s.view.Notify("usage: /attach <path>...")
		return
	}
	for _, p := range paths {
		f, err := s.stage(p)
		if err != nil {
			s.view.Notify(err.Error())
			continue
		}
		s.ctrl.AddFiles(f)
	}
	s.view.Staged(s.ctrl.Attachments())
}

func (s *shell) index(arg string) (int, bool) {
	i, err := strconv.Atoi(arg)
	if err != nil {
		s.view.Notify("expected a file number")
		return 0, false
	}
	return i, true
}

func (s *shell) messageID(arg string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimPrefix(arg, "#"), 10, 64)
	if err != nil || id <= 0 {
		s.view.Notify("expected a message id")
		return 0, false
	}
	return id, true
}

func (s *shell) wait() {
	s.wg.Wait()
}
