package tui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/matheus3301/duet/internal/tui/views"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// do runs fn off the UI goroutine with a call timeout. A failure is flashed
// as "what: err"; on success then runs on the UI goroutine.
func (a *App) do(what string, fn func(ctx context.Context) error, then func()) {
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, callTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			if a.ctx.Err() == nil {
				a.flash.Errf(what, errors.New(describe(err)))
			}
			return
		}
		if then != nil {
			a.app.QueueUpdateDraw(then)
		}
	}()
}

func (a *App) refreshConversations(fromServer bool) {
	a.do("Load conversations", func(ctx context.Context) error {
		if err := a.vm.LoadStatus(ctx); err != nil {
			return err
		}
		return a.vm.LoadConversations(ctx, fromServer)
	}, func() {
		a.renderHeader()
		a.renderList()
		a.showConversations()
	})
}

func (a *App) open(id int64) {
	a.do("Open conversation", func(ctx context.Context) error {
		return a.vm.Open(ctx, id)
	}, func() {
		a.renderThread()
		if a.pages.Current() != pageThread {
			a.pages.Push(pageThread)
		}
		a.app.SetFocus(a.thread.Messages())
	})
}

func (a *App) send(text string) {
	a.do("Send failed", func(ctx context.Context) error {
		return a.vm.Send(ctx, text, nil)
	}, a.renderThread)
}

func (a *App) sendFile(path string) {
	if a.vm.Active() == 0 {
		a.flash.Warn("Open a conversation first")
		return
	}
	abs, err := filepath.Abs(path)
	if err == nil {
		_, err = os.Stat(abs)
	}
	if err != nil {
		a.flash.Errf("Attach", err)
		return
	}
	a.flash.Info("Uploading " + filepath.Base(abs) + "...")
	a.do("Send failed", func(ctx context.Context) error {
		return a.vm.Send(ctx, "", []string{abs})
	}, a.renderThread)
}

func (a *App) loadOlder() {
	if a.vm.Complete() {
		a.flash.Info("Beginning of conversation")
		return
	}
	var added int
	a.do("Load older", func(ctx context.Context) (err error) {
		added, err = a.vm.LoadOlder(ctx)
		return err
	}, func() {
		a.renderThread()
		a.flash.Info(fmt.Sprintf("Loaded %d older messages", added))
	})
}

func (a *App) retryFailed() {
	var found bool
	a.do("Retry", func(ctx context.Context) (err error) {
		found, err = a.vm.RetryLast(ctx)
		return err
	}, func() {
		if !found {
			a.flash.Info("No failed message to retry")
		}
		a.renderThread()
	})
}

func (a *App) discardFailed() {
	var found bool
	a.do("Discard", func(ctx context.Context) (err error) {
		found, err = a.vm.DiscardLast(ctx)
		return err
	}, func() {
		if !found {
			a.flash.Info("No failed message to discard")
		}
		a.renderThread()
	})
}

func (a *App) showDetails() {
	id := a.vm.Active()
	c, ok := a.vm.Conversation(id)
	if !ok {
		return
	}
	peer, _ := c.Peer(a.vm.Self().ID)
	a.details.Update(views.Row{Conversation: c, Peer: peer, Online: a.vm.Online(peer.ID)}, len(a.vm.Messages()))
	a.pages.Push(pageInfo)
	a.app.SetFocus(a.details)
}

func (a *App) showSearch(query string) {
	a.pages.Push(pageSearch)
	a.app.SetFocus(a.search.Input())
	if query != "" {
		a.search.SetQuery(query)
		a.runSearch(query)
	}
}

func (a *App) runSearch(query string) {
	a.do("Search failed", func(ctx context.Context) error {
		hits, err := a.vm.SearchMessages(ctx, query)
		if err != nil {
			return err
		}
		a.app.QueueUpdateDraw(func() {
			a.search.Update(query, hits)
			if len(hits) > 0 {
				a.app.SetFocus(a.search.Results())
			}
		})
		return nil
	}, nil)
}

func (a *App) signIn(c views.Credentials) {
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, callTimeout)
		defer cancel()
		var err error
		if c.Register {
			err = a.vm.Register(ctx, c.Name, c.Email, c.Password)
		} else {
			err = a.vm.Login(ctx, c.Email, c.Password)
		}
		if err != nil {
			a.app.QueueUpdateDraw(func() { a.login.ShowError(describe(err)) })
			return
		}
		a.refreshConversations(false)
	}()
}

func (a *App) execute(cmd Command) {
	switch cmd.Name {
	case "quit":
		a.Stop()
	case "help":
		a.pages.Push(pageHelp)
	case "search":
		a.showSearch(cmd.Args)
	case "chat":
		c, ok := a.vm.FindConversation(cmd.Args)
		if !ok {
			a.flash.Warn(fmt.Sprintf("No chat matching %q", cmd.Args))
			return
		}
		a.open(c.ID)
	case "new":
		if cmd.Args == "" {
			a.flash.Warn("usage: new <user id or name>")
			return
		}
		var id int64
		a.do("New chat", func(ctx context.Context) error {
			c, err := a.vm.StartWith(ctx, cmd.Args)
			if err != nil {
				return err
			}
			id = c.ID
			return a.vm.LoadConversations(ctx, false)
		}, func() {
			a.renderList()
			a.open(id)
		})
	case "send":
		a.sendFile(cmd.Args)
	case "older":
		a.loadOlder()
	case "retry":
		a.retryFailed()
	case "discard":
		a.discardFailed()
	case "resync":
		a.do("Resync", a.vm.Resync, func() { a.flash.Info("Resynced") })
	case "logout":
		a.do("Logout", a.vm.Logout, a.showLogin)
	case "":
	default:
		a.flash.Warn("Unknown command: " + cmd.Name)
	}
}

// describe turns a daemon error into the message a person should read.
func describe(err error) string {
	st := grpcstatus.Convert(err)
	if st.Code() == codes.DeadlineExceeded || errors.Is(err, context.DeadlineExceeded) {
		return "daemon did not answer in time"
	}
	return st.Message()
}
