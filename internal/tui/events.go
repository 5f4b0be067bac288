package tui

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/matheus3301/duet/internal/bus"
)

// Parts of the model an event makes stale.
const (
	dirtyStatus = 1 << iota
	dirtyConversations
	dirtyPresence
	dirtyThread
	dirtySignedOut
)

// coalesce is how long the refresher collects events before reloading.
const coalesce = 50 * time.Millisecond

// refresher follows the daemon's event stream and reloads whatever each event
// makes stale. Bursts are folded into one reload per coalesce window.
type refresher struct {
	app   *App
	mu    sync.Mutex
	dirty int
	wake  chan struct{}
}

func newRefresher(a *App) *refresher {
	return &refresher{app: a, wake: make(chan struct{}, 1)}
}

// dirtyFor maps an event kind to the state it invalidates.
func dirtyFor(kind string) int {
	switch {
	case kind == bus.KindSessionSignedOut, kind == bus.KindSessionInvalidated:
		return dirtySignedOut | dirtyStatus
	case kind == bus.KindSessionSignedIn, kind == bus.KindStateReset:
		return dirtyStatus | dirtyConversations
	case kind == bus.KindPresenceChanged:
		return dirtyPresence
	case kind == bus.KindTypingChanged:
		return dirtyThread
	case kind == bus.KindMessageUpserted, kind == bus.KindMessageRemoved:
		return dirtyThread | dirtyConversations | dirtyStatus
	case kind == bus.KindConversationUpdated:
		return dirtyConversations
	case kind == bus.KindSendFailed:
		return dirtyThread | dirtyStatus
	case strings.HasPrefix(kind, "channel."):
		return dirtyStatus
	}
	return 0
}

func (r *refresher) mark(d int) {
	if d == 0 {
		return
	}
	r.mu.Lock()
	r.dirty |= d
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// run watches events and applies reloads until ctx ends.
func (r *refresher) run(ctx context.Context) {
	go r.follow(ctx)
	for {
		select {
		case <-r.wake:
		case <-ctx.Done():
			return
		}
		select {
		case <-time.After(coalesce):
		case <-ctx.Done():
			return
		}
		r.mu.Lock()
		d := r.dirty
		r.dirty = 0
		r.mu.Unlock()
		r.apply(ctx, d)
	}
}

// follow keeps a WatchEvents stream open, reopening it with backoff when the
// daemon restarts. Every reopen marks everything stale since events were missed.
func (r *refresher) follow(ctx context.Context) {
	bo := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(200*time.Millisecond),
		backoff.WithMaxInterval(5*time.Second),
		backoff.WithMaxElapsedTime(0),
	), ctx)
	first := true

	for ctx.Err() == nil {
		events, err := r.app.daemon.Watch(ctx, "")
		if err == nil {
			if !first {
				r.mark(dirtyStatus | dirtyConversations | dirtyPresence | dirtyThread)
			}
			first = false
			for {
				evt, err := events.Recv()
				if err != nil {
					break
				}
				bo.Reset()
				if evt.Kind == bus.KindSendFailed {
					r.app.flash.Warn("A message failed to send (R to retry)")
				}
				r.mark(dirtyFor(evt.Kind))
			}
		}
		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			return
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

func (r *refresher) apply(ctx context.Context, d int) {
	a := r.app
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	if d&dirtyStatus != 0 {
		_ = a.vm.LoadStatus(ctx)
	}
	if d&dirtySignedOut != 0 && !a.vm.Status().SignedIn {
		a.app.QueueUpdateDraw(func() {
			a.showLogin()
			a.login.ShowError("Signed out. Please sign in again.")
		})
		return
	}
	if d&dirtyConversations != 0 {
		if err := a.vm.LoadConversations(ctx, false); err == nil {
			d |= dirtyPresence
		}
	} else if d&dirtyPresence != 0 {
		_ = a.vm.LoadPresence(ctx)
	}
	if d&dirtyThread != 0 {
		_ = a.vm.Reload(ctx)
	}

	a.app.QueueUpdateDraw(func() {
		a.renderHeader()
		if d&(dirtyConversations|dirtyPresence) != 0 {
			a.renderList()
			if d&dirtyConversations != 0 && a.vm.Status().SignedIn {
				a.showConversations()
			}
		}
		if d&(dirtyThread|dirtyPresence) != 0 && a.pages.Current() == pageThread {
			a.renderThread()
		}
	})
}
