// Package account owns the signed-in session: the stored credential, the
// per-login gateway connection and the components bound to it.
package account

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/matheus3301/duet/internal/bus"
	"github.com/matheus3301/duet/internal/credential"
	"github.com/matheus3301/duet/internal/gateway"
	"github.com/matheus3301/duet/internal/metrics"
	"github.com/matheus3301/duet/internal/outbox"
	"github.com/matheus3301/duet/internal/presence"
	"github.com/matheus3301/duet/internal/restapi"
	"github.com/matheus3301/duet/internal/state"
	"github.com/matheus3301/duet/internal/status"
	dsync "github.com/matheus3301/duet/internal/sync"
	"github.com/matheus3301/duet/internal/typing"
	"go.uber.org/zap"
)

// ErrSignedOut is returned by operations that need a signed-in session.
var ErrSignedOut = errors.New("not signed in")

// Cache is the local archive used to warm the container before the network
// answers.
type Cache interface {
	ListConversations(limit, offset int) ([]state.Conversation, error)
	ListMessages(convID int64, before time.Time, limit int) ([]state.Message, error)
}

// Config configures a Manager.
type Config struct {
	CredentialPath string
	Gateway        gateway.Config
	// TypingInterval throttles outbound typing signals per conversation.
	TypingInterval time.Duration
	// WarmConversations and WarmMessages bound the cache warm-up.
	WarmConversations int
	WarmMessages      int
	// NewBackOff overrides the schedule of the first gateway connect.
	NewBackOff func() backoff.BackOff
}

// Deps are the long-lived components shared by every login.
type Deps struct {
	API        *restapi.Client
	State      *state.Container
	Reconciler *dsync.Reconciler
	Presence   *presence.Tracker
	Typing     *typing.Aggregator
	Cache      Cache
	Bus        *bus.Bus
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// Live is the set of components bound to one login. It is discarded on logout
// or invalidation; a new login builds a fresh one.
type Live struct {
	Adapter *gateway.Adapter
	Loader  *dsync.Loader
	Outbox  *outbox.Pipeline
	Typing  *typing.Emitter

	token  string
	cancel context.CancelFunc
}

// Status describes the session.
type Status struct {
	SignedIn bool
	User     state.User
	Channel  status.State
	Since    time.Time
	Channels []string
}

// Manager signs the user in and out and keeps one Live per login.
type Manager struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	mu   sync.Mutex
	live *Live
	user state.User

	stop chan struct{}
}

// New creates a signed-out manager.
func New(cfg Config, d Deps) *Manager {
	if cfg.TypingInterval <= 0 {
		cfg.TypingInterval = typing.DefaultEmitInterval
	}
	if cfg.WarmConversations <= 0 {
		cfg.WarmConversations = 100
	}
	if cfg.WarmMessages <= 0 {
		cfg.WarmMessages = 50
	}
	if cfg.NewBackOff == nil {
		base, limit := cfg.Gateway.BaseDelay, cfg.Gateway.MaxDelay
		cfg.NewBackOff = func() backoff.BackOff { return gateway.NewBackOff(base, limit) }
	}
	return &Manager{cfg: cfg, deps: d, logger: d.Logger.Named("account")}
}

// Start installs the invalidation hooks and resumes a stored session. A missing
// or expired credential leaves the manager signed out.
func (m *Manager) Start(ctx context.Context) error {
	m.deps.API.OnUnauthorized(func() { m.invalidate(nil, "rest api returned 401") })

	ch, unsub := m.deps.Bus.Subscribe(bus.KindChannelError, 8)
	stop := make(chan struct{})
	m.stop = stop
	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				if err, ok := evt.Payload.(error); ok && gateway.IsRejected(err) {
					m.invalidate(nil, err.Error())
				}
			case <-stop:
				return
			}
		}
	}()

	cred, err := credential.Load(m.cfg.CredentialPath)
	if errors.Is(err, credential.ErrNone) {
		m.logger.Info("no stored credential, waiting for login")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load credential: %w", err)
	}

	claims, err := credential.Inspect(cred.Token, time.Now())
	if errors.Is(err, credential.ErrExpired) {
		m.logger.Warn("stored credential expired", zap.Time("expired_at", claims.ExpiresAt))
		if err := credential.Remove(m.cfg.CredentialPath); err != nil {
			m.logger.Warn("remove expired credential", zap.Error(err))
		}
		m.deps.Bus.Emit(bus.KindSessionInvalidated, "credential expired")
		return nil
	}
	if err != nil {
		m.logger.Warn("inspect credential", zap.Error(err))
	}

	user := cred.User()
	if user.ID == 0 && claims.Subject != "" {
		user.ID, _ = strconv.ParseInt(claims.Subject, 10, 64)
	}
	if err := m.warm(); err != nil {
		m.logger.Warn("cache warm-up failed", zap.Error(err))
	}
	m.logger.Info("resuming stored session", zap.Int64("user_id", user.ID))
	return m.activate(ctx, cred.Token, user, false)
}

// Stop tears the live components down without touching the credential.
func (m *Manager) Stop() {
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
	m.mu.Lock()
	l := m.live
	m.live = nil
	m.mu.Unlock()
	if l != nil {
		m.teardown(l)
	}
}

// Login authenticates with email and password and activates the session.
func (m *Manager) Login(ctx context.Context, email, password string) (state.User, error) {
	resp, err := m.deps.API.Login(ctx, email, password)
	if err != nil {
		return state.User{}, err
	}
	return m.signIn(ctx, resp)
}

// Register creates an account and activates the session.
func (m *Manager) Register(ctx context.Context, r restapi.RegisterRequest) (state.User, error) {
	resp, err := m.deps.API.Register(ctx, r)
	if err != nil {
		return state.User{}, err
	}
	return m.signIn(ctx, resp)
}

func (m *Manager) signIn(ctx context.Context, resp *restapi.AuthResponse) (state.User, error) {
	user := resp.User
	if user.ID == 0 {
		m.deps.API.SetToken(resp.Token)
		me, err := m.deps.API.Me(ctx)
		if err != nil {
			m.deps.API.SetToken("")
			return state.User{}, fmt.Errorf("resolve user: %w", err)
		}
		user = *me
	}
	err := credential.Save(m.cfg.CredentialPath, &credential.Credential{
		Token:   resp.Token,
		UserID:  user.ID,
		Name:    user.Name,
		Email:   user.Email,
		SavedAt: time.Now(),
	})
	if err != nil {
		return state.User{}, fmt.Errorf("save credential: %w", err)
	}
	if err := m.activate(ctx, resp.Token, user, true); err != nil {
		return state.User{}, err
	}
	return user, nil
}

// activate binds a fresh Live to token. A fresh sign-in as anyone other than the
// current self discards the previous state and cache.
func (m *Manager) activate(ctx context.Context, token string, user state.User, fresh bool) error {
	m.mu.Lock()
	old := m.live
	m.live = nil
	m.mu.Unlock()
	if old != nil {
		m.teardown(old)
	}

	var prev state.User
	if err := m.deps.State.View(func(tx *state.Tx) { prev = tx.Self() }); err != nil {
		return err
	}
	if prev.ID != user.ID && (fresh || prev.ID != 0) {
		m.logger.Info("switching user, discarding cached state",
			zap.Int64("previous", prev.ID), zap.Int64("user_id", user.ID))
		if err := m.deps.State.Reset(); err != nil {
			return fmt.Errorf("reset state: %w", err)
		}
	}
	if err := m.deps.State.Update(func(tx *state.Tx) error {
		tx.SetSelf(user)
		return nil
	}); err != nil {
		return err
	}
	m.deps.API.SetToken(token)

	l := m.build(token)
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.cancel = cancel
	l.Outbox.Start(runCtx)
	if err := l.Adapter.Subscribe(runCtx, dsync.UsersChannel); err != nil {
		m.logger.Debug("subscribe deferred", zap.Error(err))
	}

	m.mu.Lock()
	m.live = l
	m.user = user
	m.mu.Unlock()

	m.deps.Bus.Emit(bus.KindSessionSignedIn, user)
	go m.connect(runCtx, l)
	return nil
}

func (m *Manager) build(token string) *Live {
	d := m.deps
	a := gateway.New(m.cfg.Gateway, d.Bus, d.Metrics, d.Logger)
	loader := dsync.NewLoader(d.API, a, d.Reconciler, d.State, d.Logger)
	dsync.NewEngine(d.Reconciler, loader, d.Presence, d.Typing, d.Logger).Attach(a)
	return &Live{
		Adapter: a,
		Loader:  loader,
		Outbox:  outbox.New(d.State, d.API, a, d.Reconciler, d.Bus, d.Metrics, d.Logger),
		Typing:  typing.NewEmitter(a, m.cfg.TypingInterval),
		token:   token,
	}
}

// connect loads the conversation list and dials the gateway, retrying an
// unreachable gateway until ctx ends. A rejected credential invalidates the
// session.
func (m *Manager) connect(ctx context.Context, l *Live) {
	_, loadErr := l.Loader.LoadConversations(ctx)
	if loadErr != nil {
		m.logger.Warn("load conversations failed", zap.Error(loadErr))
	}

	op := func() error {
		err := l.Adapter.Connect(ctx, l.token)
		switch {
		case err == nil:
			return nil
		case gateway.IsRejected(err), errors.Is(err, gateway.ErrClosed):
			return backoff.Permanent(err)
		}
		m.logger.Info("gateway connect attempt failed", zap.Error(err))
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(m.cfg.NewBackOff(), ctx)); err != nil {
		if gateway.IsRejected(err) {
			m.invalidate(l, err.Error())
		}
		return
	}

	if loadErr != nil {
		if _, err := l.Loader.LoadConversations(ctx); err != nil {
			m.logger.Warn("load conversations failed", zap.Error(err))
		}
	}
}

func (m *Manager) teardown(l *Live) {
	l.cancel()
	l.Outbox.Stop()
	if err := l.Adapter.Close(); err != nil {
		m.logger.Debug("close gateway", zap.Error(err))
	}
}

// Logout closes the channel, discards all state and the cache, and removes the
// credential. The server logout is best-effort.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	l := m.live
	m.live = nil
	m.user = state.User{}
	m.mu.Unlock()

	if l != nil {
		lctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := m.deps.API.Logout(lctx); err != nil {
			m.logger.Info("server logout failed", zap.Error(err))
		}
		cancel()
		m.teardown(l)
	}
	if err := m.deps.State.Reset(); err != nil {
		return fmt.Errorf("reset state: %w", err)
	}
	if err := credential.Remove(m.cfg.CredentialPath); err != nil {
		return fmt.Errorf("remove credential: %w", err)
	}
	m.deps.API.SetToken("")
	m.deps.Bus.Emit(bus.KindSessionSignedOut, nil)
	m.logger.Info("signed out")
	return nil
}

// invalidate drops the session after the server refused the credential. When
// only is set, nothing happens unless it is still the current Live.
func (m *Manager) invalidate(only *Live, reason string) {
	m.mu.Lock()
	l := m.live
	if l == nil || (only != nil && only != l) {
		m.mu.Unlock()
		return
	}
	m.live = nil
	m.user = state.User{}
	m.mu.Unlock()

	m.logger.Warn("credential invalidated", zap.String("reason", reason))
	m.teardown(l)
	if err := credential.Remove(m.cfg.CredentialPath); err != nil {
		m.logger.Warn("remove credential", zap.Error(err))
	}
	m.deps.API.SetToken("")
	m.deps.Bus.Emit(bus.KindSessionInvalidated, reason)
}

// Live returns the current login's components.
func (m *Manager) Live() (*Live, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live == nil {
		return nil, ErrSignedOut
	}
	return m.live, nil
}

// Status reports who is signed in and the channel state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	l, user := m.live, m.user
	m.mu.Unlock()
	if l == nil {
		return Status{Channel: status.Idle}
	}
	return Status{
		SignedIn: true,
		User:     user,
		Channel:  l.Adapter.State(),
		Since:    l.Adapter.StateSince(),
		Channels: l.Adapter.Channels(),
	}
}

// warm seeds the container with the archived conversations and their latest
// messages.
func (m *Manager) warm() error {
	if m.deps.Cache == nil {
		return nil
	}
	convs, err := m.deps.Cache.ListConversations(m.cfg.WarmConversations, 0)
	if err != nil {
		return err
	}
	if err := m.deps.State.Update(func(tx *state.Tx) error {
		for _, c := range convs {
			if _, ok := tx.Conversation(c.ID); !ok {
				tx.PutConversation(c)
			}
		}
		return nil
	}); err != nil {
		return err
	}
	for _, c := range convs {
		msgs, err := m.deps.Cache.ListMessages(c.ID, time.Time{}, m.cfg.WarmMessages)
		if err != nil {
			return err
		}
		if _, err := m.deps.Reconciler.Seed(c.ID, msgs); err != nil {
			return err
		}
	}
	m.logger.Info("warmed state from cache", zap.Int("conversations", len(convs)))
	return nil
}
