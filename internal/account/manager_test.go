package account

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/matheus3301/duet/internal/bus"
	"github.com/matheus3301/duet/internal/credential"
	"github.com/matheus3301/duet/internal/gateway"
	"github.com/matheus3301/duet/internal/gateway/gatewaytest"
	"github.com/matheus3301/duet/internal/presence"
	"github.com/matheus3301/duet/internal/restapi"
	"github.com/matheus3301/duet/internal/state"
	"github.com/matheus3301/duet/internal/status"
	dsync "github.com/matheus3301/duet/internal/sync"
	"github.com/matheus3301/duet/internal/typing"
	"go.uber.org/zap"
)

const token = "account-token"

// fakeBackend serves the REST endpoints the manager touches. Users are keyed by
// email; every successful login returns the gateway's token.
type fakeBackend struct {
	users        map[string]state.User
	unauthorized atomic.Bool
	logouts      atomic.Int32
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	write := func(status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	if r.URL.Path != "/auth/login" && (f.unauthorized.Load() || r.Header.Get("Authorization") != "Bearer "+token) {
		write(http.StatusUnauthorized, map[string]string{"message": "Unauthenticated."})
		return
	}
	switch {
	case r.URL.Path == "/auth/login":
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		u, ok := f.users[body["email"]]
		if !ok {
			write(http.StatusUnprocessableEntity, map[string]string{"message": "invalid credentials"})
			return
		}
		write(http.StatusOK, map[string]any{"user": u, "token": token})
	case r.URL.Path == "/auth/logout":
		f.logouts.Add(1)
		write(http.StatusOK, map[string]string{"message": "ok"})
	case r.URL.Path == "/conversations":
		write(http.StatusOK, []map[string]any{{"id": 10, "participants": []map[string]any{{"id": 7}, {"id": 8}}}})
	case strings.HasPrefix(r.URL.Path, "/conversations/"):
		write(http.StatusOK, map[string]any{"data": []any{}, "current_page": 1, "last_page": 1})
	default:
		http.NotFound(w, r)
	}
}

type fixture struct {
	mgr     *Manager
	backend *fakeBackend
	gw      *gatewaytest.Server
	state   *state.Container
	bus     *bus.Bus
	api     *restapi.Client
	cred    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		backend: &fakeBackend{users: map[string]state.User{
			"ana@example.com": {ID: 7, Name: "Ana", Email: "ana@example.com"},
			"bia@example.com": {ID: 8, Name: "Bia", Email: "bia@example.com"},
		}},
		gw:   gatewaytest.NewServer(token),
		bus:  bus.New(),
		cred: filepath.Join(t.TempDir(), "credentials.toml"),
	}
	t.Cleanup(f.gw.Close)
	rest := httptest.NewServer(f.backend)
	t.Cleanup(rest.Close)

	logger := zap.NewNop()
	f.state = state.New(f.bus, logger)
	t.Cleanup(f.state.Close)
	f.api = restapi.New(restapi.Config{BaseURL: rest.URL, RetryMaxElapsed: time.Second}, nil, logger)

	fast := func() backoff.BackOff { return backoff.NewConstantBackOff(10 * time.Millisecond) }
	f.mgr = New(Config{
		CredentialPath: f.cred,
		Gateway:        gateway.Config{URL: f.gw.URL, NewBackOff: fast},
		NewBackOff:     fast,
	}, Deps{
		API:        f.api,
		State:      f.state,
		Reconciler: dsync.NewReconciler(f.state, nil, logger),
		Presence:   presence.NewTracker(f.state, logger),
		Typing:     typing.NewAggregator(f.state, typing.DefaultWindow, logger),
		Bus:        f.bus,
		Logger:     logger,
	})
	t.Cleanup(f.mgr.Stop)
	return f
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitEvent(t *testing.T, ch <-chan bus.Event, kind string) bus.Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Kind == kind {
				return evt
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", kind)
			return bus.Event{}
		}
	}
}

func (f *fixture) connected() bool {
	return f.mgr.Status().Channel == status.Connected
}

func (f *fixture) hasConversation(id int64) bool {
	var ok bool
	_ = f.state.View(func(tx *state.Tx) { _, ok = tx.Conversation(id) })
	return ok
}

func TestStartWithoutCredential(t *testing.T) {
	f := newFixture(t)
	if err := f.mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if st := f.mgr.Status(); st.SignedIn || st.Channel != status.Idle {
		t.Errorf("Status = %+v, want signed out", st)
	}
	if _, err := f.mgr.Live(); !errors.Is(err, ErrSignedOut) {
		t.Errorf("Live err = %v, want ErrSignedOut", err)
	}
}

func TestLoginConnectsAndLoads(t *testing.T) {
	f := newFixture(t)
	events, unsub := f.bus.Subscribe("session.", 8)
	defer unsub()
	if err := f.mgr.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	u, err := f.mgr.Login(context.Background(), "ana@example.com", "secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if u.ID != 7 {
		t.Errorf("user = %+v", u)
	}
	waitEvent(t, events, bus.KindSessionSignedIn)
	waitFor(t, "gateway connection", f.connected)
	waitFor(t, "conversation list", func() bool { return f.hasConversation(10) })

	cred, err := credential.Load(f.cred)
	if err != nil {
		t.Fatalf("credential not stored: %v", err)
	}
	if cred.Token != token || cred.UserID != 7 {
		t.Errorf("credential = %+v", cred)
	}
	if st := f.mgr.Status(); !st.SignedIn || st.User.ID != 7 {
		t.Errorf("Status = %+v", st)
	}
	waitFor(t, "channel subscriptions", func() bool {
		chs := f.mgr.Status().Channels
		return len(chs) == 2 && chs[0] == dsync.UsersChannel && chs[1] == dsync.ConversationChannel(10)
	})
}

func TestLoginFailureStaysSignedOut(t *testing.T) {
	f := newFixture(t)
	if _, err := f.mgr.Login(context.Background(), "nobody@example.com", "x"); err == nil {
		t.Fatal("expected login error")
	}
	if f.mgr.Status().SignedIn {
		t.Error("signed in after failed login")
	}
	if _, err := os.Stat(f.cred); !os.IsNotExist(err) {
		t.Errorf("credential written after failed login: %v", err)
	}
}

func TestResumeStoredSession(t *testing.T) {
	f := newFixture(t)
	if err := credential.Save(f.cred, &credential.Credential{Token: token, UserID: 7, Name: "Ana"}); err != nil {
		t.Fatal(err)
	}
	if err := f.mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "gateway connection", f.connected)

	var self state.User
	_ = f.state.View(func(tx *state.Tx) { self = tx.Self() })
	if self.ID != 7 {
		t.Errorf("self = %+v", self)
	}
}

func TestExpiredCredentialIsDiscarded(t *testing.T) {
	f := newFixture(t)
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "7",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}).SignedString([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if err := credential.Save(f.cred, &credential.Credential{Token: expired, UserID: 7}); err != nil {
		t.Fatal(err)
	}
	events, unsub := f.bus.Subscribe(bus.KindSessionInvalidated, 4)
	defer unsub()

	if err := f.mgr.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitEvent(t, events, bus.KindSessionInvalidated)
	if f.mgr.Status().SignedIn {
		t.Error("signed in with an expired credential")
	}
	if _, err := credential.Load(f.cred); !errors.Is(err, credential.ErrNone) {
		t.Errorf("Load err = %v, want ErrNone", err)
	}
	if f.gw.Accepted() != 0 {
		t.Error("gateway dialed with an expired credential")
	}
}

func TestGatewayRejectionInvalidates(t *testing.T) {
	f := newFixture(t)
	f.gw.Reject(true)
	events, unsub := f.bus.Subscribe(bus.KindSessionInvalidated, 4)
	defer unsub()
	if err := f.mgr.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	if _, err := f.mgr.Login(context.Background(), "ana@example.com", "secret"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	waitEvent(t, events, bus.KindSessionInvalidated)
	if _, err := f.mgr.Live(); !errors.Is(err, ErrSignedOut) {
		t.Errorf("Live err = %v, want ErrSignedOut", err)
	}
	if _, err := credential.Load(f.cred); !errors.Is(err, credential.ErrNone) {
		t.Errorf("credential kept after rejection: %v", err)
	}
}

func TestRESTUnauthorizedInvalidates(t *testing.T) {
	f := newFixture(t)
	if err := f.mgr.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := f.mgr.Login(context.Background(), "ana@example.com", "secret"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "gateway connection", f.connected)
	events, unsub := f.bus.Subscribe(bus.KindSessionInvalidated, 4)
	defer unsub()

	f.backend.unauthorized.Store(true)
	l, err := f.mgr.Live()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Loader.OpenConversation(context.Background(), 11); !errors.Is(err, restapi.ErrUnauthorized) {
		t.Fatalf("OpenConversation err = %v, want ErrUnauthorized", err)
	}
	waitEvent(t, events, bus.KindSessionInvalidated)
	if l.Adapter.State() != status.Closed {
		t.Errorf("adapter state = %s, want CLOSED", l.Adapter.State())
	}
	if f.api.Token() != "" {
		t.Error("token kept after invalidation")
	}
}

func TestLogoutDiscardsEverything(t *testing.T) {
	f := newFixture(t)
	if err := f.mgr.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := f.mgr.Login(context.Background(), "ana@example.com", "secret"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "conversation list", func() bool { return f.hasConversation(10) })
	l, _ := f.mgr.Live()

	if err := f.mgr.Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if f.backend.logouts.Load() != 1 {
		t.Errorf("server logouts = %d, want 1", f.backend.logouts.Load())
	}
	if l.Adapter.State() != status.Closed {
		t.Errorf("adapter state = %s, want CLOSED", l.Adapter.State())
	}
	if f.hasConversation(10) {
		t.Error("conversation survived logout")
	}
	if _, err := credential.Load(f.cred); !errors.Is(err, credential.ErrNone) {
		t.Errorf("credential survived logout: %v", err)
	}
	if f.mgr.Status().SignedIn {
		t.Error("still signed in")
	}
}

func TestSwitchingUserResetsState(t *testing.T) {
	f := newFixture(t)
	if err := f.mgr.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := f.mgr.Login(context.Background(), "ana@example.com", "secret"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "conversation list", func() bool { return f.hasConversation(10) })
	resets, unsub := f.bus.Subscribe(bus.KindStateReset, 4)
	defer unsub()

	if _, err := f.mgr.Login(context.Background(), "ana@example.com", "secret"); err != nil {
		t.Fatal(err)
	}
	select {
	case <-resets:
		t.Fatal("same user login reset state")
	case <-time.After(50 * time.Millisecond):
	}

	if _, err := f.mgr.Login(context.Background(), "bia@example.com", "secret"); err != nil {
		t.Fatal(err)
	}
	waitEvent(t, resets, bus.KindStateReset)
	waitFor(t, "gateway connection", f.connected)
	if st := f.mgr.Status(); st.User.ID != 8 {
		t.Errorf("user = %+v, want 8", st.User)
	}
}

type memCache struct {
	convs []state.Conversation
	msgs  map[int64][]state.Message
}

func (c *memCache) ListConversations(limit, offset int) ([]state.Conversation, error) {
	return c.convs, nil
}

func (c *memCache) ListMessages(convID int64, _ time.Time, limit int) ([]state.Message, error) {
	return c.msgs[convID], nil
}

func TestResumeWarmsFromCache(t *testing.T) {
	f := newFixture(t)
	t0 := time.Unix(1_700_000_000, 0)
	f.mgr.deps.Cache = &memCache{
		convs: []state.Conversation{{ID: 42}},
		msgs: map[int64][]state.Message{42: {
			{ID: 2, ConversationID: 42, SenderID: 8, CreatedAt: t0.Add(time.Second), UpdatedAt: t0.Add(time.Second)},
			{ID: 1, ConversationID: 42, SenderID: 7, CreatedAt: t0, UpdatedAt: t0},
		}},
	}
	if err := credential.Save(f.cred, &credential.Credential{Token: token, UserID: 7}); err != nil {
		t.Fatal(err)
	}
	if err := f.mgr.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	var ids []int64
	_ = f.state.View(func(tx *state.Tx) {
		for _, m := range tx.Messages(42) {
			ids = append(ids, m.ID)
		}
	})
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Errorf("warmed log = %v, want [1 2]", ids)
	}
}
