package model

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/duet/internal/api"
	"github.com/matheus3301/duet/internal/state"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeDaemon answers from fixed data and records mutations.
type fakeDaemon struct {
	Daemon // panics on anything a test did not expect

	self     state.User
	convs    []state.Conversation
	messages map[int64][]state.Message
	online   []int64
	users    []state.User

	read     []int64
	retried  []string
	started  []int64
	sendErr  error
	sentText []string
}

func newFake() *fakeDaemon {
	ana := state.User{ID: 7, Name: "Ana"}
	bia := state.User{ID: 8, Name: "Bia"}
	cai := state.User{ID: 9, Name: "Caio"}
	return &fakeDaemon{
		self: ana,
		convs: []state.Conversation{
			{ID: 10, Participants: []state.User{ana, bia}, UpdatedAt: t0},
			{ID: 11, Participants: []state.User{ana, cai}, UpdatedAt: t0},
		},
		messages: map[int64][]state.Message{
			10: {
				{ID: 1, ConversationID: 10, SenderID: 8, Content: "hi", CreatedAt: t0},
				{ID: 2, ConversationID: 10, SenderID: 7, Content: "hey", CreatedAt: t0.Add(time.Second)},
				{ClientID: "c-1", ConversationID: 10, SenderID: 7, Content: "lost", Status: state.StatusFailed, CreatedAt: t0.Add(2 * time.Second)},
			},
		},
		online: []int64{8},
		users:  []state.User{cai},
	}
}

func (f *fakeDaemon) Status(context.Context) (api.StatusReply, error) {
	u := f.self
	return api.StatusReply{Session: "test", SignedIn: true, User: &u}, nil
}

func (f *fakeDaemon) Conversations(context.Context, bool) (api.ConversationsReply, error) {
	return api.ConversationsReply{Self: f.self, Conversations: f.convs}, nil
}

func (f *fakeDaemon) Presence(_ context.Context, _ ...int64) ([]api.UserPresence, error) {
	out := make([]api.UserPresence, 0, len(f.online))
	for _, id := range f.online {
		out = append(out, api.UserPresence{UserID: id, Online: true})
	}
	return out, nil
}

func (f *fakeDaemon) Open(_ context.Context, id int64) (api.MessagesReply, error) {
	return api.MessagesReply{Messages: f.messages[id], Complete: true}, nil
}

func (f *fakeDaemon) Messages(ctx context.Context, id int64) (api.MessagesReply, error) {
	return f.Open(ctx, id)
}

func (f *fakeDaemon) Typers(context.Context, int64) ([]int64, error) {
	return []int64{8}, nil
}

func (f *fakeDaemon) MarkRead(_ context.Context, _, msgID int64) error {
	f.read = append(f.read, msgID)
	return nil
}

func (f *fakeDaemon) Send(_ context.Context, _ int64, content string, _ []string) (state.Message, error) {
	if f.sendErr != nil {
		return state.Message{}, f.sendErr
	}
	f.sentText = append(f.sentText, content)
	return state.Message{ClientID: "c-2", Content: content, Status: state.StatusPending}, nil
}

func (f *fakeDaemon) Retry(_ context.Context, clientID string) (state.Message, error) {
	f.retried = append(f.retried, clientID)
	return state.Message{ClientID: clientID, Status: state.StatusPending}, nil
}

func (f *fakeDaemon) SearchUsers(context.Context, string) ([]state.User, error) {
	return f.users, nil
}

func (f *fakeDaemon) StartConversation(_ context.Context, userID int64) (state.Conversation, error) {
	f.started = append(f.started, userID)
	return state.Conversation{ID: 99}, nil
}

func (f *fakeDaemon) Search(context.Context, string, int64) (api.SearchReply, error) {
	return api.SearchReply{Results: nil}, nil
}

func TestLoadConversationsTracksPresence(t *testing.T) {
	f := newFake()
	vm := NewViewModel(f)
	if err := vm.LoadConversations(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if len(vm.Conversations()) != 2 || vm.Self().ID != 7 {
		t.Fatalf("conversations = %+v self = %+v", vm.Conversations(), vm.Self())
	}
	if !vm.Online(8) || vm.Online(9) {
		t.Errorf("online(8)=%v online(9)=%v", vm.Online(8), vm.Online(9))
	}
	if got := vm.ConversationName(10); got != "Bia" {
		t.Errorf("ConversationName(10) = %q", got)
	}
	if got := vm.ConversationName(42); got != "#42" {
		t.Errorf("ConversationName(42) = %q", got)
	}
	if c, ok := vm.FindConversation("cai"); !ok || c.ID != 11 {
		t.Errorf("FindConversation(cai) = %+v, %v", c, ok)
	}
}

func TestOpenMarksPeerMessageRead(t *testing.T) {
	f := newFake()
	vm := NewViewModel(f)
	ctx := context.Background()
	_ = vm.LoadConversations(ctx, false)

	if err := vm.Open(ctx, 10); err != nil {
		t.Fatal(err)
	}
	if vm.Active() != 10 || len(vm.Messages()) != 3 {
		t.Fatalf("active = %d messages = %d", vm.Active(), len(vm.Messages()))
	}
	if len(f.read) != 1 || f.read[0] != 1 {
		t.Errorf("marked read = %v, want [1]", f.read)
	}

	f.messages[10][0].IsRead = true
	f.read = nil
	if err := vm.Reload(ctx); err != nil {
		t.Fatal(err)
	}
	if len(f.read) != 0 {
		t.Errorf("already-read message marked again: %v", f.read)
	}
	if typers := vm.Typers(); len(typers) != 1 || typers[0] != 8 {
		t.Errorf("typers = %v", typers)
	}
}

func TestRetryLastPicksNewestFailed(t *testing.T) {
	f := newFake()
	vm := NewViewModel(f)
	ctx := context.Background()
	_ = vm.Open(ctx, 10)

	found, err := vm.RetryLast(ctx)
	if err != nil || !found {
		t.Fatalf("RetryLast = %v, %v", found, err)
	}
	if len(f.retried) != 1 || f.retried[0] != "c-1" {
		t.Errorf("retried = %v", f.retried)
	}

	_ = vm.Open(ctx, 11)
	if found, _ := vm.RetryLast(ctx); found {
		t.Error("RetryLast found a failed message in a clean conversation")
	}
}

func TestSendWithoutActiveConversation(t *testing.T) {
	f := newFake()
	vm := NewViewModel(f)
	if err := vm.Send(context.Background(), "hi", nil); err != nil {
		t.Fatal(err)
	}
	if len(f.sentText) != 0 {
		t.Errorf("sent %v with no open conversation", f.sentText)
	}

	_ = vm.Open(context.Background(), 10)
	f.sendErr = errors.New("boom")
	if err := vm.Send(context.Background(), "hi", nil); err == nil {
		t.Error("Send error swallowed")
	}
}

func TestStartWith(t *testing.T) {
	f := newFake()
	vm := NewViewModel(f)
	ctx := context.Background()

	if _, err := vm.StartWith(ctx, "42"); err != nil {
		t.Fatal(err)
	}
	if _, err := vm.StartWith(ctx, "caio"); err != nil {
		t.Fatal(err)
	}
	if len(f.started) != 2 || f.started[0] != 42 || f.started[1] != 9 {
		t.Errorf("started = %v", f.started)
	}

	f.users = nil
	if _, err := vm.StartWith(ctx, "nobody"); !errors.Is(err, ErrNoUser) {
		t.Errorf("err = %v, want ErrNoUser", err)
	}
}

func TestClearForgetsEverything(t *testing.T) {
	f := newFake()
	vm := NewViewModel(f)
	ctx := context.Background()
	_ = vm.LoadConversations(ctx, false)
	_ = vm.Open(ctx, 10)

	vm.Clear()
	if vm.Active() != 0 || len(vm.Conversations()) != 0 || len(vm.Messages()) != 0 || vm.Online(8) {
		t.Error("Clear left state behind")
	}
}
