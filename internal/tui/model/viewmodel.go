package model

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/matheus3301/duet/internal/api"
	"github.com/matheus3301/duet/internal/state"
	"github.com/matheus3301/duet/internal/tui/client"
)

// Daemon is the subset of the daemon client the view model drives.
type Daemon interface {
	Status(ctx context.Context) (api.StatusReply, error)
	Login(ctx context.Context, email, password string) (state.User, error)
	Register(ctx context.Context, req api.RegisterRequest) (state.User, error)
	Logout(ctx context.Context) error
	Conversations(ctx context.Context, refresh bool) (api.ConversationsReply, error)
	Open(ctx context.Context, id int64) (api.MessagesReply, error)
	LoadOlder(ctx context.Context, id int64) (api.OlderReply, error)
	StartConversation(ctx context.Context, userID int64) (state.Conversation, error)
	SearchUsers(ctx context.Context, query string) ([]state.User, error)
	Presence(ctx context.Context, userIDs ...int64) ([]api.UserPresence, error)
	Typers(ctx context.Context, convID int64) ([]int64, error)
	SetTyping(ctx context.Context, convID int64, stopped bool) (bool, error)
	Messages(ctx context.Context, convID int64) (api.MessagesReply, error)
	Send(ctx context.Context, convID int64, content string, files []string) (state.Message, error)
	Retry(ctx context.Context, clientID string) (state.Message, error)
	Discard(ctx context.Context, clientID string) error
	MarkRead(ctx context.Context, convID, msgID int64) error
	Search(ctx context.Context, query string, convID int64) (api.SearchReply, error)
	Resync(ctx context.Context) error
}

var _ Daemon = (*client.Client)(nil)

// ErrNoUser is returned when a user search matches nobody.
var ErrNoUser = errors.New("no matching user")

// SearchHit is a search result with its conversation resolved to a name.
type SearchHit struct {
	Message state.Message
	Snippet string
	Chat    string
}

// ViewModel caches daemon state for rendering. Views read snapshots; loaders
// run off the UI goroutine.
type ViewModel struct {
	mu sync.RWMutex

	client        Daemon
	status        api.StatusReply
	self          state.User
	conversations []state.Conversation
	active        int64
	messages      []state.Message
	complete      bool
	typers        []int64
	online        map[int64]bool
}

// NewViewModel creates a new view model connected to the daemon client.
func NewViewModel(c Daemon) *ViewModel {
	return &ViewModel{client: c, online: make(map[int64]bool)}
}

// LoadStatus fetches current session status.
func (vm *ViewModel) LoadStatus(ctx context.Context) error {
	st, err := vm.client.Status(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.status = st
	if st.User != nil {
		vm.self = *st.User
	}
	vm.mu.Unlock()
	return nil
}

// Login signs in and refreshes status.
func (vm *ViewModel) Login(ctx context.Context, email, password string) error {
	if _, err := vm.client.Login(ctx, email, password); err != nil {
		return err
	}
	return vm.LoadStatus(ctx)
}

// Register creates an account and refreshes status.
func (vm *ViewModel) Register(ctx context.Context, name, email, password string) error {
	if _, err := vm.client.Register(ctx, api.RegisterRequest{Name: name, Email: email, Password: password}); err != nil {
		return err
	}
	return vm.LoadStatus(ctx)
}

// Logout signs out and forgets everything cached.
func (vm *ViewModel) Logout(ctx context.Context) error {
	if err := vm.client.Logout(ctx); err != nil {
		return err
	}
	vm.Clear()
	return vm.LoadStatus(ctx)
}

// Clear drops cached conversations and messages.
func (vm *ViewModel) Clear() {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.self = state.User{}
	vm.conversations = nil
	vm.active = 0
	vm.messages = nil
	vm.complete = false
	vm.typers = nil
	clear(vm.online)
}

// LoadConversations fetches the conversation list and the presence of every peer.
func (vm *ViewModel) LoadConversations(ctx context.Context, refresh bool) error {
	resp, err := vm.client.Conversations(ctx, refresh)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.self = resp.Self
	vm.conversations = resp.Conversations
	vm.mu.Unlock()
	return vm.LoadPresence(ctx)
}

// LoadPresence refreshes the online set.
func (vm *ViewModel) LoadPresence(ctx context.Context) error {
	users, err := vm.client.Presence(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	defer vm.mu.Unlock()
	clear(vm.online)
	for _, u := range users {
		if u.Online {
			vm.online[u.UserID] = true
		}
	}
	return nil
}

// Open makes id the active conversation, loads its latest page and marks the
// newest message from the peer as read.
func (vm *ViewModel) Open(ctx context.Context, id int64) error {
	resp, err := vm.client.Open(ctx, id)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.active = id
	vm.messages = resp.Messages
	vm.complete = resp.Complete
	vm.typers = nil
	vm.mu.Unlock()
	vm.markRead(ctx)
	return nil
}

// Close leaves the active conversation.
func (vm *ViewModel) Close() {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.active = 0
	vm.messages = nil
	vm.typers = nil
}

// Reload refreshes the active conversation's messages and typers.
func (vm *ViewModel) Reload(ctx context.Context) error {
	id := vm.Active()
	if id == 0 {
		return nil
	}
	resp, err := vm.client.Messages(ctx, id)
	if err != nil {
		return err
	}
	typers, err := vm.client.Typers(ctx, id)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	if vm.active == id {
		vm.messages = resp.Messages
		vm.complete = resp.Complete
		vm.typers = typers
	}
	vm.mu.Unlock()
	vm.markRead(ctx)
	return nil
}

// LoadOlder pulls the next history page into the active conversation.
func (vm *ViewModel) LoadOlder(ctx context.Context) (int, error) {
	id := vm.Active()
	if id == 0 {
		return 0, nil
	}
	resp, err := vm.client.LoadOlder(ctx, id)
	if err != nil {
		return 0, err
	}
	return resp.Added, vm.Reload(ctx)
}

func (vm *ViewModel) markRead(ctx context.Context) {
	vm.mu.RLock()
	var target state.Message
	for _, m := range slices.Backward(vm.messages) {
		if m.SenderID != vm.self.ID && m.ID != 0 {
			target = m
			break
		}
	}
	vm.mu.RUnlock()
	if target.ID != 0 && !target.IsRead {
		_ = vm.client.MarkRead(ctx, target.ConversationID, target.ID)
	}
}

// Send queues text in the active conversation.
func (vm *ViewModel) Send(ctx context.Context, text string, files []string) error {
	id := vm.Active()
	if id == 0 {
		return nil
	}
	if _, err := vm.client.Send(ctx, id, text, files); err != nil {
		return err
	}
	return vm.Reload(ctx)
}

// LastFailed returns the newest failed message of the active conversation.
func (vm *ViewModel) LastFailed() (state.Message, bool) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	for _, m := range slices.Backward(vm.messages) {
		if m.Status == state.StatusFailed {
			return m, true
		}
	}
	return state.Message{}, false
}

// RetryLast resends the newest failed message.
func (vm *ViewModel) RetryLast(ctx context.Context) (bool, error) {
	m, ok := vm.LastFailed()
	if !ok {
		return false, nil
	}
	if _, err := vm.client.Retry(ctx, m.ClientID); err != nil {
		return true, err
	}
	return true, vm.Reload(ctx)
}

// DiscardLast drops the newest failed message.
func (vm *ViewModel) DiscardLast(ctx context.Context) (bool, error) {
	m, ok := vm.LastFailed()
	if !ok {
		return false, nil
	}
	if err := vm.client.Discard(ctx, m.ClientID); err != nil {
		return true, err
	}
	return true, vm.Reload(ctx)
}

// Typing tells peers the user is typing, or stopped.
func (vm *ViewModel) Typing(ctx context.Context, stopped bool) {
	if id := vm.Active(); id != 0 {
		_, _ = vm.client.SetTyping(ctx, id, stopped)
	}
}

// StartWith opens a conversation with the first user matching query, which
// may be a numeric user id.
func (vm *ViewModel) StartWith(ctx context.Context, query string) (state.Conversation, error) {
	if id, err := strconv.ParseInt(query, 10, 64); err == nil && id > 0 {
		return vm.client.StartConversation(ctx, id)
	}
	users, err := vm.client.SearchUsers(ctx, query)
	if err != nil {
		return state.Conversation{}, err
	}
	if len(users) == 0 {
		return state.Conversation{}, ErrNoUser
	}
	return vm.client.StartConversation(ctx, users[0].ID)
}

// SearchMessages performs a search over the local cache.
func (vm *ViewModel) SearchMessages(ctx context.Context, query string) ([]SearchHit, error) {
	resp, err := vm.client.Search(ctx, query, 0)
	if err != nil {
		return nil, err
	}
	hits := make([]SearchHit, 0, len(resp.Results))
	for _, r := range resp.Results {
		hits = append(hits, SearchHit{
			Message: r.Message,
			Snippet: r.Snippet,
			Chat:    vm.ConversationName(r.Message.ConversationID),
		})
	}
	return hits, nil
}

// Resync asks the daemon to reload everything from the server.
func (vm *ViewModel) Resync(ctx context.Context) error {
	return vm.client.Resync(ctx)
}

// FindConversation returns the first conversation whose peer name contains name.
func (vm *ViewModel) FindConversation(name string) (state.Conversation, bool) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	name = strings.ToLower(name)
	for _, c := range vm.conversations {
		if peer, ok := c.Peer(vm.self.ID); ok && strings.Contains(strings.ToLower(peer.Name), name) {
			return c, true
		}
	}
	return state.Conversation{}, false
}

// ConversationName is the peer's name, or "#id" when unknown.
func (vm *ViewModel) ConversationName(id int64) string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	for _, c := range vm.conversations {
		if c.ID == id {
			if peer, ok := c.Peer(vm.self.ID); ok && peer.Name != "" {
				return peer.Name
			}
			break
		}
	}
	return "#" + strconv.FormatInt(id, 10)
}

// Conversation returns a cached conversation.
func (vm *ViewModel) Conversation(id int64) (state.Conversation, bool) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	for _, c := range vm.conversations {
		if c.ID == id {
			return c, true
		}
	}
	return state.Conversation{}, false
}

// Conversations returns a snapshot of the conversation list.
func (vm *ViewModel) Conversations() []state.Conversation {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.conversations
}

// Messages returns a snapshot of the active conversation's messages.
func (vm *ViewModel) Messages() []state.Message {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.messages
}

// Complete reports whether the active conversation's history is fully loaded.
func (vm *ViewModel) Complete() bool {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.complete
}

// Typers returns who is typing in the active conversation.
func (vm *ViewModel) Typers() []int64 {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.typers
}

// Online reports whether a user is connected.
func (vm *ViewModel) Online(userID int64) bool {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.online[userID]
}

// Active returns the open conversation, or zero.
func (vm *ViewModel) Active() int64 {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.active
}

// Self returns the signed-in user.
func (vm *ViewModel) Self() state.User {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.self
}

// Status returns the last fetched session status.
func (vm *ViewModel) Status() api.StatusReply {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.status
}
