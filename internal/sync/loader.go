package sync

import (
	"context"
	"fmt"
	"strconv"

	"github.com/matheus3301/duet/internal/restapi"
	"github.com/matheus3301/duet/internal/state"
	"go.uber.org/zap"
)

// UsersChannel carries presence for every contact.
const UsersChannel = "users"

// ConversationChannel returns the gateway channel for a conversation.
func ConversationChannel(id int64) string {
	return "conversation." + strconv.FormatInt(id, 10)
}

// History is the REST surface the loader needs.
type History interface {
	ListConversations(ctx context.Context) ([]state.Conversation, error)
	GetConversation(ctx context.Context, id int64) (*state.Conversation, error)
	CreateConversation(ctx context.Context, userID int64) (*state.Conversation, error)
	ListMessages(ctx context.Context, convID int64, page int) (*restapi.MessagePage, error)
}

// Subscriber joins gateway channels.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) error
}

// Loader fetches conversations and history pages over REST and seeds them.
type Loader struct {
	api        History
	channels   Subscriber
	reconciler *Reconciler
	state      *state.Container
	logger     *zap.Logger
}

// NewLoader creates a loader. channels may be nil when no gateway is attached.
func NewLoader(api History, channels Subscriber, r *Reconciler, c *state.Container, logger *zap.Logger) *Loader {
	return &Loader{api: api, channels: channels, reconciler: r, state: c, logger: logger.Named("loader")}
}

// LoadConversations refreshes the conversation list and joins each
// conversation's channel.
func (l *Loader) LoadConversations(ctx context.Context) ([]state.Conversation, error) {
	convs, err := l.api.ListConversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	if err := l.state.Update(func(tx *state.Tx) error {
		for _, c := range convs {
			mergeConversation(tx, c)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	for _, c := range convs {
		l.join(ctx, c.ID)
	}

	var out []state.Conversation
	err = l.state.View(func(tx *state.Tx) { out = tx.Conversations() })
	return out, err
}

// EnsureConversation fetches a conversation the client has not loaded yet.
func (l *Loader) EnsureConversation(ctx context.Context, id int64) (state.Conversation, error) {
	c, err := l.api.GetConversation(ctx, id)
	if err != nil {
		return state.Conversation{}, fmt.Errorf("get conversation %d: %w", id, err)
	}
	return l.put(ctx, *c)
}

// StartConversation opens (or reuses) a conversation with userID.
func (l *Loader) StartConversation(ctx context.Context, userID int64) (state.Conversation, error) {
	c, err := l.api.CreateConversation(ctx, userID)
	if err != nil {
		return state.Conversation{}, fmt.Errorf("create conversation with %d: %w", userID, err)
	}
	return l.put(ctx, *c)
}

func (l *Loader) put(ctx context.Context, c state.Conversation) (state.Conversation, error) {
	var out state.Conversation
	err := l.state.Update(func(tx *state.Tx) error {
		mergeConversation(tx, c)
		out, _ = tx.Conversation(c.ID)
		return nil
	})
	if err != nil {
		return out, err
	}
	l.join(ctx, c.ID)
	return out, nil
}

// OpenConversation returns the conversation log, fetching the first history
// page if none has been loaded yet.
func (l *Loader) OpenConversation(ctx context.Context, id int64) ([]state.Message, error) {
	var page int
	err := l.state.View(func(tx *state.Tx) {
		if c, ok := tx.Conversation(id); ok {
			page = c.HistoryPage
		}
	})
	if err != nil {
		return nil, err
	}
	if page == 0 {
		if _, err := l.fetch(ctx, id, 1); err != nil {
			return nil, err
		}
	}
	var msgs []state.Message
	err = l.state.View(func(tx *state.Tx) { msgs = tx.Messages(id) })
	return msgs, err
}

// LoadOlder fetches the next history page. It returns the number of messages
// merged and whether the history is now complete.
func (l *Loader) LoadOlder(ctx context.Context, id int64) (int, bool, error) {
	var (
		page     int
		complete bool
	)
	err := l.state.View(func(tx *state.Tx) {
		if c, ok := tx.Conversation(id); ok {
			page, complete = c.HistoryPage, c.HistoryComplete
		}
	})
	if err != nil {
		return 0, false, err
	}
	if complete {
		return 0, true, nil
	}
	res, err := l.fetch(ctx, id, page+1)
	if err != nil {
		return 0, false, err
	}
	var done bool
	_ = l.state.View(func(tx *state.Tx) {
		c, _ := tx.Conversation(id)
		done = c.HistoryComplete
	})
	return res.Inserted + res.Promoted, done, nil
}

// Resync refetches the conversation list and the newest page of every
// conversation with loaded history. It recovers events missed while the
// channel was down.
func (l *Loader) Resync(ctx context.Context) error {
	if _, err := l.LoadConversations(ctx); err != nil {
		return err
	}
	var loaded []int64
	_ = l.state.View(func(tx *state.Tx) {
		for _, c := range tx.Conversations() {
			if c.HistoryPage > 0 {
				loaded = append(loaded, c.ID)
			}
		}
	})
	for _, id := range loaded {
		p, err := l.api.ListMessages(ctx, id, 1)
		if err != nil {
			return fmt.Errorf("resync conversation %d: %w", id, err)
		}
		res, err := l.reconciler.Seed(id, p.Data)
		if err != nil {
			return err
		}
		if res.Inserted+res.Replaced+res.Promoted > 0 {
			l.logger.Info("resynced conversation",
				zap.Int64("conversation_id", id),
				zap.Int("inserted", res.Inserted),
				zap.Int("replaced", res.Replaced),
				zap.Int("promoted", res.Promoted),
			)
		}
	}
	return nil
}

func (l *Loader) fetch(ctx context.Context, id int64, page int) (SeedResult, error) {
	p, err := l.api.ListMessages(ctx, id, page)
	if err != nil {
		return SeedResult{}, fmt.Errorf("list messages of %d page %d: %w", id, page, err)
	}
	res, err := l.reconciler.Seed(id, p.Data)
	if err != nil {
		return res, err
	}
	err = l.state.Update(func(tx *state.Tx) error {
		c, ok := tx.Conversation(id)
		if !ok {
			c = state.Conversation{ID: id}
		}
		c.HistoryPage = max(c.HistoryPage, page)
		c.HistoryComplete = !p.HasMore()
		tx.PutConversation(c)
		return nil
	})
	return res, err
}

func (l *Loader) join(ctx context.Context, id int64) {
	if l.channels == nil {
		return
	}
	if err := l.channels.Subscribe(ctx, ConversationChannel(id)); err != nil {
		l.logger.Debug("subscribe deferred", zap.Int64("conversation_id", id), zap.Error(err))
	}
}

// mergeConversation stores a REST conversation while keeping local bookkeeping
// and a newer last message.
func mergeConversation(tx *state.Tx, c state.Conversation) {
	if existing, ok := tx.Conversation(c.ID); ok {
		c.HistoryPage = existing.HistoryPage
		c.HistoryComplete = existing.HistoryComplete
		if existing.LastMessage != nil && (c.LastMessage == nil || c.LastMessage.Before(existing.LastMessage)) {
			c.LastMessage = existing.LastMessage
		}
		if len(c.Participants) == 0 {
			c.Participants = existing.Participants
		}
	}
	tx.PutConversation(c)
}
