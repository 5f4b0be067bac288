package state

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/matheus3301/duet/internal/bus"
)

var (
	ErrDuplicate      = errors.New("message already in log")
	ErrUnknownMessage = errors.New("unknown message")
	ErrUnknownPending = errors.New("unknown pending message")
)

// MessageEvent is the payload of message upsert/remove events.
type MessageEvent struct {
	ConversationID int64   `json:"conversation_id"`
	Message        Message `json:"message"`
}

// PresenceEvent is the payload of presence change events.
type PresenceEvent struct {
	UserID int64 `json:"user_id"`
	Online bool  `json:"online"`
}

// TypingEvent is the payload of typing change events.
type TypingEvent struct {
	ConversationID int64   `json:"conversation_id"`
	UserIDs        []int64 `json:"user_ids"`
}

type data struct {
	self          User
	conversations map[int64]*Conversation
	logs          map[int64]*messageLog
	pending       map[string]*Message
	online        map[int64]struct{}
	typing        map[int64]map[int64]time.Time
}

func newData() *data {
	return &data{
		conversations: make(map[int64]*Conversation),
		logs:          make(map[int64]*messageLog),
		pending:       make(map[string]*Message),
		online:        make(map[int64]struct{}),
		typing:        make(map[int64]map[int64]time.Time),
	}
}

func (d *data) log(convID int64) *messageLog {
	l, ok := d.logs[convID]
	if !ok {
		l = &messageLog{byID: make(map[int64]*Message)}
		d.logs[convID] = l
	}
	return l
}

// messageLog keeps a conversation's messages sorted, indexed by server id.
type messageLog struct {
	items []*Message
	byID  map[int64]*Message
}

func (l *messageLog) insert(m *Message) {
	i, _ := slices.BinarySearchFunc(l.items, m, compareMessages)
	l.items = slices.Insert(l.items, i, m)
	if m.ID != 0 {
		l.byID[m.ID] = m
	}
}

func (l *messageLog) remove(m *Message) {
	if i := slices.Index(l.items, m); i >= 0 {
		l.items = slices.Delete(l.items, i, i+1)
	}
	if m.ID != 0 && l.byID[m.ID] == m {
		delete(l.byID, m.ID)
	}
}

// Tx is the access handle passed to Update and View closures. It must not be
// retained after the closure returns.
type Tx struct {
	c        *Container
	readOnly bool

	events             []bus.Event
	dirtyMessages      []Message
	dirtyConversations []Conversation
}

func (tx *Tx) d() *data { return tx.c.data }

func (tx *Tx) mustWrite() {
	if tx.readOnly {
		panic("state: mutation inside View")
	}
}

func (tx *Tx) emit(kind string, payload any) {
	tx.events = append(tx.events, bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

func (tx *Tx) messageChanged(m *Message) {
	snap := m.Clone()
	tx.dirtyMessages = append(tx.dirtyMessages, snap)
	tx.emit(bus.KindMessageUpserted, MessageEvent{ConversationID: m.ConversationID, Message: snap})
}

func (tx *Tx) messageRemoved(m *Message) {
	tx.emit(bus.KindMessageRemoved, MessageEvent{ConversationID: m.ConversationID, Message: m.Clone()})
}

// Self returns the signed-in user.
func (tx *Tx) Self() User { return tx.d().self }

// SetSelf records the signed-in user.
func (tx *Tx) SetSelf(u User) {
	tx.mustWrite()
	tx.d().self = u
}

// Conversation returns a copy of the conversation with the given id.
func (tx *Tx) Conversation(id int64) (Conversation, bool) {
	c, ok := tx.d().conversations[id]
	if !ok {
		return Conversation{}, false
	}
	return c.Clone(), true
}

// Conversations returns all conversations, most recently active first.
func (tx *Tx) Conversations() []Conversation {
	out := make([]Conversation, 0, len(tx.d().conversations))
	for _, c := range tx.d().conversations {
		out = append(out, c.Clone())
	}
	slices.SortFunc(out, func(a, b Conversation) int {
		if c := b.LastActivity().Compare(a.LastActivity()); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out
}

// PutConversation inserts or replaces a conversation.
func (tx *Tx) PutConversation(c Conversation) {
	tx.mustWrite()
	snap := c.Clone()
	stored := snap.Clone()
	tx.d().conversations[c.ID] = &stored
	tx.dirtyConversations = append(tx.dirtyConversations, snap)
	tx.emit(bus.KindConversationUpdated, snap)
}

// Messages returns a copy of the conversation log in order.
func (tx *Tx) Messages(convID int64) []Message {
	l, ok := tx.d().logs[convID]
	if !ok {
		return nil
	}
	out := make([]Message, len(l.items))
	for i, m := range l.items {
		out[i] = m.Clone()
	}
	return out
}

// Message returns a confirmed message by server id.
func (tx *Tx) Message(convID, id int64) (Message, bool) {
	l, ok := tx.d().logs[convID]
	if !ok {
		return Message{}, false
	}
	m, ok := l.byID[id]
	if !ok {
		return Message{}, false
	}
	return m.Clone(), true
}

// Pending returns the message correlated with a client id.
func (tx *Tx) Pending(clientID string) (Message, bool) {
	m, ok := tx.d().pending[clientID]
	if !ok {
		return Message{}, false
	}
	return m.Clone(), true
}

// PendingMessages returns every correlated message, oldest first.
func (tx *Tx) PendingMessages() []Message {
	out := make([]Message, 0, len(tx.d().pending))
	for _, m := range tx.d().pending {
		out = append(out, m.Clone())
	}
	slices.SortFunc(out, func(a, b Message) int { return compareMessages(&a, &b) })
	return out
}

// Insert adds a confirmed message at its sorted position.
func (tx *Tx) Insert(m Message) error {
	tx.mustWrite()
	if m.ID == 0 {
		return errors.New("insert message: missing server id")
	}
	l := tx.d().log(m.ConversationID)
	if _, ok := l.byID[m.ID]; ok {
		return ErrDuplicate
	}
	if m.Status == "" {
		m.Status = StatusConfirmed
	}
	stored := m.Clone()
	l.insert(&stored)
	tx.messageChanged(&stored)
	return nil
}

// InsertPending adds a locally created message and records its correlation entry.
func (tx *Tx) InsertPending(m Message) error {
	tx.mustWrite()
	if m.ID != 0 || m.ClientID == "" {
		return errors.New("insert pending: need client id and no server id")
	}
	if _, ok := tx.d().pending[m.ClientID]; ok {
		return ErrDuplicate
	}
	if m.Status == "" {
		m.Status = StatusPending
	}
	stored := m.Clone()
	tx.d().log(m.ConversationID).insert(&stored)
	tx.d().pending[m.ClientID] = &stored
	tx.messageChanged(&stored)
	return nil
}

// Replace overwrites a confirmed message's fields and repositions it.
func (tx *Tx) Replace(m Message) error {
	tx.mustWrite()
	l, ok := tx.d().logs[m.ConversationID]
	if !ok {
		return ErrUnknownMessage
	}
	existing, ok := l.byID[m.ID]
	if !ok {
		return ErrUnknownMessage
	}
	if m.Status == "" {
		m.Status = existing.Status
	}
	l.remove(existing)
	*existing = m.Clone()
	l.insert(existing)
	tx.messageChanged(existing)
	return nil
}

// Promote replaces the placeholder for clientID with the authoritative record and
// drops the correlation entry. If the authoritative id is already in the log the
// placeholder is removed and the existing entry is overwritten instead.
func (tx *Tx) Promote(clientID string, auth Message) (Message, error) {
	tx.mustWrite()
	d := tx.d()
	p, ok := d.pending[clientID]
	if !ok {
		return Message{}, ErrUnknownPending
	}
	if auth.ID == 0 {
		return Message{}, fmt.Errorf("promote %s: missing server id", clientID)
	}
	auth.ClientID = clientID
	auth.Status = StatusConfirmed
	delete(d.pending, clientID)
	d.log(p.ConversationID).remove(p)

	target := d.log(auth.ConversationID)
	if existing, ok := target.byID[auth.ID]; ok {
		tx.messageRemoved(p)
		target.remove(existing)
		*existing = auth.Clone()
		target.insert(existing)
		tx.messageChanged(existing)
		return existing.Clone(), nil
	}
	*p = auth.Clone()
	target.insert(p)
	tx.messageChanged(p)
	return p.Clone(), nil
}

// SetPendingStatus changes the delivery status of a correlated message.
func (tx *Tx) SetPendingStatus(clientID string, s DeliveryStatus) error {
	tx.mustWrite()
	p, ok := tx.d().pending[clientID]
	if !ok {
		return ErrUnknownPending
	}
	if p.Status == s {
		return nil
	}
	p.Status = s
	tx.messageChanged(p)
	return nil
}

// Discard removes a correlated message from the log and the correlation table.
func (tx *Tx) Discard(clientID string) error {
	tx.mustWrite()
	d := tx.d()
	p, ok := d.pending[clientID]
	if !ok {
		return ErrUnknownPending
	}
	delete(d.pending, clientID)
	d.log(p.ConversationID).remove(p)
	tx.messageRemoved(p)
	return nil
}

// SetOnline records a presence change and reports whether the set changed.
func (tx *Tx) SetOnline(userID int64, online bool) bool {
	tx.mustWrite()
	set := tx.d().online
	_, was := set[userID]
	if was == online {
		return false
	}
	if online {
		set[userID] = struct{}{}
	} else {
		delete(set, userID)
	}
	tx.emit(bus.KindPresenceChanged, PresenceEvent{UserID: userID, Online: online})
	return true
}

// IsOnline reports whether the user is in the presence set.
func (tx *Tx) IsOnline(userID int64) bool {
	_, ok := tx.d().online[userID]
	return ok
}

// OnlineUsers returns the presence set in ascending order.
func (tx *Tx) OnlineUsers() []int64 {
	out := make([]int64, 0, len(tx.d().online))
	for id := range tx.d().online {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// SetTyping upserts a typing lease.
func (tx *Tx) SetTyping(convID, userID int64, at time.Time) {
	tx.mustWrite()
	leases, ok := tx.d().typing[convID]
	if !ok {
		leases = make(map[int64]time.Time)
		tx.d().typing[convID] = leases
	}
	_, existed := leases[userID]
	leases[userID] = at
	if !existed {
		tx.typingChanged(convID)
	}
}

// ClearTyping removes a typing lease and reports whether one existed.
func (tx *Tx) ClearTyping(convID, userID int64) bool {
	tx.mustWrite()
	leases := tx.d().typing[convID]
	if _, ok := leases[userID]; !ok {
		return false
	}
	delete(leases, userID)
	tx.typingChanged(convID)
	return true
}

// PruneTyping drops leases signalled before cutoff and reports whether any were removed.
func (tx *Tx) PruneTyping(convID int64, cutoff time.Time) bool {
	tx.mustWrite()
	leases := tx.d().typing[convID]
	removed := false
	for uid, at := range leases {
		if at.Before(cutoff) {
			delete(leases, uid)
			removed = true
		}
	}
	if removed {
		tx.typingChanged(convID)
	}
	return removed
}

// Typing returns a copy of the typing leases for a conversation.
func (tx *Tx) Typing(convID int64) map[int64]time.Time {
	out := make(map[int64]time.Time, len(tx.d().typing[convID]))
	for uid, at := range tx.d().typing[convID] {
		out[uid] = at
	}
	return out
}

func (tx *Tx) typingChanged(convID int64) {
	ids := make([]int64, 0, len(tx.d().typing[convID]))
	for uid := range tx.d().typing[convID] {
		ids = append(ids, uid)
	}
	slices.Sort(ids)
	tx.emit(bus.KindTypingChanged, TypingEvent{ConversationID: convID, UserIDs: ids})
}
