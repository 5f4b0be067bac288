package state

import (
	"slices"
	"time"
)

// DeliveryStatus tracks a message through the optimistic send lifecycle.
type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "pending"
	StatusConfirmed DeliveryStatus = "confirmed"
	StatusFailed    DeliveryStatus = "failed"
)

// AttachmentType is the media class of an uploaded attachment.
type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentFile  AttachmentType = "file"
	AttachmentVideo AttachmentType = "video"
	AttachmentAudio AttachmentType = "audio"
)

// User is a chat participant.
type User struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// Attachment is an uploaded file referenced by a message.
type Attachment struct {
	ID   int64          `json:"id"`
	Type AttachmentType `json:"type"`
	URL  string         `json:"url"`
	Name string         `json:"name"`
	Size int64          `json:"size"`
}

// Message is one entry of a conversation log. ID is zero until the server has
// assigned one; ClientID is set for messages that originated on this client.
type Message struct {
	ID             int64          `json:"id"`
	ClientID       string         `json:"client_id,omitempty"`
	ConversationID int64          `json:"conversation_id"`
	SenderID       int64          `json:"sender_id"`
	Sender         *User          `json:"sender,omitempty"`
	Content        string         `json:"content"`
	Attachments    []Attachment   `json:"attachments,omitempty"`
	IsRead         bool           `json:"is_read"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	Status         DeliveryStatus `json:"delivery_status,omitempty"`
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	if m.Sender != nil {
		s := *m.Sender
		m.Sender = &s
	}
	m.Attachments = slices.Clone(m.Attachments)
	return m
}

// Before reports whether m sorts before o in a conversation log: by creation
// time, then server id, then client id.
func (m *Message) Before(o *Message) bool {
	return compareMessages(m, o) < 0
}

func compareMessages(a, b *Message) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	switch {
	case a.ClientID < b.ClientID:
		return -1
	case a.ClientID > b.ClientID:
		return 1
	}
	return 0
}

// MessagePatch is a field-level partial update. Nil fields are left untouched.
type MessagePatch struct {
	Content     *string       `json:"content,omitempty"`
	Attachments *[]Attachment `json:"attachments,omitempty"`
	IsRead      *bool         `json:"is_read,omitempty"`
	UpdatedAt   *time.Time    `json:"updated_at,omitempty"`
}

// IsEmpty reports whether the patch carries no fields.
func (p MessagePatch) IsEmpty() bool {
	return p.Content == nil && p.Attachments == nil && p.IsRead == nil && p.UpdatedAt == nil
}

// Apply merges the patch into m and reports whether any field changed.
func (p MessagePatch) Apply(m *Message) bool {
	changed := false
	if p.Content != nil && *p.Content != m.Content {
		m.Content = *p.Content
		changed = true
	}
	if p.Attachments != nil {
		m.Attachments = slices.Clone(*p.Attachments)
		changed = true
	}
	if p.IsRead != nil && *p.IsRead != m.IsRead {
		m.IsRead = *p.IsRead
		changed = true
	}
	if p.UpdatedAt != nil && !p.UpdatedAt.Equal(m.UpdatedAt) {
		m.UpdatedAt = *p.UpdatedAt
		changed = true
	}
	return changed
}

// Conversation is a two-party chat thread.
type Conversation struct {
	ID              int64     `json:"id"`
	Participants    []User    `json:"participants"`
	LastMessage     *Message  `json:"last_message,omitempty"`
	UnreadCount     int       `json:"unread_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	HistoryPage     int       `json:"history_page,omitempty"`
	HistoryComplete bool      `json:"history_complete,omitempty"`
}

// Clone returns a deep copy of the conversation.
func (c Conversation) Clone() Conversation {
	c.Participants = slices.Clone(c.Participants)
	if c.LastMessage != nil {
		m := c.LastMessage.Clone()
		c.LastMessage = &m
	}
	return c
}

// Peer returns the first participant that is not self.
func (c Conversation) Peer(self int64) (User, bool) {
	for _, p := range c.Participants {
		if p.ID != self {
			return p, true
		}
	}
	return User{}, false
}

// LastActivity is the time used to order the conversation list.
func (c Conversation) LastActivity() time.Time {
	if c.LastMessage != nil && c.LastMessage.CreatedAt.After(c.UpdatedAt) {
		return c.LastMessage.CreatedAt
	}
	return c.UpdatedAt
}
