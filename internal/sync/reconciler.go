// Package sync merges REST history and live gateway events into the state
// container.
package sync

import (
	"errors"
	"fmt"

	"github.com/matheus3301/duet/internal/metrics"
	"github.com/matheus3301/duet/internal/state"
	"go.uber.org/zap"
)

// ReconcileAnomaly describes an inbound event that could not be applied. It is
// logged and counted; it never stops the session.
type ReconcileAnomaly struct {
	ConversationID int64
	MessageID      int64
	Reason         string
}

func (e *ReconcileAnomaly) Error() string {
	return fmt.Sprintf("reconcile anomaly: conversation %d message %d: %s", e.ConversationID, e.MessageID, e.Reason)
}

// Outcome says what ApplyIncoming did with a message.
type Outcome int

const (
	Ignored Outcome = iota
	Inserted
	Promoted
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Promoted:
		return "promoted"
	case Duplicate:
		return "duplicate"
	default:
		return "ignored"
	}
}

// Result reports the effect of ApplyIncoming.
type Result struct {
	Outcome Outcome
	// NewConversation is set when the message referenced a conversation that
	// was not loaded yet; a stub was created for it.
	NewConversation bool
}

// SeedResult counts what a Seed call changed.
type SeedResult struct {
	Inserted  int
	Replaced  int
	Promoted  int
	Unchanged int
}

// Reconciler keeps each conversation log ordered and free of duplicates.
type Reconciler struct {
	state   *state.Container
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewReconciler creates a reconciler over c.
func NewReconciler(c *state.Container, m *metrics.Metrics, logger *zap.Logger) *Reconciler {
	return &Reconciler{state: c, metrics: m, logger: logger.Named("reconciler")}
}

// Seed merges a page of REST history into a conversation. Messages already in
// the log are kept unless the incoming copy has a newer UpdatedAt. Pending
// messages are left in place unless the page carries their echo.
func (r *Reconciler) Seed(convID int64, msgs []state.Message) (SeedResult, error) {
	var res SeedResult
	err := r.state.Update(func(tx *state.Tx) error {
		for _, m := range msgs {
			if m.ConversationID == 0 {
				m.ConversationID = convID
			}
			if m.ID == 0 || m.ConversationID != convID {
				r.anomaly(&ReconcileAnomaly{ConversationID: convID, MessageID: m.ID, Reason: "history entry without id or from another conversation"})
				continue
			}
			m.Status = state.StatusConfirmed

			if m.ClientID != "" {
				if _, ok := tx.Pending(m.ClientID); ok {
					promoted, err := tx.Promote(m.ClientID, m)
					if err != nil {
						return err
					}
					touchConversation(tx, promoted, 0)
					res.Promoted++
					continue
				}
			}

			existing, ok := tx.Message(convID, m.ID)
			if ok {
				if !m.UpdatedAt.After(existing.UpdatedAt) {
					res.Unchanged++
					continue
				}
				if m.ClientID == "" {
					m.ClientID = existing.ClientID
				}
				if err := tx.Replace(m); err != nil {
					return err
				}
				refreshLastMessage(tx, m)
				res.Replaced++
				continue
			}

			if err := tx.Insert(m); err != nil {
				return err
			}
			touchConversation(tx, m, 0)
			res.Inserted++
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	r.logger.Debug("history seeded",
		zap.Int64("conversation_id", convID),
		zap.Int("inserted", res.Inserted),
		zap.Int("replaced", res.Replaced),
		zap.Int("promoted", res.Promoted),
		zap.Int("unchanged", res.Unchanged),
	)
	return res, nil
}

// ApplyIncoming merges one live message. A confirmed id that is already in the
// log is a duplicate and changes nothing, whatever its fields. An echo of a
// pending message replaces its placeholder.
func (r *Reconciler) ApplyIncoming(m state.Message) (Result, error) {
	var res Result
	if m.ID == 0 || m.ConversationID == 0 {
		r.anomaly(&ReconcileAnomaly{ConversationID: m.ConversationID, MessageID: m.ID, Reason: "incoming message without id"})
		return res, nil
	}
	m.Status = state.StatusConfirmed

	err := r.state.Update(func(tx *state.Tx) error {
		if _, ok := tx.Conversation(m.ConversationID); !ok {
			res.NewConversation = true
		}

		if m.ClientID != "" {
			if _, ok := tx.Pending(m.ClientID); ok {
				promoted, err := tx.Promote(m.ClientID, m)
				if err != nil {
					return err
				}
				touchConversation(tx, promoted, 0)
				res.Outcome = Promoted
				return nil
			}
		}

		if _, ok := tx.Message(m.ConversationID, m.ID); ok {
			// Edits arrive as message:updated; a redelivered id is dropped.
			res.Outcome = Duplicate
			return nil
		}

		if err := tx.Insert(m); err != nil {
			return err
		}
		delta := 0
		if self := tx.Self(); m.SenderID != self.ID && !m.IsRead {
			delta = 1
		}
		touchConversation(tx, m, delta)
		res.Outcome = Inserted
		return nil
	})
	if err != nil {
		return res, err
	}

	switch res.Outcome {
	case Duplicate:
		r.metrics.DuplicateDelivery()
		r.logger.Debug("duplicate delivery", zap.Int64("message_id", m.ID))
	case Promoted:
		r.logger.Debug("pending message confirmed", zap.String("client_id", m.ClientID), zap.Int64("message_id", m.ID))
	}
	return res, nil
}

// ApplyPartialUpdate merges a field-level patch into a confirmed message. An
// unknown target is reported as a *ReconcileAnomaly after being logged.
func (r *Reconciler) ApplyPartialUpdate(convID, msgID int64, patch state.MessagePatch) (bool, error) {
	if patch.IsEmpty() {
		return false, nil
	}
	var (
		changed bool
		unknown bool
	)
	err := r.state.Update(func(tx *state.Tx) error {
		m, ok := tx.Message(convID, msgID)
		if !ok {
			unknown = true
			return nil
		}
		wasRead := m.IsRead
		if !patch.Apply(&m) {
			return nil
		}
		if err := tx.Replace(m); err != nil {
			return err
		}
		changed = true

		delta := 0
		if self := tx.Self(); !wasRead && m.IsRead && m.SenderID != self.ID {
			delta = -1
		}
		conv, ok := tx.Conversation(convID)
		if !ok {
			return nil
		}
		dirty := false
		if delta != 0 && conv.UnreadCount > 0 {
			conv.UnreadCount += delta
			dirty = true
		}
		if conv.LastMessage != nil && conv.LastMessage.ID == m.ID {
			lm := m.Clone()
			conv.LastMessage = &lm
			dirty = true
		}
		if dirty {
			tx.PutConversation(conv)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if unknown {
		a := &ReconcileAnomaly{ConversationID: convID, MessageID: msgID, Reason: "patch target not in log"}
		r.anomaly(a)
		return false, a
	}
	return changed, nil
}

func (r *Reconciler) anomaly(a *ReconcileAnomaly) {
	r.metrics.ReconcileAnomaly()
	r.logger.Warn("reconcile anomaly",
		zap.Int64("conversation_id", a.ConversationID),
		zap.Int64("message_id", a.MessageID),
		zap.String("reason", a.Reason),
	)
}

// IsAnomaly reports whether err is a *ReconcileAnomaly.
func IsAnomaly(err error) bool {
	var a *ReconcileAnomaly
	return errors.As(err, &a)
}

// touchConversation moves the conversation's last message forward and adjusts
// its unread counter. Unknown conversations get a stub entry.
func touchConversation(tx *state.Tx, m state.Message, unreadDelta int) {
	conv, ok := tx.Conversation(m.ConversationID)
	if !ok {
		conv = state.Conversation{ID: m.ConversationID, CreatedAt: m.CreatedAt}
	}
	dirty := !ok
	if conv.LastMessage == nil || !m.Before(conv.LastMessage) {
		lm := m.Clone()
		conv.LastMessage = &lm
		dirty = true
	}
	if unreadDelta != 0 {
		conv.UnreadCount = max(conv.UnreadCount+unreadDelta, 0)
		dirty = true
	}
	if dirty {
		tx.PutConversation(conv)
	}
}

func refreshLastMessage(tx *state.Tx, m state.Message) {
	conv, ok := tx.Conversation(m.ConversationID)
	if !ok || conv.LastMessage == nil || conv.LastMessage.ID != m.ID {
		return
	}
	lm := m.Clone()
	conv.LastMessage = &lm
	tx.PutConversation(conv)
}
