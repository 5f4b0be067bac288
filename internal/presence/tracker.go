// Package presence maintains the set of online users from gateway events.
package presence

import (
	"github.com/matheus3301/duet/internal/state"
	"go.uber.org/zap"
)

// Tracker records online/offline transitions in the state container. Presence is
// purely event-driven: a user stays online until an offline event arrives.
type Tracker struct {
	state  *state.Container
	logger *zap.Logger
}

// NewTracker creates a presence tracker backed by c.
func NewTracker(c *state.Container, logger *zap.Logger) *Tracker {
	return &Tracker{state: c, logger: logger.Named("presence")}
}

// Online marks a user online. Repeated calls are no-ops.
func (t *Tracker) Online(userID int64) error {
	return t.set(userID, true)
}

// Offline marks a user offline. Repeated calls are no-ops.
func (t *Tracker) Offline(userID int64) error {
	return t.set(userID, false)
}

func (t *Tracker) set(userID int64, online bool) error {
	return t.state.Update(func(tx *state.Tx) error {
		if tx.SetOnline(userID, online) {
			t.logger.Debug("presence changed", zap.Int64("user_id", userID), zap.Bool("online", online))
		}
		return nil
	})
}

// IsOnline reports whether a user is currently online.
func (t *Tracker) IsOnline(userID int64) bool {
	var online bool
	_ = t.state.View(func(tx *state.Tx) { online = tx.IsOnline(userID) })
	return online
}

// OnlineUsers returns the online user ids in ascending order.
func (t *Tracker) OnlineUsers() []int64 {
	var users []int64
	_ = t.state.View(func(tx *state.Tx) { users = tx.OnlineUsers() })
	return users
}
