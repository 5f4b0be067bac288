// Package typing tracks who is typing in each conversation and throttles the
// local user's own typing signals.
package typing

import (
	"slices"
	"time"

	"github.com/matheus3301/duet/internal/state"
	"go.uber.org/zap"
)

// DefaultWindow is how long a typing signal stays live without a refresh.
const DefaultWindow = 6 * time.Second

// Aggregator maintains per-conversation typing leases. Expiry is evaluated when
// ActiveTypers is called; nothing runs in the background.
type Aggregator struct {
	state  *state.Container
	window time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// NewAggregator creates an aggregator with the given liveness window.
func NewAggregator(c *state.Container, window time.Duration, logger *zap.Logger) *Aggregator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Aggregator{
		state:  c,
		window: window,
		now:    time.Now,
		logger: logger.Named("typing"),
	}
}

// Window returns the liveness window.
func (a *Aggregator) Window() time.Duration { return a.window }

// Signal records a typing signal. isTyping=false removes the lease. Signals about
// the signed-in user are ignored.
func (a *Aggregator) Signal(convID, userID int64, isTyping bool) error {
	at := a.now()
	return a.state.Update(func(tx *state.Tx) error {
		if self := tx.Self(); self.ID != 0 && self.ID == userID {
			return nil
		}
		if isTyping {
			tx.SetTyping(convID, userID, at)
		} else {
			tx.ClearTyping(convID, userID)
		}
		return nil
	})
}

// ActiveTypers prunes leases older than the window as of now and returns the
// remaining user ids in ascending order.
func (a *Aggregator) ActiveTypers(convID int64, now time.Time) ([]int64, error) {
	var users []int64
	err := a.state.Update(func(tx *state.Tx) error {
		if tx.PruneTyping(convID, now.Add(-a.window)) {
			a.logger.Debug("typing leases expired", zap.Int64("conversation_id", convID))
		}
		for uid := range tx.Typing(convID) {
			users = append(users, uid)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(users)
	return users, nil
}
