package state

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/duet/internal/bus"
	"go.uber.org/zap"
)

// ErrClosed is returned by Update and View after Close.
var ErrClosed = errors.New("state container closed")

// Archive persists confirmed entities outside of memory. Pending and failed
// messages are never handed to it.
type Archive interface {
	SaveMessage(m Message) error
	SaveConversation(c Conversation) error
	Wipe() error
}

// Container is the single owner of all chat state. Every read and write runs as a
// closure on one goroutine, so mutations never interleave.
type Container struct {
	bus     *bus.Bus
	logger  *zap.Logger
	archive Archive

	ops     chan op
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once

	// Owned by the loop goroutine.
	data *data
}

type op struct {
	fn    func(*Tx) error
	write bool
	errCh chan error
}

// Option configures a Container.
type Option func(*Container)

// WithArchive writes confirmed messages and conversations through to a.
func WithArchive(a Archive) Option {
	return func(c *Container) { c.archive = a }
}

// New creates a container and starts its loop. Call Close to stop it.
func New(b *bus.Bus, logger *zap.Logger, opts ...Option) *Container {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Container{
		bus:     b,
		logger:  logger.Named("state"),
		ops:     make(chan op),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		data:    newData(),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.loop()
	return c
}

// Update runs fn on the container goroutine with write access. Changes are not
// rolled back when fn returns an error. fn must not call Update or View.
func (c *Container) Update(fn func(*Tx) error) error {
	return c.submit(fn, true)
}

// View runs fn on the container goroutine with read-only access.
func (c *Container) View(fn func(*Tx)) error {
	return c.submit(func(tx *Tx) error {
		fn(tx)
		return nil
	}, false)
}

// Reset discards all state, including the archive. Used on logout.
func (c *Container) Reset() error {
	return c.Update(func(tx *Tx) error {
		tx.c.data = newData()
		tx.events = append(tx.events, bus.Event{Kind: bus.KindStateReset, Timestamp: time.Now()})
		if c.archive != nil {
			if err := c.archive.Wipe(); err != nil {
				return fmt.Errorf("wipe archive: %w", err)
			}
		}
		return nil
	})
}

// Close stops the loop. Subsequent calls to Update and View return ErrClosed.
func (c *Container) Close() {
	c.once.Do(func() { close(c.done) })
	<-c.stopped
}

func (c *Container) submit(fn func(*Tx) error, write bool) error {
	o := op{fn: fn, write: write, errCh: make(chan error, 1)}
	select {
	case c.ops <- o:
	case <-c.done:
		return ErrClosed
	}
	return <-o.errCh
}

func (c *Container) loop() {
	defer close(c.stopped)
	for {
		select {
		case o := <-c.ops:
			o.errCh <- c.apply(o)
		case <-c.done:
			return
		}
	}
}

func (c *Container) apply(o op) (err error) {
	tx := &Tx{c: c, readOnly: !o.write}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("state mutation panicked", zap.Any("panic", r))
			err = fmt.Errorf("state mutation panicked: %v", r)
		}
		c.flush(tx)
	}()
	return o.fn(tx)
}

// flush writes dirty entities to the archive and publishes change events.
func (c *Container) flush(tx *Tx) {
	if c.archive != nil {
		for _, m := range tx.dirtyMessages {
			if m.Status != StatusConfirmed {
				continue
			}
			if err := c.archive.SaveMessage(m); err != nil {
				c.logger.Warn("archive message failed", zap.Int64("id", m.ID), zap.Error(err))
			}
		}
		for _, conv := range tx.dirtyConversations {
			if err := c.archive.SaveConversation(conv); err != nil {
				c.logger.Warn("archive conversation failed", zap.Int64("id", conv.ID), zap.Error(err))
			}
		}
	}
	if c.bus != nil {
		for _, evt := range tx.events {
			c.bus.Publish(evt)
		}
	}
}
