package session

import (
	"errors"
	"sync"

	"gopkg.in/irc.v4"
)

// ErrNotConnected is returned by writes while no connection is live.
var ErrNotConnected = errors.New("not connected")

// Wire is the write side of whichever connection is currently live.
// It outlives individual connections so the dispatch queues can hold it.
type Wire struct {
	mu     sync.RWMutex
	client *irc.Client
	nick   string
}

// NewWire returns a disconnected wire that reports nick until a connection says otherwise.
func NewWire(nick string) *Wire {
	return &Wire{nick: nick}
}

// WriteMessage sends m on the live connection.
func (w *Wire) WriteMessage(m *irc.Message) error {
	w.mu.RLock()
	c := w.client
	w.mu.RUnlock()
	if c == nil {
		return ErrNotConnected
	}
	return c.WriteMessage(m)
}

// Nick returns the bot's current nick.
func (w *Wire) Nick() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.client != nil {
		if n := w.client.CurrentNick(); n != "" {
			return n
		}
	}
	return w.nick
}

func (w *Wire) attach(c *irc.Client) {
	w.mu.Lock()
	w.client = c
	w.mu.Unlock()
}

func (w *Wire) detach() {
	w.mu.Lock()
	if w.client != nil {
		if n := w.client.CurrentNick(); n != "" {
			w.nick = n
		}
	}
	w.client = nil
	w.mu.Unlock()
}
