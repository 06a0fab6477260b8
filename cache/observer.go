package cache

import (
	"sync/atomic"

	"github.com/brightchain/brightchain"
)

// Observer is notified of changes to a manager's contents.
// Methods are called synchronously from the goroutine that caused the event
// and must not block.
type Observer interface {
	KeyAdded(brightchain.Hash)
	KeyRemoved(brightchain.Hash)
	CacheMiss(brightchain.Hash)
}

// Subscribe adds o to the manager's observers.
func (m *Manager) Subscribe(o Observer) {
	m.mu.Lock()
	m.observers = append(m.observers, o)
	m.mu.Unlock()
}

func (m *Manager) each(f func(Observer)) {
	m.mu.Lock()
	obs := m.observers
	m.mu.Unlock()
	for _, o := range obs {
		f(o)
	}
}

func (m *Manager) notifyAdded(h brightchain.Hash) {
	m.each(func(o Observer) { o.KeyAdded(h) })
}

func (m *Manager) notifyRemoved(h brightchain.Hash) {
	m.each(func(o Observer) { o.KeyRemoved(h) })
}

func (m *Manager) notifyMiss(h brightchain.Hash) {
	m.each(func(o Observer) { o.CacheMiss(h) })
}

// EventType says what happened in an Event.
type EventType int

const (
	KeyAdded EventType = iota
	KeyRemoved
	CacheMiss
)

func (t EventType) String() string {
	switch t {
	case KeyAdded:
		return "added"
	case KeyRemoved:
		return "removed"
	case CacheMiss:
		return "miss"
	}
	return "unknown"
}

// Event is what a ChanObserver publishes.
type Event struct {
	Type EventType
	Hash brightchain.Hash
}

// ChanObserver is an Observer that publishes events on a bounded channel.
// When the channel is full, events are dropped and counted.
type ChanObserver struct {
	ch      chan Event
	dropped atomic.Int64
}

var _ Observer = &ChanObserver{}

// NewChanObserver produces a ChanObserver whose channel buffers size events.
func NewChanObserver(size int) *ChanObserver {
	return &ChanObserver{ch: make(chan Event, size)}
}

// Events is the channel of published events.
func (o *ChanObserver) Events() <-chan Event {
	return o.ch
}

// Dropped is the number of events discarded because the channel was full.
func (o *ChanObserver) Dropped() int64 {
	return o.dropped.Load()
}

func (o *ChanObserver) publish(e Event) {
	select {
	case o.ch <- e:
	default:
		o.dropped.Add(1)
	}
}

func (o *ChanObserver) KeyAdded(h brightchain.Hash)   { o.publish(Event{Type: KeyAdded, Hash: h}) }
func (o *ChanObserver) KeyRemoved(h brightchain.Hash) { o.publish(Event{Type: KeyRemoved, Hash: h}) }
func (o *ChanObserver) CacheMiss(h brightchain.Hash)  { o.publish(Event{Type: CacheMiss, Hash: h}) }
