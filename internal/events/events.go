// Package events implements the boundary between the refresh pipeline and
// its consumers. The pipeline pushes typed events through a Broadcaster;
// consumers register a channel per event type. Delivery is at-least-once
// with no ordering guarantee across distinct servers.
package events

import (
	"sync"

	"github.com/dzbrowse/dzbrowse/internal/dayz"
)

type EventType int

const (
	// Any receives every event regardless of type.
	Any EventType = iota
	// BatchReady carries the full reconciled server list, always emitted
	// before any live update for the same batch.
	BatchReady
	// ServerUpdate carries a single server with fresh live status.
	ServerUpdate
	// Progress narrates the refresh phase.
	Progress
	// Ready fires exactly once per probe batch when enough of it has
	// completed to be usable.
	Ready
	// Error reports a failed cycle. Stored data remains servable.
	Error
)

type Event struct {
	Type EventType
	Data any
}

type BatchReadyEvent struct {
	Servers []dayz.Server
}

type ServerUpdateEvent struct {
	Server dayz.Server
}

type ProgressEvent struct {
	Percent int
	Message string
}

type ReadyEvent struct {
	Completed int
	Total     int
}

type ErrorEvent struct {
	Message string
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		readers:   make(map[EventType][]chan<- Event),
		readersMu: &sync.RWMutex{},
	}
}

// Broadcaster fans events out to any registered handlers for the event type.
type Broadcaster struct {
	readersAny []chan<- Event
	readers    map[EventType][]chan<- Event
	readersMu  *sync.RWMutex
}

// ListenFor registers a channel to start receiving events for the specified type.
func (b *Broadcaster) ListenFor(eventType EventType, handler chan<- Event) {
	b.readersMu.Lock()
	defer b.readersMu.Unlock()

	// Any case is handled more generally
	if eventType == Any {
		b.readersAny = append(b.readersAny, handler)

		return
	}

	if _, found := b.readers[eventType]; !found {
		b.readers[eventType] = make([]chan<- Event, 0)
	}

	b.readers[eventType] = append(b.readers[eventType], handler)
}

// Send delivers the event to every matching registered channel.
func (b *Broadcaster) Send(event Event) {
	b.readersMu.RLock()
	defer b.readersMu.RUnlock()

	if handlers, found := b.readers[event.Type]; found {
		for _, handler := range handlers {
			handler <- event
		}
	}

	for _, handler := range b.readersAny {
		handler <- event
	}
}
