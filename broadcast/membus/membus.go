// Package membus is the in-process Bus implementation used when all tabs
// live in one process, and by tests.
package membus

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/carelinkhealth/go-session-client/broadcast"
)

var BusClosedErr = errors.New("broadcast bus closed")

var _ broadcast.Bus = (*Bus)(nil)

type Bus struct {
	lock      sync.RWMutex
	handlers  map[int]broadcast.Handler
	handlerID int
	closed    bool
	wg        sync.WaitGroup
}

func New() *Bus {
	return &Bus{
		handlers: make(map[int]broadcast.Handler),
	}
}

func (b *Bus) Publish(_ context.Context, msg broadcast.Message) error {
	b.lock.RLock()
	if b.closed {
		b.lock.RUnlock()
		return errors.Wrap(BusClosedErr, "[Bus.Publish]")
	}
	handlers := make([]broadcast.Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.lock.RUnlock()

	// Deliver asynchronously: publishers never block on slow subscribers.
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for _, h := range handlers {
			h(msg)
		}
	}()
	return nil
}

func (b *Bus) Subscribe(handler broadcast.Handler) (func(), error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.closed {
		return nil, errors.Wrap(BusClosedErr, "[Bus.Subscribe]")
	}
	id := b.handlerID
	b.handlerID++
	b.handlers[id] = handler
	return func() {
		b.lock.Lock()
		defer b.lock.Unlock()
		delete(b.handlers, id)
	}, nil
}

// Close stops delivery after in-flight messages drain.
func (b *Bus) Close() error {
	b.lock.Lock()
	b.closed = true
	b.handlers = make(map[int]broadcast.Handler)
	b.lock.Unlock()
	b.wg.Wait()
	return nil
}
