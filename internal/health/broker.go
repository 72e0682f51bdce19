package health

import (
	"sync"

	"github.com/google/uuid"
)

// Broker fans events out to subscribers. Subscribers run synchronously on
// the publishing goroutine, in no particular order.
type Broker struct {
	sync.RWMutex
	subscribers map[string]func(Event)
}

func NewBroker() *Broker {
	return &Broker{subscribers: make(map[string]func(Event))}
}

func (b *Broker) Subscribe(fn func(Event)) func() {
	b.Lock()
	defer b.Unlock()
	id := uuid.NewString()
	b.subscribers[id] = fn
	return func() {
		b.Lock()
		defer b.Unlock()
		delete(b.subscribers, id)
	}
}

func (b *Broker) Publish(e Event) {
	b.RLock()
	subs := make([]func(Event), 0, len(b.subscribers))
	for _, fn := range b.subscribers {
		subs = append(subs, fn)
	}
	b.RUnlock()

	for _, fn := range subs {
		fn(e)
	}
}
