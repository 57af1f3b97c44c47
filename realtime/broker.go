// Package realtime fans chat events out to websocket subscribers, across instances
// when backed by Redis or NATS.
package realtime

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/travelhub/travelhub/config"
	"github.com/travelhub/travelhub/utils"
)

// Handler receives raw payloads published to a room.
type Handler func(payload []byte)

// Subscription is an active room subscription.
type Subscription interface {
	Unsubscribe() error
}

// Broker moves room payloads between publishers and subscribers.
type Broker interface {
	Publish(ctx context.Context, room string, payload []byte) error
	Subscribe(room string, h Handler) (Subscription, error)
	Close() error
}

// NewBroker selects the broker configured by ChatBroker.
func NewBroker(cfg config.AppConfig) (Broker, error) {
	switch strings.ToLower(cfg.ChatBroker) {
	case "", "memory":
		return NewMemoryBroker(), nil
	case "redis":
		rc := utils.GetRedis()
		if rc == nil {
			return nil, fmt.Errorf("chat broker redis requires a redis host")
		}
		return NewRedisBroker(rc), nil
	case "nats":
		return DialNATS(cfg.NATSURL)
	default:
		return nil, fmt.Errorf("unsupported chat broker: %s", cfg.ChatBroker)
	}
}

// MemoryBroker delivers synchronously inside one process.
type MemoryBroker struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]Handler
}

// NewMemoryBroker creates an empty MemoryBroker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[uint64]Handler)}
}

// Publish calls every handler subscribed to room.
func (b *MemoryBroker) Publish(_ context.Context, room string, payload []byte) error {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[room]))
	for _, h := range b.subs[room] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()
	for _, h := range handlers {
		h(payload)
	}
	return nil
}

// Subscribe registers h for room.
func (b *MemoryBroker) Subscribe(room string, h Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	if b.subs[room] == nil {
		b.subs[room] = make(map[uint64]Handler)
	}
	b.subs[room][id] = h
	return &memorySub{broker: b, room: room, id: id}, nil
}

// Close drops every subscription.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	b.subs = make(map[string]map[uint64]Handler)
	b.mu.Unlock()
	return nil
}

type memorySub struct {
	broker *MemoryBroker
	room   string
	id     uint64
}

func (s *memorySub) Unsubscribe() error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	delete(s.broker.subs[s.room], s.id)
	if len(s.broker.subs[s.room]) == 0 {
		delete(s.broker.subs, s.room)
	}
	return nil
}
