package realtime

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/travelhub/travelhub/utils"
)

const redisChannelPrefix = "chat:"

// RedisBroker uses Redis pub/sub channels named chat:<room>.
type RedisBroker struct {
	rc *redis.Client
}

// NewRedisBroker wraps an existing client. Close does not close the client.
func NewRedisBroker(rc *redis.Client) *RedisBroker {
	return &RedisBroker{rc: rc}
}

// Publish sends payload to the room channel.
func (b *RedisBroker) Publish(ctx context.Context, room string, payload []byte) error {
	return b.rc.Publish(ctx, redisChannelPrefix+room, payload).Err()
}

// Subscribe starts a goroutine forwarding channel messages to h.
func (b *RedisBroker) Subscribe(room string, h Handler) (Subscription, error) {
	ctx := context.Background()
	ps := b.rc.Subscribe(ctx, redisChannelPrefix+room)
	// wait for the subscription confirmation so early publishes are not lost
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	go func() {
		for msg := range ps.Channel() {
			h([]byte(msg.Payload))
		}
		utils.Sugar.Debugf("redis chat subscription closed room=%s", room)
	}()
	return &redisSub{ps: ps}, nil
}

// Close is a no-op; the shared client is owned by utils.
func (b *RedisBroker) Close() error { return nil }

type redisSub struct {
	ps *redis.PubSub
}

func (s *redisSub) Unsubscribe() error { return s.ps.Close() }
