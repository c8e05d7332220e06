package hub

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"

	"barlink-service/internal/models"
)

const bridgeChannel = "barlink:hub"

// RedisBridge relays hub events between service instances over Redis pub/sub
// so a publish on one instance reaches sockets connected to another.
type RedisBridge struct {
	rdb *redis.Client
}

func NewRedisBridge(addr string) *RedisBridge {
	return &RedisBridge{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

func (b *RedisBridge) Publish(ctx context.Context, payload []byte) error {
	return b.rdb.Publish(ctx, bridgeChannel, payload).Err()
}

// Run subscribes to the bridge channel and fans incoming events out to the
// hub's local members. It blocks until ctx is cancelled.
func (b *RedisBridge) Run(ctx context.Context, h *Hub) {
	pubsub := b.rdb.Subscribe(ctx, bridgeChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event models.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Printf("hub bridge: dropping malformed event: %v", err)
				continue
			}
			h.fanout(event.Group, []byte(msg.Payload))
		}
	}
}
