package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisBridge fans group messages out across server processes over Redis
// pub/sub: publishes go to one channel, every process's bridge relays them
// into its local hub.
type RedisBridge struct {
	client  *redis.Client
	channel string
	hub     *Hub
	logger  *slog.Logger
}

type bridgeFrame struct {
	Group   string          `json:"group"`
	Payload json.RawMessage `json:"payload"`
}

func NewRedisBridge(client *redis.Client, channel string, hub *Hub, logger *slog.Logger) *RedisBridge {
	return &RedisBridge{client: client, channel: channel, hub: hub, logger: logger}
}

// PublishToGroup sends the message through Redis instead of only the local
// hub; Run on each process completes the delivery.
func (b *RedisBridge) PublishToGroup(group string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("bridge marshal failed", "group", group, "error", err)
		return
	}
	frame, _ := json.Marshal(bridgeFrame{Group: group, Payload: raw})
	if err := b.client.Publish(context.Background(), b.channel, frame).Err(); err != nil {
		// degraded mode: local subscribers still get the event
		b.logger.Warn("bridge publish failed, delivering locally only", "group", group, "error", err)
		b.hub.PublishToGroup(group, payload)
	}
}

// Run subscribes and relays frames into the local hub until ctx is done.
func (b *RedisBridge) Run(ctx context.Context) {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var f bridgeFrame
			if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
				b.logger.Warn("bridge frame decode failed", "error", err)
				continue
			}
			b.hub.PublishToGroup(f.Group, json.RawMessage(f.Payload))
		}
	}
}
