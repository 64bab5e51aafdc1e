package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
	"github.com/uma-arai/sbcntr-booking/internal/model"
)

// RedisPublisher はRedisのPUBLISHだけを抽象化したものです
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisRelay はバスに流れた通知をRedisのチャネルへ転送します
// 別プロセスのリアルタイム配信層(SSEなど)はRedisを購読して利用者へ届けます
type RedisRelay struct {
	bus    *Bus
	client RedisPublisher
	prefix string
}

func NewRedisRelay(bus *Bus, client RedisPublisher, prefix string) *RedisRelay {
	if prefix == "" {
		prefix = "notifications"
	}
	return &RedisRelay{bus: bus, client: client, prefix: prefix}
}

// Channel はユーザーごとのRedisチャネル名を返します
func (r *RedisRelay) Channel(userID string) string {
	return fmt.Sprintf("%s:%s", r.prefix, userID)
}

// Run はctxがキャンセルされるかバスが閉じられるまで通知を転送し続けます
func (r *RedisRelay) Run(ctx context.Context) {
	ch, unsubscribe := r.bus.Subscribe("", DefaultBuffer)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case record, ok := <-ch:
			if !ok {
				return
			}
			if err := r.forward(ctx, record); err != nil {
				log.Printf("redis-relay: %v", err)
			}
		}
	}
}

func (r *RedisRelay) forward(ctx context.Context, record model.NotificationRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal notification %s: %w", record.ID, err)
	}
	if err := r.client.Publish(ctx, r.Channel(record.UserID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish notification %s: %w", record.ID, err)
	}
	return nil
}
