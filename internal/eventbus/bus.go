// Package eventbus はプロセス内で通知をリアルタイム配信するためのpub/subです
// プロセス起動時に1つだけ生成し、通知の送信側と配信側へ参照で渡します
package eventbus

import (
	"log"
	"sync"

	"github.com/uma-arai/sbcntr-booking/internal/model"
)

// DefaultBuffer は購読者ごとのチャネルのバッファ数です
const DefaultBuffer = 64

// Publisher は通知を配信するインターフェースです
type Publisher interface {
	Publish(record model.NotificationRecord)
}

type subscription struct {
	userID string
	ch     chan model.NotificationRecord
}

// Bus はプロセス内のpub/subです
// 配信はベストエフォートで、購読者のバッファが一杯の場合は破棄します
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]*subscription
	closed bool
}

func New() *Bus {
	return &Bus{subs: make(map[int]*subscription)}
}

// Subscribe はuserID宛ての通知を受け取るチャネルを返します
// userIDが空の場合はすべての通知を受け取ります
// 返された関数を呼ぶと購読を解除し、チャネルを閉じます
func (b *Bus) Subscribe(userID string, buffer int) (<-chan model.NotificationRecord, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan model.NotificationRecord, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = &subscription{userID: userID, ch: ch}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub.ch)
			}
		})
	}
}

// Publish は通知を購読者へ送ります
// 呼び出し元をブロックしません
func (b *Bus) Publish(record model.NotificationRecord) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.userID != "" && sub.userID != record.UserID {
			continue
		}
		select {
		case sub.ch <- record:
		default:
			log.Printf("eventbus: subscriber buffer full, dropping notification %s for user %s", record.ID, record.UserID)
		}
	}
}

// Close はすべての購読を解除します
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
