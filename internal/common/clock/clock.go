package clock

import (
	"sync"
	"time"
)

// Clock は現在時刻の取得を抽象化します
// 本番ではReal()を、テストではNewFake()を注入します
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// Real はシステム時刻を返すClockです
func Real() Clock { return realClock{} }

// Fake はテスト用に時刻を固定・操作できるClockです
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake は指定した時刻で止まったClockを作成します
func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Set は現在時刻を変更します
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

// Advance は現在時刻をdだけ進めます
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}
