// Package changefeed はPostgreSQLのLISTEN/NOTIFYを購読し、
// キー単位の変更通知をプロセス内の購読者へ配信する。
package changefeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"
)

// 通知チャネル名。マイグレーションのトリガー定義と一致させること。
const (
	ChannelProfileChanges = "profile_changes"
	ChannelSessionChanges = "session_changes"
)

// Listener は通知の受信元を抽象化するインターフェース。
// *pq.Listener がこれを満たす。
type Listener interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Close() error
}

// Broker は1本のLISTEN接続を共有し、チャネルとキー（通知ペイロード）ごとに購読者へ配信する。
// 再接続（nil通知）時は取りこぼした可能性があるため、全購読者に通知する。
type Broker struct {
	listener Listener
	logger   *slog.Logger

	mu        sync.Mutex
	listening map[string]bool
	subs      map[string]map[string]map[uint64]func()
	nextID    uint64
}

// NewBroker は接続先DSNからpq.Listenerを生成し、Brokerを返す。
// 再接続の間隔はminReconnectからmaxReconnectまで指数的に延びる。
func NewBroker(dsn string, minReconnect, maxReconnect time.Duration, logger *slog.Logger) *Broker {
	listener := pq.NewListener(dsn, minReconnect, maxReconnect, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
			logger.Warn("変更通知の接続が切断されました", slog.Any("error", err))
		case pq.ListenerEventReconnected:
			logger.Info("変更通知の接続を再確立しました")
		}
	})
	return NewBrokerWithListener(listener, logger)
}

// NewBrokerWithListener は任意のListenerを使うBrokerを生成する。
func NewBrokerWithListener(listener Listener, logger *slog.Logger) *Broker {
	return &Broker{
		listener:  listener,
		logger:    logger,
		listening: make(map[string]bool),
		subs:      make(map[string]map[string]map[uint64]func()),
	}
}

// Subscribe はchannel上でペイロードがkeyに一致する通知を購読する。
// fnはディスパッチ用goroutineから呼ばれるため、ブロックしてはならない。
// 戻り値のcancelは何度呼んでもよい。
func (b *Broker) Subscribe(channel, key string, fn func()) (cancel func(), err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.listening[channel] {
		if err := b.listener.Listen(channel); err != nil && !errors.Is(err, pq.ErrChannelAlreadyOpen) {
			return nil, fmt.Errorf("failed to listen on %s: %w", channel, err)
		}
		b.listening[channel] = true
	}

	byKey, ok := b.subs[channel]
	if !ok {
		byKey = make(map[string]map[uint64]func())
		b.subs[channel] = byKey
	}
	fns, ok := byKey[key]
	if !ok {
		fns = make(map[uint64]func())
		byKey[key] = fns
	}
	b.nextID++
	id := b.nextID
	fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(channel, key, id) })
	}, nil
}

func (b *Broker) unsubscribe(channel, key string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	fns := b.subs[channel][key]
	delete(fns, id)
	if len(fns) == 0 {
		delete(b.subs[channel], key)
	}
}

// Subscribers は現在の購読数を返す。
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, byKey := range b.subs {
		for _, fns := range byKey {
			n += len(fns)
		}
	}
	return n
}

// Run はctxがキャンセルされるまで通知を配信する。
func (b *Broker) Run(ctx context.Context) error {
	notifications := b.listener.NotificationChannel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-notifications:
			if !ok {
				return errors.New("notification channel closed")
			}
			b.dispatch(n)
		}
	}
}

func (b *Broker) dispatch(n *pq.Notification) {
	var targets []func()

	b.mu.Lock()
	if n == nil {
		for _, byKey := range b.subs {
			for _, fns := range byKey {
				for _, fn := range fns {
					targets = append(targets, fn)
				}
			}
		}
	} else {
		for _, fn := range b.subs[n.Channel][n.Extra] {
			targets = append(targets, fn)
		}
	}
	b.mu.Unlock()

	if n == nil {
		b.logger.Info("再接続のため全購読者に再読込を通知します", slog.Int("subscribers", len(targets)))
	}
	for _, fn := range targets {
		fn()
	}
}

// Close はLISTEN接続を閉じる。
func (b *Broker) Close() error {
	return b.listener.Close()
}
