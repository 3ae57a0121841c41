// Package profile はprofilesテーブルを変更通知付きのプロフィールストアとして提供する。
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/seqher/internal/authsync"
	"github.com/hitoshi/seqher/internal/changefeed"
	"github.com/hitoshi/seqher/internal/model"
	"github.com/hitoshi/seqher/internal/repository"
)

// Subscriber はキー単位の変更通知を購読するインターフェース。
// changefeed.Broker がこれを満たす。
type Subscriber interface {
	Subscribe(channel, key string, fn func()) (cancel func(), err error)
}

// Store はauthsync.ProfileStoreの実装。
// 監視開始時に1回、以降はprofile_changes通知のたびにプロフィールを読み直して通知する。
type Store struct {
	repo        repository.ProfileRepository
	feed        Subscriber
	logger      *slog.Logger
	readTimeout time.Duration
}

// NewStore はStoreを生成する。feedがnilの場合は初回の読み込みのみ行う。
func NewStore(repo repository.ProfileRepository, feed Subscriber, logger *slog.Logger) *Store {
	return &Store{
		repo:        repo,
		feed:        feed,
		logger:      logger,
		readTimeout: 5 * time.Second,
	}
}

// WatchProfile はuidのプロフィールを監視する。
// 戻り値の関数が返った後にfnが呼ばれることはない。
func (s *Store) WatchProfile(uid string, fn func(authsync.ProfileSnapshot, error)) func() {
	ctx, cancel := context.WithCancel(context.Background())

	dirty := make(chan struct{}, 1)
	dirty <- struct{}{}

	var cancelSub func()
	if s.feed != nil {
		c, err := s.feed.Subscribe(changefeed.ChannelProfileChanges, uid, func() {
			select {
			case dirty <- struct{}{}:
			default:
			}
		})
		if err != nil {
			cancel()
			fn(authsync.ProfileSnapshot{}, fmt.Errorf("failed to subscribe profile changes: %w", err))
			return func() {}
		}
		cancelSub = c
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-dirty:
			}

			snap, err := s.read(ctx, uid)
			if ctx.Err() != nil {
				return
			}
			fn(snap, err)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			if cancelSub != nil {
				cancelSub()
			}
			cancel()
			<-done
		})
	}
}

func (s *Store) read(ctx context.Context, uid string) (authsync.ProfileSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.readTimeout)
	defer cancel()

	p, err := s.repo.FindByUID(ctx, uid)
	if err != nil {
		return authsync.ProfileSnapshot{}, err
	}
	return authsync.ProfileSnapshot{Profile: p, Exists: p != nil}, nil
}

// CreateProfile はプロフィールが存在しなければ作成し、保存されているレコードを返す。
func (s *Store) CreateProfile(ctx context.Context, p *model.Profile) (*model.Profile, error) {
	stored, err := s.repo.CreateIfAbsent(ctx, p)
	if errors.Is(err, repository.ErrIdentityGone) {
		return nil, fmt.Errorf("%w: %w", authsync.ErrIdentityGone, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}
	s.logger.Info("プロフィールを保存しました",
		slog.String("user_id", stored.UID),
		slog.String("role", string(stored.Role)),
	)
	return stored, nil
}

// compile-time interface check
var _ authsync.ProfileStore = (*Store)(nil)
