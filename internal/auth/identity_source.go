package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/seqher/internal/authsync"
	"github.com/hitoshi/seqher/internal/changefeed"
	"github.com/hitoshi/seqher/internal/model"
)

// SessionResolver はセッションIDからidentityを解決し、セッションを破棄する。
// Service がこれを満たす。
type SessionResolver interface {
	ResolveSession(ctx context.Context, sessionID string) (*model.Session, *model.Identity, error)
	Logout(ctx context.Context, sessionID string) error
}

// Subscriber はキー単位の変更通知を購読するインターフェース。
type Subscriber interface {
	Subscribe(channel, key string, fn func()) (cancel func(), err error)
}

// SessionIdentitySource は1つのブラウザセッションをauthsync.IdentitySourceとして公開する。
// セッションの削除通知と有効期限で、サインアウト（nil）を通知する。
type SessionIdentitySource struct {
	resolver  SessionResolver
	feed      Subscriber
	sessionID string
	logger    *slog.Logger

	mu   sync.Mutex
	poke func()
}

// NewSessionIdentitySource はSessionIdentitySourceを生成する。feedはnilでもよい。
func NewSessionIdentitySource(resolver SessionResolver, feed Subscriber, sessionID string, logger *slog.Logger) *SessionIdentitySource {
	return &SessionIdentitySource{
		resolver:  resolver,
		feed:      feed,
		sessionID: sessionID,
		logger:    logger,
	}
}

// OnAuthStateChanged は現在のidentityを通知し、以降はidentityが変わるたびに通知する。
func (s *SessionIdentitySource) OnAuthStateChanged(fn func(*model.Identity)) func() {
	ctx, cancel := context.WithCancel(context.Background())

	dirty := make(chan struct{}, 1)
	poke := func() {
		select {
		case dirty <- struct{}{}:
		default:
		}
	}
	poke()

	s.mu.Lock()
	s.poke = poke
	s.mu.Unlock()

	var cancelSub func()
	if s.feed != nil && s.sessionID != "" {
		c, err := s.feed.Subscribe(changefeed.ChannelSessionChanges, s.sessionID, poke)
		if err != nil {
			s.logger.Warn("セッション変更通知の購読に失敗しました",
				slog.String("error", err.Error()),
			)
		} else {
			cancelSub = c
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.watch(ctx, dirty, fn)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			if cancelSub != nil {
				cancelSub()
			}
			cancel()
			<-done
			s.mu.Lock()
			s.poke = nil
			s.mu.Unlock()
		})
	}
}

func (s *SessionIdentitySource) watch(ctx context.Context, dirty <-chan struct{}, fn func(*model.Identity)) {
	expiry := time.NewTimer(time.Hour)
	expiry.Stop()
	defer expiry.Stop()

	emitted := false
	lastUID := ""

	for {
		select {
		case <-ctx.Done():
			return
		case <-dirty:
		case <-expiry.C:
		}

		session, identity, err := s.resolver.ResolveSession(ctx, s.sessionID)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.logger.Error("セッションの解決に失敗しました", slog.String("error", err.Error()))
			if emitted {
				continue
			}
			identity = nil
		}

		expiry.Stop()
		if session != nil && identity != nil {
			expiry.Reset(time.Until(session.ExpiresAt))
		}

		uid := ""
		if identity != nil {
			uid = identity.UID
		}
		if emitted && uid == lastUID {
			continue
		}
		emitted = true
		lastUID = uid
		fn(identity)
	}
}

// SignOut はセッションを破棄する。
// 購読中であれば、削除通知を待たずに再評価してnilを通知する。
func (s *SessionIdentitySource) SignOut(ctx context.Context) error {
	if s.sessionID == "" {
		return nil
	}
	if err := s.resolver.Logout(ctx, s.sessionID); err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}

	s.mu.Lock()
	poke := s.poke
	s.mu.Unlock()
	if poke != nil {
		poke()
	}
	return nil
}

// compile-time interface check
var _ authsync.IdentitySource = (*SessionIdentitySource)(nil)
