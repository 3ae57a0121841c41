// Package authsync はログイン主体（identity）とプロフィールの2つの変更ストリームを統合し、
// 現在のユーザー・ロード中フラグ・管理者判定を一貫した状態として公開する。
package authsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/seqher/internal/model"
)

// ErrAlreadyRunning はRunが二重に呼ばれたことを示す。
var ErrAlreadyRunning = errors.New("synchronizer is already running")

// ErrIdentityGone はプロフィール作成中にidentityが削除されたことを示す。
// 退会処理と競合した場合に起こり、identityストリームのサインアウト通知が続く。
var ErrIdentityGone = errors.New("identity no longer exists")

// State は同期の状態。
type State int

const (
	Initializing State = iota
	Unauthenticated
	Authenticated
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Unauthenticated:
		return "unauthenticated"
	case Authenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// View は利用側に公開する認証状態のスナップショット。
type View struct {
	CurrentUser *model.AppUser
	Loading     bool
}

// IsAdmin は現在のユーザーが管理者かどうかを返す。
func (v View) IsAdmin() bool {
	return v.CurrentUser.IsAdmin()
}

// IdentitySource は認証バックエンドのログイン主体の変化を通知する。
// fnにはサインイン中のidentity、サインアウト時はnilが渡される。
type IdentitySource interface {
	OnAuthStateChanged(fn func(*model.Identity)) (unsubscribe func())
	SignOut(ctx context.Context) error
}

// ProfileSnapshot はプロフィール監視の1回分の通知内容。
type ProfileSnapshot struct {
	Profile *model.Profile
	Exists  bool
}

// ProfileStore はプロフィールの監視と作成を提供する。
type ProfileStore interface {
	// WatchProfile はuidのプロフィールを監視し、現在値と以降の変更をfnに通知する。
	WatchProfile(uid string, fn func(ProfileSnapshot, error)) (unsubscribe func())
	// CreateProfile はプロフィールが存在しなければ作成し、保存されているレコードを返す。
	// identityが削除済みの場合はErrIdentityGoneをラップしたエラーを返す。
	CreateProfile(ctx context.Context, profile *model.Profile) (*model.Profile, error)
}

// Metrics は同期処理のメトリクス記録先。
type Metrics interface {
	RecordAuthTransition(to string)
	RecordStaleProfileEvent()
}

// Options はSynchronizerの依存。
// Identityがnilの場合は認証バックエンド未設定、Profilesがnilの場合はプロフィールストア未設定として動作する。
type Options struct {
	Identity IdentitySource
	Profiles ProfileStore
	Logger   *slog.Logger
	Metrics  Metrics // 型なしのnilなら記録しない
}

type eventKind int

const (
	identityChanged eventKind = iota
	profileChanged
	profileCreated
)

type event struct {
	kind     eventKind
	identity *model.Identity
	gen      uint64
	snapshot ProfileSnapshot
	profile  *model.Profile
	err      error
}

// Synchronizer はidentityとプロフィールのストリームを1本のイベントループで直列化する。
// 状態の更新はRunのgoroutineだけが行う。
type Synchronizer struct {
	identity IdentitySource
	profiles ProfileStore
	logger   *slog.Logger
	metrics  Metrics

	// イベントキュー。コールバックは呼び出し元をブロックせずに積む。
	qmu     sync.Mutex
	pending []event
	wake    chan struct{}

	mu       sync.RWMutex
	state    State
	view     View
	watchers map[int]chan View
	nextW    int
	stopped  bool

	closeOnce sync.Once
	closed    chan struct{}
	runMu     sync.Mutex
	running   bool

	// 以下はループgoroutine専用
	current    *model.Identity
	generation uint64
	creating   uint64
	unwatch    func()
	creators   sync.WaitGroup
}

// New はSynchronizerを生成する。状態はInitializing、loading=trueで始まる。
func New(opts Options) *Synchronizer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		identity: opts.Identity,
		profiles: opts.Profiles,
		logger:   logger,
		metrics:  opts.Metrics,
		wake:     make(chan struct{}, 1),
		state:    Initializing,
		view:     View{Loading: true},
		watchers: make(map[int]chan View),
		closed:   make(chan struct{}),
	}
}

// Run は認証状態の購読を開始し、ctxのキャンセルまたはCloseまでイベントを処理する。
// 終了時はidentityとプロフィールの購読をすべて解除する。
func (s *Synchronizer) Run(ctx context.Context) error {
	s.runMu.Lock()
	if s.running {
		s.runMu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.runMu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.closed:
			cancel()
		case <-ctx.Done():
		}
	}()

	defer s.teardown(cancel)

	if s.identity == nil {
		s.logger.Warn("認証バックエンドが未設定のため未認証として動作します")
		s.publish(Unauthenticated, View{})
		<-ctx.Done()
		return nil
	}

	unsubscribe := s.identity.OnAuthStateChanged(func(identity *model.Identity) {
		s.post(event{kind: identityChanged, identity: identity})
	})
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.wake:
			for _, ev := range s.drain() {
				s.handle(ctx, ev)
			}
		}
	}
}

// Close はSynchronizerを停止する。Runのctxをキャンセルするのと同等。
func (s *Synchronizer) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// View は現在の認証状態を返す。
func (s *Synchronizer) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

// State は現在の同期状態を返す。
func (s *Synchronizer) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsAdmin は現在のユーザーが管理者かどうかを返す。
func (s *Synchronizer) IsAdmin() bool {
	return s.View().IsAdmin()
}

// Watch は状態の変化を受け取るチャネルを返す。
// チャネルには現在の状態が最初に入り、読み遅れた場合は最新の状態だけが残る。
// 停止時にチャネルは閉じられる。
func (s *Synchronizer) Watch() (<-chan View, func()) {
	ch := make(chan View, 1)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextW
	s.nextW++
	s.watchers[id] = ch
	ch <- s.view
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if w, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(w)
		}
	}
}

// SignOut は認証バックエンドにサインアウトを依頼する。
// 状態はバックエンドからのnil通知を受けて更新されるため、ここでは変更しない。
func (s *Synchronizer) SignOut(ctx context.Context) error {
	if s.identity == nil {
		return nil
	}
	if err := s.identity.SignOut(ctx); err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}
	return nil
}

func (s *Synchronizer) post(ev event) {
	s.qmu.Lock()
	s.pending = append(s.pending, ev)
	s.qmu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Synchronizer) drain() []event {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	evs := s.pending
	s.pending = nil
	return evs
}

func (s *Synchronizer) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case identityChanged:
		s.onIdentity(ev.identity)
	case profileChanged:
		s.onProfile(ctx, ev)
	case profileCreated:
		s.onCreated(ev)
	}
}

func (s *Synchronizer) onIdentity(identity *model.Identity) {
	// 旧identityの購読を先に閉じ、以降に届く旧世代の通知は世代番号で破棄する
	s.closeProfileWatch()
	s.generation++

	if identity == nil {
		s.current = nil
		s.publish(Unauthenticated, View{})
		return
	}

	s.current = identity
	minimal := model.MinimalUser(identity)

	if s.profiles == nil {
		s.logger.Warn("プロフィールストアが未設定のため最小ユーザーで動作します",
			slog.String("user_id", identity.UID),
		)
		s.publish(Authenticated, View{CurrentUser: minimal})
		return
	}

	s.publish(Authenticated, View{CurrentUser: minimal, Loading: true})

	gen := s.generation
	s.unwatch = s.profiles.WatchProfile(identity.UID, func(snap ProfileSnapshot, err error) {
		s.post(event{kind: profileChanged, gen: gen, snapshot: snap, err: err})
	})
}

func (s *Synchronizer) onProfile(ctx context.Context, ev event) {
	if !s.isCurrent(ev.gen) {
		s.dropStale(ev)
		return
	}

	if ev.err != nil {
		s.logger.Error("プロフィールの監視に失敗しました",
			slog.String("user_id", s.current.UID),
			slog.String("error", ev.err.Error()),
		)
		s.publish(Authenticated, View{CurrentUser: model.MinimalUser(s.current)})
		return
	}

	if !ev.snapshot.Exists || ev.snapshot.Profile == nil {
		s.createProfile(ctx, ev.gen)
		return
	}

	s.publish(Authenticated, View{CurrentUser: model.MergeUser(s.current, ev.snapshot.Profile)})
}

// createProfile は現在のidentityのプロフィールを一般ユーザーとして作成する。
// 同じ世代で作成中の場合は重複して作成しない。
func (s *Synchronizer) createProfile(ctx context.Context, gen uint64) {
	if s.creating == gen {
		return
	}
	s.creating = gen

	identity := s.current
	profile := &model.Profile{
		UID:         identity.UID,
		Email:       identity.Email,
		DisplayName: identity.DisplayName,
		Role:        model.RoleUser,
	}

	s.creators.Add(1)
	go func() {
		defer s.creators.Done()
		created, err := s.profiles.CreateProfile(ctx, profile)
		s.post(event{kind: profileCreated, gen: gen, profile: created, err: err})
	}()
}

func (s *Synchronizer) onCreated(ev event) {
	if !s.isCurrent(ev.gen) {
		s.dropStale(ev)
		return
	}
	s.creating = 0

	if errors.Is(ev.err, ErrIdentityGone) {
		// 直後に届くサインアウト通知で状態を更新するため、ここでは公開しない
		s.logger.Warn("identityが削除されたためプロフィールを作成しませんでした",
			slog.String("user_id", s.current.UID),
		)
		return
	}

	if ev.err != nil || ev.profile == nil {
		s.logger.Error("プロフィールの作成に失敗しました",
			slog.String("user_id", s.current.UID),
			slog.Any("error", ev.err),
		)
		s.publish(Authenticated, View{CurrentUser: model.MinimalUser(s.current)})
		return
	}

	s.logger.Info("プロフィールを作成しました", slog.String("user_id", s.current.UID))
	s.publish(Authenticated, View{CurrentUser: model.MergeUser(s.current, ev.profile)})
}

func (s *Synchronizer) isCurrent(gen uint64) bool {
	return s.current != nil && gen == s.generation
}

func (s *Synchronizer) dropStale(ev event) {
	s.logger.Debug("古いプロフィール通知を破棄しました",
		slog.Uint64("generation", ev.gen),
		slog.Uint64("current_generation", s.generation),
	)
	if s.metrics != nil {
		s.metrics.RecordStaleProfileEvent()
	}
}

func (s *Synchronizer) closeProfileWatch() {
	if s.unwatch != nil {
		s.unwatch()
		s.unwatch = nil
	}
}

// publish は状態を更新し、Watchの購読者へ最新の状態を届ける。
func (s *Synchronizer) publish(state State, view View) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state != s.state && s.metrics != nil {
		s.metrics.RecordAuthTransition(state.String())
	}
	s.state = state
	s.view = view

	for _, ch := range s.watchers {
		select {
		case ch <- view:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- view
		}
	}
}

func (s *Synchronizer) teardown(cancel context.CancelFunc) {
	s.closeProfileWatch()
	cancel()
	s.creators.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, ch := range s.watchers {
		delete(s.watchers, id)
		close(ch)
	}
}
