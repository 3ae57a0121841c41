package authsync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/seqher/internal/model"
)

var (
	alice = &model.Identity{UID: "uid-alice", Email: "alice@example.com", DisplayName: "Alice"}
	bob   = &model.Identity{UID: "uid-bob", Email: "bob@example.com", DisplayName: "Bob"}
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// startSync はSynchronizerを起動し、テスト終了時に停止する。
func startSync(t *testing.T, opts Options) (*Synchronizer, <-chan error) {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = testLogger()
	}
	s := New(opts)
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	t.Cleanup(func() {
		s.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("Runが停止しませんでした")
		}
	})
	return s, done
}

// eventually は条件が満たされるまで待つ。
func eventually(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("タイムアウト: %s", msg)
}

// waitSubscribed はRunがidentityの購読を開始するまで待つ。
func waitSubscribed(t *testing.T, src *fakeIdentitySource) {
	t.Helper()
	eventually(t, "identityの購読開始", func() bool {
		sub, _ := src.counts()
		return sub == 1
	})
}

func profileOf(id *model.Identity, role model.Role) ProfileSnapshot {
	return ProfileSnapshot{Exists: true, Profile: &model.Profile{
		UID: id.UID, Email: id.Email, DisplayName: id.DisplayName, Role: role,
	}}
}

func TestNew_StartsInitializing(t *testing.T) {
	s := New(Options{})
	if s.State() != Initializing {
		t.Errorf("State() = %v, want initializing", s.State())
	}
	v := s.View()
	if !v.Loading || v.CurrentUser != nil {
		t.Errorf("View() = %+v, want loading with no user", v)
	}
	if s.IsAdmin() {
		t.Error("IsAdmin() should be false")
	}
}

func TestRun_UnconfiguredIdentityBackend(t *testing.T) {
	s, _ := startSync(t, Options{})

	eventually(t, "Unauthenticated", func() bool { return s.State() == Unauthenticated })
	v := s.View()
	if v.Loading || v.CurrentUser != nil {
		t.Errorf("View() = %+v, want not loading, nil user", v)
	}
	if err := s.SignOut(context.Background()); err != nil {
		t.Errorf("SignOut() = %v, want nil", err)
	}
}

func TestRun_SignInWithExistingAdminProfile(t *testing.T) {
	src := &fakeIdentitySource{}
	store := &fakeProfileStore{}
	s, _ := startSync(t, Options{Identity: src, Profiles: store})
	waitSubscribed(t, src)

	src.emit(alice)
	eventually(t, "Authenticated", func() bool { return s.State() == Authenticated })

	v := s.View()
	if !v.Loading {
		t.Error("初回のプロフィール通知までloadingであるべき")
	}
	if v.CurrentUser == nil || v.CurrentUser.UID != alice.UID || v.CurrentUser.Role != model.RoleUser {
		t.Errorf("待機中は最小ユーザーであるべき: got %+v", v.CurrentUser)
	}

	snap := profileOf(alice, model.RoleAdmin)
	snap.Profile.DisplayName = "Alice (staff)"
	store.latest(alice.UID).fn(snap, nil)

	eventually(t, "loading解除", func() bool { return !s.View().Loading })
	v = s.View()
	if !v.IsAdmin() || !s.IsAdmin() {
		t.Error("adminプロフィールならIsAdmin()はtrue")
	}
	if v.CurrentUser.DisplayName != "Alice (staff)" {
		t.Errorf("DisplayName = %q, プロフィールの値が優先されるべき", v.CurrentUser.DisplayName)
	}
	if len(store.createdProfiles()) != 0 {
		t.Error("既存プロフィールがある場合は作成しない")
	}
}

func TestRun_MissingProfileIsCreatedAsUser(t *testing.T) {
	src := &fakeIdentitySource{}
	store := &fakeProfileStore{}
	s, _ := startSync(t, Options{Identity: src, Profiles: store})
	waitSubscribed(t, src)

	src.emit(alice)
	eventually(t, "監視開始", func() bool { return store.latest(alice.UID) != nil })
	store.latest(alice.UID).fn(ProfileSnapshot{Exists: false}, nil)

	eventually(t, "loading解除", func() bool { return !s.View().Loading })

	created := store.createdProfiles()
	if len(created) != 1 {
		t.Fatalf("CreateProfile呼び出し回数 = %d, want 1", len(created))
	}
	if created[0].Role != model.RoleUser {
		t.Errorf("作成ロール = %q, want user", created[0].Role)
	}
	if created[0].UID != alice.UID || created[0].Email != alice.Email {
		t.Errorf("作成内容 = %+v", created[0])
	}
	if s.IsAdmin() {
		t.Error("新規ユーザーは管理者にならない")
	}
}

func TestRun_SynchronousInitialSnapshot(t *testing.T) {
	src := &fakeIdentitySource{}
	store := &fakeProfileStore{initial: map[string]ProfileSnapshot{
		alice.UID: profileOf(alice, model.RoleAdmin),
	}}
	s, _ := startSync(t, Options{Identity: src, Profiles: store})
	waitSubscribed(t, src)

	src.emit(alice)
	eventually(t, "管理者として認証", func() bool { return s.IsAdmin() && !s.View().Loading })
}

func TestRun_SwitchIdentityKeepsOneSubscription(t *testing.T) {
	src := &fakeIdentitySource{}
	store := &fakeProfileStore{}
	m := &fakeMetrics{}
	s, _ := startSync(t, Options{Identity: src, Profiles: store, Metrics: m})
	waitSubscribed(t, src)

	src.emit(alice)
	eventually(t, "aliceの監視", func() bool { return store.latest(alice.UID) != nil })
	aliceWatch := store.latest(alice.UID)
	aliceWatch.fn(profileOf(alice, model.RoleAdmin), nil)
	eventually(t, "alice admin", func() bool { return s.IsAdmin() })

	src.emit(bob)
	eventually(t, "bobの監視", func() bool { return store.latest(bob.UID) != nil })

	active := store.active()
	if len(active) != 1 || active[0].uid != bob.UID {
		t.Fatalf("有効な監視はbobの1件のみであるべき: %d件", len(active))
	}

	v := s.View()
	if v.CurrentUser.UID != bob.UID || !v.Loading {
		t.Errorf("切替直後はbobの最小ユーザーかつloading: got %+v loading=%v", v.CurrentUser, v.Loading)
	}
	if v.IsAdmin() {
		t.Error("前のidentityのロールを引き継いではならない")
	}

	// 旧identityの遅延通知は無視される
	aliceWatch.fn(profileOf(alice, model.RoleAdmin), nil)
	eventually(t, "古い通知の破棄", func() bool { return m.staleCount() == 1 })
	if s.IsAdmin() || s.View().CurrentUser.UID != bob.UID {
		t.Errorf("古い通知で状態が変わってはならない: %+v", s.View().CurrentUser)
	}

	store.latest(bob.UID).fn(profileOf(bob, model.RoleUser), nil)
	eventually(t, "bob loaded", func() bool { return !s.View().Loading })
	if s.View().CurrentUser.UID != bob.UID {
		t.Errorf("UID = %q, want bob", s.View().CurrentUser.UID)
	}
}

func TestRun_SignOutClearsUserAndSubscription(t *testing.T) {
	src := &fakeIdentitySource{}
	store := &fakeProfileStore{}
	m := &fakeMetrics{}
	s, _ := startSync(t, Options{Identity: src, Profiles: store, Metrics: m})
	waitSubscribed(t, src)

	src.emit(alice)
	eventually(t, "aliceの監視", func() bool { return store.latest(alice.UID) != nil })
	w := store.latest(alice.UID)
	w.fn(profileOf(alice, model.RoleAdmin), nil)
	eventually(t, "alice admin", func() bool { return s.IsAdmin() })

	src.emit(nil)
	eventually(t, "Unauthenticated", func() bool { return s.State() == Unauthenticated })

	v := s.View()
	if v.CurrentUser != nil || v.Loading || v.IsAdmin() {
		t.Errorf("サインアウト後の状態 = %+v", v)
	}
	if len(store.active()) != 0 {
		t.Error("サインアウト後に監視が残っている")
	}

	// サインアウト後のプロフィール通知は破棄される
	w.fn(profileOf(alice, model.RoleAdmin), nil)
	eventually(t, "古い通知の破棄", func() bool { return m.staleCount() == 1 })
	if s.View().CurrentUser != nil {
		t.Error("サインアウト後にユーザーが復活してはならない")
	}
}

func TestRun_WatchErrorDegradesToMinimalUser(t *testing.T) {
	src := &fakeIdentitySource{}
	store := &fakeProfileStore{}
	s, _ := startSync(t, Options{Identity: src, Profiles: store})
	waitSubscribed(t, src)

	src.emit(alice)
	eventually(t, "監視開始", func() bool { return store.latest(alice.UID) != nil })
	store.latest(alice.UID).fn(ProfileSnapshot{}, errors.New("permission denied"))

	eventually(t, "loading解除", func() bool { return !s.View().Loading })
	v := s.View()
	if v.CurrentUser == nil || v.CurrentUser.UID != alice.UID || v.CurrentUser.Role != model.RoleUser {
		t.Errorf("最小ユーザーに縮退するべき: %+v", v.CurrentUser)
	}
	if s.State() != Authenticated {
		t.Errorf("State() = %v, want authenticated", s.State())
	}
}

func TestRun_CreateErrorDegradesToMinimalUser(t *testing.T) {
	src := &fakeIdentitySource{}
	store := &fakeProfileStore{createErr: errors.New("write failed")}
	s, _ := startSync(t, Options{Identity: src, Profiles: store})
	waitSubscribed(t, src)

	src.emit(alice)
	eventually(t, "監視開始", func() bool { return store.latest(alice.UID) != nil })
	store.latest(alice.UID).fn(ProfileSnapshot{Exists: false}, nil)

	eventually(t, "loading解除", func() bool { return !s.View().Loading })
	if got := s.View().CurrentUser; got == nil || got.Role != model.RoleUser {
		t.Errorf("最小ユーザーに縮退するべき: %+v", got)
	}
}

// lockedBuffer は並行して書き込まれるログを読むためのバッファ。
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRun_IdentityGoneDuringCreateLogsWarning(t *testing.T) {
	logs := &lockedBuffer{}
	logger := slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	src := &fakeIdentitySource{}
	store := &fakeProfileStore{createErr: fmt.Errorf("failed to create profile: %w", ErrIdentityGone)}
	s, _ := startSync(t, Options{Identity: src, Profiles: store, Logger: logger})
	waitSubscribed(t, src)

	src.emit(alice)
	eventually(t, "監視開始", func() bool { return store.latest(alice.UID) != nil })
	store.latest(alice.UID).fn(ProfileSnapshot{Exists: false}, nil)

	eventually(t, "警告ログ", func() bool {
		out := logs.String()
		return strings.Contains(out, `"level":"WARN"`) && strings.Contains(out, "identityが削除された")
	})
	if strings.Contains(logs.String(), `"level":"ERROR"`) {
		t.Errorf("identity削除はエラーとして記録しない: %s", logs.String())
	}
	if v := s.View(); !v.Loading {
		t.Errorf("最小ユーザーへ縮退させず、サインアウト通知を待つべき: %+v", v)
	}

	src.emit(nil)
	eventually(t, "サインアウト", func() bool { return s.State() == Unauthenticated })
	if s.View().CurrentUser != nil {
		t.Error("サインアウト後はユーザーなし")
	}
}

func TestRun_NoProfileStoreUsesMinimalUser(t *testing.T) {
	src := &fakeIdentitySource{}
	s, _ := startSync(t, Options{Identity: src})
	waitSubscribed(t, src)

	src.emit(alice)
	eventually(t, "Authenticated", func() bool { return s.State() == Authenticated })
	v := s.View()
	if v.Loading || v.CurrentUser == nil || v.CurrentUser.UID != alice.UID {
		t.Errorf("View() = %+v", v)
	}
}

func TestSignOut_DelegatesWithoutClearingUser(t *testing.T) {
	src := &fakeIdentitySource{}
	store := &fakeProfileStore{}
	s, _ := startSync(t, Options{Identity: src, Profiles: store})
	waitSubscribed(t, src)

	src.emit(alice)
	eventually(t, "Authenticated", func() bool { return s.State() == Authenticated })

	if err := s.SignOut(context.Background()); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if src.signOuts != 1 {
		t.Errorf("SignOut呼び出し回数 = %d, want 1", src.signOuts)
	}
	if s.View().CurrentUser == nil {
		t.Error("バックエンドの通知前にユーザーを消してはならない")
	}

	src.signOutErr = errors.New("network")
	if err := s.SignOut(context.Background()); err == nil {
		t.Error("バックエンドのエラーは返すべき")
	}
}

func TestClose_ReleasesAllSubscriptions(t *testing.T) {
	src := &fakeIdentitySource{}
	store := &fakeProfileStore{}
	s := New(Options{Identity: src, Profiles: store, Logger: testLogger()})
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	waitSubscribed(t, src)

	ch, _ := s.Watch()

	src.emit(alice)
	eventually(t, "監視開始", func() bool { return store.latest(alice.UID) != nil })

	s.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Closeで停止しませんでした")
	}

	if _, unsub := src.counts(); unsub != 1 {
		t.Errorf("identityの購読解除回数 = %d, want 1", unsub)
	}
	if len(store.active()) != 0 {
		t.Error("プロフィールの監視が残っている")
	}

	// Watchチャネルは停止時に閉じられる
	for range ch {
	}
}

func TestRun_ContextCancelStops(t *testing.T) {
	s := New(Options{Logger: testLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ctxキャンセルで停止しませんでした")
	}
}

func TestRun_TwiceReturnsError(t *testing.T) {
	s, _ := startSync(t, Options{})
	eventually(t, "起動", func() bool { return s.State() == Unauthenticated })

	if err := s.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Run() = %v, want ErrAlreadyRunning", err)
	}
}

func TestWatch_DeliversLatestView(t *testing.T) {
	src := &fakeIdentitySource{}
	store := &fakeProfileStore{}
	s, _ := startSync(t, Options{Identity: src, Profiles: store})
	waitSubscribed(t, src)

	ch, cancel := s.Watch()
	defer cancel()

	src.emit(alice)
	eventually(t, "監視開始", func() bool { return store.latest(alice.UID) != nil })
	store.latest(alice.UID).fn(profileOf(alice, model.RoleAdmin), nil)
	eventually(t, "admin", func() bool { return s.IsAdmin() })

	// 読み遅れても最新の状態だけが残る
	v := <-ch
	if !v.IsAdmin() || v.Loading {
		t.Errorf("最新の状態が届くべき: %+v", v)
	}
}

func TestRun_RecordsTransitions(t *testing.T) {
	src := &fakeIdentitySource{}
	m := &fakeMetrics{}
	s, _ := startSync(t, Options{Identity: src, Metrics: m})
	waitSubscribed(t, src)

	src.emit(alice)
	eventually(t, "Authenticated", func() bool { return s.State() == Authenticated })
	src.emit(nil)
	eventually(t, "Unauthenticated", func() bool { return s.State() == Unauthenticated })

	m.mu.Lock()
	defer m.mu.Unlock()
	want := []string{"authenticated", "unauthenticated"}
	if len(m.transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", m.transitions, want)
	}
	for i := range want {
		if m.transitions[i] != want[i] {
			t.Errorf("transitions[%d] = %q, want %q", i, m.transitions[i], want[i])
		}
	}
}
