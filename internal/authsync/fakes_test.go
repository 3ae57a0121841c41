package authsync

import (
	"context"
	"sync"

	"github.com/hitoshi/seqher/internal/model"
)

// fakeIdentitySource はIdentitySourceのテスト用実装。
type fakeIdentitySource struct {
	mu           sync.Mutex
	fn           func(*model.Identity)
	subscribed   int
	unsubscribed int
	signOuts     int
	signOutErr   error
}

func (f *fakeIdentitySource) OnAuthStateChanged(fn func(*model.Identity)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fn = fn
	f.subscribed++
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.unsubscribed++
		f.fn = nil
	}
}

func (f *fakeIdentitySource) SignOut(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOuts++
	return f.signOutErr
}

func (f *fakeIdentitySource) emit(identity *model.Identity) {
	f.mu.Lock()
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		fn(identity)
	}
}

func (f *fakeIdentitySource) counts() (subscribed, unsubscribed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribed, f.unsubscribed
}

// watch はfakeProfileStore上の1件の監視。
type watch struct {
	uid    string
	fn     func(ProfileSnapshot, error)
	closed bool
}

// fakeProfileStore はProfileStoreのテスト用実装。
// 監視の開閉と作成要求を記録し、テストから任意の通知を送れる。
type fakeProfileStore struct {
	mu        sync.Mutex
	watches   []*watch
	created   []*model.Profile
	createErr error
	// initial が設定されている場合、WatchProfile内で同期的に初回通知を行う
	initial map[string]ProfileSnapshot
}

func (f *fakeProfileStore) WatchProfile(uid string, fn func(ProfileSnapshot, error)) func() {
	f.mu.Lock()
	w := &watch{uid: uid, fn: fn}
	f.watches = append(f.watches, w)
	snap, hasInitial := f.initial[uid]
	f.mu.Unlock()

	if hasInitial {
		fn(snap, nil)
	}
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		w.closed = true
	}
}

func (f *fakeProfileStore) CreateProfile(ctx context.Context, p *model.Profile) (*model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.created = append(f.created, &cp)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &cp, nil
}

// active は閉じられていない監視の一覧を返す。
func (f *fakeProfileStore) active() []*watch {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*watch
	for _, w := range f.watches {
		if !w.closed {
			out = append(out, w)
		}
	}
	return out
}

// latest はuidに対する最新の監視を返す。
func (f *fakeProfileStore) latest(uid string) *watch {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.watches) - 1; i >= 0; i-- {
		if f.watches[i].uid == uid {
			return f.watches[i]
		}
	}
	return nil
}

func (f *fakeProfileStore) createdProfiles() []*model.Profile {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.Profile(nil), f.created...)
}

// fakeMetrics はMetricsのテスト用実装。
type fakeMetrics struct {
	mu          sync.Mutex
	transitions []string
	stale       int
}

func (m *fakeMetrics) RecordAuthTransition(to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, to)
}

func (m *fakeMetrics) RecordStaleProfileEvent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stale++
}

func (m *fakeMetrics) staleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stale
}
