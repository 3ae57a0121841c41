package handler

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/seqher/internal/appointment"
	"github.com/hitoshi/seqher/internal/auth"
	"github.com/hitoshi/seqher/internal/authsync"
	"github.com/hitoshi/seqher/internal/blog"
	"github.com/hitoshi/seqher/internal/donation"
	"github.com/hitoshi/seqher/internal/model"
)

var (
	testMember = &model.AppUser{UID: "uid-member", Email: "m@example.org", DisplayName: "Member", Role: model.RoleUser}
	testAdmin  = &model.AppUser{UID: "uid-admin", Email: "a@example.org", DisplayName: "Admin", Role: model.RoleAdmin}
)

// --- 認証 ---

type mockAuthService struct {
	getLoginURLFn    func(state string) string
	handleCallbackFn func(ctx context.Context, code string) (*model.Session, error)
	logoutFn         func(ctx context.Context, sessionID string) error
	getCurrentUserFn func(ctx context.Context, sessionID string) (*model.AppUser, error)
}

func (m *mockAuthService) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return "https://accounts.example.com/auth?state=" + state
}

func (m *mockAuthService) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, code)
	}
	return &model.Session{ID: "new-session", UserID: "uid-member", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) GetCurrentUser(ctx context.Context, sessionID string) (*model.AppUser, error) {
	if m.getCurrentUserFn != nil {
		return m.getCurrentUserFn(ctx, sessionID)
	}
	switch sessionID {
	case "s-member":
		return testMember, nil
	case "s-admin":
		return testAdmin, nil
	}
	return nil, auth.ErrSessionNotFound
}

// fakeSessions はauth.SessionResolverのテスト用実装。
type fakeSessions struct {
	mu         sync.Mutex
	identities map[string]*model.Identity
	loggedOut  []string
}

func (f *fakeSessions) ResolveSession(ctx context.Context, sessionID string) (*model.Session, *model.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	identity, ok := f.identities[sessionID]
	if !ok {
		return nil, nil, nil
	}
	return &model.Session{ID: sessionID, UserID: identity.UID, ExpiresAt: time.Now().Add(time.Hour)}, identity, nil
}

func (f *fakeSessions) Logout(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.identities, sessionID)
	f.loggedOut = append(f.loggedOut, sessionID)
	return nil
}

// fakeProfiles はauthsync.ProfileStoreのテスト用実装。監視開始時に現在値を通知する。
type fakeProfiles struct {
	mu       sync.Mutex
	profiles map[string]*model.Profile
	created  []string
}

func (f *fakeProfiles) WatchProfile(uid string, fn func(authsync.ProfileSnapshot, error)) func() {
	f.mu.Lock()
	p, ok := f.profiles[uid]
	f.mu.Unlock()
	fn(authsync.ProfileSnapshot{Profile: p, Exists: ok}, nil)
	return func() {}
}

func (f *fakeProfiles) CreateProfile(ctx context.Context, p *model.Profile) (*model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.profiles[p.UID]; ok {
		return existing, nil
	}
	f.profiles[p.UID] = p
	f.created = append(f.created, p.UID)
	return p, nil
}

type mockStreamMetrics struct {
	mu          sync.Mutex
	opened      int
	closed      int
	transitions []string
}

func (m *mockStreamMetrics) RecordAuthTransition(to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, to)
}
func (m *mockStreamMetrics) RecordStaleProfileEvent() {}
func (m *mockStreamMetrics) AuthStreamOpened() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened++
}
func (m *mockStreamMetrics) AuthStreamClosed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
}

func (m *mockStreamMetrics) counts() (opened, closed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened, m.closed
}

// --- 寄付 ---

type mockWebhookService struct {
	result  donation.Result
	err     error
	payload []byte
	header  string
}

func (m *mockWebhookService) HandleEvent(ctx context.Context, payload []byte, signatureHeader string) (donation.Result, error) {
	m.payload = payload
	m.header = signatureHeader
	return m.result, m.err
}

type mockPledgeService struct {
	createFn func(ctx context.Context, in donation.PledgeInput) (*model.Pledge, error)
	pledges  []*model.Pledge
}

func (m *mockPledgeService) Create(ctx context.Context, in donation.PledgeInput) (*model.Pledge, error) {
	if m.createFn != nil {
		return m.createFn(ctx, in)
	}
	return &model.Pledge{ID: "pledge-1", Name: in.Name, Email: in.Email, Amount: in.Amount, CreatedAt: time.Now()}, nil
}

func (m *mockPledgeService) List(ctx context.Context, limit int) ([]*model.Pledge, error) {
	return m.pledges, nil
}

type mockDonationLister struct {
	donations []*model.Donation
	limit     int
}

func (m *mockDonationLister) List(ctx context.Context, limit int) ([]*model.Donation, error) {
	m.limit = limit
	return m.donations, nil
}

// --- ブログ ---

type mockPostService struct {
	posts    map[string]*model.Post // slug → post
	createFn func(ctx context.Context, author *model.AppUser, in blog.PostInput) (*model.Post, error)
	deleted  []string
}

func newMockPostService(posts ...*model.Post) *mockPostService {
	m := &mockPostService{posts: make(map[string]*model.Post)}
	for _, p := range posts {
		m.posts[p.Slug] = p
	}
	return m
}

func (m *mockPostService) Create(ctx context.Context, author *model.AppUser, in blog.PostInput) (*model.Post, error) {
	if m.createFn != nil {
		return m.createFn(ctx, author, in)
	}
	p := &model.Post{ID: "post-new", Title: in.Title, Slug: in.Slug, Content: in.Content, Author: author.DisplayName}
	m.posts[p.Slug] = p
	return p, nil
}

func (m *mockPostService) Update(ctx context.Context, id string, in blog.PostInput) (*model.Post, error) {
	p, err := m.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Title = in.Title
	return p, nil
}

func (m *mockPostService) Delete(ctx context.Context, id string) error {
	if _, err := m.GetByID(ctx, id); err != nil {
		return err
	}
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockPostService) List(ctx context.Context, limit int) ([]*model.Post, error) {
	list := make([]*model.Post, 0, len(m.posts))
	for _, p := range m.posts {
		list = append(list, p)
	}
	return list, nil
}

func (m *mockPostService) GetBySlug(ctx context.Context, slug string) (*model.Post, error) {
	if p, ok := m.posts[slug]; ok {
		return p, nil
	}
	return nil, model.NewPostNotFoundError(slug)
}

func (m *mockPostService) GetByID(ctx context.Context, id string) (*model.Post, error) {
	for _, p := range m.posts {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, model.NewPostNotFoundError(id)
}

type mockImporter struct {
	result *blog.ImportResult
	err    error
	url    string
}

func (m *mockImporter) Import(ctx context.Context, rawURL string) (*blog.ImportResult, error) {
	m.url = rawURL
	return m.result, m.err
}

// --- 予約・ユーザー ---

type mockAppointmentService struct {
	created []*model.Appointment
}

func (m *mockAppointmentService) Create(ctx context.Context, user *model.AppUser, in appointment.Input) (*model.Appointment, error) {
	if user == nil {
		return nil, model.NewUnauthorizedError()
	}
	if in.Topic == "" {
		return nil, model.NewValidationError("topic", "相談内容を入力してください")
	}
	a := &model.Appointment{ID: "appt-1", UserID: user.UID, Email: user.Email, Topic: in.Topic, PreferredAt: in.PreferredAt, Status: model.AppointmentRequested}
	m.created = append(m.created, a)
	return a, nil
}

func (m *mockAppointmentService) List(ctx context.Context, limit int) ([]*model.Appointment, error) {
	return m.created, nil
}

func (m *mockAppointmentService) ListMine(ctx context.Context, user *model.AppUser) ([]*model.Appointment, error) {
	var mine []*model.Appointment
	for _, a := range m.created {
		if a.UserID == user.UID {
			mine = append(mine, a)
		}
	}
	return mine, nil
}

type mockUserService struct {
	withdrawn []string
}

func (m *mockUserService) Withdraw(ctx context.Context, userID string) error {
	m.withdrawn = append(m.withdrawn, userID)
	return nil
}

// fakeFeed はauth.Subscriberのテスト用実装。notifyで変更通知を模擬する。
type fakeFeed struct {
	mu   sync.Mutex
	subs map[string][]func()
}

func (f *fakeFeed) Subscribe(channel, key string, fn func()) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[string][]func())
	}
	f.subs[channel+"/"+key] = append(f.subs[channel+"/"+key], fn)
	return func() {}, nil
}

func (f *fakeFeed) notify(channel, key string) {
	f.mu.Lock()
	fns := append([]func(){}, f.subs[channel+"/"+key]...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
