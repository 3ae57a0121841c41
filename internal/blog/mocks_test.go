package blog

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/seqher/internal/model"
	"github.com/hitoshi/seqher/internal/repository"
)

// memPostRepo はslug一意制約を模したインメモリのPostRepository。
type memPostRepo struct {
	mu     sync.Mutex
	posts  map[string]*model.Post // id -> post
	err    error
	upsert int
}

func newMemPostRepo() *memPostRepo {
	return &memPostRepo{posts: make(map[string]*model.Post)}
}

func (r *memPostRepo) bySlug(slug string) *model.Post {
	for _, p := range r.posts {
		if p.Slug == slug {
			return p
		}
	}
	return nil
}

func (r *memPostRepo) FindByID(_ context.Context, id string) (*model.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	if p, ok := r.posts[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (r *memPostRepo) FindBySlug(_ context.Context, slug string) (*model.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	if p := r.bySlug(slug); p != nil {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (r *memPostRepo) List(_ context.Context, limit int) ([]*model.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	var out []*model.Post
	for _, p := range r.posts {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memPostRepo) Create(_ context.Context, p *model.Post) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if r.bySlug(p.Slug) != nil {
		return repository.ErrDuplicateSlug
	}
	cp := *p
	r.posts[p.ID] = &cp
	return nil
}

func (r *memPostRepo) Update(_ context.Context, p *model.Post) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if _, ok := r.posts[p.ID]; !ok {
		return repository.ErrNotFound
	}
	if other := r.bySlug(p.Slug); other != nil && other.ID != p.ID {
		return repository.ErrDuplicateSlug
	}
	cp := *p
	r.posts[p.ID] = &cp
	return nil
}

func (r *memPostRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if _, ok := r.posts[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.posts, id)
	return nil
}

func (r *memPostRepo) UpsertBySlug(_ context.Context, p *model.Post) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	r.upsert++
	existing := r.bySlug(p.Slug)
	if existing == nil {
		cp := *p
		r.posts[p.ID] = &cp
		return true, nil
	}
	if existing.SourceURL != p.SourceURL {
		return false, repository.ErrDuplicateSlug
	}
	existing.Title = p.Title
	existing.Content = p.Content
	existing.ImageID = p.ImageID
	existing.UpdatedAt = p.UpdatedAt
	return false, nil
}

var _ repository.PostRepository = (*memPostRepo)(nil)

// mockGuard はhttptestサーバーへの接続を許可するURLGuard。
type mockGuard struct {
	validateFunc func(rawURL string) error
}

func (g *mockGuard) ValidateURL(rawURL string) error {
	if g.validateFunc != nil {
		return g.validateFunc(rawURL)
	}
	return nil
}

func (g *mockGuard) NewSafeClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

type mockImportMetrics struct {
	mu    sync.Mutex
	total int
	calls int
}

func (m *mockImportMetrics) RecordPostsImported(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total += n
	m.calls++
}
