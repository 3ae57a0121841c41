// Package blog はブログ記事の管理と外部フィードからの取り込みを提供する。
package blog

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/seqher/internal/model"
	"github.com/hitoshi/seqher/internal/repository"
)

// 入力検証の下限値。
const (
	MinTitleLength   = 5
	MinContentLength = 50
	MinSlugLength    = 5

	maxTitleLength = 200
	maxSlugLength  = 120

	// DefaultListLimit は一覧取得の既定件数。
	DefaultListLimit = 50
	maxListLimit     = 200
)

var slugPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// Sanitizer は記事本文とタイトルのサニタイズを抽象化する。
type Sanitizer interface {
	Sanitize(rawHTML string) string
	StripTags(raw string) string
}

// PostInput は記事の作成・更新リクエスト。
type PostInput struct {
	Title   string
	Slug    string
	Content string
	ImageID string
}

// Service はブログ記事のユースケースを提供する。
type Service struct {
	repo      repository.PostRepository
	sanitizer Sanitizer
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(repo repository.PostRepository, sanitizer Sanitizer) *Service {
	return &Service{
		repo:      repo,
		sanitizer: sanitizer,
		now:       time.Now,
	}
}

// Validate は記事入力を検証し、正規化した値を返す。
// 本文はサニタイズ後の長さで判定する。
func (s *Service) Validate(in PostInput) (PostInput, error) {
	return validatePost(s.sanitizer, in)
}

func validatePost(sanitizer Sanitizer, in PostInput) (PostInput, error) {
	out := PostInput{
		Title:   sanitizer.StripTags(in.Title),
		Slug:    strings.TrimSpace(in.Slug),
		Content: sanitizer.Sanitize(in.Content),
		ImageID: strings.TrimSpace(in.ImageID),
	}

	if n := utf8.RuneCountInString(out.Title); n < MinTitleLength {
		return PostInput{}, model.NewValidationError("title", fmt.Sprintf("%d文字以上で入力してください", MinTitleLength))
	} else if n > maxTitleLength {
		return PostInput{}, model.NewValidationError("title", fmt.Sprintf("%d文字以内で入力してください", maxTitleLength))
	}

	if n := len(out.Slug); n < MinSlugLength || n > maxSlugLength {
		return PostInput{}, model.NewValidationError("slug", fmt.Sprintf("%d〜%d文字で入力してください", MinSlugLength, maxSlugLength))
	}
	if !slugPattern.MatchString(out.Slug) {
		return PostInput{}, model.NewValidationError("slug", "英小文字・数字・ハイフンのみ使用できます")
	}

	if utf8.RuneCountInString(out.Content) < MinContentLength {
		return PostInput{}, model.NewValidationError("content", fmt.Sprintf("%d文字以上で入力してください", MinContentLength))
	}

	if out.ImageID == "" {
		out.ImageID = model.DefaultPostImageID
	}
	return out, nil
}

// Create は記事を作成する。著者は操作した管理者になる。
func (s *Service) Create(ctx context.Context, author *model.AppUser, in PostInput) (*model.Post, error) {
	if author == nil {
		return nil, model.NewUnauthorizedError()
	}
	valid, err := s.Validate(in)
	if err != nil {
		return nil, err
	}

	now := s.now()
	post := &model.Post{
		ID:        uuid.NewString(),
		Title:     valid.Title,
		Slug:      valid.Slug,
		Content:   valid.Content,
		ImageID:   valid.ImageID,
		Author:    authorName(author),
		AuthorID:  author.UID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, post); err != nil {
		if errors.Is(err, repository.ErrDuplicateSlug) {
			return nil, model.NewDuplicateSlugError(valid.Slug)
		}
		return nil, fmt.Errorf("create post: %w", err)
	}
	return post, nil
}

// Update は既存記事のタイトル・slug・本文・画像を置き換える。
func (s *Service) Update(ctx context.Context, id string, in PostInput) (*model.Post, error) {
	valid, err := s.Validate(in)
	if err != nil {
		return nil, err
	}

	post, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find post: %w", err)
	}
	if post == nil {
		return nil, model.NewPostNotFoundError(id)
	}

	post.Title = valid.Title
	post.Slug = valid.Slug
	post.Content = valid.Content
	post.ImageID = valid.ImageID
	post.UpdatedAt = s.now()

	if err := s.repo.Update(ctx, post); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateSlug):
			return nil, model.NewDuplicateSlugError(valid.Slug)
		case errors.Is(err, repository.ErrNotFound):
			return nil, model.NewPostNotFoundError(id)
		}
		return nil, fmt.Errorf("update post: %w", err)
	}
	return post, nil
}

// Delete は記事を削除する。
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewPostNotFoundError(id)
		}
		return fmt.Errorf("delete post: %w", err)
	}
	return nil
}

// List は新しい順に記事を返す。limitが範囲外の場合は既定値に丸める。
func (s *Service) List(ctx context.Context, limit int) ([]*model.Post, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	posts, err := s.repo.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	if posts == nil {
		posts = []*model.Post{}
	}
	return posts, nil
}

// GetBySlug は公開ページ用に記事をslugで取得する。
func (s *Service) GetBySlug(ctx context.Context, slug string) (*model.Post, error) {
	post, err := s.repo.FindBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("find post: %w", err)
	}
	if post == nil {
		return nil, model.NewPostNotFoundError(slug)
	}
	return post, nil
}

// GetByID は管理画面用に記事をIDで取得する。
func (s *Service) GetByID(ctx context.Context, id string) (*model.Post, error) {
	post, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find post: %w", err)
	}
	if post == nil {
		return nil, model.NewPostNotFoundError(id)
	}
	return post, nil
}

func authorName(u *model.AppUser) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Email
}
