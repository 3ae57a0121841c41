package blog

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/seqher/internal/model"
	"github.com/hitoshi/seqher/internal/repository"
	"github.com/hitoshi/seqher/internal/security"
)

const (
	defaultImportTimeout = 10 * time.Second
	defaultMaxImportBody = 5 * 1024 * 1024
	maxImportItems       = 50
	maxImportSlugLen     = 80
	importUserAgent      = "seqher-blog-importer/1.0"
)

// URLGuard はSSRF対策付きの取得処理を抽象化する。
type URLGuard interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration) *http.Client
}

// ImportMetrics は取り込み件数の記録先。
type ImportMetrics interface {
	RecordPostsImported(n int)
}

// ImportResult は1回の取り込み結果。
type ImportResult struct {
	FeedURL string `json:"feedUrl"`
	Created int    `json:"created"`
	Updated int    `json:"updated"`
	Skipped int    `json:"skipped"`
}

// ImportConfig は取得時のタイムアウトとレスポンスサイズ上限。ゼロ値は既定値になる。
type ImportConfig struct {
	Timeout     time.Duration
	MaxBodySize int64
}

// Importer は外部サイトのRSS/Atomフィードから記事を取り込む。
type Importer struct {
	maxBody   int64
	repo      repository.PostRepository
	sanitizer Sanitizer
	guard     URLGuard
	client    *http.Client
	metrics   ImportMetrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewImporter はImporterを生成する。metricsが型なしのnilなら記録しない。
func NewImporter(repo repository.PostRepository, sanitizer Sanitizer, guard URLGuard, cfg ImportConfig, metrics ImportMetrics, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultImportTimeout
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultMaxImportBody
	}
	return &Importer{
		maxBody:   cfg.MaxBodySize,
		repo:      repo,
		sanitizer: sanitizer,
		guard:     guard,
		client:    guard.NewSafeClient(cfg.Timeout),
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// Import はURLを取得し、フィードであればそのまま、HTMLであれば
// <link rel="alternate"> からフィードを検出して記事をslug単位でUPSERTする。
// 検証を通らない記事と、手書き記事とslugが衝突する記事はスキップする。
func (im *Importer) Import(ctx context.Context, rawURL string) (*ImportResult, error) {
	rawURL = strings.TrimSpace(rawURL)
	if err := im.validate(rawURL); err != nil {
		return nil, err
	}

	contentType, body, err := im.fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	feedURL := rawURL
	if !IsFeedResponse(contentType, body) {
		if !IsHTMLResponse(contentType) {
			return nil, model.NewFeedNotDetectedError(rawURL)
		}
		link, ok := SelectFeed(FeedLinksFromHTML(body, rawURL), rawURL)
		if !ok {
			return nil, model.NewFeedNotDetectedError(rawURL)
		}
		feedURL = link.URL
		if err := im.validate(feedURL); err != nil {
			return nil, err
		}
		if _, body, err = im.fetch(ctx, feedURL); err != nil {
			return nil, err
		}
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, model.NewImportFailedError(fmt.Sprintf("フィードの解析に失敗: %v", err))
	}

	result := &ImportResult{FeedURL: feedURL}
	items := feed.Items
	if len(items) > maxImportItems {
		items = items[:maxImportItems]
	}
	for _, item := range items {
		post, ok := im.postFromItem(feed, item)
		if !ok {
			result.Skipped++
			continue
		}
		inserted, err := im.repo.UpsertBySlug(ctx, post)
		if errors.Is(err, repository.ErrDuplicateSlug) {
			im.logger.Warn("slugが既存記事と衝突したため取り込みをスキップしました",
				slog.String("slug", post.Slug),
				slog.String("source_url", post.SourceURL),
			)
			result.Skipped++
			continue
		}
		if err != nil {
			return result, fmt.Errorf("upsert imported post: %w", err)
		}
		if inserted {
			result.Created++
		} else {
			result.Updated++
		}
	}

	if im.metrics != nil {
		im.metrics.RecordPostsImported(result.Created + result.Updated)
	}
	im.logger.Info("ブログ記事を取り込みました",
		slog.String("feed_url", feedURL),
		slog.Int("created", result.Created),
		slog.Int("updated", result.Updated),
		slog.Int("skipped", result.Skipped),
	)
	return result, nil
}

func (im *Importer) validate(rawURL string) error {
	err := im.guard.ValidateURL(rawURL)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, security.ErrBlockedDestination):
		return model.NewSSRFBlockedError()
	default:
		return model.NewInvalidURLError(err.Error())
	}
}

func (im *Importer) fetch(ctx context.Context, rawURL string) (string, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", nil, model.NewInvalidURLError(err.Error())
	}
	req.Header.Set("User-Agent", importUserAgent)
	req.Header.Set("Accept", "application/atom+xml, application/rss+xml, application/xml, text/xml, text/html;q=0.9, */*;q=0.1")

	resp, err := im.client.Do(req)
	if err != nil {
		return "", nil, model.NewImportFailedError(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", nil, model.NewImportFailedError(fmt.Sprintf("HTTP %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, im.maxBody))
	if err != nil {
		return "", nil, model.NewImportFailedError(fmt.Sprintf("レスポンスの読み取りに失敗: %v", err))
	}
	return resp.Header.Get("Content-Type"), body, nil
}

// postFromItem はフィード項目を記事に変換する。元記事URLのない項目は扱わない。
func (im *Importer) postFromItem(feed *gofeed.Feed, item *gofeed.Item) (*model.Post, bool) {
	if item == nil {
		return nil, false
	}
	link := strings.TrimSpace(item.Link)
	if link == "" && isHTTPURL(item.GUID) {
		link = item.GUID
	}
	if link == "" {
		return nil, false
	}

	content := item.Content
	if content == "" {
		content = item.Description
	}
	title := im.sanitizer.StripTags(item.Title)

	valid, err := validatePost(im.sanitizer, PostInput{
		Title:   title,
		Slug:    slugForItem(title, link),
		Content: content,
	})
	if err != nil {
		im.logger.Debug("取り込み対象外の記事をスキップしました",
			slog.String("link", link),
			slog.String("reason", err.Error()),
		)
		return nil, false
	}

	now := im.now()
	created := now
	if item.PublishedParsed != nil {
		created = *item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		created = *item.UpdatedParsed
	}

	author := feed.Title
	if item.Author != nil && item.Author.Name != "" {
		author = item.Author.Name
	} else if len(item.Authors) > 0 && item.Authors[0] != nil && item.Authors[0].Name != "" {
		author = item.Authors[0].Name
	}

	return &model.Post{
		ID:        uuid.NewString(),
		Title:     valid.Title,
		Slug:      valid.Slug,
		Content:   valid.Content,
		ImageID:   valid.ImageID,
		Author:    im.sanitizer.StripTags(author),
		SourceURL: link,
		CreatedAt: created,
		UpdatedAt: now,
	}, true
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// slugForItem はタイトルからslugを作る。英数字が足りない場合は元記事URLの末尾、
// それも使えなければURLのハッシュを使う。
func slugForItem(title, link string) string {
	if s := Slugify(title); len(s) >= MinSlugLength {
		return s
	}
	if u, err := url.Parse(link); err == nil {
		if s := Slugify(path.Base(strings.TrimSuffix(u.Path, "/"))); len(s) >= MinSlugLength {
			return s
		}
	}
	sum := sha1.Sum([]byte(link))
	return "post-" + hex.EncodeToString(sum[:6])
}

// Slugify は英数字以外をハイフンに置き換えた小文字のslugを返す。
func Slugify(s string) string {
	var b strings.Builder
	hyphen := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			hyphen = false
		case b.Len() > 0 && !hyphen:
			b.WriteByte('-')
			hyphen = true
		}
		if b.Len() >= maxImportSlugLen {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}
