// Package blogimport は外部ブログフィードの定期取り込みを提供する。
// 失敗したフィードは指数バックオフで次回の取り込みを遅らせる。
package blogimport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/seqher/internal/blog"
)

// Importer は1つのURLから記事を取り込む。*blog.Importer が満たす。
type Importer interface {
	Import(ctx context.Context, rawURL string) (*blog.ImportResult, error)
}

// Scheduler は設定されたフィードURL群を定期的に取り込む。
// semaphoreパターンで最大並列数を制御する。
type Scheduler struct {
	importer       Importer
	feedURLs       []string
	logger         *slog.Logger
	maxConcurrency int
	now            func() time.Time

	mu     sync.Mutex
	states map[string]*feedState
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値4を使用する。
func NewScheduler(importer Importer, feedURLs []string, logger *slog.Logger, maxConcurrency int) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	states := make(map[string]*feedState, len(feedURLs))
	for _, u := range feedURLs {
		states[u] = &feedState{}
	}
	return &Scheduler{
		importer:       importer,
		feedURLs:       feedURLs,
		logger:         logger,
		maxConcurrency: maxConcurrency,
		now:            time.Now,
		states:         states,
	}
}

// Start はティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("ブログ取り込みスケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("feed_count", len(s.feedURLs)),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	// 起動直後に1回実行
	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("ブログ取り込みスケジューラを停止しました")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce はバックオフ中でないフィードを並列に取り込み、取り込んだフィード数を返す。
func (s *Scheduler) RunOnce(ctx context.Context) int {
	start := s.now()
	due := s.dueFeeds(start)
	if len(due) == 0 {
		s.logger.Info("取り込み対象のフィードはありません")
		return 0
	}

	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, feedURL := range due {
		wg.Add(1)
		sem <- struct{}{}

		go func(u string) {
			defer wg.Done()
			defer func() { <-sem }()
			s.importOne(ctx, u)
		}(feedURL)
	}

	wg.Wait()

	s.logger.Info("ブログ取り込みサイクルが完了しました",
		slog.Int("feed_count", len(due)),
		slog.Float64("duration_ms", float64(s.now().Sub(start).Milliseconds())),
	)
	return len(due)
}

func (s *Scheduler) dueFeeds(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []string
	for _, u := range s.feedURLs {
		if s.states[u].due(now) {
			due = append(due, u)
		}
	}
	return due
}

func (s *Scheduler) importOne(ctx context.Context, feedURL string) {
	result, err := s.importer.Import(ctx, feedURL)

	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.states[feedURL]
	if err != nil {
		delay := state.recordFailure(s.now())
		s.logger.Error("ブログ記事の取り込みに失敗しました",
			slog.String("feed_url", feedURL),
			slog.Int("consecutive_errors", state.consecutiveErrors),
			slog.Duration("retry_after", delay),
			slog.String("error", err.Error()),
		)
		return
	}
	state.recordSuccess()
	s.logger.Debug("フィードを取り込みました",
		slog.String("feed_url", feedURL),
		slog.Int("created", result.Created),
		slog.Int("updated", result.Updated),
	)
}
