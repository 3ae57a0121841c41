package blogimport

import "time"

const (
	// initialBackoff は取り込み失敗後の初回待機時間（30分）。
	initialBackoff = 30 * time.Minute
	// maxBackoff は待機時間の上限（12時間）。
	maxBackoff = 12 * time.Hour
)

// CalculateBackoff は連続失敗回数に基づいて指数バックオフ遅延を計算する。
// 初回30分、2倍ずつ増加、最大12時間。
func CalculateBackoff(consecutiveErrors int) time.Duration {
	delay := initialBackoff
	for i := 1; i < consecutiveErrors; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// feedState はフィードごとの失敗状況。
type feedState struct {
	consecutiveErrors int
	nextAttemptAt     time.Time
}

func (s *feedState) due(now time.Time) bool {
	return s.nextAttemptAt.IsZero() || !now.Before(s.nextAttemptAt)
}

func (s *feedState) recordFailure(now time.Time) time.Duration {
	s.consecutiveErrors++
	delay := CalculateBackoff(s.consecutiveErrors)
	s.nextAttemptAt = now.Add(delay)
	return delay
}

func (s *feedState) recordSuccess() {
	s.consecutiveErrors = 0
	s.nextAttemptAt = time.Time{}
}
