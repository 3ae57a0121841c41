// Package donation は決済プロバイダーからの寄付通知の記録と、寄付フォームの受付を提供する。
package donation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/seqher/internal/model"
	"github.com/hitoshi/seqher/internal/repository"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
)

var (
	// ErrMissingSignature は署名ヘッダーがないことを示す。再送不要のクライアントエラー。
	ErrMissingSignature = errors.New("missing stripe-signature header")
	// ErrWebhookDisabled は署名検証用のシークレットが未設定であることを示す。
	ErrWebhookDisabled = errors.New("webhook secret is not configured")
	// ErrInvalidSignature は署名検証に失敗したことを示す。
	ErrInvalidSignature = errors.New("webhook signature verification failed")
	// ErrMissingSessionID はcheckout.session.completedにセッションIDがないことを示す。
	ErrMissingSessionID = errors.New("missing checkout session id")
	// ErrPersistence は検証済みイベントの保存に失敗したことを示す。再送を期待する唯一のケース。
	ErrPersistence = errors.New("failed to persist donation")
)

// Metrics はWebhook処理のメトリクス記録先。
type Metrics interface {
	RecordWebhookEvent(eventType, outcome string)
	RecordDonationRecorded()
}

// 処理結果のラベル
const (
	OutcomeRecorded = "recorded"
	OutcomeIgnored  = "ignored"
	OutcomeRejected = "rejected"
	OutcomeDisabled = "disabled"
	OutcomeFailed   = "failed"
)

// WebhookConfig はWebhook検証の設定。
type WebhookConfig struct {
	Secret    string
	Tolerance time.Duration // 署名タイムスタンプの許容誤差
}

// Result は受理したイベントの処理結果。
type Result struct {
	EventID   string
	EventType string
	SessionID string
	Recorded  bool
}

// WebhookService はStripeのWebhookイベントを検証し、寄付を冪等に記録する。
// 呼び出し間で共有する状態は持たない。
type WebhookService struct {
	repo    repository.DonationRepository
	config  WebhookConfig
	metrics Metrics
}

// NewWebhookService はWebhookServiceを生成する。
// metricsに型なしのnilを渡すと記録しない。nilポインタを格納したインターフェースは渡さないこと。
func NewWebhookService(repo repository.DonationRepository, config WebhookConfig, metrics Metrics) *WebhookService {
	if config.Tolerance <= 0 {
		config.Tolerance = webhook.DefaultTolerance
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &WebhookService{repo: repo, config: config, metrics: metrics}
}

// HandleEvent は生のリクエストボディと署名ヘッダーからイベントを処理する。
// 返すエラーは ErrMissingSignature, ErrWebhookDisabled, ErrInvalidSignature,
// ErrMissingSessionID, ErrPersistence のいずれかをラップする。
func (s *WebhookService) HandleEvent(ctx context.Context, payload []byte, signatureHeader string) (Result, error) {
	if strings.TrimSpace(signatureHeader) == "" {
		s.record("unknown", OutcomeRejected)
		return Result{}, ErrMissingSignature
	}

	if s.config.Secret == "" {
		slog.Error("STRIPE_WEBHOOK_SECRET が未設定のためWebhookを受け付けられません")
		s.record("unknown", OutcomeDisabled)
		return Result{}, ErrWebhookDisabled
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, s.config.Secret, webhook.ConstructEventOptions{
		Tolerance:                s.config.Tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		slog.Warn("Webhook署名の検証に失敗しました", slog.String("error", err.Error()))
		s.record("unknown", OutcomeRejected)
		return Result{}, ErrInvalidSignature
	}

	result := Result{EventID: event.ID, EventType: string(event.Type)}

	if event.Type != stripe.EventTypeCheckoutSessionCompleted {
		slog.Info("未対応のWebhookイベントを無視しました",
			slog.String("event_id", event.ID),
			slog.String("event_type", string(event.Type)),
		)
		s.record(result.EventType, OutcomeIgnored)
		return result, nil
	}

	var session stripe.CheckoutSession
	if event.Data != nil {
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			slog.Warn("チェックアウトセッションの解析に失敗しました",
				slog.String("event_id", event.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if session.ID == "" {
		s.record(result.EventType, OutcomeRejected)
		return result, ErrMissingSessionID
	}
	result.SessionID = session.ID

	if err := s.repo.UpsertBySessionID(ctx, donationFromSession(&session)); err != nil {
		slog.Error("寄付の保存に失敗しました",
			slog.String("event_id", event.ID),
			slog.String("session_id", session.ID),
			slog.String("error", err.Error()),
		)
		s.record(result.EventType, OutcomeFailed)
		return result, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	result.Recorded = true
	s.record(result.EventType, OutcomeRecorded)
	s.metrics.RecordDonationRecorded()
	slog.Info("寄付を記録しました",
		slog.String("event_id", event.ID),
		slog.String("session_id", session.ID),
	)
	return result, nil
}

// donationFromSession はチェックアウトセッションから寄付レコードを組み立てる。
func donationFromSession(session *stripe.CheckoutSession) *model.Donation {
	email := session.CustomerEmail
	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		email = session.CustomerDetails.Email
	}
	currency := strings.ToLower(string(session.Currency))
	return &model.Donation{
		StripeSessionID: session.ID,
		AmountMinor:     session.AmountTotal,
		Currency:        currency,
		CustomerEmail:   email,
		Status:          string(session.PaymentStatus),
	}
}

func (s *WebhookService) record(eventType, outcome string) {
	s.metrics.RecordWebhookEvent(eventType, outcome)
}

type nopMetrics struct{}

func (nopMetrics) RecordWebhookEvent(string, string) {}
func (nopMetrics) RecordDonationRecorded()           {}
