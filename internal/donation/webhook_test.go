package donation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/seqher/internal/model"
	"github.com/stripe/stripe-go/v81/webhook"
)

const testSecret = "whsec_test_secret"

// memDonationRepo はstripe_session_idをキーとするインメモリの寄付リポジトリ。
type memDonationRepo struct {
	mu      sync.Mutex
	rows    map[string]*model.Donation
	writes  int
	failErr error
}

func newMemDonationRepo() *memDonationRepo {
	return &memDonationRepo{rows: make(map[string]*model.Donation)}
}

func (r *memDonationRepo) UpsertBySessionID(ctx context.Context, d *model.Donation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return r.failErr
	}
	r.writes++
	cp := *d
	now := time.Now()
	if old, ok := r.rows[d.StripeSessionID]; ok {
		cp.CreatedAt = old.CreatedAt
	} else {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	r.rows[d.StripeSessionID] = &cp
	return nil
}

func (r *memDonationRepo) List(ctx context.Context, limit int) ([]*model.Donation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Donation
	for _, d := range r.rows {
		out = append(out, d)
	}
	return out, nil
}

type recordingMetrics struct {
	events   []string
	recorded int
}

func (m *recordingMetrics) RecordWebhookEvent(eventType, outcome string) {
	m.events = append(m.events, eventType+"/"+outcome)
}

func (m *recordingMetrics) RecordDonationRecorded() { m.recorded++ }

// eventPayload はStripeイベントのJSONを組み立てる。
func eventPayload(t *testing.T, eventType string, object map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"id":     "evt_test_1",
		"object": "event",
		"type":   eventType,
		"data":   map[string]any{"object": object},
	})
	if err != nil {
		t.Fatalf("payloadの生成に失敗: %v", err)
	}
	return b
}

func checkoutSession(id string, amount int64, currency string) map[string]any {
	return map[string]any{
		"id":               id,
		"object":           "checkout.session",
		"amount_total":     amount,
		"currency":         currency,
		"customer_details": map[string]any{"email": "donor@example.com"},
		"payment_status":   "paid",
	}
}

// sign はpayloadに対する有効な署名ヘッダーを生成する。
func sign(payload []byte, secret string) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	}).Header
}

func newTestWebhookService(repo *memDonationRepo, m Metrics) *WebhookService {
	return NewWebhookService(repo, WebhookConfig{Secret: testSecret, Tolerance: 5 * time.Minute}, m)
}

func TestHandleEvent_RecordsCompletedCheckout(t *testing.T) {
	repo := newMemDonationRepo()
	m := &recordingMetrics{}
	svc := newTestWebhookService(repo, m)

	payload := eventPayload(t, "checkout.session.completed", checkoutSession("cs_test_1", 5000, "usd"))
	res, err := svc.HandleEvent(context.Background(), payload, sign(payload, testSecret))
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if !res.Recorded || res.SessionID != "cs_test_1" || res.EventID != "evt_test_1" {
		t.Errorf("result = %+v", res)
	}

	d := repo.rows["cs_test_1"]
	if d == nil {
		t.Fatal("寄付が記録されていません")
	}
	if d.AmountMinor != 5000 || d.Amount() != 50 || d.Currency != "usd" || d.CustomerEmail != "donor@example.com" || d.Status != "paid" {
		t.Errorf("donation = %+v", d)
	}
	if m.recorded != 1 {
		t.Errorf("RecordDonationRecorded = %d, want 1", m.recorded)
	}
}

func TestHandleEvent_RedeliveryIsIdempotent(t *testing.T) {
	repo := newMemDonationRepo()
	m := &recordingMetrics{}
	svc := newTestWebhookService(repo, m)

	first := eventPayload(t, "checkout.session.completed", checkoutSession("cs_dup", 1000, "usd"))
	if _, err := svc.HandleEvent(context.Background(), first, sign(first, testSecret)); err != nil {
		t.Fatalf("1回目: %v", err)
	}

	second := eventPayload(t, "checkout.session.completed", checkoutSession("cs_dup", 2500, "usd"))
	if _, err := svc.HandleEvent(context.Background(), second, sign(second, testSecret)); err != nil {
		t.Fatalf("2回目: %v", err)
	}

	if len(repo.rows) != 1 {
		t.Fatalf("レコード数 = %d, want 1", len(repo.rows))
	}
	if got := repo.rows["cs_dup"].AmountMinor; got != 2500 {
		t.Errorf("AmountMinor = %v, 最新の配信内容であるべき (2500)", got)
	}
	want := []string{"checkout.session.completed/recorded", "checkout.session.completed/recorded"}
	if strings.Join(m.events, ",") != strings.Join(want, ",") || m.recorded != 2 {
		t.Errorf("metrics events=%v recorded=%d", m.events, m.recorded)
	}
}

func TestHandleEvent_ZeroDecimalCurrency(t *testing.T) {
	repo := newMemDonationRepo()
	svc := newTestWebhookService(repo, &recordingMetrics{})

	payload := eventPayload(t, "checkout.session.completed", checkoutSession("cs_jpy", 3000, "jpy"))
	if _, err := svc.HandleEvent(context.Background(), payload, sign(payload, testSecret)); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	d := repo.rows["cs_jpy"]
	if d.AmountMinor != 3000 || d.Amount() != 3000 {
		t.Errorf("AmountMinor = %d, Amount() = %v, want 3000", d.AmountMinor, d.Amount())
	}
}

func TestHandleEvent_Failures(t *testing.T) {
	completed := func(t *testing.T) []byte {
		return eventPayload(t, "checkout.session.completed", checkoutSession("cs_1", 100, "usd"))
	}

	tests := []struct {
		name    string
		secret  string
		payload func(t *testing.T) []byte
		header  func(payload []byte) string
		wantErr error
		outcome string
	}{
		{
			name:    "署名ヘッダーなし",
			secret:  testSecret,
			payload: completed,
			header:  func([]byte) string { return "" },
			wantErr: ErrMissingSignature,
			outcome: "unknown/rejected",
		},
		{
			name:    "シークレット未設定",
			secret:  "",
			payload: completed,
			header:  func(p []byte) string { return sign(p, testSecret) },
			wantErr: ErrWebhookDisabled,
			outcome: "unknown/disabled",
		},
		{
			name:    "別のシークレットで署名",
			secret:  testSecret,
			payload: completed,
			header:  func(p []byte) string { return sign(p, "whsec_other") },
			wantErr: ErrInvalidSignature,
			outcome: "unknown/rejected",
		},
		{
			name:    "不正な署名ヘッダー",
			secret:  testSecret,
			payload: completed,
			header:  func([]byte) string { return "t=123,v1=deadbeef" },
			wantErr: ErrInvalidSignature,
			outcome: "unknown/rejected",
		},
		{
			name:    "セッションIDなし",
			secret:  testSecret,
			payload: func(t *testing.T) []byte { return eventPayload(t, "checkout.session.completed", map[string]any{"amount_total": 100}) },
			header:  func(p []byte) string { return sign(p, testSecret) },
			wantErr: ErrMissingSessionID,
			outcome: "checkout.session.completed/rejected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemDonationRepo()
			m := &recordingMetrics{}
			svc := NewWebhookService(repo, WebhookConfig{Secret: tt.secret}, m)

			p := tt.payload(t)
			_, err := svc.HandleEvent(context.Background(), p, tt.header(p))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if repo.writes != 0 {
				t.Errorf("書き込み回数 = %d, want 0", repo.writes)
			}
			if len(m.events) != 1 || m.events[0] != tt.outcome || m.recorded != 0 {
				t.Errorf("metrics events=%v recorded=%d, want [%s]", m.events, m.recorded, tt.outcome)
			}
		})
	}
}

func TestHandleEvent_TamperedPayloadIsRejected(t *testing.T) {
	repo := newMemDonationRepo()
	svc := newTestWebhookService(repo, &recordingMetrics{})

	payload := eventPayload(t, "checkout.session.completed", checkoutSession("cs_1", 100, "usd"))
	header := sign(payload, testSecret)
	tampered := eventPayload(t, "checkout.session.completed", checkoutSession("cs_1", 999999, "usd"))

	if _, err := svc.HandleEvent(context.Background(), tampered, header); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("err = %v, want ErrInvalidSignature", err)
	}
	if repo.writes != 0 {
		t.Error("改ざんされたpayloadは保存しない")
	}
}

func TestHandleEvent_PersistenceFailureIsRetryable(t *testing.T) {
	dbErr := errors.New("connection reset")
	repo := newMemDonationRepo()
	repo.failErr = dbErr
	m := &recordingMetrics{}
	svc := newTestWebhookService(repo, m)

	payload := eventPayload(t, "checkout.session.completed", checkoutSession("cs_1", 100, "usd"))
	_, err := svc.HandleEvent(context.Background(), payload, sign(payload, testSecret))
	if !errors.Is(err, ErrPersistence) {
		t.Errorf("err = %v, want ErrPersistence", err)
	}
	if !errors.Is(err, dbErr) {
		t.Errorf("元のエラーを保持するべき: %v", err)
	}
	if len(m.events) != 1 || m.events[0] != "checkout.session.completed/failed" {
		t.Errorf("metrics = %v", m.events)
	}
}

func TestHandleEvent_UnknownEventTypeIsIgnored(t *testing.T) {
	repo := newMemDonationRepo()
	m := &recordingMetrics{}
	svc := newTestWebhookService(repo, m)

	payload := eventPayload(t, "payment_intent.created", map[string]any{"id": "pi_1", "object": "payment_intent"})
	res, err := svc.HandleEvent(context.Background(), payload, sign(payload, testSecret))
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if res.Recorded {
		t.Error("未対応イベントは記録しない")
	}
	if repo.writes != 0 {
		t.Errorf("書き込み回数 = %d, want 0", repo.writes)
	}
	if len(m.events) != 1 || m.events[0] != "payment_intent.created/ignored" {
		t.Errorf("metrics = %v", m.events)
	}
}

func TestHandleEvent_WithoutMetrics(t *testing.T) {
	repo := newMemDonationRepo()
	svc := NewWebhookService(repo, WebhookConfig{Secret: testSecret}, nil)

	payload := eventPayload(t, "checkout.session.completed", checkoutSession("cs_nometrics", 100, "usd"))
	res, err := svc.HandleEvent(context.Background(), payload, sign(payload, testSecret))
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if !res.Recorded || repo.writes != 1 {
		t.Errorf("Recorded = %v, writes = %d", res.Recorded, repo.writes)
	}

	if _, err := svc.HandleEvent(context.Background(), payload, ""); !errors.Is(err, ErrMissingSignature) {
		t.Errorf("err = %v, want ErrMissingSignature", err)
	}
}
