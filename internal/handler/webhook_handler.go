package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/seqher/internal/donation"
)

// Stripeのイベント本文は64KB程度に収まる
const maxWebhookBody = 64 * 1024

// WebhookServiceInterface はWebhookハンドラーが必要とするサービスインターフェース。
type WebhookServiceInterface interface {
	HandleEvent(ctx context.Context, payload []byte, signatureHeader string) (donation.Result, error)
}

// WebhookHandler は決済プロバイダーからのWebhookを受け付ける。
// 応答はプロバイダー向けの{received}/{error}形式で、APIエラー形式は使わない。
type WebhookHandler struct {
	service WebhookServiceInterface
}

// NewWebhookHandler はWebhookHandlerを生成する。
func NewWebhookHandler(service WebhookServiceInterface) *WebhookHandler {
	return &WebhookHandler{service: service}
}

// Stripe は署名付きのイベントを処理する。
// 再送してほしいのは保存失敗と未設定の場合だけで、それ以外の拒否は400を返す。
// POST /api/stripe-webhook
func (h *WebhookHandler) Stripe(w http.ResponseWriter, r *http.Request) {
	// 署名は受信した生のバイト列に対して検証する
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Webhook Error: failed to read body"})
		return
	}
	if len(payload) > maxWebhookBody {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Webhook Error: payload too large"})
		return
	}

	result, err := h.service.HandleEvent(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	case errors.Is(err, donation.ErrMissingSignature):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Webhook Error: missing signature"})
	case errors.Is(err, donation.ErrInvalidSignature):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Webhook Error: invalid signature"})
	case errors.Is(err, donation.ErrMissingSessionID):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Webhook Error: missing checkout session id"})
	case errors.Is(err, donation.ErrWebhookDisabled):
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Webhook is not configured."})
	case errors.Is(err, donation.ErrPersistence):
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to save donation record."})
	default:
		slog.Error("unexpected webhook error",
			slog.String("event_id", result.EventID),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal error."})
	}
}
