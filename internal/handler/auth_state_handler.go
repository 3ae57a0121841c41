package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/seqher/internal/auth"
	"github.com/hitoshi/seqher/internal/authsync"
	"github.com/hitoshi/seqher/internal/middleware"
	"github.com/hitoshi/seqher/internal/model"
)

const defaultHeartbeat = 25 * time.Second

// StreamMetrics は認証状態ストリームのメトリクス記録先。
type StreamMetrics interface {
	authsync.Metrics
	AuthStreamOpened()
	AuthStreamClosed()
}

// AuthStateConfig は認証状態ストリームの依存。
// Sessionsがnilの場合は認証バックエンド未設定として、常に未ログイン状態を配信する。
type AuthStateConfig struct {
	Sessions  auth.SessionResolver
	Feed      auth.Subscriber
	Profiles  authsync.ProfileStore
	Metrics   StreamMetrics // 型なしのnilなら記録しない。nilポインタを格納しないこと
	Logger    *slog.Logger
	Heartbeat time.Duration
}

// AuthStateHandler は接続ごとにSynchronizerを起動し、認証状態をServer-Sent Eventsで配信する。
type AuthStateHandler struct {
	config AuthStateConfig
	auth   AuthHandlerConfig
}

// NewAuthStateHandler はAuthStateHandlerを生成する。
func NewAuthStateHandler(config AuthStateConfig, cookies AuthHandlerConfig) *AuthStateHandler {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Heartbeat <= 0 {
		config.Heartbeat = defaultHeartbeat
	}
	return &AuthStateHandler{config: config, auth: cookies}
}

// authStateEvent はストリームで送る1件分の認証状態。
type authStateEvent struct {
	CurrentUser *model.AppUser `json:"currentUser"`
	Loading     bool           `json:"loading"`
	IsAdmin     bool           `json:"isAdmin"`
}

func toAuthStateEvent(v authsync.View) authStateEvent {
	return authStateEvent{CurrentUser: v.CurrentUser, Loading: v.Loading, IsAdmin: v.IsAdmin()}
}

// newSynchronizer はセッション1つ分のSynchronizerを組み立てる。
func (h *AuthStateHandler) newSynchronizer(sessionID string) *authsync.Synchronizer {
	opts := authsync.Options{Logger: h.config.Logger}
	if h.config.Sessions != nil {
		opts.Identity = auth.NewSessionIdentitySource(h.config.Sessions, h.config.Feed, sessionID, h.config.Logger)
	}
	if h.config.Profiles != nil {
		opts.Profiles = h.config.Profiles
	}
	if h.config.Metrics != nil {
		opts.Metrics = h.config.Metrics
	}
	return authsync.New(opts)
}

// Stream は認証状態の変化をevent: authで配信する。
// 接続が切れるとSynchronizerを停止し、全ての購読を解除する。
// GET /auth/state
func (h *AuthStateHandler) Stream(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	syncer := h.newSynchronizer(middleware.SessionIDFromRequest(r))
	views, stopWatch := syncer.Watch()
	defer stopWatch()

	done := make(chan error, 1)
	go func() { done <- syncer.Run(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			h.config.Logger.Error("認証状態の同期が異常終了しました", slog.String("error", err.Error()))
		}
	}()

	if h.config.Metrics != nil {
		h.config.Metrics.AuthStreamOpened()
		defer h.config.Metrics.AuthStreamClosed()
	}

	// サーバーのWriteTimeoutで長時間接続が切られないよう解除する
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.config.Logger.Warn("書き込み期限を解除できませんでした", slog.String("error", err.Error()))
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	if err := rc.Flush(); err != nil {
		h.config.Logger.Error("ストリーミングに対応していません", slog.String("error", err.Error()))
		return
	}

	heartbeat := time.NewTicker(h.config.Heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
		case view, ok := <-views:
			if !ok {
				return
			}
			data, err := json.Marshal(toAuthStateEvent(view))
			if err != nil {
				h.config.Logger.Error("認証状態のエンコードに失敗しました", slog.String("error", err.Error()))
				return
			}
			fmt.Fprintf(w, "event: auth\ndata: %s\n\n", data)
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// SignOut はSynchronizer経由で認証バックエンドのセッションを破棄し、Cookieをクリアする。
// 接続中のストリームはセッション削除通知を受けて未ログイン状態へ遷移する。
// POST /auth/signout
func (h *AuthStateHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	sessionID := middleware.SessionIDFromRequest(r)
	if sessionID != "" {
		if err := h.newSynchronizer(sessionID).SignOut(r.Context()); err != nil {
			h.config.Logger.Error("サインアウトに失敗しました", slog.String("error", err.Error()))
			middleware.WriteInternalServerError(w)
			return
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.auth.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.auth.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}
