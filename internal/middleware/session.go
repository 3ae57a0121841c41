// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/seqher/internal/auth"
	"github.com/hitoshi/seqher/internal/model"
)

// SessionCookieName はセッションIDを保持するHTTP Only Cookieの名前。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userContextKey       = contextKey("user")
	userHolderContextKey = contextKey("user_holder")
)

// userHolder はロギングミドルウェアが後段で解決されたユーザーIDを受け取るための入れ物。
type userHolder struct {
	userID string
}

func contextWithUserHolder(ctx context.Context, h *userHolder) context.Context {
	return context.WithValue(ctx, userHolderContextKey, h)
}

// UserResolver はセッションIDから現在のユーザーを解決する。
// auth.Serviceが満たす。
type UserResolver interface {
	GetCurrentUser(ctx context.Context, sessionID string) (*model.AppUser, error)
}

// NewSessionMiddleware はCookieのセッションから現在のユーザーを解決し、コンテキストに注入する。
// 未ログインのリクエストもそのまま通す。認可はRequireUser/RequireAdminで行う。
func NewSessionMiddleware(resolver UserResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := SessionIDFromRequest(r)
			if sessionID == "" {
				next.ServeHTTP(w, r)
				return
			}

			user, err := resolver.GetCurrentUser(r.Context(), sessionID)
			if err != nil {
				if !errors.Is(err, auth.ErrSessionNotFound) {
					slog.Error("failed to resolve session",
						slog.String("error", err.Error()),
					)
				}
				next.ServeHTTP(w, r)
				return
			}

			if h, ok := r.Context().Value(userHolderContextKey).(*userHolder); ok {
				h.userID = user.UID
			}
			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}
}

// RequireUser はログインしていないリクエストに401を返す。
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserFromContext(r.Context()); !ok {
			WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin はプロフィールのロールがadminでないリクエストを拒否する。
// 未ログインは401、ログイン済みの一般ユーザーは403。
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
			return
		}
		if !user.IsAdmin() {
			slog.Warn("admin access denied",
				slog.String("user_id", user.UID),
				slog.String("path", r.URL.Path),
			)
			WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SessionIDFromRequest はCookieからセッションIDを取り出す。なければ空文字列。
func SessionIDFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// UserFromContext はセッションミドルウェアが注入したユーザーを返す。
func UserFromContext(ctx context.Context) (*model.AppUser, bool) {
	user, ok := ctx.Value(userContextKey).(*model.AppUser)
	return user, ok && user != nil
}

// ContextWithUser はコンテキストにユーザーを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUser(ctx context.Context, user *model.AppUser) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	user, ok := UserFromContext(ctx)
	if !ok || user.UID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return user.UID, nil
}
