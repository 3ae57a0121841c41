// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/hitoshi/seqher/internal/middleware"
	"github.com/hitoshi/seqher/internal/model"
)

// maxJSONBody はJSONリクエストボディの上限。
const maxJSONBody = 1 << 20

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON はリクエストボディを読み取る。失敗時は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return false
	}
	return true
}

// queryLimit はクエリパラメータlimitを返す。未指定や不正な値は0（サービス側の既定値）。
func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// currentUser はセッションミドルウェアが注入したユーザーを返す。いなければnil。
func currentUser(r *http.Request) *model.AppUser {
	user, _ := middleware.UserFromContext(r.Context())
	return user
}
