// Package model はドメインモデルを定義する。
package model

import "time"

// Role はプロフィールに付与されるロールを表す。
type Role string

const (
	// RoleUser は一般ユーザー。新規プロフィールは常にこのロールで作成される。
	RoleUser Role = "user"
	// RoleAdmin は管理者。ブログ記事の管理などが可能になる。
	// 付与は管理コマンドによる帯域外操作でのみ行う。
	RoleAdmin Role = "admin"
)

// Valid はロールが既知の値かどうかを返す。
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Identity は外部IdPが発行したログイン主体を表す。
// セッション中は不変として扱う。
type Identity struct {
	UID            string
	Email          string
	DisplayName    string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Profile はアプリケーションが所有するユーザーごとのプロフィール。
// UIDをキーとしてprofilesテーブルに保存される。
type Profile struct {
	UID         string
	Email       string
	DisplayName string
	Role        Role
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AppUser はIdentityとProfileを統合した現在のユーザーを表す。
type AppUser struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
}

// IsAdmin は管理者ロールかどうかを返す。
func (u *AppUser) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// MinimalUser はIdentityのみから最小限のAppUserを生成する。
// ロールは常にuser。
func MinimalUser(identity *Identity) *AppUser {
	return &AppUser{
		UID:         identity.UID,
		Email:       identity.Email,
		DisplayName: identity.DisplayName,
		Role:        RoleUser,
	}
}

// MergeUser はIdentityとProfileを統合する。
// 優先順位:
//   - UID: 常にIdentity
//   - Email, DisplayName: Profileに値があればProfile、なければIdentity
//   - Role: Profileの値。空または未知の値はuserとして扱う
//
// profileがnilの場合はMinimalUserと同じ結果になる。
func MergeUser(identity *Identity, profile *Profile) *AppUser {
	user := MinimalUser(identity)
	if profile == nil {
		return user
	}
	if profile.Email != "" {
		user.Email = profile.Email
	}
	if profile.DisplayName != "" {
		user.DisplayName = profile.DisplayName
	}
	if profile.Role.Valid() {
		user.Role = profile.Role
	}
	return user
}

// Session はユーザーのログインセッションを表す。
// UserIDはIdentity.UIDを指す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
