// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/seqher/internal/model"
)

// IdentityRepository は外部IdPのログイン主体の永続化インターフェース。
type IdentityRepository interface {
	// FindByID は指定UIDのidentityを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, uid string) (*model.Identity, error)

	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)

	// FindByEmail はメールアドレスでidentityを検索する。大文字小文字は区別しない。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Identity, error)

	// Create はidentityを作成する。
	Create(ctx context.Context, identity *model.Identity) error

	// DeleteByID は指定UIDのidentityを削除する。
	// 関連するprofiles、sessions、appointmentsはCASCADE削除される。
	DeleteByID(ctx context.Context, uid string) error
}

// ProfileRepository はプロフィールの永続化インターフェース。
type ProfileRepository interface {
	// FindByUID は指定UIDのプロフィールを取得する。見つからない場合はnilを返す。
	FindByUID(ctx context.Context, uid string) (*model.Profile, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない）でプロフィールを検索する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Profile, error)

	// CreateIfAbsent はプロフィールが存在しない場合のみ作成し、保存されているレコードを返す。
	// 既に存在する場合は既存レコードをそのまま返す。
	CreateIfAbsent(ctx context.Context, profile *model.Profile) (*model.Profile, error)

	// UpdateRole はプロフィールのロールを更新する。
	UpdateRole(ctx context.Context, uid string, role model.Role) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// DonationRepository は寄付記録の永続化インターフェース。
type DonationRepository interface {
	// UpsertBySessionID はStripeチェックアウトセッションIDをキーに寄付を冪等に保存する。
	// 同じセッションIDで複数回呼ばれても行は1件のままとなる。
	// タイムスタンプはデータベース側で付与する。
	UpsertBySessionID(ctx context.Context, donation *model.Donation) error

	// List は寄付を新しい順に最大limit件返す。
	List(ctx context.Context, limit int) ([]*model.Donation, error)
}

// PledgeRepository は寄付の意思表示の永続化インターフェース。
type PledgeRepository interface {
	Create(ctx context.Context, pledge *model.Pledge) error
	List(ctx context.Context, limit int) ([]*model.Pledge, error)
}

// AppointmentRepository は面談予約の永続化インターフェース。
type AppointmentRepository interface {
	Create(ctx context.Context, appointment *model.Appointment) error
	List(ctx context.Context, limit int) ([]*model.Appointment, error)
	ListByUserID(ctx context.Context, userID string) ([]*model.Appointment, error)
}

// PostRepository はブログ記事の永続化インターフェース。
type PostRepository interface {
	// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Post, error)

	// FindBySlug はslugで記事を取得する。見つからない場合はnilを返す。
	FindBySlug(ctx context.Context, slug string) (*model.Post, error)

	// List は記事を新しい順に最大limit件返す。
	List(ctx context.Context, limit int) ([]*model.Post, error)

	// Create は記事を作成する。slugが重複する場合はErrDuplicateSlugを返す。
	Create(ctx context.Context, post *model.Post) error

	// Update は記事を更新する。slugが重複する場合はErrDuplicateSlugを返す。
	Update(ctx context.Context, post *model.Post) error

	// Delete は指定IDの記事を削除する。存在しない場合はErrNotFoundを返す。
	Delete(ctx context.Context, id string) error

	// UpsertBySlug はslugをキーに記事を作成または上書きする。
	// 新規作成した場合はtrueを返す。source_urlの異なる既存記事があればErrDuplicateSlugを返す。
	UpsertBySlug(ctx context.Context, post *model.Post) (bool, error)
}
