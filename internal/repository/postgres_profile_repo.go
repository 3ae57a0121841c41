package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/seqher/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
// profilesテーブルへの書き込みはトリガーによりprofile_changesチャネルへ通知される。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

const profileColumns = `uid, email, display_name, role, created_at, updated_at`

func scanProfile(row *sql.Row) (*model.Profile, error) {
	p := &model.Profile{}
	var role string
	err := row.Scan(&p.UID, &p.Email, &p.DisplayName, &role, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Role = model.Role(role)
	return p, nil
}

// FindByUID は指定UIDのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByUID(ctx context.Context, uid string) (*model.Profile, error) {
	p, err := scanProfile(r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE uid = $1`,
		uid,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}
	return p, nil
}

// FindByEmail はメールアドレスでプロフィールを検索する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByEmail(ctx context.Context, email string) (*model.Profile, error) {
	p, err := scanProfile(r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE lower(email) = lower($1)
		 ORDER BY created_at LIMIT 1`,
		email,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find profile by email: %w", err)
	}
	return p, nil
}

// CreateIfAbsent はプロフィールが存在しない場合のみ作成し、保存されているレコードを返す。
// 同時に複数の接続から呼ばれても先に書き込まれた行が優先される。
// identityが既に削除されている場合はErrIdentityGoneを返す。
func (r *PostgresProfileRepo) CreateIfAbsent(ctx context.Context, profile *model.Profile) (*model.Profile, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO profiles (uid, email, display_name, role)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (uid) DO NOTHING`,
		profile.UID, profile.Email, profile.DisplayName, string(profile.Role),
	)
	if foreignKeyViolation(err) {
		return nil, fmt.Errorf("profile %s: %w", profile.UID, ErrIdentityGone)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert profile: %w", err)
	}

	stored, err := r.FindByUID(ctx, profile.UID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("profile %s vanished after insert: %w", profile.UID, ErrNotFound)
	}
	return stored, nil
}

// UpdateRole はプロフィールのロールを更新する。
func (r *PostgresProfileRepo) UpdateRole(ctx context.Context, uid string, role model.Role) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE profiles SET role = $2, updated_at = now() WHERE uid = $1`,
		uid, string(role),
	)
	if err != nil {
		return fmt.Errorf("failed to update profile role: %w", err)
	}
	return requireAffected(result, "profile", uid)
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
