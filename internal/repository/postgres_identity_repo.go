package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/seqher/internal/model"
)

// PostgresIdentityRepo はPostgreSQLを使用したidentityリポジトリ。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

const identityColumns = `uid, email, display_name, provider, provider_user_id, created_at`

func scanIdentity(row *sql.Row) (*model.Identity, error) {
	identity := &model.Identity{}
	err := row.Scan(
		&identity.UID, &identity.Email, &identity.DisplayName,
		&identity.Provider, &identity.ProviderUserID, &identity.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return identity, nil
}

// FindByID は指定UIDのidentityを取得する。見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindByID(ctx context.Context, uid string) (*model.Identity, error) {
	identity, err := scanIdentity(r.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE uid = $1`,
		uid,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find identity by ID: %w", err)
	}
	return identity, nil
}

// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
	identity, err := scanIdentity(r.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+`
		 FROM identities
		 WHERE provider = $1 AND provider_user_id = $2`,
		provider, providerUserID,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	return identity, nil
}

// FindByEmail はメールアドレスでidentityを検索する。見つからない場合はnilを返す。
// 同じメールアドレスが複数ある場合は最も古いものを返す。
func (r *PostgresIdentityRepo) FindByEmail(ctx context.Context, email string) (*model.Identity, error) {
	identity, err := scanIdentity(r.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE lower(email) = lower($1)
		 ORDER BY created_at LIMIT 1`,
		email,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find identity by email: %w", err)
	}
	return identity, nil
}

// Create はidentityを作成する。
func (r *PostgresIdentityRepo) Create(ctx context.Context, identity *model.Identity) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO identities (uid, email, display_name, provider, provider_user_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		identity.UID, identity.Email, identity.DisplayName,
		identity.Provider, identity.ProviderUserID, identity.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert identity: %w", err)
	}
	return nil
}

// DeleteByID は指定UIDのidentityを削除する。
// 関連するprofiles、sessions、appointmentsはCASCADE削除される。
func (r *PostgresIdentityRepo) DeleteByID(ctx context.Context, uid string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM identities WHERE uid = $1`,
		uid,
	)
	if err != nil {
		return fmt.Errorf("failed to delete identity: %w", err)
	}
	return requireAffected(result, "identity", uid)
}

// compile-time interface check
var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
