package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/seqher/internal/model"
)

// PostgresDonationRepo はPostgreSQLを使用した寄付リポジトリ。
type PostgresDonationRepo struct {
	db *sql.DB
}

// NewPostgresDonationRepo はPostgresDonationRepoを生成する。
func NewPostgresDonationRepo(db *sql.DB) *PostgresDonationRepo {
	return &PostgresDonationRepo{db: db}
}

// UpsertBySessionID はstripe_session_idをキーに寄付を冪等に保存する。
// 再配信された場合は金額などを上書きし、created_atは最初の記録のまま維持する。
func (r *PostgresDonationRepo) UpsertBySessionID(ctx context.Context, d *model.Donation) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO donations (stripe_session_id, amount_minor, currency, customer_email, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now(), now())
		 ON CONFLICT (stripe_session_id) DO UPDATE SET
		     amount_minor = EXCLUDED.amount_minor,
		     currency = EXCLUDED.currency,
		     customer_email = EXCLUDED.customer_email,
		     status = EXCLUDED.status,
		     updated_at = now()`,
		d.StripeSessionID, d.AmountMinor, d.Currency, d.CustomerEmail, d.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert donation: %w", err)
	}
	return nil
}

// List は寄付を新しい順に最大limit件返す。
func (r *PostgresDonationRepo) List(ctx context.Context, limit int) ([]*model.Donation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT stripe_session_id, amount_minor, currency, customer_email, status, created_at, updated_at
		 FROM donations
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list donations: %w", err)
	}
	defer rows.Close()

	var donations []*model.Donation
	for rows.Next() {
		d := &model.Donation{}
		if err := rows.Scan(
			&d.StripeSessionID, &d.AmountMinor, &d.Currency, &d.CustomerEmail,
			&d.Status, &d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan donation: %w", err)
		}
		donations = append(donations, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate donations: %w", err)
	}
	return donations, nil
}

// compile-time interface check
var _ DonationRepository = (*PostgresDonationRepo)(nil)
